// Package anp_auth implements DID-WBA (Decentralized Identifier - Web-Based
// Authentication): canonical payload construction, Authorization header
// generation and verification, the handler registry dispatching on header
// scheme, and the HTTP middleware tying them together.
package anp_auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"

	"github.com/openanp/anp-runtime/crypto"
)

// DIDWBADocument represents a DID-WBA document.
type DIDWBADocument struct {
	Context            []string         `json:"@context"`
	ID                 string           `json:"id"`
	VerificationMethod []map[string]any `json:"verificationMethod"`
	Authentication     []string         `json:"authentication"`
	Service            []Service        `json:"service,omitempty"`
}

// JWK represents a JSON Web Key.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	Kid string `json:"kid,omitempty"`
}

// Service represents a service in a DID document.
type Service struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// AgentDescriptionURL returns the endpoint of the AgentDescription service
// entry, or "" when the document declares none.
func (d *DIDWBADocument) AgentDescriptionURL() string {
	for _, svc := range d.Service {
		if svc.Type == ServiceTypeAgentDescription {
			return svc.ServiceEndpoint
		}
	}
	return ""
}

// HasAuthenticationFragment reports whether the fragment is referenced from
// the document's authentication set. Entries may be full verification method
// ids or bare fragments.
func (d *DIDWBADocument) HasAuthenticationFragment(fragment string) bool {
	for _, ref := range d.Authentication {
		f := ref
		if idx := strings.Index(ref, "#"); idx >= 0 {
			f = ref[idx+1:]
		}
		if f == fragment {
			return true
		}
	}
	return false
}

// AuthHeader represents the components of a DID-WBA Authorization header.
// RespDID is present only on two-way exchanges; Token carries the bearer
// token a server attaches to its reply header.
type AuthHeader struct {
	DID                string
	Nonce              string
	Timestamp          string
	RespDID            string
	VerificationMethod string
	Signature          string
	Token              string
}

// String returns the wire form of the header value.
func (h *AuthHeader) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, `%s did="%s", nonce="%s", timestamp="%s"`, DIDWbaScheme, h.DID, h.Nonce, h.Timestamp)
	if h.RespDID != "" {
		fmt.Fprintf(&b, `, resp_did="%s"`, h.RespDID)
	}
	fmt.Fprintf(&b, `, verification_method="%s", signature="%s"`, h.VerificationMethod, h.Signature)
	if h.Token != "" {
		fmt.Fprintf(&b, `, token="%s"`, h.Token)
	}
	return b.String()
}

// authPayload is the canonical signing payload. It is serialized via JCS
// (RFC 8785), so field order here is irrelevant on the wire.
type authPayload struct {
	Nonce   string `json:"nonce"`
	Time    string `json:"timestamp"`
	Service string `json:"service"`
	DID     string `json:"did"`
	RespDID string `json:"resp_did,omitempty"`
}

func (p *authPayload) marshal() ([]byte, error) {
	jsonBytes, err := sonic.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadMarshal, err)
	}
	return jsoncanonicalizer.Transform(jsonBytes)
}

// NewNonce returns 16 random bytes, hex encoded.
func NewNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("anp_auth: crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}

// NewTimestamp returns the current UTC time as YYYY-MM-DDTHH:MM:SSZ.
func NewTimestamp() string {
	return time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
}

// ServiceName extracts the bare hostname (no port) from a request URL.
// Verification always recomputes this from the server-observed URL; the
// signed value is never trusted on its own.
func ServiceName(requestURL string) (string, error) {
	u, err := url.Parse(requestURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		// Tolerate bare "host:port" values such as an HTTP Host header.
		if h, _, ok := strings.Cut(requestURL, ":"); ok && h != "" && !strings.Contains(h, "/") {
			return h, nil
		}
		if requestURL != "" && !strings.Contains(requestURL, "/") {
			return requestURL, nil
		}
		return "", fmt.Errorf("no hostname in %q", requestURL)
	}
	return host, nil
}

// BuildAuthHeader constructs a signed DID-WBA Authorization header.
// targetDID may be empty for one-way authentication; when set, the exchange
// is two-way and resp_did is included in the signed payload.
func BuildAuthHeader(privateKey []byte, keyType, callerDID, fragment, requestURL, targetDID string) (*AuthHeader, error) {
	if len(privateKey) == 0 {
		return nil, errors.New("private key is required")
	}
	if callerDID == "" {
		return nil, errors.New("caller DID is required")
	}
	if fragment == "" {
		fragment = DefaultVerificationMethodFragment
	}

	service, err := ServiceName(requestURL)
	if err != nil {
		return nil, err
	}

	header := &AuthHeader{
		DID:                callerDID,
		Nonce:              NewNonce(),
		Timestamp:          NewTimestamp(),
		RespDID:            targetDID,
		VerificationMethod: fragment,
	}

	payload := authPayload{
		Nonce:   header.Nonce,
		Time:    header.Timestamp,
		Service: service,
		DID:     callerDID,
		RespDID: targetDID,
	}

	signature, err := signPayload(privateKey, keyType, &payload)
	if err != nil {
		return nil, err
	}
	header.Signature = signature

	return header, nil
}

func signPayload(privateKey []byte, keyType string, payload *authPayload) (string, error) {
	data, err := payload.marshal()
	if err != nil {
		return "", err
	}

	signer, err := crypto.SignerForKeyType(keyType)
	if err != nil {
		return "", err
	}

	sig, err := signer.Sign(privateKey, data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigningFailure, err)
	}

	return crypto.EncodeSignature(sig), nil
}

var authHeaderFieldRe = regexp.MustCompile(`(\w+)="([^"]*)"`)

// ParseAuthHeader parses a DIDWba Authorization header value.
// Unknown keys are ignored; did, nonce, timestamp, verification_method and
// signature are required, resp_did and token are optional.
func ParseAuthHeader(header string) (*AuthHeader, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, ErrMissingAuthHeader
	}

	// The scheme must stand alone: "DIDWbaFoo ..." is a different scheme,
	// not a DIDWba header.
	rest, found := strings.CutPrefix(header, DIDWbaScheme)
	if !found || (rest != "" && rest[0] != ' ') {
		return nil, fmt.Errorf("%w: must start with %q", ErrInvalidAuthHeader, DIDWbaScheme)
	}

	header = strings.TrimSpace(rest)

	parts := &AuthHeader{}
	matches := authHeaderFieldRe.FindAllStringSubmatch(header, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no fields", ErrInvalidAuthHeader)
	}

	for _, match := range matches {
		switch match[1] {
		case "did":
			parts.DID = match[2]
		case "nonce":
			parts.Nonce = match[2]
		case "timestamp":
			parts.Timestamp = match[2]
		case "resp_did":
			parts.RespDID = match[2]
		case "verification_method":
			parts.VerificationMethod = match[2]
		case "signature":
			parts.Signature = match[2]
		case "token":
			parts.Token = match[2]
		}
	}

	if parts.DID == "" || parts.Nonce == "" || parts.Timestamp == "" || parts.VerificationMethod == "" || parts.Signature == "" {
		return nil, fmt.Errorf("%w: missing required fields", ErrInvalidAuthHeader)
	}

	return parts, nil
}

// VerifyAuthHeader checks a parsed header against the DID document and the
// server-observed service hostname. It recomputes the canonical payload from
// the parsed fields; only the signature string itself comes from the wire.
// Timestamp and nonce freshness are checked separately by the verifier.
func VerifyAuthHeader(parts *AuthHeader, doc *DIDWBADocument, serviceDomain string) error {
	if parts == nil {
		return ErrInvalidAuthHeader
	}
	if doc == nil {
		return errors.New("DID document is required")
	}
	if parts.DID != doc.ID {
		return ErrDIDMismatch
	}

	if !doc.HasAuthenticationFragment(parts.VerificationMethod) {
		return fmt.Errorf("%w: %s", ErrVerificationMethodNotAuthorized, parts.VerificationMethod)
	}

	methodMap, _, err := SelectVerificationMethodForFragment(doc, parts.VerificationMethod)
	if err != nil {
		return err
	}

	verifier, err := CreateVerificationMethod(methodMap)
	if err != nil {
		return err
	}

	payload := authPayload{
		Nonce:   parts.Nonce,
		Time:    parts.Timestamp,
		Service: serviceDomain,
		DID:     parts.DID,
		RespDID: parts.RespDID,
	}
	payloadBytes, err := payload.marshal()
	if err != nil {
		return err
	}

	if !verifier.VerifySignature(payloadBytes, parts.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// BuildReplyHeader constructs the reciprocal header a server attaches to a
// two-way response: its own DID as did, the caller's as resp_did, a fresh
// nonce and timestamp, signed with the server agent's key. token, when
// non-empty, rides along for the caller to use on subsequent requests.
func BuildReplyHeader(privateKey []byte, keyType, serverDID, fragment, serviceDomain, callerDID, token string) (*AuthHeader, error) {
	if serverDID == "" || callerDID == "" {
		return nil, errors.New("server and caller DIDs are required")
	}
	if fragment == "" {
		fragment = DefaultVerificationMethodFragment
	}

	header := &AuthHeader{
		DID:                serverDID,
		Nonce:              NewNonce(),
		Timestamp:          NewTimestamp(),
		RespDID:            callerDID,
		VerificationMethod: fragment,
		Token:              token,
	}

	payload := authPayload{
		Nonce:   header.Nonce,
		Time:    header.Timestamp,
		Service: serviceDomain,
		DID:     serverDID,
		RespDID: callerDID,
	}

	signature, err := signPayload(privateKey, keyType, &payload)
	if err != nil {
		return nil, err
	}
	header.Signature = signature

	return header, nil
}

// SelectVerificationMethod picks the first authentication method declared in
// the document.
func SelectVerificationMethod(doc *DIDWBADocument) (map[string]any, string, error) {
	if len(doc.Authentication) == 0 {
		return nil, "", errors.New("did document missing authentication methods")
	}

	reference := doc.Authentication[0]
	fragment := reference
	if idx := strings.Index(reference, "#"); idx >= 0 {
		fragment = reference[idx+1:]
	}

	return SelectVerificationMethodForFragment(doc, fragment)
}

// SelectVerificationMethodForFragment finds the verification method whose id
// ends in #<fragment>.
func SelectVerificationMethodForFragment(doc *DIDWBADocument, fragment string) (map[string]any, string, error) {
	if fragment == "" {
		return nil, "", fmt.Errorf("%w: empty fragment", ErrVerificationMethodNotFound)
	}

	verificationMethodID := fmt.Sprintf("%s#%s", doc.ID, fragment)
	for _, method := range doc.VerificationMethod {
		if id, ok := method["id"].(string); ok && id == verificationMethodID {
			return method, fragment, nil
		}
	}
	return nil, "", fmt.Errorf("%w: %s", ErrVerificationMethodNotFound, fragment)
}
