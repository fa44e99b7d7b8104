package anp_auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ResolveDIDDocumentFunc resolves a DID document for a given DID identifier.
type ResolveDIDDocumentFunc func(ctx context.Context, did string) (*DIDWBADocument, error)

// ReplyCredentials is the signing material of a locally hosted agent that the
// verifier uses to issue bearer tokens and the reciprocal two-way header.
type ReplyCredentials struct {
	DID           string
	Fragment      string
	KeyType       string
	PrivateKey    []byte
	JWTPrivateKey any
	JWTPublicKey  any
}

// CredentialsFunc looks up the reply credentials of a locally hosted agent.
type CredentialsFunc func(ctx context.Context, targetDID string) (*ReplyCredentials, error)

// VerifierConfig holds the configuration for the DidWbaVerifier.
// Zero fields get sensible defaults in NewDidWbaVerifier.
type VerifierConfig struct {
	ResolveDIDDocument ResolveDIDDocumentFunc
	Credentials        CredentialsFunc
	NonceValidator     NonceValidator

	JWTAlgorithm             string
	AccessTokenExpireMinutes time.Duration
	TimestampExpireMinutes   time.Duration
	DIDCacheExpireMinutes    time.Duration
	AllowedDomains           []string
	NowFunc                  func() time.Time
}

type didCacheEntry struct {
	doc       *DIDWBADocument
	expiresAt time.Time
}

// DidWbaVerifier runs the inbound verification pipeline for DIDWba headers
// and validates bearer tokens issued by local agents.
type DidWbaVerifier struct {
	config        VerifierConfig
	didCache      map[string]didCacheEntry
	didCacheMutex sync.Mutex
	now           func() time.Time
}

// NewDidWbaVerifier creates a verifier, applying defaults for omitted fields.
func NewDidWbaVerifier(config VerifierConfig) *DidWbaVerifier {
	if config.JWTAlgorithm == "" {
		config.JWTAlgorithm = DefaultJWTAlgorithm
	}
	if config.AccessTokenExpireMinutes == 0 {
		config.AccessTokenExpireMinutes = DefaultAccessTokenExpiration / time.Minute
	}
	if config.TimestampExpireMinutes == 0 {
		config.TimestampExpireMinutes = DefaultTimestampExpiration / time.Minute
	}
	if config.DIDCacheExpireMinutes == 0 {
		config.DIDCacheExpireMinutes = DefaultDIDCacheExpiration / time.Minute
	}
	nowFunc := config.NowFunc
	if nowFunc == nil {
		nowFunc = time.Now
	}

	return &DidWbaVerifier{
		config:   config,
		didCache: make(map[string]didCacheEntry),
		now:      nowFunc,
	}
}

func (v *DidWbaVerifier) ensureDomainAllowed(domain string) error {
	if len(v.config.AllowedDomains) == 0 {
		return nil
	}

	for _, allowed := range v.config.AllowedDomains {
		if strings.EqualFold(strings.TrimSpace(allowed), domain) {
			return nil
		}
	}

	return NewErrorWithStatus(fmt.Errorf("%w: %s", ErrDomainNotAllowed, domain), StatusForbidden)
}

// VerifyDIDHeader runs the full pipeline for a DIDWba Authorization value:
// parse, timestamp window, nonce, DID resolution, signature. On a two-way
// request it issues a bearer token for the caller and builds the reciprocal
// response header signed by the target agent.
func (v *DidWbaVerifier) VerifyDIDHeader(ctx context.Context, authorization string, actx *AuthContext) (*AuthResult, error) {
	if err := v.ensureDomainAllowed(actx.Domain); err != nil {
		return nil, err
	}

	parts, err := ParseAuthHeader(authorization)
	if err != nil {
		return nil, NewErrorWithStatus(err, StatusBadRequest)
	}

	if err := v.verifyTimestamp(parts.Timestamp); err != nil {
		return nil, err
	}

	if err := v.verifyNonce(ctx, parts.DID, parts.Nonce); err != nil {
		return nil, err
	}

	// On a two-way request the signed resp_did must be the DID the request
	// was routed to.
	if parts.RespDID != "" && actx.TargetDID != "" && parts.RespDID != actx.TargetDID {
		return nil, NewErrorWithStatus(fmt.Errorf("%w: resp_did %q does not match target", ErrDIDMismatch, parts.RespDID), StatusUnauthorized)
	}

	doc, err := v.resolveAndCacheDID(ctx, parts.DID)
	if err != nil {
		return nil, err
	}

	if err := VerifyAuthHeader(parts, doc, actx.Domain); err != nil {
		return nil, NewErrorWithStatus(fmt.Errorf("%w: %v", ErrInvalidSignature, err), StatusUnauthorized)
	}

	result := &AuthResult{
		CallerDID:  parts.DID,
		TargetDID:  actx.TargetDID,
		TwoWay:     parts.RespDID != "",
		AuthMethod: "wba",
	}
	if result.TargetDID == "" {
		result.TargetDID = parts.RespDID
	}

	if result.TwoWay {
		if err := v.attachReply(ctx, result, actx.Domain); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// attachReply issues the bearer token and the server-signed reply header.
func (v *DidWbaVerifier) attachReply(ctx context.Context, result *AuthResult, domain string) error {
	if v.config.Credentials == nil {
		// No local credentials wired: the exchange still succeeds one-way.
		logger.Debug("no credentials provider; skipping two-way reply", "target", result.TargetDID)
		return nil
	}

	creds, err := v.config.Credentials(ctx, result.TargetDID)
	if err != nil {
		return NewErrorWithStatus(fmt.Errorf("%w: %v", ErrAgentNotFound, err), StatusNotFound)
	}

	token := ""
	if creds.JWTPrivateKey != nil {
		token, err = CreateAccessToken(result.CallerDID, creds.DID, creds.JWTPrivateKey, v.config.JWTAlgorithm, v.config.AccessTokenExpireMinutes*time.Minute)
		if err != nil {
			return NewErrorWithStatus(err, StatusInternalServerError)
		}
	}

	reply, err := BuildReplyHeader(creds.PrivateKey, creds.KeyType, creds.DID, creds.Fragment, domain, result.CallerDID, token)
	if err != nil {
		return NewErrorWithStatus(err, StatusInternalServerError)
	}

	result.AccessToken = token
	result.ResponseHeader = reply.String()
	return nil
}

// VerifyBearerToken validates a bearer token against the routed target
// agent's JWT public key.
func (v *DidWbaVerifier) VerifyBearerToken(ctx context.Context, token string, actx *AuthContext) (*AuthResult, error) {
	if v.config.Credentials == nil {
		return nil, NewErrorWithStatus(ErrJWTConfigMissing, StatusInternalServerError)
	}
	if actx.TargetDID == "" {
		return nil, NewErrorWithStatus(ErrCannotInferTarget, StatusBadRequest)
	}

	creds, err := v.config.Credentials(ctx, actx.TargetDID)
	if err != nil {
		return nil, NewErrorWithStatus(fmt.Errorf("%w: %v", ErrAgentNotFound, err), StatusNotFound)
	}
	if creds.JWTPublicKey == nil {
		return nil, NewErrorWithStatus(ErrJWTConfigMissing, StatusInternalServerError)
	}

	callerDID, err := VerifyAccessToken(token, creds.DID, creds.JWTPublicKey, v.config.JWTAlgorithm)
	if err != nil {
		return nil, NewErrorWithStatus(err, StatusUnauthorized)
	}

	return &AuthResult{
		CallerDID:  callerDID,
		TargetDID:  actx.TargetDID,
		AuthMethod: "bearer",
	}, nil
}

// resolveAndCacheDID retrieves a DID document, using a TTL cache to avoid
// repeated lookups.
func (v *DidWbaVerifier) resolveAndCacheDID(ctx context.Context, did string) (*DIDWBADocument, error) {
	v.didCacheMutex.Lock()
	if entry, exists := v.didCache[did]; exists && v.now().UTC().Before(entry.expiresAt) {
		v.didCacheMutex.Unlock()
		return entry.doc, nil
	}
	v.didCacheMutex.Unlock()

	if v.config.ResolveDIDDocument == nil {
		return nil, NewErrorWithStatus(fmt.Errorf("%w: no resolver configured", ErrDIDResolution), StatusInternalServerError)
	}

	// Resolve outside the lock to avoid blocking during network I/O.
	doc, err := v.config.ResolveDIDDocument(ctx, did)
	if err != nil {
		return nil, NewErrorWithStatus(fmt.Errorf("%w: %v", ErrDIDResolution, err), StatusUnauthorized)
	}

	v.didCacheMutex.Lock()
	defer v.didCacheMutex.Unlock()

	// Re-check in case another goroutine resolved it while we were working.
	if entry, exists := v.didCache[did]; exists && v.now().UTC().Before(entry.expiresAt) {
		return entry.doc, nil
	}

	v.didCache[did] = didCacheEntry{
		doc:       doc,
		expiresAt: v.now().UTC().Add(v.config.DIDCacheExpireMinutes * time.Minute),
	}

	return doc, nil
}

func (v *DidWbaVerifier) verifyTimestamp(timestampStr string) error {
	requestTime, err := time.Parse(time.RFC3339, timestampStr)
	if err != nil {
		return NewErrorWithStatus(fmt.Errorf("%w: %v", ErrTimestampInvalid, err), StatusBadRequest)
	}

	currentTime := v.now().UTC()
	if requestTime.After(currentTime.Add(DefaultTimestampTolerance)) {
		return NewErrorWithStatus(ErrTimestampFuture, StatusBadRequest)
	}

	if currentTime.Sub(requestTime) > v.config.TimestampExpireMinutes*time.Minute {
		return NewErrorWithStatus(ErrTimestampExpired, StatusUnauthorized)
	}

	return nil
}

// verifyNonce consults the replay cache when one is configured. Freshness is
// otherwise bounded by the timestamp window alone, so concurrent requests
// reusing a nonce within the window are both accepted.
func (v *DidWbaVerifier) verifyNonce(ctx context.Context, did, nonce string) error {
	if v.config.NonceValidator == nil {
		return nil
	}

	ok, err := v.config.NonceValidator.Validate(ctx, did, nonce)
	if err != nil {
		return NewErrorWithStatus(fmt.Errorf("nonce validator error: %w", err), StatusInternalServerError)
	}
	if !ok {
		return NewErrorWithStatus(ErrNonceReused, StatusUnauthorized)
	}
	return nil
}
