package anp_auth

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Authenticator issues outbound Authorization headers for one caller agent.
// It prefers a cached bearer token for the target and falls back to building
// a fresh DIDWba header. Tokens are keyed by target DID: a token issued by S
// to this caller is presented only on requests to S.
type Authenticator struct {
	callerDID  string
	fragment   string
	keyType    string
	privateKey []byte

	tokens     map[string]storedToken
	cacheMutex sync.Mutex

	// sf collapses concurrent header builds for the same target.
	sf singleflight.Group
}

type storedToken struct {
	token     string
	expiresAt time.Time // zero means "until rejected"
}

// NewAuthenticator creates an authenticator for the caller's key material.
func NewAuthenticator(callerDID, fragment, keyType string, privateKey []byte) (*Authenticator, error) {
	if callerDID == "" {
		return nil, fmt.Errorf("caller DID is required")
	}
	if len(privateKey) == 0 {
		return nil, fmt.Errorf("private key is required")
	}
	if fragment == "" {
		fragment = DefaultVerificationMethodFragment
	}
	if keyType == "" {
		keyType = "secp256k1"
	}

	return &Authenticator{
		callerDID:  callerDID,
		fragment:   fragment,
		keyType:    keyType,
		privateKey: privateKey,
		tokens:     make(map[string]storedToken),
	}, nil
}

// CallerDID returns the DID this authenticator signs for.
func (a *Authenticator) CallerDID() string {
	return a.callerDID
}

// GenerateHeader returns the Authorization value for a request to targetDID
// at requestURL: a cached bearer token when one is live, otherwise a fresh
// two-way DIDWba header.
func (a *Authenticator) GenerateHeader(requestURL, targetDID string) (string, error) {
	return a.header(requestURL, targetDID, false)
}

// GenerateHeaderForce builds a fresh DIDWba header, bypassing any cached token.
func (a *Authenticator) GenerateHeaderForce(requestURL, targetDID string) (string, error) {
	return a.header(requestURL, targetDID, true)
}

func (a *Authenticator) header(requestURL, targetDID string, force bool) (string, error) {
	if !force {
		if token, ok := a.liveToken(targetDID); ok {
			logger.Debug("using cached bearer token", "target", targetDID)
			return BearerScheme + token, nil
		}
	}

	// Nonce and timestamp must be fresh per request, so only concurrent
	// duplicate builds are collapsed; nothing is cached.
	result, err, _ := a.sf.Do(targetDID+"|"+requestURL, func() (interface{}, error) {
		header, err := BuildAuthHeader(a.privateKey, a.keyType, a.callerDID, a.fragment, requestURL, targetDID)
		if err != nil {
			return nil, fmt.Errorf("generate header: %w", err)
		}
		return header.String(), nil
	})
	if err != nil {
		return "", err
	}

	return result.(string), nil
}

func (a *Authenticator) liveToken(targetDID string) (string, bool) {
	a.cacheMutex.Lock()
	defer a.cacheMutex.Unlock()

	entry, ok := a.tokens[targetDID]
	if !ok {
		return "", false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(a.tokens, targetDID)
		return "", false
	}
	return entry.token, true
}

// StoreToken caches a bearer token for the target. expiresAt may be zero to
// keep the token until the server rejects it.
func (a *Authenticator) StoreToken(targetDID, token string, expiresAt time.Time) {
	if targetDID == "" || token == "" {
		return
	}
	a.cacheMutex.Lock()
	a.tokens[targetDID] = storedToken{token: token, expiresAt: expiresAt}
	a.cacheMutex.Unlock()
}

// ClearToken removes any cached token for the target.
func (a *Authenticator) ClearToken(targetDID string) {
	a.cacheMutex.Lock()
	delete(a.tokens, targetDID)
	a.cacheMutex.Unlock()
}

// Token returns the cached token for the target, if any.
func (a *Authenticator) Token(targetDID string) (string, bool) {
	return a.liveToken(targetDID)
}
