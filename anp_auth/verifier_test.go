package anp_auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"testing"
	"time"
)

type verifierFixture struct {
	verifier *DidWbaVerifier

	callerDID  string
	callerPriv []byte

	serverDID  string
	serverPriv []byte
	jwtKey     *rsa.PrivateKey
}

func newVerifierFixture(t *testing.T, mutate func(*VerifierConfig)) *verifierFixture {
	t.Helper()

	callerDID, callerDoc, callerPriv := testAgent(t, "client.example.com", 0)
	serverDID, serverDoc, serverPriv := testAgent(t, "server.example.com", 0)

	jwtKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}

	docs := map[string]*DIDWBADocument{
		callerDID: callerDoc,
		serverDID: serverDoc,
	}

	config := VerifierConfig{
		ResolveDIDDocument: func(ctx context.Context, did string) (*DIDWBADocument, error) {
			doc, ok := docs[did]
			if !ok {
				return nil, fmt.Errorf("unknown DID %s", did)
			}
			return doc, nil
		},
		Credentials: func(ctx context.Context, targetDID string) (*ReplyCredentials, error) {
			if targetDID != serverDID {
				return nil, fmt.Errorf("no agent %s", targetDID)
			}
			return &ReplyCredentials{
				DID:           serverDID,
				Fragment:      DefaultVerificationMethodFragment,
				KeyType:       "secp256k1",
				PrivateKey:    serverPriv,
				JWTPrivateKey: jwtKey,
				JWTPublicKey:  &jwtKey.PublicKey,
			}, nil
		},
	}
	if mutate != nil {
		mutate(&config)
	}

	return &verifierFixture{
		verifier:   NewDidWbaVerifier(config),
		callerDID:  callerDID,
		callerPriv: callerPriv,
		serverDID:  serverDID,
		serverPriv: serverPriv,
		jwtKey:     jwtKey,
	}
}

func (f *verifierFixture) authContext() *AuthContext {
	return &AuthContext{
		Domain:    "server.example.com",
		TargetDID: f.serverDID,
	}
}

func (f *verifierFixture) header(t *testing.T, twoWay bool) string {
	t.Helper()

	target := ""
	if twoWay {
		target = f.serverDID
	}
	h, err := BuildAuthHeader(f.callerPriv, "secp256k1", f.callerDID, "key-1", "http://server.example.com/agent/api/x/hello", target)
	if err != nil {
		t.Fatalf("BuildAuthHeader: %v", err)
	}
	return h.String()
}

func TestVerifyDIDHeaderOneWay(t *testing.T) {
	f := newVerifierFixture(t, nil)

	result, err := f.verifier.VerifyDIDHeader(context.Background(), f.header(t, false), f.authContext())
	if err != nil {
		t.Fatalf("VerifyDIDHeader: %v", err)
	}
	if result.CallerDID != f.callerDID {
		t.Errorf("caller = %s", result.CallerDID)
	}
	if result.TwoWay {
		t.Error("one-way exchange reported as two-way")
	}
	if result.AccessToken != "" || result.ResponseHeader != "" {
		t.Error("one-way exchange issued reply material")
	}
}

func TestVerifyDIDHeaderTwoWay(t *testing.T) {
	f := newVerifierFixture(t, nil)

	result, err := f.verifier.VerifyDIDHeader(context.Background(), f.header(t, true), f.authContext())
	if err != nil {
		t.Fatalf("VerifyDIDHeader: %v", err)
	}
	if !result.TwoWay {
		t.Fatal("two-way exchange not detected")
	}
	if result.AccessToken == "" {
		t.Fatal("no bearer token issued")
	}
	if result.ResponseHeader == "" {
		t.Fatal("no reply header attached")
	}

	// The reply header passes the caller's swap check and carries the token.
	reply, err := ParseAuthHeader(result.ResponseHeader)
	if err != nil {
		t.Fatalf("ParseAuthHeader(reply): %v", err)
	}
	if reply.DID != f.serverDID || reply.RespDID != f.callerDID {
		t.Errorf("reply swap fields: did=%s resp_did=%s", reply.DID, reply.RespDID)
	}
	if reply.Token != result.AccessToken {
		t.Error("reply header token differs from issued token")
	}

	// The issued token validates for the (caller, server) direction.
	caller, err := VerifyAccessToken(result.AccessToken, f.serverDID, &f.jwtKey.PublicKey, "RS256")
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if caller != f.callerDID {
		t.Errorf("token sub = %s", caller)
	}
}

func TestVerifyDIDHeaderRespDIDMismatch(t *testing.T) {
	f := newVerifierFixture(t, nil)

	actx := f.authContext()
	actx.TargetDID = "did:wba:other.example.com:wba:user:0123456789abcdef"

	_, err := f.verifier.VerifyDIDHeader(context.Background(), f.header(t, true), actx)
	if !errors.Is(err, ErrDIDMismatch) {
		t.Errorf("got %v, want ErrDIDMismatch", err)
	}
}

func TestVerifyDIDHeaderTimestampWindow(t *testing.T) {
	tests := []struct {
		name    string
		skew    time.Duration
		wantErr error
	}{
		{"fresh", -time.Minute, nil},
		{"expired", -10 * time.Minute, ErrTimestampExpired},
		{"future beyond tolerance", 5 * time.Minute, ErrTimestampFuture},
		{"future within tolerance", 30 * time.Second, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// The header carries the real wall clock timestamp; shifting the
			// verifier's clock the other way makes it look skewed by tt.skew.
			f := newVerifierFixture(t, func(c *VerifierConfig) {
				c.NowFunc = func() time.Time { return time.Now().Add(-tt.skew) }
			})
			_, err := f.verifier.VerifyDIDHeader(context.Background(), f.header(t, false), f.authContext())
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("VerifyDIDHeader: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifyDIDHeaderMalformed(t *testing.T) {
	f := newVerifierFixture(t, nil)

	_, err := f.verifier.VerifyDIDHeader(context.Background(), "DIDWba garbage", f.authContext())
	if err == nil {
		t.Fatal("expected error")
	}
	if GetStatusCode(err, 0) != StatusBadRequest {
		t.Errorf("status = %d, want 400", GetStatusCode(err, 0))
	}
}

func TestVerifyDIDHeaderUnknownCaller(t *testing.T) {
	f := newVerifierFixture(t, func(c *VerifierConfig) {
		c.ResolveDIDDocument = func(ctx context.Context, did string) (*DIDWBADocument, error) {
			return nil, fmt.Errorf("resolution refused")
		}
	})

	_, err := f.verifier.VerifyDIDHeader(context.Background(), f.header(t, false), f.authContext())
	if !errors.Is(err, ErrDIDResolution) {
		t.Errorf("got %v, want ErrDIDResolution", err)
	}
}

func TestVerifyDIDHeaderDomainAllowList(t *testing.T) {
	f := newVerifierFixture(t, func(c *VerifierConfig) {
		c.AllowedDomains = []string{"allowed.example.com"}
	})

	_, err := f.verifier.VerifyDIDHeader(context.Background(), f.header(t, false), f.authContext())
	if !errors.Is(err, ErrDomainNotAllowed) {
		t.Errorf("got %v, want ErrDomainNotAllowed", err)
	}
	if GetStatusCode(err, 0) != StatusForbidden {
		t.Errorf("status = %d, want 403", GetStatusCode(err, 0))
	}
}

// Duplicate nonces within the timestamp window are accepted unless a replay
// cache is configured.
func TestVerifyDIDHeaderNonceReuse(t *testing.T) {
	f := newVerifierFixture(t, nil)

	header := f.header(t, false)
	for i := 0; i < 2; i++ {
		if _, err := f.verifier.VerifyDIDHeader(context.Background(), header, f.authContext()); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	guarded := newVerifierFixture(t, func(c *VerifierConfig) {
		c.NonceValidator = NewMemoryNonceValidator(DefaultNonceExpiration)
	})
	header = guarded.header(t, false)
	if _, err := guarded.verifier.VerifyDIDHeader(context.Background(), header, guarded.authContext()); err != nil {
		t.Fatalf("first use: %v", err)
	}
	_, err := guarded.verifier.VerifyDIDHeader(context.Background(), header, guarded.authContext())
	if !errors.Is(err, ErrNonceReused) {
		t.Errorf("got %v, want ErrNonceReused", err)
	}
}

func TestVerifyBearerToken(t *testing.T) {
	f := newVerifierFixture(t, nil)

	token, err := CreateAccessToken(f.callerDID, f.serverDID, f.jwtKey, "RS256", time.Hour)
	if err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}

	result, err := f.verifier.VerifyBearerToken(context.Background(), token, f.authContext())
	if err != nil {
		t.Fatalf("VerifyBearerToken: %v", err)
	}
	if result.CallerDID != f.callerDID {
		t.Errorf("caller = %s", result.CallerDID)
	}
	if result.AuthMethod != "bearer" {
		t.Errorf("method = %s", result.AuthMethod)
	}
}

func TestVerifyBearerTokenWrongDirection(t *testing.T) {
	f := newVerifierFixture(t, nil)

	// Token issued with the caller as audience: presenting it to the server
	// must fail the aud check.
	token, err := CreateAccessToken(f.callerDID, f.callerDID, f.jwtKey, "RS256", time.Hour)
	if err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}

	if _, err := f.verifier.VerifyBearerToken(context.Background(), token, f.authContext()); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("got %v, want ErrInvalidToken", err)
	}
}

func TestVerifyBearerTokenNeedsTarget(t *testing.T) {
	f := newVerifierFixture(t, nil)

	actx := f.authContext()
	actx.TargetDID = ""
	if _, err := f.verifier.VerifyBearerToken(context.Background(), "whatever", actx); !errors.Is(err, ErrCannotInferTarget) {
		t.Errorf("got %v, want ErrCannotInferTarget", err)
	}
}

func TestDIDDocumentCache(t *testing.T) {
	resolutions := 0
	f := newVerifierFixture(t, nil)
	base := f.verifier.config.ResolveDIDDocument
	f.verifier.config.ResolveDIDDocument = func(ctx context.Context, did string) (*DIDWBADocument, error) {
		resolutions++
		return base(ctx, did)
	}

	for i := 0; i < 3; i++ {
		if _, err := f.verifier.VerifyDIDHeader(context.Background(), f.header(t, false), f.authContext()); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if resolutions != 1 {
		t.Errorf("resolutions = %d, want 1 (cached)", resolutions)
	}
}
