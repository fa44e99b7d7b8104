package anp_auth

import (
	"strings"
	"testing"
	"time"
)

func testAuthenticator(t *testing.T) (*Authenticator, string) {
	t.Helper()

	callerDID, _, priv := testAgent(t, "client.example.com", 0)
	a, err := NewAuthenticator(callerDID, "key-1", "secp256k1", priv)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	return a, callerDID
}

func TestAuthenticatorFreshHeader(t *testing.T) {
	a, callerDID := testAuthenticator(t)
	target := "did:wba:server.example.com:wba:user:0123456789abcdef"

	header, err := a.GenerateHeader("http://server.example.com/agent/api/x/hello", target)
	if err != nil {
		t.Fatalf("GenerateHeader: %v", err)
	}
	if !strings.HasPrefix(header, DIDWbaScheme+" ") {
		t.Fatalf("header = %q", header)
	}

	parsed, err := ParseAuthHeader(header)
	if err != nil {
		t.Fatalf("ParseAuthHeader: %v", err)
	}
	if parsed.DID != callerDID || parsed.RespDID != target {
		t.Errorf("did=%s resp_did=%s", parsed.DID, parsed.RespDID)
	}

	// Each build carries a fresh nonce.
	second, err := a.GenerateHeader("http://server.example.com/agent/api/x/hello", target)
	if err != nil {
		t.Fatalf("GenerateHeader: %v", err)
	}
	reparsed, _ := ParseAuthHeader(second)
	if reparsed.Nonce == parsed.Nonce {
		t.Error("nonce reused across builds")
	}
}

func TestAuthenticatorTokenCache(t *testing.T) {
	a, _ := testAuthenticator(t)
	target := "did:wba:server.example.com:wba:user:0123456789abcdef"

	a.StoreToken(target, "cached-token", time.Time{})
	header, err := a.GenerateHeader("http://server.example.com/", target)
	if err != nil {
		t.Fatalf("GenerateHeader: %v", err)
	}
	if header != BearerScheme+"cached-token" {
		t.Errorf("header = %q, want cached bearer", header)
	}

	// Token cache is per target DID.
	other := "did:wba:other.example.com:wba:user:fedcba9876543210"
	header, err = a.GenerateHeader("http://other.example.com/", other)
	if err != nil {
		t.Fatalf("GenerateHeader: %v", err)
	}
	if strings.HasPrefix(header, BearerScheme) {
		t.Error("token leaked to a different target")
	}

	// Force bypasses the cache.
	header, err = a.GenerateHeaderForce("http://server.example.com/", target)
	if err != nil {
		t.Fatalf("GenerateHeaderForce: %v", err)
	}
	if !strings.HasPrefix(header, DIDWbaScheme+" ") {
		t.Errorf("forced header = %q", header)
	}

	a.ClearToken(target)
	if _, ok := a.Token(target); ok {
		t.Error("token survived ClearToken")
	}
}

func TestAuthenticatorTokenExpiry(t *testing.T) {
	a, _ := testAuthenticator(t)
	target := "did:wba:server.example.com:wba:user:0123456789abcdef"

	a.StoreToken(target, "short-lived", time.Now().Add(-time.Second))
	if _, ok := a.Token(target); ok {
		t.Error("expired token still served")
	}

	header, err := a.GenerateHeader("http://server.example.com/", target)
	if err != nil {
		t.Fatalf("GenerateHeader: %v", err)
	}
	if !strings.HasPrefix(header, DIDWbaScheme+" ") {
		t.Errorf("header = %q, want fresh DIDWba after expiry", header)
	}
}

func TestNewAuthenticatorValidation(t *testing.T) {
	if _, err := NewAuthenticator("", "key-1", "secp256k1", []byte{1}); err == nil {
		t.Error("empty caller DID accepted")
	}
	if _, err := NewAuthenticator("did:wba:x:wba:user:0123456789abcdef", "key-1", "secp256k1", nil); err == nil {
		t.Error("empty private key accepted")
	}
}
