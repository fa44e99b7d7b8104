package anp_auth

import (
	"crypto/ecdsa"
	"strings"
	"testing"
	"time"
)

func testAgent(t *testing.T, host string, port int) (string, *DIDWBADocument, []byte) {
	t.Helper()

	localID, err := NewLocalID()
	if err != nil {
		t.Fatalf("NewLocalID: %v", err)
	}
	doc, privateKey, err := CreateDIDDocument(host, port, localID, "")
	if err != nil {
		t.Fatalf("CreateDIDDocument: %v", err)
	}
	return doc.ID, doc, scalarOf(privateKey)
}

func scalarOf(key *ecdsa.PrivateKey) []byte {
	scalar := make([]byte, 32)
	d := key.D.Bytes()
	copy(scalar[32-len(d):], d)
	return scalar
}

func TestCanonicalPayloadDeterministic(t *testing.T) {
	p := authPayload{
		Nonce:   "00112233445566778899aabbccddeeff",
		Time:    "2026-01-02T03:04:05Z",
		Service: "server.example.com",
		DID:     "did:wba:client.example.com:wba:user:0123456789abcdef",
		RespDID: "did:wba:server.example.com:wba:user:fedcba9876543210",
	}

	first, err := p.marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := p.marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("canonical form differs:\n%s\n%s", first, second)
	}
}

func TestBuildAndVerifyAuthHeader(t *testing.T) {
	callerDID, doc, priv := testAgent(t, "client.example.com", 0)

	header, err := BuildAuthHeader(priv, "secp256k1", callerDID, "key-1", "http://server.example.com:9527/agent/api/x/hello", "")
	if err != nil {
		t.Fatalf("BuildAuthHeader: %v", err)
	}

	parsed, err := ParseAuthHeader(header.String())
	if err != nil {
		t.Fatalf("ParseAuthHeader: %v", err)
	}
	if parsed.DID != callerDID {
		t.Errorf("did = %s", parsed.DID)
	}
	if parsed.RespDID != "" {
		t.Errorf("one-way header carries resp_did %q", parsed.RespDID)
	}
	if len(parsed.Nonce) != 32 {
		t.Errorf("nonce length = %d, want 32 hex chars", len(parsed.Nonce))
	}
	if _, err := time.Parse(time.RFC3339, parsed.Timestamp); err != nil {
		t.Errorf("timestamp %q not RFC3339: %v", parsed.Timestamp, err)
	}

	// The service name is the bare hostname, port stripped.
	if err := VerifyAuthHeader(parsed, doc, "server.example.com"); err != nil {
		t.Errorf("VerifyAuthHeader: %v", err)
	}
	if err := VerifyAuthHeader(parsed, doc, "other.example.com"); err == nil {
		t.Error("verification against a different service hostname should fail")
	}
}

func TestTwoWayHeaderCarriesRespDID(t *testing.T) {
	callerDID, doc, priv := testAgent(t, "client.example.com", 0)
	targetDID := "did:wba:server.example.com%3A9527:wba:user:0123456789abcdef"

	header, err := BuildAuthHeader(priv, "secp256k1", callerDID, "key-1", "http://server.example.com:9527/", targetDID)
	if err != nil {
		t.Fatalf("BuildAuthHeader: %v", err)
	}

	parsed, err := ParseAuthHeader(header.String())
	if err != nil {
		t.Fatalf("ParseAuthHeader: %v", err)
	}
	if parsed.RespDID != targetDID {
		t.Errorf("resp_did = %s, want %s", parsed.RespDID, targetDID)
	}
	if err := VerifyAuthHeader(parsed, doc, "server.example.com"); err != nil {
		t.Errorf("VerifyAuthHeader: %v", err)
	}

	// resp_did is part of the signed payload: stripping it breaks the signature.
	stripped := *parsed
	stripped.RespDID = ""
	if err := VerifyAuthHeader(&stripped, doc, "server.example.com"); err == nil {
		t.Error("removing resp_did should invalidate the signature")
	}
}

func TestVerifyAuthHeaderRejectsTampering(t *testing.T) {
	callerDID, doc, priv := testAgent(t, "client.example.com", 0)

	header, err := BuildAuthHeader(priv, "secp256k1", callerDID, "key-1", "http://server.example.com/", "")
	if err != nil {
		t.Fatalf("BuildAuthHeader: %v", err)
	}

	cases := map[string]func(*AuthHeader){
		"nonce":     func(h *AuthHeader) { h.Nonce = NewNonce() },
		"timestamp": func(h *AuthHeader) { h.Timestamp = NewTimestamp() },
		"did":       func(h *AuthHeader) { h.DID = doc.ID },
		"signature": func(h *AuthHeader) { h.Signature = h.Signature[:len(h.Signature)-4] + "AAAA" },
	}
	// DID tampering needs a second identity to be meaningful.
	otherDID, _, _ := testAgent(t, "client.example.com", 0)
	cases["did"] = func(h *AuthHeader) { h.DID = otherDID }

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			mutated := *header
			mutate(&mutated)
			if mutated == *header {
				t.Skip("mutation was a no-op")
			}
			if err := VerifyAuthHeader(&mutated, doc, "server.example.com"); err == nil {
				t.Errorf("tampered %s accepted", name)
			}
		})
	}
}

func TestParseAuthHeaderErrors(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"empty", ""},
		{"wrong scheme", `Bearer abc`},
		{"no fields", "DIDWba"},
		{"missing signature", `DIDWba did="did:wba:x:wba:user:0123456789abcdef", nonce="n", timestamp="t", verification_method="key-1"`},
		{"scheme prefix collision", `DIDWbaFoo did="did:wba:x:wba:user:0123456789abcdef", nonce="n", timestamp="t", verification_method="key-1", signature="s"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseAuthHeader(tt.header); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestReplyHeaderRoundTrip(t *testing.T) {
	serverDID, serverDoc, serverPriv := testAgent(t, "server.example.com", 0)
	callerDID := "did:wba:client.example.com:wba:user:0123456789abcdef"

	reply, err := BuildReplyHeader(serverPriv, "secp256k1", serverDID, "key-1", "server.example.com", callerDID, "issued-token")
	if err != nil {
		t.Fatalf("BuildReplyHeader: %v", err)
	}

	wire := reply.String()
	if !strings.Contains(wire, `token="issued-token"`) {
		t.Errorf("wire form missing token: %s", wire)
	}

	parsed, err := ParseAuthHeader(wire)
	if err != nil {
		t.Fatalf("ParseAuthHeader: %v", err)
	}
	if parsed.DID != serverDID || parsed.RespDID != callerDID {
		t.Errorf("swap check fields: did=%s resp_did=%s", parsed.DID, parsed.RespDID)
	}
	if parsed.Token != "issued-token" {
		t.Errorf("token = %q", parsed.Token)
	}

	// The token rides outside the signed payload.
	if err := VerifyAuthHeader(parsed, serverDoc, "server.example.com"); err != nil {
		t.Errorf("VerifyAuthHeader: %v", err)
	}
}

func TestServiceName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://example.com:9527/path", "example.com", false},
		{"https://example.com/path", "example.com", false},
		{"example.com:9527", "example.com", false},
		{"example.com", "example.com", false},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ServiceName(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ServiceName(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ServiceName(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ServiceName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHasAuthenticationFragment(t *testing.T) {
	doc := &DIDWBADocument{
		ID:             "did:wba:example.com:wba:user:0123456789abcdef",
		Authentication: []string{"did:wba:example.com:wba:user:0123456789abcdef#key-1", "key-2"},
	}

	if !doc.HasAuthenticationFragment("key-1") {
		t.Error("full reference not matched")
	}
	if !doc.HasAuthenticationFragment("key-2") {
		t.Error("bare fragment not matched")
	}
	if doc.HasAuthenticationFragment("key-3") {
		t.Error("unknown fragment matched")
	}
}
