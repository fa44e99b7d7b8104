package anp_auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestTransportAttachesHeader(t *testing.T) {
	callerDID, _, priv := testAgent(t, "client.example.com", 0)
	a, err := NewAuthenticator(callerDID, "key-1", "secp256k1", priv)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get(AuthorizationHeader)
	}))
	defer srv.Close()

	client := NewHTTPClient(a)
	resp, err := client.Get(srv.URL + "/agent/api/0123456789abcdef/hello")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()

	if !strings.HasPrefix(gotAuth, DIDWbaScheme+" ") {
		t.Fatalf("Authorization = %q, want DIDWba header", gotAuth)
	}
	parsed, err := ParseAuthHeader(gotAuth)
	if err != nil {
		t.Fatalf("ParseAuthHeader: %v", err)
	}
	if parsed.DID != callerDID {
		t.Errorf("did = %s", parsed.DID)
	}
	// The target inferred from the request path rides as resp_did.
	if !strings.Contains(parsed.RespDID, "0123456789abcdef") {
		t.Errorf("resp_did = %q", parsed.RespDID)
	}
}

func TestTransportPrefersCachedToken(t *testing.T) {
	callerDID, _, priv := testAgent(t, "client.example.com", 0)
	a, err := NewAuthenticator(callerDID, "key-1", "secp256k1", priv)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get(AuthorizationHeader)
	}))
	defer srv.Close()

	target := "did:wba:server.example.com:wba:user:0123456789abcdef"
	a.StoreToken(target, "cached", time.Now().Add(time.Hour))

	client := NewHTTPClient(a)
	resp, err := client.Get(srv.URL + "/x?resp_did=" + target)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()

	if gotAuth != BearerScheme+"cached" {
		t.Errorf("Authorization = %q, want cached bearer", gotAuth)
	}
}
