package agent

import (
	"crypto/rsa"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bytedance/sonic"

	"github.com/openanp/anp-runtime/anp_auth"
)

func TestStoreCreateLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil)

	created, err := store.Create("localhost", 9527, "weather", "http://localhost:9527/ad.json")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Config.Name != "weather" || created.Config.Type != anp_auth.DIDTypeUser {
		t.Errorf("config = %+v", created.Config)
	}

	loaded, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("LoadAll = %d agents", len(loaded))
	}

	got := loaded[0]
	if got.Credentials.DID != created.Credentials.DID {
		t.Errorf("DID = %s, want %s", got.Credentials.DID, created.Credentials.DID)
	}
	if got.Config.Name != "weather" {
		t.Errorf("Name = %q", got.Config.Name)
	}

	// The WBA signing key survives the PEM round trip.
	kp, err := got.Credentials.DefaultKeyPair()
	if err != nil {
		t.Fatalf("DefaultKeyPair: %v", err)
	}
	origKP, _ := created.Credentials.DefaultKeyPair()
	if string(kp.PrivateKey) != string(origKP.PrivateKey) {
		t.Error("secp256k1 scalar changed across the round trip")
	}

	// The JWT pair loads as usable RSA keys.
	if _, ok := got.Credentials.JWTPrivateKey.(*rsa.PrivateKey); !ok {
		t.Errorf("JWTPrivateKey is %T", got.Credentials.JWTPrivateKey)
	}
	if _, ok := got.Credentials.JWTPublicKey.(*rsa.PublicKey); !ok {
		t.Errorf("JWTPublicKey is %T", got.Credentials.JWTPublicKey)
	}

	// The loaded credentials drive an agent directly.
	if _, err := New(got.Config.Name, got.Credentials); err != nil {
		t.Errorf("New from loaded credentials: %v", err)
	}
}

func TestLoadAllSkipsBrokenDirectories(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil)

	if _, err := store.Create("localhost", 9527, "good", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// A directory matching the naming scheme but missing its files is
	// skipped, not fatal.
	if err := os.MkdirAll(filepath.Join(root, "user_ffffffffffffffff"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	// Unrelated directories are ignored entirely.
	if err := os.MkdirAll(filepath.Join(root, "not_an_agent"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	loaded, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(loaded) != 1 {
		t.Errorf("LoadAll = %d agents, want 1", len(loaded))
	}
}

func TestHostedDocument(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil)

	localID, err := anp_auth.NewLocalID()
	if err != nil {
		t.Fatalf("NewLocalID: %v", err)
	}
	doc, _, err := anp_auth.CreateDIDDocument("hosted.example.com", 8080, localID, "")
	if err != nil {
		t.Fatalf("CreateDIDDocument: %v", err)
	}

	dir := filepath.Join(root, "user_hosted_hosted.example.com_8080_"+localID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	docBytes, err := sonic.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "did_document.json"), docBytes, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := store.HostedDocument(localID)
	if err != nil {
		t.Fatalf("HostedDocument: %v", err)
	}
	if got.ID != doc.ID {
		t.Errorf("ID = %s, want %s", got.ID, doc.ID)
	}

	if _, err := store.HostedDocument("0000000000000000"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing hosted id: got %v, want os.ErrNotExist", err)
	}
}
