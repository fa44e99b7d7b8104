package agent

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"

	"github.com/openanp/anp-runtime/anp_auth"
	"github.com/openanp/anp-runtime/crypto"
)

// AgentConfig is the agent_cfg.yaml metadata stored next to an agent's keys.
type AgentConfig struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	UniqueID  string `yaml:"unique_id"`
	CreatedAt string `yaml:"created_at"`
}

// StoredAgent is one agent loaded from a user directory.
type StoredAgent struct {
	Dir         string
	Config      AgentConfig
	Credentials *Credentials
}

var (
	userDirPattern   = regexp.MustCompile(`^user_([0-9a-f]{16})$`)
	hostedDirPattern = regexp.MustCompile(`^user_hosted_(.+)_(\d+)_([0-9a-f]{16})$`)
)

// Store reads and writes per-agent user directories under a root. Each local
// agent lives in user_<hex16>/ with its DID document, secp256k1 key pairs
// named by fragment, the JWT signing pair, and agent_cfg.yaml. Hosted DIDs
// live under user_hosted_<host>_<port>_<hex16>/ and are served read-only.
type Store struct {
	root   string
	logger *slog.Logger
}

// NewStore creates a store over the given user-data root.
func NewStore(root string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: root, logger: logger}
}

// Root returns the user-data root directory.
func (s *Store) Root() string { return s.root }

// LoadAll loads every local agent directory under the root. Directories that
// fail to load are logged and skipped rather than aborting the whole scan.
func (s *Store) LoadAll() ([]*StoredAgent, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read user root %s: %w", s.root, err)
	}

	var out []*StoredAgent
	for _, entry := range entries {
		if !entry.IsDir() || !userDirPattern.MatchString(entry.Name()) {
			continue
		}
		stored, err := s.Load(filepath.Join(s.root, entry.Name()))
		if err != nil {
			s.logger.Warn("skipping unloadable agent directory",
				"dir", entry.Name(), "error", err)
			continue
		}
		out = append(out, stored)
	}
	return out, nil
}

// Load loads one agent directory.
func (s *Store) Load(dir string) (*StoredAgent, error) {
	docBytes, err := os.ReadFile(filepath.Join(dir, "did_document.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read DID document: %w", err)
	}
	var doc anp_auth.DIDWBADocument
	if err := sonic.Unmarshal(docBytes, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse DID document: %w", err)
	}
	if _, err := anp_auth.ParseDID(doc.ID); err != nil {
		return nil, err
	}

	cfg, err := s.loadConfig(dir)
	if err != nil {
		return nil, err
	}

	keyPairs, err := s.loadKeyPairs(dir, &doc)
	if err != nil {
		return nil, err
	}

	creds := &Credentials{
		DID:      doc.ID,
		Document: &doc,
		KeyPairs: keyPairs,
	}
	if err := s.loadJWTPair(dir, creds); err != nil {
		return nil, err
	}

	return &StoredAgent{Dir: dir, Config: cfg, Credentials: creds}, nil
}

func (s *Store) loadConfig(dir string) (AgentConfig, error) {
	var cfg AgentConfig
	cfgBytes, err := os.ReadFile(filepath.Join(dir, "agent_cfg.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read agent_cfg.yaml: %w", err)
	}
	if err := yaml.Unmarshal(cfgBytes, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse agent_cfg.yaml: %w", err)
	}
	return cfg, nil
}

// loadKeyPairs reads <fragment>_private.pem for every verification method the
// document declares. Missing files are tolerated; at least the default
// fragment must load.
func (s *Store) loadKeyPairs(dir string, doc *anp_auth.DIDWBADocument) (map[string]KeyPair, error) {
	keyPairs := make(map[string]KeyPair)

	for _, method := range doc.VerificationMethod {
		id, _ := method["id"].(string)
		idx := strings.LastIndex(id, "#")
		if idx < 0 {
			continue
		}
		fragment := id[idx+1:]

		pemBytes, err := os.ReadFile(filepath.Join(dir, fragment+"_private.pem"))
		if err != nil {
			continue
		}
		privateKey, err := crypto.PrivateKeyFromPEM(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse key for fragment %q: %w", fragment, err)
		}

		scalar := make([]byte, 32)
		d := privateKey.D.Bytes()
		copy(scalar[32-len(d):], d)
		keyPairs[fragment] = KeyPair{
			PrivateKey: scalar,
			KeyType:    string(crypto.KeyTypeSecp256k1),
		}
	}

	if _, ok := keyPairs[anp_auth.DefaultVerificationMethodFragment]; !ok {
		return nil, fmt.Errorf("no private key for fragment %q in %s",
			anp_auth.DefaultVerificationMethodFragment, dir)
	}
	return keyPairs, nil
}

func (s *Store) loadJWTPair(dir string, creds *Credentials) error {
	privBytes, err := os.ReadFile(filepath.Join(dir, "private_key.pem"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read JWT private key: %w", err)
	}
	privateKey, err := anp_auth.LoadJWTPrivateKeyFromPEM(privBytes)
	if err != nil {
		return err
	}

	pubBytes, err := os.ReadFile(filepath.Join(dir, "public_key.pem"))
	if err != nil {
		return fmt.Errorf("failed to read JWT public key: %w", err)
	}
	publicKey, err := anp_auth.LoadJWTPublicKeyFromPEM(pubBytes)
	if err != nil {
		return err
	}

	creds.JWTPrivateKey = privateKey
	creds.JWTPublicKey = publicKey
	return nil
}

// Create generates a fresh agent under the root: new secp256k1 credentials, a
// new RSA JWT signing pair, the DID document, and agent_cfg.yaml.
func (s *Store) Create(host string, port int, name, agentDescriptionURL string) (*StoredAgent, error) {
	localID, err := anp_auth.NewLocalID()
	if err != nil {
		return nil, err
	}

	creds, err := NewCredentials(host, port, localID, agentDescriptionURL)
	if err != nil {
		return nil, err
	}

	jwtKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate JWT key pair: %w", err)
	}
	creds.JWTPrivateKey = jwtKey
	creds.JWTPublicKey = &jwtKey.PublicKey

	cfg := AgentConfig{
		Name:      name,
		Type:      anp_auth.DIDTypeUser,
		UniqueID:  localID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	dir := filepath.Join(s.root, "user_"+localID)
	if err := s.write(dir, creds, jwtKey, cfg); err != nil {
		return nil, err
	}

	s.logger.Info("created agent directory", "did", creds.DID, "dir", dir)
	return &StoredAgent{Dir: dir, Config: cfg, Credentials: creds}, nil
}

func (s *Store) write(dir string, creds *Credentials, jwtKey *rsa.PrivateKey, cfg AgentConfig) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create agent directory: %w", err)
	}

	docBytes, err := sonic.MarshalIndent(creds.Document, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal DID document: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "did_document.json"), docBytes, 0o644); err != nil {
		return err
	}

	for fragment, kp := range creds.KeyPairs {
		privateKey, err := crypto.PrivateKeyFromScalar(kp.PrivateKey)
		if err != nil {
			return err
		}
		privPEM, err := crypto.PrivateKeyToPEM(privateKey)
		if err != nil {
			return err
		}
		pubPEM, err := crypto.PublicKeyToPEM(&privateKey.PublicKey)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, fragment+"_private.pem"), privPEM, 0o600); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, fragment+"_public.pem"), pubPEM, 0o644); err != nil {
			return err
		}
	}

	jwtPrivDER, err := x509.MarshalPKCS8PrivateKey(jwtKey)
	if err != nil {
		return fmt.Errorf("failed to marshal JWT private key: %w", err)
	}
	jwtPrivPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: jwtPrivDER})
	if err := os.WriteFile(filepath.Join(dir, "private_key.pem"), jwtPrivPEM, 0o600); err != nil {
		return err
	}

	jwtPubDER, err := x509.MarshalPKIXPublicKey(&jwtKey.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to marshal JWT public key: %w", err)
	}
	jwtPubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: jwtPubDER})
	if err := os.WriteFile(filepath.Join(dir, "public_key.pem"), jwtPubPEM, 0o644); err != nil {
		return err
	}

	cfgBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal agent_cfg.yaml: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "agent_cfg.yaml"), cfgBytes, 0o644)
}

// HostedDocument loads the DID document of a hosted DID by local id. Hosted
// directories are written by the user-lifecycle tooling; the runtime only
// serves them.
func (s *Store) HostedDocument(localID string) (*anp_auth.DIDWBADocument, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read user root %s: %w", s.root, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m := hostedDirPattern.FindStringSubmatch(entry.Name())
		if m == nil || m[3] != localID {
			continue
		}

		docBytes, err := os.ReadFile(filepath.Join(s.root, entry.Name(), "did_document.json"))
		if err != nil {
			return nil, fmt.Errorf("failed to read hosted DID document: %w", err)
		}
		var doc anp_auth.DIDWBADocument
		if err := sonic.Unmarshal(docBytes, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse hosted DID document: %w", err)
		}
		return &doc, nil
	}
	return nil, os.ErrNotExist
}
