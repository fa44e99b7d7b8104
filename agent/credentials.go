// Package agent holds the in-process runtime: agent values with their
// credentials and capabilities, the registry that routes requests between
// locally hosted agents, per-agent contact books with directional bearer
// tokens, broadcast groups, and the user-directory storage adapter.
package agent

import (
	"fmt"

	"github.com/openanp/anp-runtime/anp_auth"
	"github.com/openanp/anp-runtime/crypto"
)

// KeyPair is one signing key of an agent, keyed by verification method
// fragment in Credentials.
type KeyPair struct {
	PrivateKey []byte
	KeyType    string
}

// Credentials bundles an agent's DID, document, and signing material.
// They are created at registration, live for the agent's lifetime, and are
// destroyed with it.
type Credentials struct {
	DID      string
	Document *anp_auth.DIDWBADocument
	KeyPairs map[string]KeyPair

	// JWT signing pair used for the bearer tokens this agent issues.
	JWTPrivateKey any
	JWTPublicKey  any
}

// KeyPair returns the key registered under the given fragment.
func (c *Credentials) KeyPair(fragment string) (KeyPair, error) {
	if fragment == "" {
		fragment = anp_auth.DefaultVerificationMethodFragment
	}
	kp, ok := c.KeyPairs[fragment]
	if !ok {
		return KeyPair{}, fmt.Errorf("no key pair for fragment %q", fragment)
	}
	return kp, nil
}

// DefaultKeyPair returns the key for the default verification fragment.
func (c *Credentials) DefaultKeyPair() (KeyPair, error) {
	return c.KeyPair(anp_auth.DefaultVerificationMethodFragment)
}

// ReplyCredentials adapts the credentials for the verifier's two-way reply
// path.
func (c *Credentials) ReplyCredentials() (*anp_auth.ReplyCredentials, error) {
	kp, err := c.DefaultKeyPair()
	if err != nil {
		return nil, err
	}
	return &anp_auth.ReplyCredentials{
		DID:           c.DID,
		Fragment:      anp_auth.DefaultVerificationMethodFragment,
		KeyType:       kp.KeyType,
		PrivateKey:    kp.PrivateKey,
		JWTPrivateKey: c.JWTPrivateKey,
		JWTPublicKey:  c.JWTPublicKey,
	}, nil
}

// NewCredentials generates fresh credentials for a local agent: a secp256k1
// WBA key pair and its DID document. The JWT signing pair is attached by the
// storage layer when the agent is persisted or loaded.
func NewCredentials(host string, port int, localID, agentDescriptionURL string) (*Credentials, error) {
	doc, privateKey, err := anp_auth.CreateDIDDocument(host, port, localID, agentDescriptionURL)
	if err != nil {
		return nil, err
	}

	scalar := make([]byte, 32)
	d := privateKey.D.Bytes()
	copy(scalar[32-len(d):], d)

	return &Credentials{
		DID:      doc.ID,
		Document: doc,
		KeyPairs: map[string]KeyPair{
			anp_auth.DefaultVerificationMethodFragment: {
				PrivateKey: scalar,
				KeyType:    string(crypto.KeyTypeSecp256k1),
			},
		},
	}, nil
}
