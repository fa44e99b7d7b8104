package agent

import (
	"sync"
	"time"
)

// TokenRecord is one directional bearer token. ReqDID is the presenting
// caller, RespDID the issuing target; a record stored for (C, S) says
// nothing about requests from S to C.
type TokenRecord struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ReqDID    string    `json:"req_did"`
	RespDID   string    `json:"resp_did"`
	IsRevoked bool      `json:"is_revoked"`
}

// Valid reports whether the token can still be presented or accepted.
func (t *TokenRecord) Valid(now time.Time) bool {
	if t == nil || t.IsRevoked || t.Token == "" {
		return false
	}
	if !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt) {
		return false
	}
	return true
}

// Contact is one remote agent this agent has exchanged requests with.
// TokenToRemote is what this agent presents to the remote; TokenFromRemote
// is what this agent issued and will accept on inbound requests.
type Contact struct {
	RemoteDID        string       `json:"remote_did"`
	Host             string       `json:"host"`
	Port             int          `json:"port"`
	Name             string       `json:"name,omitempty"`
	TokenToRemote    *TokenRecord `json:"token_to_remote,omitempty"`
	TokenFromRemote  *TokenRecord `json:"token_from_remote,omitempty"`
	FirstContact     time.Time    `json:"first_contact"`
	LastContact      time.Time    `json:"last_contact"`
	InteractionCount int          `json:"interaction_count"`
}

// ContactBook tracks an agent's remote contacts and their tokens. All
// mutations take the book lock, so a reader observes either the previous or
// the new record, never a partial one.
type ContactBook struct {
	mu       sync.RWMutex
	contacts map[string]*Contact
}

// NewContactBook creates an empty contact book.
func NewContactBook() *ContactBook {
	return &ContactBook{contacts: make(map[string]*Contact)}
}

// Get returns a copy of the contact for the remote DID.
func (b *ContactBook) Get(remoteDID string) (Contact, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, ok := b.contacts[remoteDID]
	if !ok {
		return Contact{}, false
	}
	return *c, true
}

// All returns copies of every contact.
func (b *ContactBook) All() []Contact {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Contact, 0, len(b.contacts))
	for _, c := range b.contacts {
		out = append(out, *c)
	}
	return out
}

// Touch records an interaction with the remote, creating the contact if it
// is new. Counts are best effort; the contact itself is never lost.
func (b *ContactBook) Touch(remoteDID, host string, port int, name string) {
	now := time.Now().UTC()

	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.contacts[remoteDID]
	if !ok {
		c = &Contact{
			RemoteDID:    remoteDID,
			Host:         host,
			Port:         port,
			Name:         name,
			FirstContact: now,
		}
		b.contacts[remoteDID] = c
	}
	if name != "" {
		c.Name = name
	}
	c.LastContact = now
	c.InteractionCount++
}

// StoreTokenToRemote records the token this agent presents to the remote.
func (b *ContactBook) StoreTokenToRemote(remoteDID string, record *TokenRecord) {
	b.withContact(remoteDID, func(c *Contact) {
		c.TokenToRemote = record
	})
}

// TokenToRemote returns the live token for requests to the remote.
func (b *ContactBook) TokenToRemote(remoteDID string) (*TokenRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, ok := b.contacts[remoteDID]
	if !ok || !c.TokenToRemote.Valid(time.Now()) {
		return nil, false
	}
	record := *c.TokenToRemote
	return &record, true
}

// RevokeTokenToRemote marks the outbound token for the remote as revoked.
func (b *ContactBook) RevokeTokenToRemote(remoteDID string) {
	b.withContact(remoteDID, func(c *Contact) {
		if c.TokenToRemote != nil {
			c.TokenToRemote.IsRevoked = true
		}
	})
}

// StoreTokenFromRemote records the token this agent issued to the remote.
func (b *ContactBook) StoreTokenFromRemote(remoteDID string, record *TokenRecord) {
	b.withContact(remoteDID, func(c *Contact) {
		c.TokenFromRemote = record
	})
}

// TokenFromRemote returns the live token issued to the remote caller.
func (b *ContactBook) TokenFromRemote(remoteDID string) (*TokenRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, ok := b.contacts[remoteDID]
	if !ok || !c.TokenFromRemote.Valid(time.Now()) {
		return nil, false
	}
	record := *c.TokenFromRemote
	return &record, true
}

// RevokeTokenFromRemote marks the inbound token for the remote as revoked.
func (b *ContactBook) RevokeTokenFromRemote(remoteDID string) {
	b.withContact(remoteDID, func(c *Contact) {
		if c.TokenFromRemote != nil {
			c.TokenFromRemote.IsRevoked = true
		}
	})
}

func (b *ContactBook) withContact(remoteDID string, fn func(*Contact)) {
	if remoteDID == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.contacts[remoteDID]
	if !ok {
		c = &Contact{RemoteDID: remoteDID, FirstContact: time.Now().UTC()}
		b.contacts[remoteDID] = c
	}
	fn(c)
}
