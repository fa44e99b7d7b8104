package anp_auth

import (
	"context"
	"sync"
	"time"
)

// NonceValidator validates nonces to prevent replay attacks.
type NonceValidator interface {
	// Validate checks if a nonce is valid for the given DID.
	// Returns false if the nonce has already been used or is invalid.
	Validate(ctx context.Context, did, nonce string) (bool, error)
}

// MemoryNonceValidator provides an in-memory nonce validation implementation.
// WARNING: this only stores nonces locally and is not suitable for
// multi-process deployments; plug in a distributed store there.
type MemoryNonceValidator struct {
	used       map[string]time.Time
	mu         sync.Mutex
	expiration time.Duration
}

// NewMemoryNonceValidator creates a new in-memory nonce validator. The
// expiration should match the timestamp skew window so entries age out with
// the timestamps that could replay them.
func NewMemoryNonceValidator(expiration time.Duration) *MemoryNonceValidator {
	if expiration <= 0 {
		expiration = DefaultNonceExpiration
	}
	return &MemoryNonceValidator{
		used:       make(map[string]time.Time),
		expiration: expiration,
	}
}

// Validate checks if the nonce has been used before for this DID.
func (v *MemoryNonceValidator) Validate(ctx context.Context, did, nonce string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := did + ":" + nonce
	now := time.Now().UTC()

	// Clean expired nonces
	for k, t := range v.used {
		if now.Sub(t) > v.expiration {
			delete(v.used, k)
		}
	}

	if _, exists := v.used[key]; exists {
		return false, nil
	}

	v.used[key] = now
	return true, nil
}
