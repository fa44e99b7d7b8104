package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openanp/anp-runtime/anp_auth"
)

func TestManagerLifecycle(t *testing.T) {
	m := NewManager(time.Hour, nil)

	id := m.Create("did:caller", "did:target", "wba")
	require.NotEmpty(t, id)
	assert.Equal(t, 1, m.Len())

	s, ok := m.Validate(id)
	require.True(t, ok)
	assert.Equal(t, "did:caller", s.CallerDID)
	assert.Equal(t, "did:target", s.TargetDID)
	assert.Equal(t, "wba", s.AuthMethod)

	m.Revoke(id)
	_, ok = m.Validate(id)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestManagerExpiry(t *testing.T) {
	m := NewManager(time.Hour, nil)
	clock := time.Now()
	m.now = func() time.Time { return clock }

	id := m.Create("did:caller", "did:target", "wba")

	clock = clock.Add(30 * time.Minute)
	_, ok := m.Validate(id)
	assert.True(t, ok, "session expired early")

	clock = clock.Add(31 * time.Minute)
	_, ok = m.Validate(id)
	assert.False(t, ok, "expired session validated")
	assert.Equal(t, 0, m.Len(), "expired session not deleted on sight")
}

func TestManagerExtend(t *testing.T) {
	m := NewManager(time.Hour, nil)
	clock := time.Now()
	m.now = func() time.Time { return clock }

	id := m.Create("did:caller", "did:target", "wba")

	clock = clock.Add(50 * time.Minute)
	require.True(t, m.Extend(id, 0), "extend by manager TTL")

	clock = clock.Add(50 * time.Minute)
	_, ok := m.Validate(id)
	assert.True(t, ok, "extension did not take")

	assert.False(t, m.Extend("unknown", time.Minute))
}

func TestManagerCleanupExpired(t *testing.T) {
	m := NewManager(time.Hour, nil)
	clock := time.Now()
	m.now = func() time.Time { return clock }

	m.Create("did:a", "did:t", "wba")
	m.Create("did:b", "did:t", "wba")

	clock = clock.Add(30 * time.Minute)
	m.Create("did:c", "did:t", "wba")

	clock = clock.Add(45 * time.Minute)
	assert.Equal(t, 2, m.CleanupExpired())
	assert.Equal(t, 1, m.Len())
}

func TestHandlerVerify(t *testing.T) {
	m := NewManager(time.Hour, nil)
	h := &Handler{Sessions: m}

	id := m.Create("did:caller", "did:target", "wba")

	assert.True(t, h.CanHandle("Session "+id))
	assert.True(t, h.CanHandle("SessionID "+id))
	assert.False(t, h.CanHandle("Bearer x"))

	result, err := h.Verify(context.Background(), "Session "+id, &anp_auth.AuthContext{TargetDID: "did:target"})
	require.NoError(t, err)
	assert.Equal(t, "did:caller", result.CallerDID)
	assert.Equal(t, AuthMethodSession, result.AuthMethod)

	// A session only authenticates requests to the target it was minted for.
	_, err = h.Verify(context.Background(), "Session "+id, &anp_auth.AuthContext{TargetDID: "did:other"})
	assert.True(t, errors.Is(err, anp_auth.ErrSessionInvalid))

	_, err = h.Verify(context.Background(), "Session nope", &anp_auth.AuthContext{})
	assert.True(t, errors.Is(err, anp_auth.ErrSessionInvalid))
	assert.Equal(t, anp_auth.StatusUnauthorized, anp_auth.GetStatusCode(err, 0))
}

func TestIssue(t *testing.T) {
	m := NewManager(time.Hour, nil)

	id := m.Issue(&anp_auth.AuthResult{CallerDID: "did:caller", TargetDID: "did:target", AuthMethod: "wba"})
	require.NotEmpty(t, id)

	s, ok := m.Validate(id)
	require.True(t, ok)
	assert.Equal(t, "did:caller", s.CallerDID)

	// Session-authenticated requests do not mint follow-up sessions.
	assert.Empty(t, m.Issue(&anp_auth.AuthResult{AuthMethod: AuthMethodSession}))
	assert.Empty(t, m.Issue(nil))
}
