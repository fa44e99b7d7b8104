// Package session provides a server-side session layer on top of header
// authentication: a successful DID or bearer verification can mint a session
// id, which later requests present via a Session or SessionID header to skip
// signature work.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is the lifetime of a freshly created session.
const DefaultTTL = time.Hour

// Session records one authenticated caller/target pairing.
type Session struct {
	SessionID  string    `json:"session_id"`
	CallerDID  string    `json:"caller_did"`
	TargetDID  string    `json:"target_did"`
	AuthMethod string    `json:"auth_method"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastUsed   time.Time `json:"last_used"`
}

// Manager stores sessions in memory.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	logger   *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewManager creates a session manager. ttl <= 0 selects DefaultTTL.
func NewManager(ttl time.Duration, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// Create mints a session for an authenticated exchange and returns its id.
func (m *Manager) Create(callerDID, targetDID, authMethod string) string {
	now := m.now().UTC()
	s := &Session{
		SessionID:  uuid.NewString(),
		CallerDID:  callerDID,
		TargetDID:  targetDID,
		AuthMethod: authMethod,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
		LastUsed:   now,
	}

	m.mu.Lock()
	m.sessions[s.SessionID] = s
	m.mu.Unlock()

	m.logger.Debug("session created", "session_id", s.SessionID, "caller", callerDID)
	return s.SessionID
}

// Validate looks up a session, refreshing last_used. Expired sessions are
// deleted on sight.
func (m *Manager) Validate(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	if m.now().After(s.ExpiresAt) {
		delete(m.sessions, sessionID)
		return nil, false
	}

	s.LastUsed = m.now().UTC()
	copy := *s
	return &copy, true
}

// Extend pushes the session's expiry out by the given duration, or by the
// manager TTL when d <= 0. Unknown or expired sessions report false.
func (m *Manager) Extend(sessionID string, d time.Duration) bool {
	if d <= 0 {
		d = m.ttl
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || m.now().After(s.ExpiresAt) {
		delete(m.sessions, sessionID)
		return false
	}
	s.ExpiresAt = m.now().UTC().Add(d)
	return true
}

// Revoke deletes a session. Unknown ids are a no-op.
func (m *Manager) Revoke(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// CleanupExpired removes every expired session and returns how many went.
func (m *Manager) CleanupExpired() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live (not yet cleaned) sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
