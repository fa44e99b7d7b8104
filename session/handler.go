package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/openanp/anp-runtime/anp_auth"
)

// AuthMethodSession names the scheme on results produced from a session hit.
const AuthMethodSession = "session"

// Handler validates Session / SessionID Authorization headers against the
// manager. It plugs into the same registry as the DID and bearer handlers.
type Handler struct {
	Sessions *Manager
}

func (h *Handler) CanHandle(authorization string) bool {
	return strings.HasPrefix(authorization, anp_auth.SessionScheme) ||
		strings.HasPrefix(authorization, anp_auth.SessionIDScheme)
}

func (h *Handler) Verify(ctx context.Context, authorization string, actx *anp_auth.AuthContext) (*anp_auth.AuthResult, error) {
	id := strings.TrimPrefix(authorization, anp_auth.SessionScheme)
	id = strings.TrimPrefix(id, anp_auth.SessionIDScheme)
	id = strings.TrimSpace(id)

	s, ok := h.Sessions.Validate(id)
	if !ok {
		return nil, anp_auth.NewErrorWithStatus(
			fmt.Errorf("%w: %s", anp_auth.ErrSessionInvalid, id),
			anp_auth.StatusUnauthorized,
		)
	}

	// A session is scoped to the target it was created against.
	if actx.TargetDID != "" && s.TargetDID != "" && actx.TargetDID != s.TargetDID {
		return nil, anp_auth.NewErrorWithStatus(anp_auth.ErrSessionInvalid, anp_auth.StatusUnauthorized)
	}

	return &anp_auth.AuthResult{
		CallerDID:  s.CallerDID,
		TargetDID:  s.TargetDID,
		AuthMethod: AuthMethodSession,
	}, nil
}

// Issue mints a session for a successful verification, making the middleware
// session-aware when plugged in as its IssueSession hook. Requests that were
// themselves authenticated by session do not spawn another one.
func (m *Manager) Issue(result *anp_auth.AuthResult) string {
	if result == nil || result.AuthMethod == AuthMethodSession {
		return ""
	}
	return m.Create(result.CallerDID, result.TargetDID, result.AuthMethod)
}
