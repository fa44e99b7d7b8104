package anp_auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
)

type contextKey string

const (
	// ContextKeyAuthResult is the context key for the full verification result
	ContextKeyAuthResult contextKey = "auth_result"

	// ContextKeyDID is the context key for the authenticated caller DID
	ContextKeyDID contextKey = "authenticated_did"

	// ContextKeyTargetDID is the context key for the routed target DID
	ContextKeyTargetDID contextKey = "target_did"
)

// MiddlewareConfig configures the authentication middleware.
type MiddlewareConfig struct {
	// Registry dispatches Authorization headers by scheme prefix.
	Registry *HandlerRegistry

	// ExemptPaths skip authentication entirely. An entry ending in "/" or
	// "*" matches as a prefix, otherwise exactly.
	ExemptPaths []string

	// IssueSession, when set, runs after a successful verification. A
	// non-empty return is exposed to the caller via the X-Session-ID
	// response header.
	IssueSession func(result *AuthResult) string
}

// SessionIDHeader carries a freshly issued session id back to the caller.
const SessionIDHeader = "X-Session-ID"

// DefaultExemptPaths are the unauthenticated discovery endpoints.
var DefaultExemptPaths = []string{
	"/docs*",
	"/openapi.json",
	"/wba/*",
	"/publisher/agents",
}

// Middleware returns an HTTP middleware that authenticates requests using
// the handler registry. It infers the target DID from the resp_did query
// parameter or the URL path, refuses hosted DIDs, and converts verification
// errors into 4xx responses with a machine-readable reason code. Successful
// two-way verification attaches the server-signed Authorization header to
// the response.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	exempt := cfg.ExemptPaths
	if exempt == nil {
		exempt = DefaultExemptPaths
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if pathExempt(exempt, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			targetDID, err := targetDIDFromRequest(r)
			if err != nil {
				writeAuthError(w, NewErrorWithStatus(err, StatusBadRequest))
				return
			}

			// Hosted DIDs are served read-only; the runtime never acts as
			// one, and refuses before any signature work.
			if did, err := ParseDID(targetDID); err == nil && did.IsHosted() {
				writeAuthError(w, NewErrorWithStatus(ErrHostedDIDRejected, StatusForbidden))
				return
			}

			authHeader := r.Header.Get(AuthorizationHeader)
			if authHeader == "" {
				writeAuthError(w, NewErrorWithStatus(ErrMissingAuthHeader, StatusUnauthorized))
				return
			}

			domain, err := ServiceName("http://" + r.Host)
			if err != nil {
				domain = r.Host
			}

			actx := &AuthContext{
				Authorization: authHeader,
				Domain:        domain,
				TargetDID:     targetDID,
				RequestURL:    r.URL.String(),
				Method:        r.Method,
			}

			result, err := cfg.Registry.Verify(r.Context(), actx)
			if err != nil {
				writeAuthError(w, err)
				return
			}

			if result.ResponseHeader != "" {
				w.Header().Set(AuthorizationHeader, result.ResponseHeader)
			}

			if cfg.IssueSession != nil {
				if sessionID := cfg.IssueSession(result); sessionID != "" {
					w.Header().Set(SessionIDHeader, sessionID)
				}
			}

			ctx := context.WithValue(r.Context(), ContextKeyAuthResult, result)
			ctx = context.WithValue(ctx, ContextKeyDID, result.CallerDID)
			ctx = context.WithValue(ctx, ContextKeyTargetDID, result.TargetDID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func targetDIDFromRequest(r *http.Request) (string, error) {
	if respDID := r.URL.Query().Get(QueryParamRespDID); respDID != "" {
		if _, err := ParseDID(respDID); err != nil {
			return "", err
		}
		return respDID, nil
	}
	return InferTargetDID(r.URL.Path, r.Host)
}

func pathExempt(patterns []string, path string) bool {
	for _, p := range patterns {
		switch {
		case strings.HasSuffix(p, "*"):
			if strings.HasPrefix(path, strings.TrimSuffix(p, "*")) {
				return true
			}
		case strings.HasSuffix(p, "/"):
			if strings.HasPrefix(path, p) {
				return true
			}
		default:
			if path == p {
				return true
			}
		}
	}
	return false
}

// writeAuthError renders the short machine-readable failure body. Internal
// detail stays in the server log, never in the response.
func writeAuthError(w http.ResponseWriter, err error) {
	status := GetStatusCode(err, StatusUnauthorized)
	reason := ReasonCode(err)
	logger.Debug("authentication failed", "status", status, "reason", reason, "error", err)

	body, _ := sonic.Marshal(map[string]string{"error": reason})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// AuthResultFromContext extracts the verification result from the request context.
func AuthResultFromContext(ctx context.Context) (*AuthResult, bool) {
	result, ok := ctx.Value(ContextKeyAuthResult).(*AuthResult)
	return result, ok
}

// DIDFromContext extracts the authenticated caller DID from the request context.
func DIDFromContext(ctx context.Context) (string, bool) {
	did, ok := ctx.Value(ContextKeyDID).(string)
	return did, ok
}

// TargetDIDFromContext extracts the routed target DID from the request context.
func TargetDIDFromContext(ctx context.Context) (string, bool) {
	did, ok := ctx.Value(ContextKeyTargetDID).(string)
	return did, ok
}

// RequireDID ensures the request carries an authenticated DID. It should be
// used after the main Middleware.
func RequireDID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := DIDFromContext(r.Context()); !ok {
			writeAuthError(w, NewErrorWithStatus(ErrMissingAuthHeader, StatusUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}
