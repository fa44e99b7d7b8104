package anp_auth

import (
	"context"
	"strings"
)

// AuthContext carries the request-scoped inputs of a verification.
type AuthContext struct {
	// Authorization is the raw header value.
	Authorization string

	// Domain is the server-observed service hostname (no port). Signed
	// payloads are always recomputed against this, never against a value
	// from the header.
	Domain string

	// TargetDID is the DID the request was routed to, when known.
	TargetDID string

	// RequestURL and Method describe the inbound request.
	RequestURL string
	Method     string
}

// AuthResult is the outcome of a successful verification.
type AuthResult struct {
	// CallerDID is the authenticated caller.
	CallerDID string

	// TargetDID is the local DID the exchange addressed.
	TargetDID string

	// TwoWay reports whether the caller requested mutual authentication.
	TwoWay bool

	// AccessToken is a bearer token issued on this exchange, if any.
	AccessToken string

	// ResponseHeader is the server-signed Authorization value to attach to
	// the response on two-way exchanges.
	ResponseHeader string

	// AuthMethod names the scheme that authenticated the request.
	AuthMethod string
}

// AuthHandler verifies one Authorization header scheme.
type AuthHandler interface {
	// CanHandle reports whether this handler recognizes the header value.
	CanHandle(authorization string) bool

	// Verify authenticates the request. Implementations return errors from
	// the package sentinel set, optionally wrapped with a status code.
	Verify(ctx context.Context, authorization string, actx *AuthContext) (*AuthResult, error)
}

// HandlerRegistry dispatches Authorization headers to the first handler
// whose CanHandle accepts them.
type HandlerRegistry struct {
	handlers []AuthHandler
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry(handlers ...AuthHandler) *HandlerRegistry {
	return &HandlerRegistry{handlers: handlers}
}

// Register appends a handler. Registration order is match order.
func (r *HandlerRegistry) Register(h AuthHandler) {
	r.handlers = append(r.handlers, h)
}

// Verify dispatches to the first matching handler.
func (r *HandlerRegistry) Verify(ctx context.Context, actx *AuthContext) (*AuthResult, error) {
	if strings.TrimSpace(actx.Authorization) == "" {
		return nil, NewErrorWithStatus(ErrMissingAuthHeader, StatusUnauthorized)
	}

	for _, h := range r.handlers {
		if h.CanHandle(actx.Authorization) {
			return h.Verify(ctx, actx.Authorization, actx)
		}
	}

	return nil, NewErrorWithStatus(ErrUnsupportedAuthMethod, StatusUnauthorized)
}

// DIDWbaHandler verifies DIDWba headers via the shared verifier. It also
// claims the reserved DIDKey and DIDWeb schemes, which currently report
// unsupported rather than falling through to the token handlers.
type DIDWbaHandler struct {
	Verifier *DidWbaVerifier
}

func (h *DIDWbaHandler) CanHandle(authorization string) bool {
	return strings.HasPrefix(authorization, DIDWbaScheme+" ") ||
		strings.HasPrefix(authorization, "DIDKey ") ||
		strings.HasPrefix(authorization, "DIDWeb ")
}

func (h *DIDWbaHandler) Verify(ctx context.Context, authorization string, actx *AuthContext) (*AuthResult, error) {
	if !strings.HasPrefix(authorization, DIDWbaScheme+" ") {
		return nil, NewErrorWithStatus(ErrUnsupportedAuthMethod, StatusUnauthorized)
	}
	return h.Verifier.VerifyDIDHeader(ctx, authorization, actx)
}

// BearerHandler verifies opaque bearer tokens issued by local agents.
type BearerHandler struct {
	Verifier *DidWbaVerifier
}

func (h *BearerHandler) CanHandle(authorization string) bool {
	return strings.HasPrefix(authorization, BearerScheme)
}

func (h *BearerHandler) Verify(ctx context.Context, authorization string, actx *AuthContext) (*AuthResult, error) {
	token := strings.TrimPrefix(authorization, BearerScheme)
	return h.Verifier.VerifyBearerToken(ctx, token, actx)
}

// TokenVerifyFunc validates a custom token and returns the caller DID.
type TokenVerifyFunc func(ctx context.Context, token string, actx *AuthContext) (string, error)

// CustomTokenHandler is the extension hook for Token / CustomToken schemes.
// Without a VerifyFunc it reports the scheme as unsupported.
type CustomTokenHandler struct {
	VerifyFunc TokenVerifyFunc
}

func (h *CustomTokenHandler) CanHandle(authorization string) bool {
	return strings.HasPrefix(authorization, TokenScheme) ||
		strings.HasPrefix(authorization, CustomTokenScheme)
}

func (h *CustomTokenHandler) Verify(ctx context.Context, authorization string, actx *AuthContext) (*AuthResult, error) {
	if h.VerifyFunc == nil {
		return nil, NewErrorWithStatus(ErrUnsupportedAuthMethod, StatusUnauthorized)
	}

	token := strings.TrimPrefix(authorization, TokenScheme)
	token = strings.TrimPrefix(token, CustomTokenScheme)

	callerDID, err := h.VerifyFunc(ctx, token, actx)
	if err != nil {
		return nil, NewErrorWithStatus(err, GetStatusCode(err, StatusUnauthorized))
	}

	return &AuthResult{
		CallerDID:  callerDID,
		TargetDID:  actx.TargetDID,
		AuthMethod: "token",
	}, nil
}
