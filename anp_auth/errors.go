package anp_auth

import "errors"

// Sentinel errors for common authentication failures.
// These errors can be checked using errors.Is() for programmatic error handling.

var (
	// ErrMissingAuthHeader is returned when the Authorization header is missing
	ErrMissingAuthHeader = errors.New("missing authorization header")

	// ErrInvalidAuthHeader is returned when the Authorization header format is invalid
	ErrInvalidAuthHeader = errors.New("invalid authorization header")

	// ErrUnsupportedAuthMethod is returned when no handler accepts the header scheme
	ErrUnsupportedAuthMethod = errors.New("unsupported authentication method")

	// ErrInvalidToken is returned when a bearer token is invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when a bearer token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked is returned when a bearer token has been revoked
	ErrTokenRevoked = errors.New("token revoked")

	// ErrInvalidSignature is returned when DID-WBA signature verification fails
	ErrInvalidSignature = errors.New("signature verification failed")

	// ErrNonceReused is returned when a nonce has already been used (replay attack)
	ErrNonceReused = errors.New("nonce already used")

	// ErrNonceInvalid is returned when the nonce is invalid or expired
	ErrNonceInvalid = errors.New("invalid or expired nonce")

	// ErrTimestampExpired is returned when the request timestamp is too old
	ErrTimestampExpired = errors.New("timestamp expired")

	// ErrTimestampFuture is returned when the request timestamp is in the future
	ErrTimestampFuture = errors.New("timestamp is in the future")

	// ErrTimestampInvalid is returned when the timestamp format is invalid
	ErrTimestampInvalid = errors.New("invalid timestamp format")

	// ErrDomainNotAllowed is returned when the request domain is not in the allowed list
	ErrDomainNotAllowed = errors.New("domain not allowed")

	// ErrDIDMismatch is returned when the DID in the signature doesn't match the document
	ErrDIDMismatch = errors.New("DID mismatch")

	// ErrDIDResolution is returned when DID document resolution fails
	ErrDIDResolution = errors.New("failed to resolve DID document")

	// ErrVerificationMethodNotFound is returned when the verification method is not found
	ErrVerificationMethodNotFound = errors.New("verification method not found")

	// ErrVerificationMethodNotAuthorized is returned when the fragment is not
	// referenced from the document's authentication set
	ErrVerificationMethodNotAuthorized = errors.New("verification method not listed for authentication")

	// ErrUnsupportedVerificationMethod is returned when the verification method type is not supported
	ErrUnsupportedVerificationMethod = errors.New("unsupported verification method type")

	// ErrInvalidDIDFormat is returned when the DID format is invalid
	ErrInvalidDIDFormat = errors.New("invalid DID format")

	// ErrSessionInvalid is returned when a session id is unknown or expired
	ErrSessionInvalid = errors.New("invalid or expired session")

	// ErrCannotInferTarget is returned when no target DID can be derived from the request
	ErrCannotInferTarget = errors.New("cannot infer target DID")

	// ErrAgentNotFound is returned when the target DID is not locally registered
	ErrAgentNotFound = errors.New("agent not found")

	// ErrHostedDIDRejected is returned for requests addressed to a hosted DID
	ErrHostedDIDRejected = errors.New("hosted DID rejected")

	// ErrJWTConfigMissing is returned when required JWT configuration is missing
	ErrJWTConfigMissing = errors.New("JWT key not configured")

	// ErrPayloadMarshal is returned when canonical payload construction fails
	ErrPayloadMarshal = errors.New("failed to marshal payload")

	// ErrSigningFailure is returned when signature creation fails
	ErrSigningFailure = errors.New("failed to sign payload")

	// ErrTokenCreation is returned when access token creation fails
	ErrTokenCreation = errors.New("failed to create access token")
)

// ErrorWithStatus combines an error with an HTTP status code. Inner layers
// produce plain errors; the middleware is the only place that converts them
// into HTTP responses.
type ErrorWithStatus struct {
	Err        error
	StatusCode int
}

func (e *ErrorWithStatus) Error() string {
	return e.Err.Error()
}

func (e *ErrorWithStatus) Unwrap() error {
	return e.Err
}

// NewErrorWithStatus creates an error with an associated HTTP status code.
func NewErrorWithStatus(err error, statusCode int) *ErrorWithStatus {
	return &ErrorWithStatus{
		Err:        err,
		StatusCode: statusCode,
	}
}

// GetStatusCode extracts the HTTP status code from an error chain, falling
// back to the provided default.
func GetStatusCode(err error, defaultCode int) int {
	var statusErr *ErrorWithStatus
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}

	return defaultCode
}

// ReasonCode maps an error chain to the short machine-readable code returned
// in HTTP error bodies. Bodies never carry internal detail.
func ReasonCode(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "TokenExpired"
	case errors.Is(err, ErrTokenRevoked):
		return "TokenRevoked"
	case errors.Is(err, ErrInvalidSignature):
		return "SignatureInvalid"
	case errors.Is(err, ErrTimestampExpired), errors.Is(err, ErrTimestampFuture):
		return "TimestampOutOfWindow"
	case errors.Is(err, ErrNonceReused), errors.Is(err, ErrNonceInvalid):
		return "NonceRejected"
	case errors.Is(err, ErrCannotInferTarget):
		return "CannotInferTarget"
	case errors.Is(err, ErrHostedDIDRejected):
		return "HostedDIDRejected"
	case errors.Is(err, ErrAgentNotFound):
		return "AgentNotFound"
	case errors.Is(err, ErrUnsupportedAuthMethod):
		return "UnsupportedAuthMethod"
	case errors.Is(err, ErrInvalidAuthHeader), errors.Is(err, ErrTimestampInvalid), errors.Is(err, ErrInvalidDIDFormat):
		return "MalformedHeader"
	case errors.Is(err, ErrSessionInvalid):
		return "SessionInvalid"
	case errors.Is(err, ErrMissingAuthHeader):
		return "Unauthorized"
	case errors.Is(err, ErrDomainNotAllowed):
		return "DomainNotAllowed"
	default:
		return "Unauthorized"
	}
}
