package anp_auth

import "time"

// DID and Authentication Constants
const (
	// DIDPrefix is the standard prefix for DID-WBA identifiers
	DIDPrefix = "did:wba:"

	// DIDWbaScheme is the DID-WBA authentication scheme name
	DIDWbaScheme = "DIDWba"

	// BearerScheme is the bearer token authentication scheme prefix
	BearerScheme = "Bearer "

	// TokenScheme and CustomTokenScheme are the custom token scheme prefixes
	TokenScheme       = "Token "
	CustomTokenScheme = "CustomToken "

	// SessionScheme and SessionIDScheme are the session scheme prefixes
	SessionScheme   = "Session "
	SessionIDScheme = "SessionID "

	// AuthorizationHeader is the HTTP header name for authentication
	AuthorizationHeader = "Authorization"
)

// Verification Method Types
const (
	// VerificationMethodEcdsaSecp256k1 is the ECDSA secp256k1 verification method type
	VerificationMethodEcdsaSecp256k1 = "EcdsaSecp256k1VerificationKey2019"

	// VerificationMethodEd25519_2018 and VerificationMethodEd25519_2020 are the
	// Ed25519 verification method types
	VerificationMethodEd25519_2018 = "Ed25519VerificationKey2018"
	VerificationMethodEd25519_2020 = "Ed25519VerificationKey2020"
)

// DID Document Contexts
const (
	ContextDIDV1        = "https://www.w3.org/ns/did/v1"
	ContextJWS2020      = "https://w3id.org/security/suites/jws-2020/v1"
	ContextSecp256k12019 = "https://w3id.org/security/suites/secp256k1-2019/v1"
)

// Service Types
const (
	// ServiceTypeAgentDescription is the service type for agent descriptions
	ServiceTypeAgentDescription = "AgentDescription"
)

// JWK Constants
const (
	JWKTypeEC         = "EC"
	JWKCurveSecp256k1 = "secp256k1"
)

// DID path segment types.
const (
	// DIDSegmentWBA separates the host from the path segments in a did:wba identifier
	DIDSegmentWBA = "wba"

	// DIDTypeUser marks a locally owned DID
	DIDTypeUser = "user"

	// DIDTypeHostUser marks a hosted DID published on behalf of a third party
	DIDTypeHostUser = "hostuser"
)

// Default Configuration Values
const (
	// DefaultJWTAlgorithm is the default JWT signing algorithm for bearer tokens
	DefaultJWTAlgorithm = "RS256"

	// DefaultAccessTokenExpiration is the default bearer token lifetime
	DefaultAccessTokenExpiration = 60 * time.Minute

	// DefaultTimestampExpiration is the accepted age of a signed timestamp
	DefaultTimestampExpiration = 5 * time.Minute

	// DefaultTimestampTolerance is the tolerance for future timestamps
	DefaultTimestampTolerance = 1 * time.Minute

	// DefaultNonceExpiration is the retention window of the nonce replay cache
	DefaultNonceExpiration = 6 * time.Minute

	// DefaultDIDCacheExpiration is the DID document cache TTL
	DefaultDIDCacheExpiration = 15 * time.Minute

	// DefaultResolveTimeout bounds remote DID document fetches
	DefaultResolveTimeout = 10 * time.Second
)

// Well-Known Paths
const (
	// DIDDocumentFilename is the filename for DID documents
	DIDDocumentFilename = "did.json"

	// AgentDescriptionFilename is the filename for agent descriptions
	AgentDescriptionFilename = "ad.json"

	// UserDIDPathPrefix and HostUserDIDPathPrefix are the URL prefixes under
	// which DID documents are published
	UserDIDPathPrefix     = "/wba/user/"
	HostUserDIDPathPrefix = "/wba/hostuser/"
)

// Verification Method ID Patterns
const (
	// DefaultVerificationMethodFragment is the default key fragment
	DefaultVerificationMethodFragment = "key-1"
)

// HTTP Status Codes (for clarity in error handling)
const (
	StatusBadRequest          = 400
	StatusUnauthorized        = 401
	StatusForbidden           = 403
	StatusNotFound            = 404
	StatusInternalServerError = 500
)

// Query parameters recognized by the middleware.
const (
	// QueryParamRespDID overrides the URL-inferred target DID
	QueryParamRespDID = "resp_did"

	// QueryParamReqDID carries the caller DID on anonymous exploration requests
	QueryParamReqDID = "req_did"

	// AnonymousCallerDID is the default req_did on exempt endpoints
	AnonymousCallerDID = "demo_caller"
)
