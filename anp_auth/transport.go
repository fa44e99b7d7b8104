package anp_auth

import (
	"fmt"
	"net/http"
)

// Transport wraps an http.RoundTripper and adds DID-WBA authentication to
// every request. The target DID is taken from the request URL (resp_did
// query parameter or path), so the transport suits requests addressed to
// agent endpoints.
type Transport struct {
	Base          http.RoundTripper
	Authenticator *Authenticator
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}

	targetDID := req.URL.Query().Get(QueryParamRespDID)
	if targetDID == "" {
		if inferred, err := InferTargetDID(req.URL.Path, req.URL.Host); err == nil {
			targetDID = inferred
		}
	}

	header, err := t.Authenticator.GenerateHeader(req.URL.String(), targetDID)
	if err != nil {
		return nil, fmt.Errorf("generating auth header: %w", err)
	}

	clonedReq := req.Clone(req.Context())
	clonedReq.Header.Set(AuthorizationHeader, header)

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	return base.RoundTrip(clonedReq)
}

// NewHTTPClient creates an HTTP client with automatic DID-WBA authentication.
func NewHTTPClient(authenticator *Authenticator) *http.Client {
	return &http.Client{
		Transport: &Transport{
			Authenticator: authenticator,
		},
	}
}
