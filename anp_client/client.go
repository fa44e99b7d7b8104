// Package anp_client implements the outbound side of the two-way
// authentication protocol: a client that attaches DID-WBA or bearer
// credentials to requests for a caller agent, verifies the server's reply
// header, and harvests the issued bearer token for reuse. It also consumes
// fetched agent-description documents and invokes the JSON-RPC interfaces
// they declare.
package anp_client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"

	"github.com/openanp/anp-runtime/agent"
	"github.com/openanp/anp-runtime/anp_auth"
	"github.com/openanp/anp-runtime/anp_resolver"
)

// Result is the outcome of one authenticated request.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Info records how the exchange went: which credential was sent, whether
	// a retry happened, and whether a token was stored.
	Info map[string]any

	// AuthPassed is true when the server's reply Authorization header was
	// present and verified against the target's DID document.
	AuthPassed bool
}

// Client sends authenticated requests on behalf of one caller agent.
type Client struct {
	caller   *agent.Agent
	resolver anp_resolver.Resolver
	http     *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient injects a custom http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// New constructs a client for the caller agent. The resolver is used to fetch
// the target's DID document when verifying reply headers.
func New(caller *agent.Agent, resolver anp_resolver.Resolver, opts ...Option) (*Client, error) {
	if caller == nil {
		return nil, fmt.Errorf("caller agent is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}

	c := &Client{
		caller:   caller,
		resolver: resolver,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// clientState is one step of the request exchange. The exchange runs
// Build -> Send, retries through Rebuild -> Send at most once on a 401
// against a bearer token, then Verify -> Store on a 2xx reply header.
type clientState int

const (
	stateBuild clientState = iota
	stateSend
	stateRebuild
	stateVerify
	stateDone
)

// exchange carries the mutable state of one Do call across FSM steps.
type exchange struct {
	method     string
	requestURL string
	targetDID  string
	body       []byte

	authorization string
	usedBearer    bool
	retried       bool

	resp   *http.Response
	result *Result
}

// Do sends one authenticated request to the target. targetDID may be empty,
// in which case it is inferred from the request URL. The body, when non-nil,
// is JSON-encoded. Cancellation and deadlines come from ctx.
func (c *Client) Do(ctx context.Context, method, requestURL, targetDID string, body any) (*Result, error) {
	if method == "" {
		method = http.MethodGet
	}

	if targetDID == "" {
		inferred, err := inferTargetFromURL(requestURL)
		if err != nil {
			return nil, err
		}
		targetDID = inferred
	}

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = sonic.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	ex := &exchange{
		method:     method,
		requestURL: requestURL,
		targetDID:  targetDID,
		body:       bodyBytes,
		result:     &Result{Info: map[string]any{"target_did": targetDID}},
	}

	state := stateBuild
	for state != stateDone {
		var err error
		switch state {
		case stateBuild:
			state, err = c.build(ex)
		case stateSend:
			state, err = c.send(ctx, ex)
		case stateRebuild:
			state, err = c.rebuild(ex)
		case stateVerify:
			state, err = c.verify(ctx, ex)
		}
		if err != nil {
			return nil, err
		}
	}

	return ex.result, nil
}

// build picks the credential for the first attempt: a live bearer token from
// the contact book when one exists, otherwise a fresh two-way DIDWba header.
func (c *Client) build(ex *exchange) (clientState, error) {
	if record, ok := c.caller.Contacts().TokenToRemote(ex.targetDID); ok {
		ex.authorization = anp_auth.BearerScheme + record.Token
		ex.usedBearer = true
		ex.result.Info["auth_method"] = "bearer"
		logger.Debug("using stored bearer token", "caller", c.caller.DID(), "target", ex.targetDID)
		return stateSend, nil
	}
	return c.rebuild(ex)
}

// rebuild always produces a fresh DIDWba header.
func (c *Client) rebuild(ex *exchange) (clientState, error) {
	kp, err := c.caller.Credentials().DefaultKeyPair()
	if err != nil {
		return stateDone, err
	}

	header, err := anp_auth.BuildAuthHeader(
		kp.PrivateKey, kp.KeyType,
		c.caller.DID(), anp_auth.DefaultVerificationMethodFragment,
		ex.requestURL, ex.targetDID,
	)
	if err != nil {
		return stateDone, err
	}

	ex.authorization = header.String()
	ex.usedBearer = false
	ex.result.Info["auth_method"] = "did_wba"
	return stateSend, nil
}

func (c *Client) send(ctx context.Context, ex *exchange) (clientState, error) {
	var bodyReader io.Reader
	if ex.body != nil {
		bodyReader = bytes.NewReader(ex.body)
	}

	req, err := http.NewRequestWithContext(ctx, ex.method, ex.requestURL, bodyReader)
	if err != nil {
		return stateDone, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", ex.authorization)
	if ex.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return stateDone, fmt.Errorf("send request: %w", err)
	}

	// A 401 against a stored bearer token gets one retry with a fresh DID
	// header. A 401 against a DID header is final.
	if resp.StatusCode == http.StatusUnauthorized && ex.usedBearer && !ex.retried {
		resp.Body.Close()
		ex.retried = true
		ex.result.Info["retried"] = true
		c.caller.Contacts().RevokeTokenToRemote(ex.targetDID)
		logger.Debug("bearer token rejected, retrying with DID header",
			"caller", c.caller.DID(), "target", ex.targetDID)
		return stateRebuild, nil
	}

	defer resp.Body.Close()
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return stateDone, fmt.Errorf("read response body: %w", err)
	}

	ex.resp = resp
	ex.result.StatusCode = resp.StatusCode
	ex.result.Header = resp.Header.Clone()
	ex.result.Body = bodyBytes

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return stateVerify, nil
	}
	return stateDone, nil
}

// verify checks the server's reply Authorization header: it must be a DIDWba
// header signed by the target DID with this caller as resp_did. On success
// any embedded token is stored for reuse.
func (c *Client) verify(ctx context.Context, ex *exchange) (clientState, error) {
	replyHeader := ex.resp.Header.Get("Authorization")
	if replyHeader == "" {
		return stateDone, nil
	}

	parts, err := anp_auth.ParseAuthHeader(replyHeader)
	if err != nil {
		logger.Debug("unparseable reply header", "target", ex.targetDID, "error", err)
		return stateDone, nil
	}

	// Swap check: the reply is signed by the target, addressed to us.
	if parts.DID != ex.targetDID || parts.RespDID != c.caller.DID() {
		ex.result.Info["reply_header"] = "did mismatch"
		return stateDone, nil
	}

	doc, err := c.resolver.Resolve(ctx, ex.targetDID)
	if err != nil {
		return stateDone, fmt.Errorf("%w: %s: %v", anp_auth.ErrDIDResolution, ex.targetDID, err)
	}

	service, err := anp_auth.ServiceName(ex.requestURL)
	if err != nil {
		return stateDone, err
	}
	if err := anp_auth.VerifyAuthHeader(parts, doc, service); err != nil {
		ex.result.Info["reply_header"] = "signature invalid"
		logger.Warn("reply header failed verification",
			"caller", c.caller.DID(), "target", ex.targetDID, "error", err)
		return stateDone, nil
	}

	ex.result.AuthPassed = true
	c.touchContact(ex.targetDID)

	if parts.Token != "" {
		c.caller.Contacts().StoreTokenToRemote(ex.targetDID, &agent.TokenRecord{
			Token:   parts.Token,
			ReqDID:  c.caller.DID(),
			RespDID: ex.targetDID,
		})
		ex.result.Info["token_stored"] = true
	}
	return stateDone, nil
}

func (c *Client) touchContact(targetDID string) {
	parsed, err := anp_auth.ParseDID(targetDID)
	if err != nil {
		return
	}
	c.caller.Contacts().Touch(targetDID, parsed.Host, parsed.Port, "")
}

func inferTargetFromURL(requestURL string) (string, error) {
	u, err := url.Parse(requestURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", anp_auth.ErrCannotInferTarget, err)
	}
	if respDID := u.Query().Get(anp_auth.QueryParamRespDID); respDID != "" {
		return respDID, nil
	}
	return anp_auth.InferTargetDID(u.Path, u.Host)
}
