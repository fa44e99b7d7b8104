package agent

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/openanp/anp-runtime/anp_auth"
)

// WildcardMessageType matches any message type not handled exactly.
const WildcardMessageType = "*"

// APIRequest carries one api_call dispatch to an agent handler.
type APIRequest struct {
	CallerDID string
	Path      string
	Data      map[string]any
	HTTP      *http.Request // nil outside HTTP contexts
}

// APIResult lets a handler control the response status explicitly.
// Handlers may also return any plain value, which is sent with status 200.
type APIResult struct {
	StatusCode int
	Body       any
}

// APIFunc handles one API route of an agent.
type APIFunc func(ctx context.Context, req *APIRequest) (any, error)

// MessageFunc handles point-to-point messages of one message type.
type MessageFunc func(ctx context.Context, callerDID, messageType string, data map[string]any) (any, error)

// Agent is one locally hosted agent: its identity, capabilities, contacts,
// and group memberships. Capabilities are composed at construction time via
// the Register/On methods; nothing is mutated on the hot path after the
// agent is registered.
type Agent struct {
	did   *anp_auth.DID
	name  string
	creds *Credentials

	mu              sync.RWMutex
	apiRoutes       map[string]APIFunc
	messageHandlers map[string]MessageFunc

	contacts *ContactBook
	groups   *GroupManager
}

// New creates an agent from its credentials.
func New(name string, creds *Credentials) (*Agent, error) {
	if creds == nil {
		return nil, fmt.Errorf("credentials are required")
	}

	did, err := anp_auth.ParseDID(creds.DID)
	if err != nil {
		return nil, err
	}
	if did.IsHosted() {
		return nil, fmt.Errorf("%w: cannot host agent for %s", anp_auth.ErrHostedDIDRejected, creds.DID)
	}

	return &Agent{
		did:             did,
		name:            name,
		creds:           creds,
		apiRoutes:       make(map[string]APIFunc),
		messageHandlers: make(map[string]MessageFunc),
		contacts:        NewContactBook(),
		groups:          NewGroupManager(),
	}, nil
}

// DID returns the agent's identifier.
func (a *Agent) DID() string { return a.creds.DID }

// LocalID returns the 16-hex local id of the agent's DID.
func (a *Agent) LocalID() string { return a.did.LocalID }

// Name returns the agent's display name.
func (a *Agent) Name() string { return a.name }

// Credentials returns the agent's signing material.
func (a *Agent) Credentials() *Credentials { return a.creds }

// Contacts returns the agent's contact book.
func (a *Agent) Contacts() *ContactBook { return a.contacts }

// Groups returns the agent's group manager.
func (a *Agent) Groups() *GroupManager { return a.groups }

// RegisterAPI registers a handler for an API subpath (e.g. "/hello").
func (a *Agent) RegisterAPI(path string, fn APIFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.apiRoutes[normalizePath(path)] = fn
}

// OnMessage registers a handler for a message type. Use WildcardMessageType
// to catch everything without an exact handler.
func (a *Agent) OnMessage(messageType string, fn MessageFunc) {
	if messageType == "" {
		messageType = WildcardMessageType
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messageHandlers[messageType] = fn
}

// APIRoutes returns the registered API subpaths, sorted.
func (a *Agent) APIRoutes() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	routes := make([]string, 0, len(a.apiRoutes))
	for path := range a.apiRoutes {
		routes = append(routes, path)
	}
	sort.Strings(routes)
	return routes
}

// HandleAPI dispatches an api_call to the handler registered for its path.
func (a *Agent) HandleAPI(ctx context.Context, req *APIRequest) (any, error) {
	a.mu.RLock()
	fn, ok := a.apiRoutes[normalizePath(req.Path)]
	a.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no API handler for path %q", req.Path)
	}
	return fn(ctx, req)
}

// HandleMessage dispatches a message, exact-match first, then wildcard.
func (a *Agent) HandleMessage(ctx context.Context, callerDID, messageType string, data map[string]any) (any, error) {
	if messageType == "" {
		messageType = WildcardMessageType
	}

	a.mu.RLock()
	fn, ok := a.messageHandlers[messageType]
	if !ok {
		fn, ok = a.messageHandlers[WildcardMessageType]
	}
	a.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no message handler for type %q", messageType)
	}
	return fn(ctx, callerDID, messageType, data)
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
