package agent

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/openanp/anp-runtime/anp_auth"
)

// Request types the registry can route to a local agent.
const (
	RequestTypeAPICall      = "api_call"
	RequestTypeMessage      = "message"
	RequestTypeGroupJoin    = "group_join"
	RequestTypeGroupLeave   = "group_leave"
	RequestTypeGroupMessage = "group_message"
	RequestTypeGroupMembers = "group_members"
	RequestTypeGroupConnect = "group_connect"
)

// Request is one routed operation against a target agent.
type Request struct {
	Type        string
	Path        string
	MessageType string
	GroupID     string
	Data        map[string]any
}

// Response carries a routed operation's result. Events is set only for
// group_connect requests.
type Response struct {
	StatusCode int
	Body       any
	Events     <-chan GroupEvent
}

// Registry holds every agent hosted in this process and routes requests to
// them by target DID.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Agent)}
}

// Register adds an agent. Registering a DID twice is an error; unregister the
// old agent first.
func (r *Registry) Register(a *Agent) error {
	if a == nil {
		return fmt.Errorf("agent is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[a.DID()]; ok {
		return fmt.Errorf("agent %s is already registered", a.DID())
	}
	r.agents[a.DID()] = a
	return nil
}

// Unregister removes an agent and tears down its groups. Unknown DIDs are a
// no-op.
func (r *Registry) Unregister(did string) {
	r.mu.Lock()
	a, ok := r.agents[did]
	delete(r.agents, did)
	r.mu.Unlock()

	if ok {
		a.Groups().Close()
	}
}

// Get returns the agent registered under the DID.
func (r *Registry) Get(did string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[did]
	return a, ok
}

// All returns every registered agent, sorted by DID.
func (r *Registry) All() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DID() < out[j].DID() })
	return out
}

// CredentialsFunc adapts the registry for the verifier's credentials lookup.
func (r *Registry) CredentialsFunc() anp_auth.CredentialsFunc {
	return func(ctx context.Context, targetDID string) (*anp_auth.ReplyCredentials, error) {
		a, ok := r.Get(targetDID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", anp_auth.ErrAgentNotFound, targetDID)
		}
		return a.Credentials().ReplyCredentials()
	}
}

// Route dispatches a request to the target agent. The caller DID comes from
// the verified auth result; handlers receive it as-is.
func (r *Registry) Route(ctx context.Context, callerDID, targetDID string, req *Request, httpReq *http.Request) (*Response, error) {
	a, ok := r.Get(targetDID)
	if !ok {
		return nil, anp_auth.NewErrorWithStatus(
			fmt.Errorf("%w: %s", anp_auth.ErrAgentNotFound, targetDID),
			http.StatusNotFound,
		)
	}

	switch req.Type {
	case RequestTypeAPICall:
		return routeAPICall(ctx, a, callerDID, req, httpReq)

	case RequestTypeMessage:
		out, err := a.HandleMessage(ctx, callerDID, req.MessageType, req.Data)
		if err != nil {
			return nil, anp_auth.NewErrorWithStatus(err, http.StatusBadRequest)
		}
		return &Response{
			StatusCode: http.StatusOK,
			Body:       map[string]any{"anp_result": out},
		}, nil

	case RequestTypeGroupJoin:
		if err := a.Groups().Join(req.GroupID, callerDID); err != nil {
			return nil, anp_auth.NewErrorWithStatus(err, http.StatusBadRequest)
		}
		return okResponse(map[string]any{"group_id": req.GroupID, "joined": true}), nil

	case RequestTypeGroupLeave:
		if err := a.Groups().Leave(req.GroupID, callerDID); err != nil {
			return nil, anp_auth.NewErrorWithStatus(err, http.StatusBadRequest)
		}
		return okResponse(map[string]any{"group_id": req.GroupID, "left": true}), nil

	case RequestTypeGroupMessage:
		if err := a.Groups().Post(req.GroupID, callerDID, req.Data); err != nil {
			return nil, anp_auth.NewErrorWithStatus(err, http.StatusForbidden)
		}
		return okResponse(map[string]any{"group_id": req.GroupID, "posted": true}), nil

	case RequestTypeGroupMembers:
		members := a.Groups().Members(req.GroupID)
		if members == nil {
			members = []string{}
		}
		return okResponse(map[string]any{"group_id": req.GroupID, "members": members}), nil

	case RequestTypeGroupConnect:
		events, err := a.Groups().Connect(ctx, req.GroupID, callerDID)
		if err != nil {
			return nil, anp_auth.NewErrorWithStatus(err, http.StatusForbidden)
		}
		return &Response{StatusCode: http.StatusOK, Events: events}, nil

	default:
		return nil, anp_auth.NewErrorWithStatus(
			fmt.Errorf("unknown request type %q", req.Type),
			http.StatusBadRequest,
		)
	}
}

func routeAPICall(ctx context.Context, a *Agent, callerDID string, req *Request, httpReq *http.Request) (*Response, error) {
	out, err := a.HandleAPI(ctx, &APIRequest{
		CallerDID: callerDID,
		Path:      req.Path,
		Data:      req.Data,
		HTTP:      httpReq,
	})
	if err != nil {
		return nil, anp_auth.NewErrorWithStatus(err, http.StatusNotFound)
	}

	// Handlers may steer the status code by returning an APIResult.
	if res, ok := out.(*APIResult); ok {
		status := res.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		return &Response{StatusCode: status, Body: res.Body}, nil
	}
	if res, ok := out.(APIResult); ok {
		status := res.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		return &Response{StatusCode: status, Body: res.Body}, nil
	}

	return okResponse(out), nil
}

func okResponse(body any) *Response {
	return &Response{StatusCode: http.StatusOK, Body: body}
}
