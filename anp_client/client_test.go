package anp_client

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openanp/anp-runtime/agent"
	"github.com/openanp/anp-runtime/anp_auth"
	"github.com/openanp/anp-runtime/server"
)

type mapResolver struct {
	docs map[string]*anp_auth.DIDWBADocument
}

func (r *mapResolver) Resolve(ctx context.Context, did string) (*anp_auth.DIDWBADocument, error) {
	doc, ok := r.docs[did]
	if !ok {
		return nil, fmt.Errorf("unknown DID %s", did)
	}
	return doc, nil
}

type clientEnv struct {
	srv    *httptest.Server
	target *agent.Agent
	caller *agent.Agent
	client *Client
}

func (e *clientEnv) apiURL(path string) string {
	return e.srv.URL + "/agent/api/" + e.target.LocalID() + path
}

// newClientEnv runs a real runtime server hosting one target agent and
// returns a client for a separate caller agent. The server resolves the
// caller's document in memory; the client resolves the target's the same way.
func newClientEnv(t *testing.T) *clientEnv {
	t.Helper()

	srv := httptest.NewUnstartedServer(nil)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	targetID, err := anp_auth.NewLocalID()
	require.NoError(t, err)
	targetCreds, err := agent.NewCredentials(host, port, targetID, "")
	require.NoError(t, err)
	jwtKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	targetCreds.JWTPrivateKey = jwtKey
	targetCreds.JWTPublicKey = &jwtKey.PublicKey

	target, err := agent.New("weather", targetCreds)
	require.NoError(t, err)
	target.RegisterAPI("/hello", func(ctx context.Context, req *agent.APIRequest) (any, error) {
		return map[string]any{"greeting": "hello " + req.CallerDID}, nil
	})
	target.RegisterAPI("/rpc", func(ctx context.Context, req *agent.APIRequest) (any, error) {
		return map[string]any{
			"jsonrpc": "2.0",
			"id":      req.Data["id"],
			"result":  map[string]any{"method": req.Data["method"], "ok": true},
		}, nil
	})

	registry := agent.NewRegistry()
	require.NoError(t, registry.Register(target))

	callerID, err := anp_auth.NewLocalID()
	require.NoError(t, err)
	callerCreds, err := agent.NewCredentials("caller.example.com", 0, callerID, "")
	require.NoError(t, err)
	caller, err := agent.New("traveler", callerCreds)
	require.NoError(t, err)

	runtimeServer := server.New(server.Config{}, registry, nil,
		&mapResolver{docs: map[string]*anp_auth.DIDWBADocument{
			callerCreds.DID: callerCreds.Document,
		}})
	srv.Config.Handler = runtimeServer.Handler()
	srv.Start()

	client, err := New(caller, &mapResolver{docs: map[string]*anp_auth.DIDWBADocument{
		target.DID(): targetCreds.Document,
	}})
	require.NoError(t, err)

	return &clientEnv{srv: srv, target: target, caller: caller, client: client}
}

func TestDoTwoWayThenBearer(t *testing.T) {
	e := newClientEnv(t)
	ctx := context.Background()

	// First exchange: fresh DIDWba header, verified reply, token harvested.
	result, err := e.client.Do(ctx, http.MethodGet, e.apiURL("/hello"), e.target.DID(), nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "did_wba", result.Info["auth_method"])
	assert.True(t, result.AuthPassed, "reply header did not verify")
	assert.Equal(t, true, result.Info["token_stored"])

	var body map[string]any
	require.NoError(t, sonic.Unmarshal(result.Body, &body))
	assert.Equal(t, "hello "+e.caller.DID(), body["greeting"])

	record, ok := e.caller.Contacts().TokenToRemote(e.target.DID())
	require.True(t, ok, "no token in contact book")
	require.NotEmpty(t, record.Token)

	// Second exchange: the stored token rides as a bearer credential.
	result, err = e.client.Do(ctx, http.MethodGet, e.apiURL("/hello"), e.target.DID(), nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "bearer", result.Info["auth_method"])
	assert.False(t, result.AuthPassed, "bearer responses carry no reply header")
}

func TestDoRetriesRejectedBearer(t *testing.T) {
	e := newClientEnv(t)

	// Seed a token the server never issued; the 401 triggers one rebuild.
	e.caller.Contacts().StoreTokenToRemote(e.target.DID(), &agent.TokenRecord{Token: "stale"})

	result, err := e.client.Do(context.Background(), http.MethodGet, e.apiURL("/hello"), e.target.DID(), nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, true, result.Info["retried"])
	assert.Equal(t, "did_wba", result.Info["auth_method"])
	assert.True(t, result.AuthPassed)

	// The stale token was revoked and replaced by the fresh one.
	record, ok := e.caller.Contacts().TokenToRemote(e.target.DID())
	require.True(t, ok)
	assert.NotEqual(t, "stale", record.Token)
}

func TestDoInfersTargetFromURL(t *testing.T) {
	e := newClientEnv(t)

	result, err := e.client.Do(context.Background(), http.MethodGet, e.apiURL("/hello"), "", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, e.target.DID(), result.Info["target_did"])
}

func TestDoPostBody(t *testing.T) {
	e := newClientEnv(t)
	e.target.RegisterAPI("/echo", func(ctx context.Context, req *agent.APIRequest) (any, error) {
		return req.Data, nil
	})

	result, err := e.client.Do(context.Background(), http.MethodPost, e.apiURL("/echo"), e.target.DID(),
		map[string]any{"text": "ping"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, result.StatusCode)

	var body map[string]any
	require.NoError(t, sonic.Unmarshal(result.Body, &body))
	assert.Equal(t, "ping", body["text"])
}

func TestInvoke(t *testing.T) {
	e := newClientEnv(t)

	iface := &Interface{
		Type:       "openrpc_method",
		Protocol:   "openrpc",
		MethodName: "rpc",
		ServerURL:  e.apiURL("/rpc"),
	}
	require.True(t, iface.Invocable())

	out, err := e.client.Invoke(context.Background(), iface, map[string]any{
		"plain":  "value",
		"nested": `{"a":1}`,
	})
	require.NoError(t, err)

	result := out["result"].(map[string]any)
	assert.Equal(t, "rpc", result["method"])
	assert.Equal(t, true, result["ok"])
}

func TestInvokeRejectsUninvocable(t *testing.T) {
	e := newClientEnv(t)

	_, err := e.client.Invoke(context.Background(), &Interface{Type: "doc"}, nil)
	assert.Error(t, err)
	_, err = e.client.Invoke(context.Background(), nil, nil)
	assert.Error(t, err)
}
