// Package server exposes the runtime over HTTP: DID document and agent
// description endpoints, the publisher listing, and the authenticated
// dispatch routes that forward requests to locally registered agents.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/openanp/anp-runtime/agent"
	"github.com/openanp/anp-runtime/anp_auth"
	"github.com/openanp/anp-runtime/anp_resolver"
	"github.com/openanp/anp-runtime/session"
)

// Config configures the runtime HTTP server.
type Config struct {
	Host string
	Port int

	// AllowedDomains restricts which service hostnames the verifier accepts.
	// Empty means any.
	AllowedDomains []string

	// ExemptPaths overrides the default unauthenticated path set.
	ExemptPaths []string

	// EnableSessions turns on session issuance and the Session header scheme.
	EnableSessions bool
	SessionTTL     time.Duration

	// ReplayGuard enables the nonce replay cache. Off by default: freshness
	// is bounded by the timestamp window, and concurrent requests may reuse
	// a nonce within it.
	ReplayGuard bool

	Logger *slog.Logger
}

// Server hosts the agent runtime.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	registry *agent.Registry
	store    *agent.Store
	resolver anp_resolver.Resolver
	verifier *anp_auth.DidWbaVerifier
	sessions *session.Manager
	router   chi.Router
}

// New assembles a server around a registry. store may be nil when no user
// directories are served; resolver may be nil when every caller DID is local.
func New(cfg Config, registry *agent.Registry, store *agent.Store, resolver anp_resolver.Resolver) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		store:    store,
		resolver: resolver,
	}

	var nonceValidator anp_auth.NonceValidator
	if cfg.ReplayGuard {
		nonceValidator = anp_auth.NewMemoryNonceValidator(anp_auth.DefaultNonceExpiration)
	}

	s.verifier = anp_auth.NewDidWbaVerifier(anp_auth.VerifierConfig{
		ResolveDIDDocument: s.resolveDID,
		Credentials:        registry.CredentialsFunc(),
		NonceValidator:     nonceValidator,
		AllowedDomains:     cfg.AllowedDomains,
	})

	if cfg.EnableSessions {
		s.sessions = session.NewManager(cfg.SessionTTL, logger)
	}

	s.router = s.buildRouter()
	return s
}

// resolveDID prefers locally registered agents, then falls back to the
// configured resolver.
func (s *Server) resolveDID(ctx context.Context, did string) (*anp_auth.DIDWBADocument, error) {
	if a, ok := s.registry.Get(did); ok {
		return a.Credentials().Document, nil
	}
	if s.resolver == nil {
		return nil, fmt.Errorf("%w: %s", anp_resolver.ErrNotFound, did)
	}
	return s.resolver.Resolve(ctx, did)
}

func (s *Server) buildRouter() chi.Router {
	handlers := anp_auth.NewHandlerRegistry(
		&anp_auth.DIDWbaHandler{Verifier: s.verifier},
		&anp_auth.BearerHandler{Verifier: s.verifier},
	)
	if s.sessions != nil {
		handlers.Register(&session.Handler{Sessions: s.sessions})
	}

	mwCfg := anp_auth.MiddlewareConfig{
		Registry:    handlers,
		ExemptPaths: s.cfg.ExemptPaths,
	}
	if s.sessions != nil {
		mwCfg.IssueSession = s.sessions.Issue
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.logRequests)
	r.Use(anp_auth.Middleware(mwCfg))

	r.Get("/wba/user/{localID}/did.json", s.handleDIDDocument)
	r.Get("/wba/user/{localID}/ad.json", s.handleAgentDescription)
	r.Get("/wba/user/{localID}/{file}", s.handleInterfaceFile)
	r.Get("/wba/hostuser/{localID}/did.json", s.handleHostedDIDDocument)
	r.Get("/publisher/agents", s.handlePublisherAgents)

	r.Get("/agent/api/{did}/*", s.handleAPICall)
	r.Post("/agent/api/{did}/*", s.handleAPICall)
	r.Post("/agent/message/{did}/post", s.handleMessage)
	r.Post("/agent/group/{did}/{groupID}/join", s.groupHandler(agent.RequestTypeGroupJoin))
	r.Post("/agent/group/{did}/{groupID}/leave", s.groupHandler(agent.RequestTypeGroupLeave))
	r.Post("/agent/group/{did}/{groupID}/message", s.groupHandler(agent.RequestTypeGroupMessage))
	r.Post("/agent/group/{did}/{groupID}/members", s.groupHandler(agent.RequestTypeGroupMembers))
	r.Get("/agent/group/{did}/{groupID}/connect", s.handleGroupConnect)

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

// Handler returns the assembled HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Registry returns the agent registry the server routes into.
func (s *Server) Registry() *agent.Registry { return s.registry }

// Sessions returns the session manager, or nil when sessions are disabled.
func (s *Server) Sessions() *session.Manager { return s.sessions }

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}
