// ABOUTME: HTTP server that wires stores, ceremonies and access control together
// ABOUTME: Owns the listener lifecycle, health endpoints and graceful shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"tailscale.com/tsnet"

	"github.com/2389/larder/internal/auth"
	"github.com/2389/larder/internal/config"
	"github.com/2389/larder/internal/metrics"
	"github.com/2389/larder/internal/store"
)

const shutdownTimeout = 5 * time.Second

// Deps are the collaborators a Server runs on. New builds them from
// configuration; tests supply their own.
type Deps struct {
	Store      store.Store
	Sessions   store.SessionStore
	Challenges store.ChallengeStore
	WebAuthn   auth.WebAuthn
	Sync       SyncHandler          // optional, defaults to JSON snapshots
	Registry   *prometheus.Registry // optional
}

// Server serves the larder HTTP API.
type Server struct {
	config     *config.Config
	store      store.Store
	sessions   store.SessionStore
	auth       *auth.Service
	middleware *auth.Middleware
	tickets    *auth.TicketIssuer
	sync       SyncHandler
	metrics    *metrics.Metrics
	limiter    *RateLimiter
	logger     *slog.Logger

	httpServer  *http.Server
	tsnetServer *tsnet.Server

	// closers release resources New created, in order, after the store
	closers      []func() error
	checks       map[string]func(context.Context) error
	shutdownOnce sync.Once
	shutdownErr  error
}

// New opens the stores named by cfg and creates a Server.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	deps := Deps{Store: store.NewCachedCredentialStore(sqlStore, 0, 0)}

	var closers []func() error
	fail := func(err error) (*Server, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		_ = sqlStore.Close()
		return nil, err
	}

	var rdb *redis.Client
	if cfg.UsesRedis() {
		rdb, err = store.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, rdb.Close)
	}

	switch cfg.Sessions.Backend {
	case config.BackendRedis:
		deps.Sessions = store.NewRedisSessionStore(rdb, cfg.Sessions.MaxAge)
	default:
		mem := store.NewMemorySessionStore(cfg.Sessions.MaxAge)
		closers = append(closers, func() error { mem.Close(); return nil })
		deps.Sessions = mem
	}

	switch cfg.Challenges.Backend {
	case config.BackendRedis:
		deps.Challenges = store.NewRedisChallengeStore(rdb, cfg.Challenges.TTL)
	default:
		mem := store.NewMemoryChallengeStore(cfg.Challenges.TTL)
		closers = append(closers, func() error { mem.Close(); return nil })
		deps.Challenges = mem
	}

	deps.WebAuthn, err = auth.NewWebAuthn(auth.WebAuthnConfig{
		BaseURL: cfg.WebAuthn.BaseURL,
		RPName:  cfg.WebAuthn.RPName,
		RPID:    cfg.WebAuthn.RPID,
	})
	if err != nil {
		return fail(err)
	}

	s, err := NewWithDeps(cfg, deps, logger)
	if err != nil {
		return fail(err)
	}
	s.closers = closers
	if rdb != nil {
		s.checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return s, nil
}

// NewWithDeps creates a Server on the given collaborators.
func NewWithDeps(cfg *config.Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Store == nil || deps.Sessions == nil || deps.Challenges == nil || deps.WebAuthn == nil {
		return nil, errors.New("server: store, sessions, challenges and webauthn are required")
	}
	if len(cfg.Sync.TicketSecret) == 0 {
		return nil, errors.New("server: sync ticket secret is required")
	}

	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := metrics.New(registry)

	s := &Server{
		config:   cfg,
		store:    deps.Store,
		sessions: deps.Sessions,
		auth: auth.NewService(auth.ServiceConfig{
			WebAuthn:      deps.WebAuthn,
			Store:         deps.Store,
			Sessions:      deps.Sessions,
			Challenges:    deps.Challenges,
			Metrics:       m,
			Logger:        logger,
			VerifyTimeout: cfg.WebAuthn.VerifyTimeout,
		}),
		middleware: auth.NewMiddleware(deps.Sessions, deps.Store, auth.CookieConfig{
			Name:   cfg.Sessions.CookieName,
			MaxAge: cfg.Sessions.MaxAge,
			Secure: cfg.SecureCookies(),
		}, m, logger),
		tickets: auth.NewTicketIssuer([]byte(cfg.Sync.TicketSecret), cfg.Sync.TicketTTL),
		sync:    deps.Sync,
		metrics: m,
		limiter: NewRateLimiter(cfg.RateLimit.CeremonyRPS, cfg.RateLimit.CeremonyBurst),
		logger:  logger.With("component", "server"),
		checks:  map[string]func(context.Context) error{"store": deps.Store.Ping},
	}
	if s.sync == nil {
		s.sync = &SnapshotSync{Docs: deps.Store}
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	var h http.Handler = mux
	h = s.metrics.Middleware(h)
	h = s.corsMiddleware(h)
	h = s.recoveryMiddleware(h)
	return h
}

// Run serves until ctx is canceled or the listener fails, then shuts down.
// Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.listen(ctx)
	if err != nil {
		_ = s.closeResources()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("context canceled, initiating shutdown")
		// The parent context is already done, so shutdown gets a fresh one.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// listen creates the HTTP listener: on the tailnet if enabled, otherwise TCP.
func (s *Server) listen(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", s.config.Server.HTTPAddr)
		}
		return s.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// Shutdown stops the HTTP server and releases every resource. Safe to call
// more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info("shutting down server")

		var errs []error
		errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
		errs = appendCloseError(errs, "resources", s.closeResources())
		if len(errs) > 0 {
			s.shutdownErr = fmt.Errorf("shutdown errors: %v", errs)
		}
	})
	return s.shutdownErr
}

func (s *Server) closeResources() error {
	var errs []error
	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
		s.tsnetServer = nil
	}
	errs = appendCloseError(errs, "store close", s.store.Close())
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = appendCloseError(errs, "close", s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if every backing store answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", "check", name, "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "%s unavailable", name)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
