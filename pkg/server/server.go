package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"mercator-hq/tabula/pkg/config"
	"mercator-hq/tabula/pkg/dataset"
	"mercator-hq/tabula/pkg/export"
	"mercator-hq/tabula/pkg/export/dispatch"
	"mercator-hq/tabula/pkg/telemetry/health"
	"mercator-hq/tabula/pkg/telemetry/metrics"
	"mercator-hq/tabula/pkg/telemetry/tracing"
)

// JobStore reads job statuses.
type JobStore interface {
	Status(ctx context.Context, id string) (*export.JobStatus, error)
	List(ctx context.Context, limit int) ([]*export.JobStatus, error)
}

// BuildInfo is reported by the version endpoint.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// Deps are the collaborators of a Server. Dispatcher and Datasets are
// required; the job, metrics and health routes are only mounted when their
// collaborator is set.
type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Datasets   *dataset.Catalog
	Jobs       JobStore
	Metrics    *metrics.Collector
	Health     *health.Checker

	// Tracer starts a server span per request. Nil disables request spans.
	Tracer *tracing.Tracer

	// Keys validates API keys when server.auth is enabled. Nil builds a
	// KeySet from the configured keys.
	Keys *KeySet

	// MetricsPath is where the Prometheus handler is mounted.
	// Default: "/metrics"
	MetricsPath string

	Build BuildInfo
}

// Server serves dataset exports and job statuses over HTTP.
type Server struct {
	config     *config.ServerConfig
	deps       Deps
	auth       *authenticator
	limiter    *exportLimiter
	httpServer *http.Server
	logger     *slog.Logger

	mu           sync.RWMutex
	isRunning    bool
	addr         net.Addr
	shutdownOnce sync.Once
}

// NewServer creates a server. It does not listen until Start or Serve.
func NewServer(cfg *config.ServerConfig, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("server config cannot be nil")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher cannot be nil")
	}
	if deps.Datasets == nil {
		return nil, fmt.Errorf("dataset catalog cannot be nil")
	}
	if deps.MetricsPath == "" {
		deps.MetricsPath = config.DefaultPrometheusPath
	}

	s := &Server{
		config:  cfg,
		deps:    deps,
		logger:  slog.Default().With("component", "server"),
		limiter: newExportLimiter(cfg.MaxConcurrentExports),
	}

	if cfg.Auth.Enabled {
		if deps.Keys == nil {
			keys, err := NewKeySet(cfg.Auth.Keys)
			if err != nil {
				return nil, fmt.Errorf("failed to load API keys: %w", err)
			}
			s.deps.Keys = keys
		}
		if s.deps.Keys.Len() == 0 {
			return nil, fmt.Errorf("auth is enabled but no API keys are configured")
		}
		s.auth = &authenticator{
			keys:   s.deps.Keys,
			header: cfg.Auth.Header,
			logger: s.logger.With("component", "server.auth"),
		}
	}

	return s, nil
}

// Keys returns the API key set, nil when auth is disabled.
func (s *Server) Keys() *KeySet {
	return s.deps.Keys
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully within the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.config.TLS.Enabled {
		tlsCfg, reloader, err := newTLSConfig(&s.config.TLS, s.logger.With("component", "server.tls"))
		if err != nil {
			return fmt.Errorf("failed to configure TLS: %w", err)
		}
		if s.config.TLS.ReloadInterval > 0 {
			go reloader.watch(ctx, s.config.TLS.ReloadInterval)
		}
		ln = tls.NewListener(ln, tlsCfg)
	}

	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.addr = ln.Addr()
	s.httpServer = &http.Server{
		Handler:        s.Handler(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", "address", ln.Addr().String(), "tls", s.config.TLS.Enabled)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Downloads still running after the shutdown timeout are cut off.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.RLock()
		running, srv := s.isRunning, s.httpServer
		s.mu.RUnlock()
		if !running || srv == nil {
			return
		}

		s.logger.Info("Initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx := ctx
		if s.config.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
			defer cancel()
		}

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Error during server shutdown", "error", err)
			srv.Close()
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("Server stopped")
	})

	return shutdownErr
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the listen address once serving, nil before.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /datasets", s.auth.protect(s.handleDatasets))
	mux.Handle("GET /exports/{dataset}", s.auth.protect(s.limiter.wrap(s.handleDownload)))
	mux.Handle("POST /exports/{dataset}/store", s.auth.protect(s.limiter.wrap(s.handleStore)))
	mux.Handle("POST /exports/{dataset}/queue", s.auth.protect(s.handleQueue))

	if s.deps.Jobs != nil {
		mux.Handle("GET /jobs", s.auth.protect(s.handleListJobs))
		mux.Handle("GET /jobs/{id}", s.auth.protect(s.handleJob))
	}

	checker := s.deps.Health
	if checker == nil {
		checker = health.New(0)
	}
	mux.HandleFunc("GET /health", checker.LivenessHandler())
	mux.HandleFunc("GET /ready", checker.ReadinessHandler())
	mux.HandleFunc("GET /version", health.VersionHandler(s.deps.Build.Version, s.deps.Build.Commit, s.deps.Build.BuildTime))

	if s.deps.Metrics != nil {
		mux.Handle("GET "+s.deps.MetricsPath, s.deps.Metrics.Handler())
	}

	var handler http.Handler = mux
	handler = metricsMiddleware(s.deps.Metrics)(handler)
	handler = loggingMiddleware(s.logger)(handler)
	handler = tracingMiddleware(s.deps.Tracer)(handler)
	handler = requestIDMiddleware(handler)
	// Recovery is outermost.
	handler = recoveryMiddleware(s.logger)(handler)

	return handler
}
