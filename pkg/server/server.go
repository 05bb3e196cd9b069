package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"mercator-hq/compass/pkg/config"
	"mercator-hq/compass/pkg/engine"
	"mercator-hq/compass/pkg/ledger"
	"mercator-hq/compass/pkg/telemetry/health"
	"mercator-hq/compass/pkg/telemetry/logging"
)

// BuildInfo is reported on /version.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// Option configures a Server.
type Option func(*Server)

// WithLedger enables /v1/transitions.
func WithLedger(s ledger.Storage) Option {
	return func(srv *Server) {
		srv.ledger = s
	}
}

// WithMetrics mounts h on the configured metrics path. A nil handler is
// ignored.
func WithMetrics(path string, h http.Handler) Option {
	return func(srv *Server) {
		srv.metricsPath = path
		srv.metrics = h
	}
}

// WithHealth mounts the health endpoints of checker.
func WithHealth(checker *health.Checker) Option {
	return func(srv *Server) {
		srv.checker = checker
	}
}

// WithBuildInfo sets the build information served on /version.
func WithBuildInfo(info BuildInfo) Option {
	return func(srv *Server) {
		srv.build = info
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(srv *Server) {
		srv.logger = l
	}
}

// Server is the operations HTTP server.
type Server struct {
	config      *config.ServerConfig
	engine      *engine.Engine
	ledger      ledger.Storage
	checker     *health.Checker
	metrics     http.Handler
	metricsPath string
	build       BuildInfo
	logger      *logging.Logger

	httpServer   *http.Server
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
	addr         net.Addr
}

// NewServer creates a server for eng.
func NewServer(cfg *config.ServerConfig, eng *engine.Engine, opts ...Option) (*Server, error) {
	if cfg == nil || eng == nil {
		return nil, fmt.Errorf("server config and engine are required")
	}
	s := &Server{config: cfg, engine: eng}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		l, err := logging.New(logging.Config{})
		if err != nil {
			return nil, err
		}
		s.logger = l
	}
	s.logger = s.logger.With("component", "server")
	if s.checker == nil {
		s.checker = health.New(0)
	}
	return s, nil
}

// Start serves until ctx is cancelled or the listener fails, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.addr = ln.Addr()
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting operations server", "address", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}
}

// Shutdown stops accepting connections and waits for in-flight requests
// up to the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())
		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		s.logger.Info("operations server stopped")
	})
	return shutdownErr
}

// Addr returns the bound listener address once the server is running.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the routed handler wrapped in middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	health.Mount(mux, s.checker, health.Info{
		Version:       s.build.Version,
		Commit:        s.build.Commit,
		BuildTime:     s.build.BuildTime,
		ConfigVersion: s.engine.Registry().Version,
	})
	if s.metrics != nil {
		path := s.metricsPath
		if path == "" {
			path = config.DefaultMetricsPath
		}
		mux.Handle("GET "+path, s.metrics)
	}

	mux.HandleFunc("GET /v1/experiments", s.handleListExperiments)
	mux.HandleFunc("GET /v1/experiments/{domain}", s.handleGetExperiment)
	mux.HandleFunc("POST /v1/experiments/{domain}", s.handleStartExperiment)
	mux.HandleFunc("DELETE /v1/experiments/{domain}", s.handleStopExperiment)
	mux.HandleFunc("POST /v1/experiments/{domain}/variants/{variant}/promote", s.handlePromote)
	mux.HandleFunc("POST /v1/experiments/{domain}/variants/{variant}/rollback", s.handleRollback)
	mux.HandleFunc("GET /v1/policies", s.handlePolicies)
	mux.HandleFunc("GET /v1/transitions", s.handleTransitions)
	mux.HandleFunc("POST /v1/snapshots", s.handleExport)

	var handler http.Handler = mux
	handler = loggingMiddleware(s.logger)(handler)
	handler = requestIDMiddleware(handler)
	handler = recoveryMiddleware(s.logger)(handler)
	return handler
}
