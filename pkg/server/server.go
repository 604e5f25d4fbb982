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

	"github.com/rpzk/throttleguard/pkg/config"
	"github.com/rpzk/throttleguard/pkg/guard"
	"github.com/rpzk/throttleguard/pkg/server/middleware"
	"github.com/rpzk/throttleguard/pkg/telemetry/health"
	"github.com/rpzk/throttleguard/pkg/telemetry/tracing"
)

// Metrics is the part of the metrics collector the server needs.
type Metrics interface {
	middleware.HTTPRecorder
	Handler() http.Handler
}

// Deps are the components the server mounts. Guard and Health are required.
type Deps struct {
	Guard  *guard.Guard
	Health *health.Checker

	// Metrics is nil when metrics are disabled.
	Metrics     Metrics
	MetricsPath string

	// HealthRateLimit caps probe requests per second. Zero or less disables
	// the cap.
	HealthRateLimit int

	// TLS, when set, makes the server terminate TLS with it.
	TLS *tls.Config

	Version   string
	Commit    string
	BuildTime string
}

// Server serves the guarded API, the admin endpoints and the probes.
type Server struct {
	config *config.ServerConfig
	deps   Deps
	logger *slog.Logger

	mu           sync.RWMutex
	httpServer   *http.Server
	listener     net.Listener
	isRunning    bool
	shutdownOnce sync.Once
}

// New validates deps and creates a server.
func New(cfg *config.ServerConfig, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: config is required")
	}
	if deps.Guard == nil {
		return nil, errors.New("server: guard is required")
	}
	if deps.Health == nil {
		return nil, errors.New("server: health checker is required")
	}
	if deps.MetricsPath == "" {
		deps.MetricsPath = config.DefaultMetricsPath
	}
	return &Server{
		config: cfg,
		deps:   deps,
		logger: slog.Default().With("component", "server"),
	}, nil
}

// Start listens on the configured address and serves until ctx is cancelled
// or Shutdown is called. It returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return errors.New("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	if s.deps.TLS != nil {
		ln = tls.NewListener(ln, s.deps.TLS)
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:        s.Handler(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		TLSConfig:      s.deps.TLS,
	}
	s.isRunning = true
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("server listening",
		"address", ln.Addr().String(),
		"tls_enabled", s.deps.TLS != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err, ok := <-errCh:
		if ok {
			s.setStopped()
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.RLock()
		srv, running := s.httpServer, s.isRunning
		s.mu.RUnlock()
		if !running {
			return
		}

		s.logger.Info("shutting down", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("graceful shutdown failed", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}
		s.setStopped()
		s.logger.Info("server stopped")
	})

	return shutdownErr
}

func (s *Server) setStopped() {
	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()
}

// Addr returns the bound address while running, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil || !s.isRunning {
		return nil
	}
	return s.listener.Addr()
}

// IsRunning reports whether Start is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the full middleware chain around the route mux.
func (s *Server) Handler() http.Handler {
	mux := s.routes()

	var h http.Handler = middleware.Route(mux)
	h = tracing.HTTPMiddleware(h)
	h = middleware.Recovery(h)

	var rec middleware.HTTPRecorder
	if s.deps.Metrics != nil {
		rec = s.deps.Metrics
	}
	h = middleware.Logging(rec)(h)
	h = middleware.RequestID(h)
	return h
}
