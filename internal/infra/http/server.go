package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/deplai/api/internal/config"
	"github.com/deplai/api/internal/infra/http/middleware"
	"github.com/deplai/api/pkg/logger"
)

// Server represents the HTTP server.
type Server struct {
	httpServer   *http.Server
	router       Router
	config       *config.Config
	logger       *logger.Logger
	cleanupFuncs []func() // cleanup functions to call on shutdown
}

// ServerOption is a function that configures the server.
type ServerOption func(*Server)

// WithRouter sets a custom router implementation.
func WithRouter(r Router) ServerOption {
	return func(s *Server) {
		s.router = r
	}
}

// NewServer creates a new HTTP server.
// By default, it uses Chi router. Use WithRouter option to change.
func NewServer(cfg *config.Config, log *logger.Logger, opts ...ServerOption) *Server {
	s := &Server{
		config: cfg,
		logger: log,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.router == nil {
		s.router = NewChiRouter()
	}

	// Create rate limiter with cleanup
	rateLimitMw, rateLimitStop := middleware.RateLimitWithStop(&cfg.RateLimit, log)
	s.cleanupFuncs = append(s.cleanupFuncs, rateLimitStop)

	securityCfg := middleware.SecurityHeadersConfig{
		HSTSEnabled:           cfg.IsProduction(),
		HSTSMaxAge:            31536000, // 1 year
		HSTSIncludeSubdomains: true,
	}

	// Apply global middleware (order matters!)
	s.router.Use(
		middleware.RecoveryWithConfig(log, cfg.IsProduction()),
		middleware.RequestID(),
		middleware.SecurityHeadersWithConfig(securityCfg),
		middleware.CORS(&cfg.CORS),
		middleware.BodyLimit(cfg.Server.MaxBodySize),
		rateLimitMw,
		middleware.Timeout(cfg.Server.RequestTimeout),
		middleware.Metrics(),
		middleware.Logger(log),
	)

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	return s
}

// Router returns the router for registering handlers.
func (s *Server) Router() Router {
	return s.router
}

// Config returns the server configuration.
func (s *Server) Config() *config.Config {
	return s.config
}

// Logger returns the server logger.
func (s *Server) Logger() *logger.Logger {
	return s.logger
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.config.Server.Addr())

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	for _, cleanup := range s.cleanupFuncs {
		cleanup()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}
