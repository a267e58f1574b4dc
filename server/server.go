// Package server - HTTP adapter exposing emotion analysis over gin.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nvr-ai/go-emotion/analyzer"
	"github.com/nvr-ai/go-emotion/config"
	"github.com/nvr-ai/go-emotion/logger"
	"github.com/nvr-ai/go-emotion/profiler"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const defaultShutdownTimeout = 10 * time.Second

// Analyzer is the part of analyzer.Analyzer the HTTP adapter needs.
type Analyzer interface {
	Analyze(ctx context.Context, dataURL string) (*analyzer.Result, error)
}

// Server serves the emotion API.
type Server struct {
	analyzer Analyzer
	config   config.HTTPConfig
	log      *zap.Logger
	profiler *profiler.Profiler
	router   *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithProfiler records request latencies into p instead of a private profiler.
func WithProfiler(p *profiler.Profiler) Option {
	return func(s *Server) {
		if p != nil {
			s.profiler = p
		}
	}
}

// New creates a Server and registers its routes.
//
// Arguments:
//   - a: The analyzer behind /api/emotion/analyze.
//   - cfg: Listen address, body limit and shutdown timeout.
//   - log: Optional logger.
//   - opts: Optional settings.
//
// Returns:
//   - *Server: The server, not yet listening.
func New(a Analyzer, cfg config.HTTPConfig, log *zap.Logger, opts ...Option) *Server {
	registerValidators()

	s := &Server{
		analyzer: a,
		config:   cfg,
		log:      logger.OrDefault(log).Named("http"),
		router:   gin.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.profiler == nil {
		s.profiler = profiler.New(profiler.Options{}, s.log)
	}

	s.router.Use(requestID(), accessLog(s.log), recovery(s.log), bodyLimit(cfg.MaxBodyBytes))
	s.router.NoRoute(notFound)
	s.router.NoMethod(notFound)

	api := s.router.Group("/api")
	api.GET("/health", s.health)
	api.GET("/stats", s.stats)

	emotion := api.Group("/emotion")
	{
		emotion.POST("/analyze", s.analyze)
		emotion.POST("/metrics", s.metrics)
	}

	return s
}

// Handler returns the routed gin engine.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens until ctx is canceled, then shuts down gracefully.
//
// Arguments:
//   - ctx: Canceling it starts the shutdown.
//
// Returns:
//   - error: A listen error, or the shutdown error.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", s.config.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		if err != nil {
			return errors.Wrapf(err, "failed to listen on %s", s.config.Addr)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("shutting down", zap.Duration("timeout", s.config.ShutdownTimeout))
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "failed to shut down")
	}
	return nil
}
