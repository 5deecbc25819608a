package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/charon/pkg/config"
	"mercator-hq/charon/pkg/keypool"
	"mercator-hq/charon/pkg/pipeline"
	"mercator-hq/charon/pkg/queue"
)

// Server is the gateway HTTP server.
type Server struct {
	cfg      *config.Config
	pool     *keypool.Pool
	queue    *queue.Queue
	pipe     *pipeline.Pipeline
	registry *prometheus.Registry

	httpServer *http.Server
	startedAt  time.Time
	build      string

	infoMu    sync.Mutex
	infoBody  []byte
	infoStamp time.Time

	shutdownOnce sync.Once
}

// New assembles the server around its collaborators.
func New(cfg *config.Config, pool *keypool.Pool, q *queue.Queue, pipe *pipeline.Pipeline, registry *prometheus.Registry, build string) *Server {
	return &Server{
		cfg:      cfg,
		pool:     pool,
		queue:    q,
		pipe:     pipe,
		registry: registry,
		build:    build,
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now()
	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.ListenAddress,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "address", s.cfg.Server.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Shutdown drains in-flight requests and stops the queue.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		slog.Info("gateway shutting down")
		s.queue.Stop()
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		err = s.httpServer.Shutdown(shutdownCtx)
	})
	return err
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return withRequestLogging(mux)
}

// withRequestLogging is the access-log middleware.
func withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
