// Package server is a JSON HTTP shell over the refresh engine. It exposes
// only the engine's operations and its run history.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BadgerOps/pqrefresh/internal/engine"
	"github.com/BadgerOps/pqrefresh/internal/metrics"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Server represents the HTTP server.
type Server struct {
	engine     *engine.Manager
	metrics    *metrics.Metrics
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new Server instance. mt may be nil, in which case
// /metrics is not served.
func NewServer(eng *engine.Manager, mt *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:  eng,
		metrics: mt,
		logger:  logger,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server on the given listen address.
func (s *Server) Start(listenAddr string) error {
	s.httpServer = &http.Server{
		Addr:        listenAddr,
		Handler:     s.setupRoutes(),
		ReadTimeout: 15 * time.Second,
		// refresh requests stay open for the whole batch
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", listenAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes registers all HTTP routes on a new ServeMux.
// Uses Go 1.22+ enhanced routing with method prefixes and path variables.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/files", s.handleAPIFiles)

	mux.HandleFunc("GET /api/backups", s.handleAPIBackups)
	mux.HandleFunc("POST /api/backups", s.handleAPICreateBackups)
	mux.HandleFunc("POST /api/backups/cleanup", s.handleAPICleanupBackups)
	mux.HandleFunc("GET /api/backups/history", s.handleAPIBackupHistory)

	mux.HandleFunc("POST /api/refresh", s.handleAPIRefresh)
	mux.HandleFunc("POST /api/run", s.handleAPIRun)

	mux.HandleFunc("GET /api/runs", s.handleAPIRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleAPIRunDetail)

	mux.HandleFunc("GET /api/progress", s.handleAPIProgress)
	mux.HandleFunc("GET /api/progress/stream", s.handleAPIProgressStream)

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}

	return mux
}
