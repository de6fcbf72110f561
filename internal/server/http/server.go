// Package httpserver provides the HTTP REST API for the retrieval service.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/scholarsift/retrieval-service/internal/cache"
	"github.com/scholarsift/retrieval-service/internal/database"
	"github.com/scholarsift/retrieval-service/internal/domain"
	"github.com/scholarsift/retrieval-service/internal/retrieval"
	"github.com/scholarsift/retrieval-service/internal/taskqueue"
)

// Orchestrator runs retrievals. *retrieval.Orchestrator implements it.
type Orchestrator interface {
	Run(ctx context.Context, req retrieval.Request) (*retrieval.Result, error)
	RunBatch(ctx context.Context, requests []retrieval.Request) []retrieval.BatchItem
}

// TaskQueue exposes task lookup and control. *taskqueue.Queue implements it.
type TaskQueue interface {
	Status(taskID string) (domain.Task, error)
	Cancel(taskID string) error
	Stats() taskqueue.Stats
}

// PaperCache is the slice of the two-tier cache the API reads.
// *cache.TwoTierCache implements it.
type PaperCache interface {
	GetPaper(ctx context.Context, paperID string) (*domain.PaperRecord, bool)
	FindByKeywords(ctx context.Context, keywords []string) ([]string, error)
	Stats() cache.Stats
}

// HealthChecker reports backing-store health. *database.DB implements it.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Server is the HTTP REST API server.
type Server struct {
	router       chi.Router
	httpServer   *http.Server
	orchestrator Orchestrator
	queue        TaskQueue
	cache        PaperCache
	health       HealthChecker
	validate     *validator.Validate
	logger       zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates the HTTP server over the orchestrator, queue and cache.
func NewServer(
	cfg Config,
	orchestrator Orchestrator,
	queue TaskQueue,
	paperCache PaperCache,
	health HealthChecker,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		orchestrator: orchestrator,
		queue:        queue,
		cache:        paperCache,
		health:       health,
		validate:     newValidator(),
		logger:       logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(jsonContentTypeMiddleware)

	// Health endpoints
	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/retrievals", s.runRetrieval)
		r.Post("/retrievals/batch", s.runRetrievalBatch)

		r.Get("/tasks/{taskID}", s.getTaskStatus)
		r.Delete("/tasks/{taskID}", s.cancelTask)
		r.Get("/queue/stats", s.getQueueStats)

		r.Get("/papers", s.searchPapers)
		r.Get("/papers/{paperID}", s.getPaper)

		r.Get("/cache/stats", s.getCacheStats)
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP dispatches to the server's router, letting callers mount or
// exercise the API without binding a socket.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.health.Health(r.Context())
	if health.Status == "healthy" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": health.Status})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":   "unhealthy",
		"database": health.Status,
		"error":    health.Error,
	})
}

// readinessHandler returns readiness status.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.health.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort log; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
