// Package daemon serves the content, progress and tutoring workflows
// over HTTP.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/aula/internal/config"
	"github.com/felixgeelhaar/aula/internal/content"
	"github.com/felixgeelhaar/aula/internal/metrics"
	"github.com/felixgeelhaar/aula/internal/progress"
	"github.com/felixgeelhaar/aula/internal/tutor"
)

// Version is reported by the status endpoint
var Version = "0.1.0"

// TutorService runs tutoring turns
type TutorService interface {
	Turn(ctx context.Context, req tutor.TurnRequest) (*tutor.TurnResult, error)
}

// Services are the workflows the server exposes
type Services struct {
	Content   content.ContentService
	Progress  progress.ProgressService
	Tutor     TutorService
	Providers func() []string // registered LLM provider names
}

// Server represents the aula daemon HTTP server
type Server struct {
	cfg    *config.Config
	server *http.Server
	router *http.ServeMux

	content   content.ContentService
	progress  progress.ProgressService
	tutor     TutorService
	providers func() []string
	limiter   *rateLimiter
	started   time.Time
}

// NewServer creates a new daemon server
func NewServer(cfg *config.Config, svc Services) *Server {
	s := &Server{
		cfg:       cfg,
		router:    http.NewServeMux(),
		content:   svc.Content,
		progress:  svc.Progress,
		tutor:     svc.Tutor,
		providers: svc.Providers,
		limiter:   newRateLimiter(cfg.Daemon.ModelRequestsPerMinute, cfg.Daemon.ModelBurst, cfg.Daemon.TrustedProxies),
		started:   time.Now(),
	}
	if s.providers == nil {
		s.providers = func() []string { return nil }
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.Daemon.Bind, cfg.Daemon.Port),
		Handler: chain(s.router,
			correlationIDMiddleware,
			recoveryMiddleware,
			loggingMiddleware,
			limitBodyMiddleware,
		),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 180 * time.Second, // generation and grading wait on the LLM
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health, status & metrics
	s.router.HandleFunc("GET /v1/health", s.handleHealth)
	s.router.HandleFunc("GET /v1/status", s.handleStatus)
	s.router.Handle("GET /metrics", metrics.Handler())

	// Content generation workflow
	s.router.HandleFunc("GET /v1/instances/{id}", s.handleGetInstance)
	s.router.HandleFunc("POST /v1/instances/{id}/generate", s.limiter.wrap(s.handleGenerate))
	s.router.HandleFunc("POST /v1/instances/{id}/publish", s.handlePublish)
	s.router.HandleFunc("POST /v1/instances/{id}/unpublish", s.handleUnpublish)
	s.router.HandleFunc("PUT /v1/instances/{id}/draft", s.handleEditDraft)

	// Student progress
	s.router.HandleFunc("GET /v1/progress", s.handleGetProgress)
	s.router.HandleFunc("POST /v1/progress/start", s.handleStart)
	s.router.HandleFunc("POST /v1/progress/save", s.handleSave)
	s.router.HandleFunc("POST /v1/progress/submit", s.limiter.wrap(s.handleSubmit))
	s.router.HandleFunc("POST /v1/progress/complete", s.handleComplete)

	// Instructor review
	s.router.HandleFunc("GET /v1/cohorts/{id}/pending", s.handleListPending)
	s.router.HandleFunc("GET /v1/submissions/{id}", s.handleGetSubmission)
	s.router.HandleFunc("POST /v1/submissions/{id}/grade", s.handleGrade)
	s.router.HandleFunc("POST /v1/submissions/{id}/iterate", s.handleRequestIteration)

	// Tutoring
	s.router.HandleFunc("POST /v1/tutor/turn", s.limiter.wrap(s.handleTurn))
}

// Handler returns the full middleware-wrapped handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting aula daemon",
		"addr", s.server.Addr,
		"storage", s.cfg.Storage.Driver,
		"llm_providers", s.providers(),
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down daemon...")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "running",
		"version":        Version,
		"storage":        s.cfg.Storage.Driver,
		"llm_providers":  s.providers(),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"event_queue":    s.cfg.Events.RabbitMQURL != "",
		"event_log":      s.cfg.Events.EventLogURL != "",
	})
}
