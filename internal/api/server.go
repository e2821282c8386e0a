package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/productaiseo/backend-ai-seo/internal/analyses"
	"github.com/productaiseo/backend-ai-seo/internal/analysis"
	"github.com/productaiseo/backend-ai-seo/internal/metrics"
)

const defaultRequestTimeout = 60 * time.Second

// Analyses is the application surface the handlers call.
type Analyses interface {
	Start(ctx context.Context, req analyses.Request) (analyses.Result, error)
	Job(ctx context.Context, id string) (analysis.Job, error)
	Events(ctx context.Context, id string) ([]analysis.JobEvent, error)
	Report(ctx context.Context, id string) (analysis.Report, error)
	RecentByDomain(ctx context.Context, domain string) (analysis.Job, error)
}

// Config controls middleware behavior.
type Config struct {
	RequestTimeout time.Duration
	AuthEnabled    bool
	APIKey         string
	// Ready reports downstream readiness for /readyz. Nil means always ready.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the analyses service.
type Server struct {
	router   chi.Router
	analyses Analyses
	cfg      Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc Analyses, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		analyses: svc,
		cfg:      cfg,
		logger:   logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Post("/analyses", s.startAnalysis)
		r.Route("/jobs/{job_id}", func(r chi.Router) {
			r.Use(noStore)
			r.Get("/status", s.getJobStatus)
			r.Get("/events", s.getJobEvents)
			r.Get("/report", s.getJobReport)
		})
		r.With(noStore).Get("/reports/{domain}", s.getReportByDomain)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ready != nil {
		if err := s.cfg.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
