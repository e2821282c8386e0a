package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/productaiseo/backend-ai-seo/internal/analyses"
	"github.com/productaiseo/backend-ai-seo/internal/analysis"
)

const maxBodyBytes = 1 << 20

type startRequest struct {
	URL        string              `json:"url"`
	Domain     string              `json:"domain"`
	Locale     string              `json:"locale"`
	UserID     string              `json:"userId"`
	QueryID    string              `json:"queryId"`
	JobID      string              `json:"jobId"`
	TopQueries []analysis.TopQuery `json:"topQueries"`
}

type startResponse struct {
	JobID  string          `json:"jobId"`
	Status analysis.Status `json:"status"`
}

func (s *Server) startAnalysis(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res, err := s.analyses.Start(r.Context(), analyses.Request{
		URL:        req.URL,
		Domain:     req.Domain,
		Locale:     req.Locale,
		UserID:     req.UserID,
		QueryID:    req.QueryID,
		JobID:      req.JobID,
		TopQueries: req.TopQueries,
	})
	switch {
	case errors.Is(err, analyses.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, analysis.ErrNotFound):
		writeError(w, http.StatusNotFound, "Job not found")
		return
	case err != nil:
		s.logger.Error("start analysis failed", zap.String("request_id", RequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start analysis")
		return
	}
	status := http.StatusAccepted
	if res.Status == analysis.StatusCompleted {
		status = http.StatusOK
	}
	writeJSON(w, status, startResponse{JobID: res.JobID, Status: res.Status})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.analyses.Job(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, analysis.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Job not found", "status": "NOT_FOUND"})
			return
		}
		s.internalError(w, r, "get job status", err)
		return
	}
	switch job.Status {
	case analysis.StatusCompleted:
		writeJSON(w, http.StatusOK, map[string]any{"status": job.Status, "job": job})
	case analysis.StatusFailed:
		msg := job.Error
		if msg == "" {
			msg = "Analysis failed"
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": job.Status, "error": msg})
	default:
		body := map[string]any{"status": job.Status, "jobId": job.ID}
		if job.Error != "" {
			body["error"] = job.Error
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func (s *Server) getJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	events, err := s.analyses.Events(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, analysis.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		s.internalError(w, r, "list job events", err)
		return
	}
	if events == nil {
		events = []analysis.JobEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobId": jobID, "events": events})
}

func (s *Server) getJobReport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	report, err := s.analyses.Report(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, analysis.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Report not found")
			return
		}
		s.internalError(w, r, "get job report", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) getReportByDomain(w http.ResponseWriter, r *http.Request) {
	domain := strings.TrimSpace(chi.URLParam(r, "domain"))
	if domain == "" {
		writeError(w, http.StatusBadRequest, "Domain is required")
		return
	}
	job, err := s.analyses.RecentByDomain(r.Context(), domain)
	switch {
	case errors.Is(err, analyses.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "Domain is required")
		return
	case errors.Is(err, analysis.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
		return
	case err != nil:
		s.internalError(w, r, "find report by domain", err)
		return
	}
	if job.Status != analysis.StatusCompleted {
		writeJSON(w, http.StatusOK, map[string]any{"status": job.Status, "jobId": job.ID})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": job.Status, "job": job})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.Error(op+" failed", zap.String("request_id", RequestID(r.Context())), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}
