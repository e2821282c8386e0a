// Package analyses accepts analysis requests. It normalizes input, reuses a
// recent job for the same host, re-runs jobs on demand and hands new work to
// the queue.
package analyses

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/productaiseo/backend-ai-seo/internal/analysis"
	"github.com/productaiseo/backend-ai-seo/internal/clock/system"
	"github.com/productaiseo/backend-ai-seo/internal/id/uuid"
	"github.com/productaiseo/backend-ai-seo/internal/metrics"
)

const (
	// DefaultLocale is used when a request names none.
	DefaultLocale = "en"
	// DefaultUserID owns anonymous requests.
	DefaultUserID = "public"
	// DefaultDedupWindow bounds how old a reusable job may be.
	DefaultDedupWindow = 24 * time.Hour
)

// ErrInvalidRequest marks requests rejected before any write.
var ErrInvalidRequest = errors.New("invalid analysis request")

// Enqueuer hands a job to the workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, item analysis.QueueItem) error
}

// Request is an analysis submission.
type Request struct {
	URL        string
	Domain     string
	Locale     string
	UserID     string
	QueryID    string
	JobID      string
	TopQueries []analysis.TopQuery
}

// Result identifies the job answering a request.
type Result struct {
	JobID   string
	Status  analysis.Status
	Deduped bool
}

// Config tunes deduplication.
type Config struct {
	DedupWindow time.Duration
}

// Service starts and looks up analyses.
type Service struct {
	store  analysis.JobStore
	queue  Enqueuer
	ids    analysis.IDGenerator
	clock  analysis.Clock
	window time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

// New builds a Service. Nil ids and clock select UUIDv7 and wall time.
func New(
	store analysis.JobStore,
	queue Enqueuer,
	ids analysis.IDGenerator,
	clock analysis.Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if ids == nil {
		ids = uuid.New()
	}
	if clock == nil {
		clock = system.New()
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		queue:  queue,
		ids:    ids,
		clock:  clock,
		window: cfg.DedupWindow,
		logger: logger.Named("analyses"),
	}
}

type normalized struct {
	url     string
	host    string
	locale  string
	userID  string
	queryID string
	top     []analysis.TopQuery
}

func normalize(req Request) (normalized, error) {
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		raw = strings.TrimSpace(req.Domain)
	}
	if raw == "" {
		return normalized{}, fmt.Errorf("%w: url or domain is required", ErrInvalidRequest)
	}
	url, err := analysis.NormalizeURL(raw)
	if err != nil {
		return normalized{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	n := normalized{
		url:     url,
		host:    analysis.HostOf(url),
		locale:  strings.TrimSpace(req.Locale),
		userID:  strings.TrimSpace(req.UserID),
		queryID: strings.TrimSpace(req.QueryID),
		top:     req.TopQueries,
	}
	if n.locale == "" {
		n.locale = DefaultLocale
	}
	if n.userID == "" {
		n.userID = DefaultUserID
	}
	return n, nil
}

// Start resolves req to a job. A JobID re-runs that job; otherwise a recent
// non-failed job for the same host is reused, or a new one is created.
func (s *Service) Start(ctx context.Context, req Request) (Result, error) {
	n, err := normalize(req)
	if err != nil {
		return Result{}, err
	}
	if id := strings.TrimSpace(req.JobID); id != "" {
		v, err, _ := s.group.Do("job:"+id, func() (any, error) {
			return s.rerun(ctx, id, n)
		})
		if err != nil {
			return Result{}, err
		}
		return v.(Result), nil
	}

	v, err, shared := s.group.Do(n.host, func() (any, error) {
		return s.startFresh(ctx, n)
	})
	if err != nil {
		return Result{}, err
	}
	res := v.(Result)
	if shared {
		s.logger.Debug("joined in-flight start", zap.String("host", n.host), zap.String("job_id", res.JobID))
	}
	return res, nil
}

func (s *Service) startFresh(ctx context.Context, n normalized) (Result, error) {
	since := s.clock.Now().Add(-s.window)
	existing, err := s.store.FindRecentByHost(ctx, n.host, since)
	switch {
	case err == nil && existing.Status != analysis.StatusFailed:
		metrics.ObserveDedupHit()
		s.logger.Info("reusing recent analysis",
			zap.String("host", n.host),
			zap.String("job_id", existing.ID),
			zap.String("status", string(existing.Status)))
		if existing.Status == analysis.StatusCompleted {
			if err := s.store.UpsertQueryStatus(ctx, n.queryID, analysis.StatusCompleted); err != nil {
				s.logger.Warn("mirror query status", zap.String("query_id", n.queryID), zap.Error(err))
			}
		}
		return Result{JobID: existing.ID, Status: existing.Status, Deduped: true}, nil
	case err != nil && !errors.Is(err, analysis.ErrNotFound):
		return Result{}, fmt.Errorf("find recent job for %s: %w", n.host, err)
	}

	id, err := s.ids.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("new job id: %w", err)
	}
	now := s.clock.Now()
	if err := s.store.UpsertJob(ctx, id, analysis.JobUpdate{
		QueryID:    optional(n.queryID),
		UserID:     analysis.Ptr(n.userID),
		URL:        analysis.Ptr(n.url),
		URLHost:    analysis.Ptr(n.host),
		Locale:     analysis.Ptr(n.locale),
		Status:     analysis.Ptr(analysis.StatusProcessingScrape),
		TopQueries: n.top,
		CreatedAt:  &now,
	}); err != nil {
		return Result{}, fmt.Errorf("create job: %w", err)
	}
	if err := s.enqueue(ctx, id); err != nil {
		return Result{}, err
	}
	s.logger.Info("analysis queued", zap.String("job_id", id), zap.String("url", n.url))
	return Result{JobID: id, Status: analysis.StatusProcessingScrape}, nil
}

// rerun resets and re-queues a finished job. A job still running joins the
// current run instead, unless it has not moved for a whole dedup window.
func (s *Service) rerun(ctx context.Context, id string, n normalized) (Result, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("load job %s: %w", id, err)
	}
	if !job.Status.Terminal() && s.clock.Now().Sub(job.UpdatedAt) < s.window {
		s.logger.Info("rerun joined in-flight analysis",
			zap.String("job_id", id),
			zap.String("status", string(job.Status)))
		return Result{JobID: id, Status: job.Status, Deduped: true}, nil
	}
	if err := s.store.UpsertJob(ctx, id, analysis.JobUpdate{
		QueryID:      optional(n.queryID),
		UserID:       analysis.Ptr(n.userID),
		URL:          analysis.Ptr(n.url),
		URLHost:      analysis.Ptr(n.host),
		Locale:       analysis.Ptr(n.locale),
		Status:       analysis.Ptr(analysis.StatusProcessingScrape),
		TopQueries:   n.top,
		ResetResults: true,
	}); err != nil {
		return Result{}, fmt.Errorf("reset job %s: %w", id, err)
	}
	if err := s.enqueue(ctx, id); err != nil {
		return Result{}, err
	}
	s.logger.Info("analysis re-queued", zap.String("job_id", id))
	return Result{JobID: id, Status: analysis.StatusProcessingScrape}, nil
}

// enqueue marks the job FAILED when the queue refuses it, so dedup never
// hands out a job nobody will run.
func (s *Service) enqueue(ctx context.Context, id string) error {
	err := s.queue.Enqueue(ctx, analysis.QueueItem{JobID: id})
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf("enqueue failed: %v", err)
	if uerr := s.store.UpsertJob(context.WithoutCancel(ctx), id, analysis.JobUpdate{
		Status: analysis.Ptr(analysis.StatusFailed),
		Error:  analysis.Ptr(msg),
	}); uerr != nil {
		s.logger.Error("mark unqueued job failed", zap.String("job_id", id), zap.Error(uerr))
	}
	return fmt.Errorf("enqueue job %s: %w", id, err)
}

// Job returns the job with id.
func (s *Service) Job(ctx context.Context, id string) (analysis.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return analysis.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Events returns the standalone event log of a job.
func (s *Service) Events(ctx context.Context, id string) ([]analysis.JobEvent, error) {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	events, err := s.store.ListEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// Report returns the completion snapshot of a job.
func (s *Service) Report(ctx context.Context, id string) (analysis.Report, error) {
	report, err := s.store.GetReport(ctx, id)
	if err != nil {
		return analysis.Report{}, fmt.Errorf("get report: %w", err)
	}
	return report, nil
}

// RecentByDomain returns the newest job for domain inside the dedup window.
func (s *Service) RecentByDomain(ctx context.Context, domain string) (analysis.Job, error) {
	host := analysis.HostOf(domain)
	if host == "" {
		return analysis.Job{}, fmt.Errorf("%w: domain is required", ErrInvalidRequest)
	}
	job, err := s.store.FindRecentByHost(ctx, host, s.clock.Now().Add(-s.window))
	if err != nil {
		return analysis.Job{}, fmt.Errorf("find recent job: %w", err)
	}
	return job, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
