package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/productaiseo/backend-ai-seo/internal/analysis"
	"github.com/productaiseo/backend-ai-seo/internal/clock/system"
)

// JobStore is an in-memory analysis.JobStore for development and tests.
// Within one run a job's status never moves to a lower phase; a write with
// ResetResults starts a new run.
type JobStore struct {
	mu      sync.RWMutex
	clock   analysis.Clock
	jobs    map[string]analysis.Job
	events  map[string][]analysis.JobEvent
	reports map[string]analysis.Report
	queries map[string]analysis.QueryStatus
}

// NewJobStore constructs a JobStore. A nil clock uses UTC wall time.
func NewJobStore(clock analysis.Clock) *JobStore {
	if clock == nil {
		clock = system.New()
	}
	return &JobStore{
		clock:   clock,
		jobs:    make(map[string]analysis.Job),
		events:  make(map[string][]analysis.JobEvent),
		reports: make(map[string]analysis.Report),
		queries: make(map[string]analysis.QueryStatus),
	}
}

var _ analysis.JobStore = (*JobStore)(nil)

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, id string) (analysis.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return analysis.Job{}, fmt.Errorf("job %s: %w", id, analysis.ErrNotFound)
	}
	return cloneJob(job), nil
}

// UpsertJob merges update into the job, creating it when absent.
func (s *JobStore) UpsertJob(_ context.Context, id string, update analysis.JobUpdate) error {
	if id == "" {
		return fmt.Errorf("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, exists := s.jobs[id]
	if !exists {
		job = analysis.Job{ID: id}
	}
	if exists && !update.ResetResults && update.Status != nil && update.Status.Rank() < job.Status.Rank() {
		update.Status = nil
	}
	update.Apply(&job, s.clock.Now())
	s.jobs[id] = job
	return nil
}

// AppendEvent adds the inline event and the standalone record.
func (s *JobStore) AppendEvent(_ context.Context, jobID string, in analysis.EventInput) error {
	if err := in.Validate(); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("append event to %s: %w", jobID, analysis.ErrNotFound)
	}
	now := s.clock.Now()
	inline, standalone := analysis.NewEvents(jobID, in, now)
	job.Events = append(job.Events, inline)
	job.UpdatedAt = now
	s.jobs[jobID] = job
	s.events[jobID] = append(s.events[jobID], standalone)
	return nil
}

// ListEvents returns the standalone events for a job in append order.
func (s *JobStore) ListEvents(_ context.Context, jobID string) ([]analysis.JobEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events[jobID]), nil
}

// UpsertReport stores the snapshot keyed by job ID.
func (s *JobStore) UpsertReport(_ context.Context, report analysis.Report) error {
	if report.JobID == "" {
		return fmt.Errorf("report job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.reports[report.JobID]; ok && !prev.CreatedAt.IsZero() {
		report.CreatedAt = prev.CreatedAt
	}
	s.reports[report.JobID] = report
	return nil
}

// GetReport fetches the snapshot for a job.
func (s *JobStore) GetReport(_ context.Context, jobID string) (analysis.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[jobID]
	if !ok {
		return analysis.Report{}, fmt.Errorf("report %s: %w", jobID, analysis.ErrNotFound)
	}
	return report, nil
}

// UpsertQueryStatus mirrors status onto a query reference. Empty IDs are ignored.
func (s *JobStore) UpsertQueryStatus(_ context.Context, queryID string, status analysis.Status) error {
	if queryID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries[queryID] = analysis.QueryStatus{ID: queryID, Status: status, UpdatedAt: s.clock.Now()}
	return nil
}

// QueryStatus returns the mirrored status for a query reference.
func (s *JobStore) QueryStatus(queryID string) (analysis.QueryStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queries[queryID]
	return q, ok
}

// FindRecentByHost returns the newest job for host created at or after since.
func (s *JobStore) FindRecentByHost(_ context.Context, host string, since time.Time) (analysis.Job, error) {
	if host == "" {
		return analysis.Job{}, fmt.Errorf("host %q: %w", host, analysis.ErrNotFound)
	}
	variants := analysis.HostVariants(host)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  analysis.Job
		found bool
	)
	for _, job := range s.jobs {
		if job.CreatedAt.Before(since) {
			continue
		}
		if job.URLHost != host && !slices.Contains(variants, job.URL) {
			continue
		}
		if !found || job.CreatedAt.After(best.CreatedAt) {
			best, found = job, true
		}
	}
	if !found {
		return analysis.Job{}, fmt.Errorf("host %s: %w", host, analysis.ErrNotFound)
	}
	return cloneJob(best), nil
}

func cloneJob(job analysis.Job) analysis.Job {
	job.Events = slices.Clone(job.Events)
	job.TopQueries = slices.Clone(job.TopQueries)
	return job
}
