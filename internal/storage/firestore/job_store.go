// Package firestore provides a Cloud Firestore analysis.JobStore.
package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/productaiseo/backend-ai-seo/internal/analysis"
	"github.com/productaiseo/backend-ai-seo/internal/clock/system"
)

// Config names the project and collections used by the store.
type Config struct {
	ProjectID string
	Jobs      string
	Events    string
	Reports   string
	Queries   string
}

func (c Config) withDefaults() Config {
	if c.Jobs == "" {
		c.Jobs = "jobs"
	}
	if c.Events == "" {
		c.Events = "job_events"
	}
	if c.Reports == "" {
		c.Reports = "reports"
	}
	if c.Queries == "" {
		c.Queries = "queries"
	}
	return c
}

// jobDoc keeps lookup fields top-level and the aggregate as JSON, since the
// report sections do not map cleanly onto Firestore values.
type jobDoc struct {
	ID        string    `firestore:"id"`
	URL       string    `firestore:"url"`
	URLHost   string    `firestore:"urlHost"`
	Status    string    `firestore:"status"`
	Body      string    `firestore:"body"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type eventDoc struct {
	JobID  string            `firestore:"jobId"`
	Step   string            `firestore:"step"`
	Status string            `firestore:"status"`
	Meta   map[string]string `firestore:"meta,omitempty"`
	TS     time.Time         `firestore:"ts"`
}

type reportDoc struct {
	JobID     string    `firestore:"jobId"`
	Body      string    `firestore:"body"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// JobStore implements analysis.JobStore on Firestore.
type JobStore struct {
	client *firestore.Client
	cfg    Config
	clock  analysis.Clock
	logger *zap.Logger
}

var _ analysis.JobStore = (*JobStore)(nil)

// NewClient creates a Firestore client for the given project ID.
func NewClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("firestore.project_id is required")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	return client, nil
}

// NewJobStore wraps an existing client.
func NewJobStore(client *firestore.Client, cfg Config, clock analysis.Clock, logger *zap.Logger) (*JobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobStore{client: client, cfg: cfg.withDefaults(), clock: clock, logger: logger.Named("firestore_job_store")}, nil
}

// Close releases the client.
func (s *JobStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close firestore client: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, id string) (analysis.Job, error) {
	snap, err := s.client.Collection(s.cfg.Jobs).Doc(id).Get(ctx)
	if err != nil {
		return analysis.Job{}, fmt.Errorf("get job %s: %w", id, mapErr(err))
	}
	return decodeJob(snap)
}

// UpsertJob merges update into the job inside a transaction.
func (s *JobStore) UpsertJob(ctx context.Context, id string, update analysis.JobUpdate) error {
	if id == "" {
		return fmt.Errorf("job id is required")
	}
	ref := s.client.Collection(s.cfg.Jobs).Doc(id)
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		u := update
		job := analysis.Job{ID: id}
		snap, err := tx.Get(ref)
		exists := err == nil
		switch {
		case exists:
			if job, err = decodeJob(snap); err != nil {
				return err
			}
		case status.Code(err) != codes.NotFound:
			return fmt.Errorf("load job %s: %w", id, err)
		}
		if exists && !u.ResetResults && u.Status != nil && u.Status.Rank() < job.Status.Rank() {
			u.Status = nil
		}
		u.Apply(&job, s.clock.Now())
		doc, err := encodeJob(job)
		if err != nil {
			return err
		}
		return tx.Set(ref, doc)
	})
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", id, err)
	}
	return nil
}

// AppendEvent appends the inline event, then creates the standalone record.
// A failed standalone write is logged and does not fail the call.
func (s *JobStore) AppendEvent(ctx context.Context, jobID string, in analysis.EventInput) error {
	if err := in.Validate(); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	now := s.clock.Now()
	inline, standalone := analysis.NewEvents(jobID, in, now)
	ref := s.client.Collection(s.cfg.Jobs).Doc(jobID)
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return mapErr(err)
		}
		job, err := decodeJob(snap)
		if err != nil {
			return err
		}
		job.Events = append(job.Events, inline)
		job.UpdatedAt = now
		doc, err := encodeJob(job)
		if err != nil {
			return err
		}
		return tx.Set(ref, doc)
	})
	if err != nil {
		return fmt.Errorf("append event to %s: %w", jobID, err)
	}

	doc := eventDoc{
		JobID:  jobID,
		Step:   string(standalone.Step),
		Status: string(standalone.Status),
		Meta:   standalone.Meta,
		TS:     standalone.TS,
	}
	_, err = s.client.Collection(s.cfg.Events).Doc(eventID(standalone)).Create(ctx, doc)
	if err != nil && status.Code(err) != codes.AlreadyExists {
		s.logger.Warn("standalone event write failed",
			zap.String("job_id", jobID),
			zap.String("step", string(in.Step)),
			zap.String("status", string(in.Status)),
			zap.Error(err),
		)
	}
	return nil
}

// ListEvents returns the standalone events for a job in append order.
func (s *JobStore) ListEvents(ctx context.Context, jobID string) ([]analysis.JobEvent, error) {
	iter := s.client.Collection(s.cfg.Events).
		Where("jobId", "==", jobID).
		OrderBy("ts", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var events []analysis.JobEvent
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list events %s: %w", jobID, err)
		}
		var doc eventDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", snap.Ref.ID, err)
		}
		events = append(events, analysis.JobEvent{
			JobID:  doc.JobID,
			Step:   analysis.Step(doc.Step),
			Status: analysis.EventStatus(doc.Status),
			Meta:   doc.Meta,
			TS:     doc.TS.UTC(),
		})
	}
	return events, nil
}

// UpsertReport stores the snapshot keyed by job ID. The first CreatedAt wins.
func (s *JobStore) UpsertReport(ctx context.Context, report analysis.Report) error {
	if report.JobID == "" {
		return fmt.Errorf("report job id is required")
	}
	ref := s.client.Collection(s.cfg.Reports).Doc(report.JobID)
	now := s.clock.Now()
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var prev reportDoc
			if err := snap.DataTo(&prev); err != nil {
				return fmt.Errorf("decode report: %w", err)
			}
			if !prev.CreatedAt.IsZero() {
				report.CreatedAt = prev.CreatedAt.UTC()
			}
		case status.Code(err) != codes.NotFound:
			return err
		}
		if report.CreatedAt.IsZero() {
			report.CreatedAt = now
		}
		if report.UpdatedAt.IsZero() {
			report.UpdatedAt = now
		}
		body, err := json.Marshal(report)
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		return tx.Set(ref, reportDoc{JobID: report.JobID, Body: string(body), CreatedAt: report.CreatedAt, UpdatedAt: report.UpdatedAt})
	})
	if err != nil {
		return fmt.Errorf("upsert report %s: %w", report.JobID, err)
	}
	return nil
}

// GetReport fetches the snapshot for a job.
func (s *JobStore) GetReport(ctx context.Context, jobID string) (analysis.Report, error) {
	snap, err := s.client.Collection(s.cfg.Reports).Doc(jobID).Get(ctx)
	if err != nil {
		return analysis.Report{}, fmt.Errorf("report %s: %w", jobID, mapErr(err))
	}
	var doc reportDoc
	if err := snap.DataTo(&doc); err != nil {
		return analysis.Report{}, fmt.Errorf("decode report %s: %w", jobID, err)
	}
	var report analysis.Report
	if err := json.Unmarshal([]byte(doc.Body), &report); err != nil {
		return analysis.Report{}, fmt.Errorf("decode report %s: %w", jobID, err)
	}
	return report, nil
}

// UpsertQueryStatus mirrors status onto a query reference. Empty IDs are ignored.
func (s *JobStore) UpsertQueryStatus(ctx context.Context, queryID string, st analysis.Status) error {
	if queryID == "" {
		return nil
	}
	_, err := s.client.Collection(s.cfg.Queries).Doc(queryID).Set(ctx, map[string]any{
		"status":    string(st),
		"updatedAt": s.clock.Now(),
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("upsert query status %s: %w", queryID, err)
	}
	return nil
}

// FindRecentByHost returns the newest job for host created at or after since.
// Jobs written before urlHost existed are matched on their URL.
func (s *JobStore) FindRecentByHost(ctx context.Context, host string, since time.Time) (analysis.Job, error) {
	if host == "" {
		return analysis.Job{}, fmt.Errorf("host %q: %w", host, analysis.ErrNotFound)
	}
	jobs := s.client.Collection(s.cfg.Jobs)
	queries := []firestore.Query{
		jobs.Where("urlHost", "==", host),
		jobs.Where("url", "in", analysis.HostVariants(host)),
	}
	var (
		best  analysis.Job
		found bool
	)
	for _, q := range queries {
		job, ok, err := s.newest(ctx, q.Where("createdAt", ">=", since))
		if err != nil {
			return analysis.Job{}, fmt.Errorf("find recent job for %s: %w", host, err)
		}
		if ok && (!found || job.CreatedAt.After(best.CreatedAt)) {
			best, found = job, true
		}
	}
	if !found {
		return analysis.Job{}, fmt.Errorf("host %s: %w", host, analysis.ErrNotFound)
	}
	return best, nil
}

func (s *JobStore) newest(ctx context.Context, q firestore.Query) (analysis.Job, bool, error) {
	iter := q.OrderBy("createdAt", firestore.Desc).Limit(1).Documents(ctx)
	defer iter.Stop()
	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return analysis.Job{}, false, nil
	}
	if err != nil {
		return analysis.Job{}, false, err
	}
	job, err := decodeJob(snap)
	if err != nil {
		return analysis.Job{}, false, err
	}
	return job, true, nil
}

func eventID(e analysis.JobEvent) string {
	return fmt.Sprintf("%s_%s_%s_%d", e.JobID, e.Step, e.Status, e.TS.UnixNano())
}

func encodeJob(job analysis.Job) (jobDoc, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return jobDoc{}, fmt.Errorf("marshal job: %w", err)
	}
	return jobDoc{
		ID:        job.ID,
		URL:       job.URL,
		URLHost:   job.URLHost,
		Status:    string(job.Status),
		Body:      string(body),
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}, nil
}

func decodeJob(snap *firestore.DocumentSnapshot) (analysis.Job, error) {
	var doc jobDoc
	if err := snap.DataTo(&doc); err != nil {
		return analysis.Job{}, fmt.Errorf("decode job %s: %w", snap.Ref.ID, err)
	}
	var job analysis.Job
	if err := json.Unmarshal([]byte(doc.Body), &job); err != nil {
		return analysis.Job{}, fmt.Errorf("decode job %s: %w", snap.Ref.ID, err)
	}
	return job, nil
}

func mapErr(err error) error {
	if status.Code(err) == codes.NotFound {
		return analysis.ErrNotFound
	}
	return err
}
