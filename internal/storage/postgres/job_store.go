// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/productaiseo/backend-ai-seo/internal/analysis"
	"github.com/productaiseo/backend-ai-seo/internal/clock/system"
)

// Config controls the Postgres connection pool used by the job store.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	Migrate         bool
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Ping(context.Context) error
	Close()
}

const (
	selectJob = `SELECT body FROM jobs WHERE id = $1`

	selectJobForUpdate = selectJob + ` FOR UPDATE`

	// claimJob inserts a placeholder so that concurrent first writes
	// serialize on the row lock instead of racing on INSERT.
	claimJob = `
INSERT INTO jobs (id, status, body, created_at, updated_at)
VALUES ($1, '', '{}', $2, $2)
ON CONFLICT (id) DO NOTHING`

	upsertJob = `
INSERT INTO jobs (id, url, url_host, status, body, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	url = EXCLUDED.url,
	url_host = EXCLUDED.url_host,
	status = EXCLUDED.status,
	body = EXCLUDED.body,
	updated_at = EXCLUDED.updated_at`

	insertEvent = `
INSERT INTO job_events (job_id, step, status, meta, ts)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (job_id, step, status, ts) DO NOTHING`

	selectEvents = `
SELECT job_id, step, status, meta, ts FROM job_events
WHERE job_id = $1
ORDER BY ts, seq`

	upsertReport = `
INSERT INTO reports (job_id, body, created_at, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (job_id) DO UPDATE SET
	body = EXCLUDED.body,
	updated_at = EXCLUDED.updated_at`

	selectReport = `SELECT body, created_at FROM reports WHERE job_id = $1`

	upsertQuery = `
INSERT INTO queries (id, status, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	updated_at = EXCLUDED.updated_at`

	selectRecentByHost = `
SELECT body FROM jobs
WHERE created_at >= $1 AND (url_host = $2 OR url = ANY($3))
ORDER BY created_at DESC
LIMIT 1`
)

// JobStore implements analysis.JobStore on Postgres. The job aggregate is
// stored as JSONB next to the columns used for lookups.
type JobStore struct {
	pool   pool
	clock  analysis.Clock
	logger *zap.Logger
}

var _ analysis.JobStore = (*JobStore)(nil)

// NewJobStore connects to Postgres and optionally applies migrations.
func NewJobStore(ctx context.Context, cfg Config, clock analysis.Clock, logger *zap.Logger) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if cfg.Migrate {
		if err := Migrate(ctx, p); err != nil {
			p.Close()
			return nil, err
		}
	}
	return NewJobStoreWithPool(p, clock, logger)
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(p pool, clock analysis.Clock, logger *zap.Logger) (*JobStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobStore{pool: p, clock: clock, logger: logger.Named("postgres_job_store")}, nil
}

// Ping checks that the database answers.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, id string) (analysis.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, selectJob, id))
	if err != nil {
		return analysis.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// UpsertJob merges update into the stored job inside a row-locking
// transaction. An absent row is claimed first, so the lock holds for new
// jobs too.
func (s *JobStore) UpsertJob(ctx context.Context, id string, update analysis.JobUpdate) error {
	if id == "" {
		return fmt.Errorf("job id is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert job: %w", err)
	}
	tag, err := tx.Exec(ctx, claimJob, id, s.clock.Now())
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("claim job %s: %w", id, err)
	}
	job := analysis.Job{ID: id}
	exists := tag.RowsAffected() == 0
	if exists {
		if job, err = scanJob(tx.QueryRow(ctx, selectJobForUpdate, id)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("load job %s: %w", id, err)
		}
	}
	if exists && !update.ResetResults && update.Status != nil && update.Status.Rank() < job.Status.Rank() {
		update.Status = nil
	}
	update.Apply(&job, s.clock.Now())
	if err := writeJob(ctx, tx, job); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert job %s: %w", id, err)
	}
	return nil
}

// AppendEvent appends the inline event, then writes the standalone record.
// A failed standalone write is logged and does not fail the call.
func (s *JobStore) AppendEvent(ctx context.Context, jobID string, in analysis.EventInput) error {
	if err := in.Validate(); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append event: %w", err)
	}
	job, err := scanJob(tx.QueryRow(ctx, selectJobForUpdate, jobID))
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("append event to %s: %w", jobID, err)
	}
	now := s.clock.Now()
	inline, standalone := analysis.NewEvents(jobID, in, now)
	job.Events = append(job.Events, inline)
	job.UpdatedAt = now
	if err := writeJob(ctx, tx, job); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append event %s: %w", jobID, err)
	}

	var meta []byte
	if len(standalone.Meta) > 0 {
		if meta, err = json.Marshal(standalone.Meta); err != nil {
			return fmt.Errorf("marshal event meta: %w", err)
		}
	}
	if _, err := s.pool.Exec(ctx, insertEvent, jobID, string(in.Step), string(in.Status), meta, now); err != nil {
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
	rows, err := s.pool.Query(ctx, selectEvents, jobID)
	if err != nil {
		return nil, fmt.Errorf("list events %s: %w", jobID, err)
	}
	defer rows.Close()

	var events []analysis.JobEvent
	for rows.Next() {
		var (
			id, step, status string
			meta             []byte
			ts               time.Time
		)
		if err := rows.Scan(&id, &step, &status, &meta, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event := analysis.JobEvent{
			JobID:  id,
			Step:   analysis.Step(step),
			Status: analysis.EventStatus(status),
			TS:     ts.UTC(),
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &event.Meta); err != nil {
				return nil, fmt.Errorf("decode event meta: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// UpsertReport stores the snapshot keyed by job ID. The first CreatedAt wins.
func (s *JobStore) UpsertReport(ctx context.Context, report analysis.Report) error {
	if report.JobID == "" {
		return fmt.Errorf("report job id is required")
	}
	now := s.clock.Now()
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
	if _, err := s.pool.Exec(ctx, upsertReport, report.JobID, body, report.CreatedAt, report.UpdatedAt); err != nil {
		return fmt.Errorf("upsert report %s: %w", report.JobID, err)
	}
	return nil
}

// GetReport fetches the snapshot for a job.
func (s *JobStore) GetReport(ctx context.Context, jobID string) (analysis.Report, error) {
	var (
		body      []byte
		createdAt time.Time
	)
	if err := s.pool.QueryRow(ctx, selectReport, jobID).Scan(&body, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return analysis.Report{}, fmt.Errorf("report %s: %w", jobID, analysis.ErrNotFound)
		}
		return analysis.Report{}, fmt.Errorf("get report %s: %w", jobID, err)
	}
	var report analysis.Report
	if err := json.Unmarshal(body, &report); err != nil {
		return analysis.Report{}, fmt.Errorf("decode report %s: %w", jobID, err)
	}
	report.CreatedAt = createdAt.UTC()
	return report, nil
}

// UpsertQueryStatus mirrors status onto a query reference. Empty IDs are ignored.
func (s *JobStore) UpsertQueryStatus(ctx context.Context, queryID string, status analysis.Status) error {
	if queryID == "" {
		return nil
	}
	if _, err := s.pool.Exec(ctx, upsertQuery, queryID, string(status), s.clock.Now()); err != nil {
		return fmt.Errorf("upsert query status %s: %w", queryID, err)
	}
	return nil
}

// FindRecentByHost returns the newest job for host created at or after since.
func (s *JobStore) FindRecentByHost(ctx context.Context, host string, since time.Time) (analysis.Job, error) {
	if host == "" {
		return analysis.Job{}, fmt.Errorf("host %q: %w", host, analysis.ErrNotFound)
	}
	job, err := scanJob(s.pool.QueryRow(ctx, selectRecentByHost, since, host, analysis.HostVariants(host)))
	if err != nil {
		return analysis.Job{}, fmt.Errorf("host %s: %w", host, err)
	}
	return job, nil
}

type execer interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}

func writeJob(ctx context.Context, db execer, job analysis.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	args := []any{
		job.ID,
		job.URL,
		job.URLHost,
		string(job.Status),
		body,
		job.CreatedAt,
		job.UpdatedAt,
	}
	if _, err := db.Exec(ctx, upsertJob, args...); err != nil {
		return fmt.Errorf("upsert job %s: %w", job.ID, err)
	}
	return nil
}

func scanJob(row pgx.Row) (analysis.Job, error) {
	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return analysis.Job{}, analysis.ErrNotFound
		}
		return analysis.Job{}, err
	}
	var job analysis.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return analysis.Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}
