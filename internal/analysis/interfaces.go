package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrQueueClosed is returned by Dequeue once the queue is shut down.
var ErrQueueClosed = errors.New("queue closed")

// JobStore persists jobs, their event log, report snapshots and query
// references. Every write is an idempotent upsert.
type JobStore interface {
	GetJob(ctx context.Context, id string) (Job, error)
	UpsertJob(ctx context.Context, id string, update JobUpdate) error
	AppendEvent(ctx context.Context, jobID string, event EventInput) error
	ListEvents(ctx context.Context, jobID string) ([]JobEvent, error)
	UpsertReport(ctx context.Context, report Report) error
	GetReport(ctx context.Context, jobID string) (Report, error)
	UpsertQueryStatus(ctx context.Context, queryID string, status Status) error
	FindRecentByHost(ctx context.Context, host string, since time.Time) (Job, error)
}

// ScrapeResult is the rendered page plus optional site metadata.
type ScrapeResult struct {
	URL         string
	HTML        string
	Content     string
	RobotsTxt   *string
	LLMsTxt     *string
	AIAccess    map[string]bool
	Performance json.RawMessage
}

// Scraper renders a URL and extracts its text.
type Scraper interface {
	Scrape(ctx context.Context, url string) (ScrapeResult, error)
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes completion notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Queue provides enqueue/dequeue semantics for analysis jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Attempt   int
	Submitted int64
}

// Completion is the notification published when a job reaches a terminal state.
type Completion struct {
	JobID         string `json:"job_id"`
	URL           string `json:"url"`
	Status        Status `json:"status"`
	FinalGeoScore *int   `json:"final_geo_score,omitempty"`
	ReportURI     string `json:"report_uri,omitempty"`
	Error         string `json:"error,omitempty"`
}
