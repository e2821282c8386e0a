package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/productaiseo/backend-ai-seo/internal/analysis"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newStore() (*JobStore, *stepClock) {
	clk := &stepClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewJobStore(clk), clk
}

func TestJobStoreUpsertCreatesAndMerges(t *testing.T) {
	t.Parallel()

	store, _ := newStore()
	ctx := context.Background()

	require.NoError(t, store.UpsertJob(ctx, "j1", analysis.JobUpdate{
		URL:     analysis.Ptr("https://acme.test"),
		URLHost: analysis.Ptr("acme.test"),
		Status:  analysis.Ptr(analysis.StatusProcessingScrape),
	}))
	require.NoError(t, store.UpsertJob(ctx, "j1", analysis.JobUpdate{ScrapedContent: analysis.Ptr("hello")}))

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, "https://acme.test", job.URL)
	require.Equal(t, "hello", *job.ScrapedContent)
	require.Equal(t, analysis.StatusProcessingScrape, job.Status)
	require.True(t, job.UpdatedAt.After(job.CreatedAt))

	_, err = store.GetJob(ctx, "missing")
	require.ErrorIs(t, err, analysis.ErrNotFound)
	require.Error(t, store.UpsertJob(ctx, "", analysis.JobUpdate{}))
}

func TestJobStoreStatusNeverMovesBackwardWithinRun(t *testing.T) {
	t.Parallel()

	store, _ := newStore()
	ctx := context.Background()

	require.NoError(t, store.UpsertJob(ctx, "j1", analysis.JobUpdate{Status: analysis.Ptr(analysis.StatusProcessingPrometheus)}))
	require.NoError(t, store.UpsertJob(ctx, "j1", analysis.JobUpdate{
		Status:        analysis.Ptr(analysis.StatusProcessingArkhe),
		FinalGeoScore: analysis.Ptr(42),
	}))
	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, analysis.StatusProcessingPrometheus, job.Status)
	require.Equal(t, 42, *job.FinalGeoScore)

	// Siblings share a phase and may overwrite each other.
	require.NoError(t, store.UpsertJob(ctx, "j1", analysis.JobUpdate{Status: analysis.Ptr(analysis.StatusProcessingGenerativePerformance)}))
	job, _ = store.GetJob(ctx, "j1")
	require.Equal(t, analysis.StatusProcessingGenerativePerformance, job.Status)

	require.NoError(t, store.UpsertJob(ctx, "j1", analysis.JobUpdate{Status: analysis.Ptr(analysis.StatusCompleted)}))
	require.NoError(t, store.UpsertJob(ctx, "j1", analysis.JobUpdate{
		ResetResults: true,
		Status:       analysis.Ptr(analysis.StatusProcessingScrape),
	}))
	job, _ = store.GetJob(ctx, "j1")
	require.Equal(t, analysis.StatusProcessingScrape, job.Status)
	require.Nil(t, job.FinalGeoScore)
}

func TestJobStoreUpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	store, _ := newStore()
	ctx := context.Background()
	update := analysis.JobUpdate{
		Status: analysis.Ptr(analysis.StatusProcessingArkhe),
		Arkhe:  analysis.Failed[analysis.ProfileReport](errors.New("no scraped data available")),
	}
	require.NoError(t, store.UpsertJob(ctx, "j1", update))
	first, _ := store.GetJob(ctx, "j1")
	require.NoError(t, store.UpsertJob(ctx, "j1", update))
	second, _ := store.GetJob(ctx, "j1")

	require.Equal(t, first.Status, second.Status)
	require.Equal(t, first.Arkhe, second.Arkhe)
	require.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestJobStoreEvents(t *testing.T) {
	t.Parallel()

	store, _ := newStore()
	ctx := context.Background()

	err := store.AppendEvent(ctx, "missing", analysis.EventInput{Step: analysis.StepInit, Status: analysis.EventCompleted})
	require.ErrorIs(t, err, analysis.ErrNotFound)

	require.NoError(t, store.UpsertJob(ctx, "j1", analysis.JobUpdate{}))
	require.NoError(t, store.AppendEvent(ctx, "j1", analysis.EventInput{Step: analysis.StepInit, Status: analysis.EventCompleted}))
	require.NoError(t, store.AppendEvent(ctx, "j1", analysis.EventInput{Step: analysis.StepScrape, Status: analysis.EventFailed, Detail: "timeout"}))
	require.Error(t, store.AppendEvent(ctx, "j1", analysis.EventInput{Step: "BOGUS", Status: analysis.EventFailed}))

	job, _ := store.GetJob(ctx, "j1")
	require.Len(t, job.Events, 2)
	require.Equal(t, "timeout", job.Events[1].Detail)

	events, err := store.ListEvents(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, map[string]string{"message": "timeout"}, events[1].Meta)
	require.True(t, events[1].TS.After(events[0].TS))

	events[0].Step = analysis.StepLIR
	again, _ := store.ListEvents(ctx, "j1")
	require.Equal(t, analysis.StepInit, again[0].Step)
}

func TestJobStoreReportsAndQueries(t *testing.T) {
	t.Parallel()

	store, _ := newStore()
	ctx := context.Background()

	_, err := store.GetReport(ctx, "j1")
	require.ErrorIs(t, err, analysis.ErrNotFound)

	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpsertReport(ctx, analysis.Report{JobID: "j1", CreatedAt: created, FinalGeoScore: analysis.Ptr(60)}))
	require.NoError(t, store.UpsertReport(ctx, analysis.Report{JobID: "j1", CreatedAt: created.Add(time.Hour), FinalGeoScore: analysis.Ptr(70)}))
	report, err := store.GetReport(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, 70, *report.FinalGeoScore)
	require.Equal(t, created, report.CreatedAt)
	require.Error(t, store.UpsertReport(ctx, analysis.Report{}))

	require.NoError(t, store.UpsertQueryStatus(ctx, "", analysis.StatusCompleted))
	require.NoError(t, store.UpsertQueryStatus(ctx, "q1", analysis.StatusFailed))
	q, ok := store.QueryStatus("q1")
	require.True(t, ok)
	require.Equal(t, analysis.StatusFailed, q.Status)
}

func TestJobStoreFindRecentByHost(t *testing.T) {
	t.Parallel()

	store, clk := newStore()
	ctx := context.Background()
	start := clk.Now()

	require.NoError(t, store.UpsertJob(ctx, "old", analysis.JobUpdate{URL: analysis.Ptr("https://acme.test"), URLHost: analysis.Ptr("acme.test")}))
	require.NoError(t, store.UpsertJob(ctx, "legacy", analysis.JobUpdate{URL: analysis.Ptr("https://www.acme.test/")}))
	require.NoError(t, store.UpsertJob(ctx, "other", analysis.JobUpdate{URL: analysis.Ptr("https://globex.test"), URLHost: analysis.Ptr("globex.test")}))

	job, err := store.FindRecentByHost(ctx, "acme.test", start)
	require.NoError(t, err)
	require.Equal(t, "legacy", job.ID)

	_, err = store.FindRecentByHost(ctx, "acme.test", clk.Now())
	require.ErrorIs(t, err, analysis.ErrNotFound)
	_, err = store.FindRecentByHost(ctx, "", start)
	require.ErrorIs(t, err, analysis.ErrNotFound)
}
