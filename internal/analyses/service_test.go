package analyses

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/productaiseo/backend-ai-seo/internal/analysis"
	"github.com/productaiseo/backend-ai-seo/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("job-%d", g.n), nil
}

type recordingQueue struct {
	mu    sync.Mutex
	items []analysis.QueueItem
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, item analysis.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, item)
	return nil
}

func (q *recordingQueue) Items() []analysis.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]analysis.QueueItem(nil), q.items...)
}

type fixture struct {
	clock *fakeClock
	store *memory.JobStore
	queue *recordingQueue
	svc   *Service
}

func newFixture() *fixture {
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	store := memory.NewJobStore(clock)
	queue := &recordingQueue{}
	return &fixture{
		clock: clock,
		store: store,
		queue: queue,
		svc:   New(store, queue, &seqIDs{}, clock, Config{}, zap.NewNop()),
	}
}

func TestStartCreatesJobWithDefaults(t *testing.T) {
	t.Parallel()

	f := newFixture()
	res, err := f.svc.Start(context.Background(), Request{Domain: "www.Acme.test"})
	require.NoError(t, err)
	require.Equal(t, Result{JobID: "job-1", Status: analysis.StatusProcessingScrape}, res)

	job, err := f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, "https://www.Acme.test", job.URL)
	require.Equal(t, "acme.test", job.URLHost)
	require.Equal(t, DefaultLocale, job.Locale)
	require.Equal(t, DefaultUserID, job.UserID)
	require.Equal(t, analysis.StatusProcessingScrape, job.Status)
	require.Equal(t, f.clock.Now(), job.CreatedAt)

	items := f.queue.Items()
	require.Len(t, items, 1)
	require.Equal(t, "job-1", items[0].JobID)
}

func TestStartRejectsMissingURL(t *testing.T) {
	t.Parallel()

	f := newFixture()
	_, err := f.svc.Start(context.Background(), Request{})
	require.ErrorIs(t, err, ErrInvalidRequest)
	require.Empty(t, f.queue.Items())
}

func TestStartDedupsRecentJob(t *testing.T) {
	t.Parallel()

	f := newFixture()
	first, err := f.svc.Start(context.Background(), Request{URL: "https://acme.test"})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	second, err := f.svc.Start(context.Background(), Request{Domain: "acme.test", QueryID: "q-9"})
	require.NoError(t, err)
	require.Equal(t, first.JobID, second.JobID)
	require.True(t, second.Deduped)
	require.Len(t, f.queue.Items(), 1)
}

func TestStartCompletedDedupMirrorsQuery(t *testing.T) {
	t.Parallel()

	f := newFixture()
	first, err := f.svc.Start(context.Background(), Request{URL: "acme.test"})
	require.NoError(t, err)
	require.NoError(t, f.store.UpsertJob(context.Background(), first.JobID, analysis.JobUpdate{Status: analysis.Ptr(analysis.StatusCompleted)}))

	res, err := f.svc.Start(context.Background(), Request{URL: "acme.test", QueryID: "q-1"})
	require.NoError(t, err)
	require.Equal(t, analysis.StatusCompleted, res.Status)
	q, ok := f.store.QueryStatus("q-1")
	require.True(t, ok)
	require.Equal(t, analysis.StatusCompleted, q.Status)
}

func TestStartIgnoresFailedAndExpiredJobs(t *testing.T) {
	t.Parallel()

	f := newFixture()
	first, err := f.svc.Start(context.Background(), Request{URL: "acme.test"})
	require.NoError(t, err)
	require.NoError(t, f.store.UpsertJob(context.Background(), first.JobID, analysis.JobUpdate{Status: analysis.Ptr(analysis.StatusFailed)}))

	second, err := f.svc.Start(context.Background(), Request{URL: "acme.test"})
	require.NoError(t, err)
	require.NotEqual(t, first.JobID, second.JobID)

	f.clock.Advance(25 * time.Hour)
	third, err := f.svc.Start(context.Background(), Request{URL: "acme.test"})
	require.NoError(t, err)
	require.NotEqual(t, second.JobID, third.JobID)
	require.Len(t, f.queue.Items(), 3)
}

func TestStartConcurrentSameHostYieldsOneJob(t *testing.T) {
	t.Parallel()

	f := newFixture()
	const callers = 16
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Start(context.Background(), Request{URL: "https://acme.test"})
			ids[i], errs[i] = res.JobID, err
		}()
	}
	wg.Wait()
	for i, id := range ids {
		require.NoError(t, errs[i])
		require.Equal(t, ids[0], id)
	}
	require.Len(t, f.queue.Items(), 1)
}

func TestStartRerunResetsResults(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	first, err := f.svc.Start(ctx, Request{URL: "acme.test"})
	require.NoError(t, err)
	require.NoError(t, f.store.UpsertJob(ctx, first.JobID, analysis.JobUpdate{
		Status:        analysis.Ptr(analysis.StatusCompleted),
		FinalGeoScore: analysis.Ptr(70),
		Arkhe:         analysis.Succeeded(analysis.ProfileReport{}),
	}))

	res, err := f.svc.Start(ctx, Request{URL: "acme.test", JobID: first.JobID, Locale: "tr"})
	require.NoError(t, err)
	require.Equal(t, analysis.StatusProcessingScrape, res.Status)

	job, err := f.store.GetJob(ctx, first.JobID)
	require.NoError(t, err)
	require.Equal(t, analysis.StatusProcessingScrape, job.Status)
	require.Nil(t, job.FinalGeoScore)
	require.Nil(t, job.Arkhe)
	require.Equal(t, "tr", job.Locale)
	require.Len(t, f.queue.Items(), 2)
}

func TestStartRerunWhileRunningJoinsCurrentRun(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	first, err := f.svc.Start(ctx, Request{URL: "acme.test"})
	require.NoError(t, err)
	require.NoError(t, f.store.UpsertJob(ctx, first.JobID, analysis.JobUpdate{
		Status: analysis.Ptr(analysis.StatusProcessingArkhe),
		Arkhe:  analysis.Succeeded(analysis.ProfileReport{}),
	}))

	res, err := f.svc.Start(ctx, Request{URL: "acme.test", JobID: first.JobID})
	require.NoError(t, err)
	require.Equal(t, Result{JobID: first.JobID, Status: analysis.StatusProcessingArkhe, Deduped: true}, res)

	job, err := f.store.GetJob(ctx, first.JobID)
	require.NoError(t, err)
	require.Equal(t, analysis.StatusProcessingArkhe, job.Status)
	require.NotNil(t, job.Arkhe)
	require.Len(t, f.queue.Items(), 1)
}

func TestStartRerunRestartsStalledJob(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	first, err := f.svc.Start(ctx, Request{URL: "acme.test"})
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	res, err := f.svc.Start(ctx, Request{URL: "acme.test", JobID: first.JobID})
	require.NoError(t, err)
	require.False(t, res.Deduped)
	require.Equal(t, analysis.StatusProcessingScrape, res.Status)
	require.Len(t, f.queue.Items(), 2)
}

func TestStartRerunUnknownJob(t *testing.T) {
	t.Parallel()

	f := newFixture()
	_, err := f.svc.Start(context.Background(), Request{URL: "acme.test", JobID: "nope"})
	require.ErrorIs(t, err, analysis.ErrNotFound)
	require.Empty(t, f.queue.Items())
}

func TestStartEnqueueFailureMarksFailed(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.queue.err = analysis.ErrQueueClosed
	_, err := f.svc.Start(context.Background(), Request{URL: "acme.test"})
	require.ErrorIs(t, err, analysis.ErrQueueClosed)

	job, err := f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, analysis.StatusFailed, job.Status)
	require.Contains(t, job.Error, "queue closed")
}

func TestLookups(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	res, err := f.svc.Start(ctx, Request{URL: "acme.test"})
	require.NoError(t, err)
	require.NoError(t, f.store.AppendEvent(ctx, res.JobID, analysis.EventInput{Step: analysis.StepInit, Status: analysis.EventCompleted}))

	job, err := f.svc.Job(ctx, res.JobID)
	require.NoError(t, err)
	require.Equal(t, res.JobID, job.ID)

	events, err := f.svc.Events(ctx, res.JobID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	_, err = f.svc.Events(ctx, "missing")
	require.ErrorIs(t, err, analysis.ErrNotFound)

	_, err = f.svc.Report(ctx, res.JobID)
	require.True(t, errors.Is(err, analysis.ErrNotFound))

	recent, err := f.svc.RecentByDomain(ctx, "https://www.acme.test/")
	require.NoError(t, err)
	require.Equal(t, res.JobID, recent.ID)

	_, err = f.svc.RecentByDomain(ctx, "  ")
	require.ErrorIs(t, err, ErrInvalidRequest)
}
