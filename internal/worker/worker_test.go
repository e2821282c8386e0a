package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/productaiseo/backend-ai-seo/internal/analysis"
	"github.com/productaiseo/backend-ai-seo/internal/queue/memory"
	memstore "github.com/productaiseo/backend-ai-seo/internal/storage/memory"
)

type fakeRunner struct {
	mu       sync.Mutex
	ran      []string
	err      error
	panicMsg string
	deadline bool
}

func (r *fakeRunner) Run(ctx context.Context, job analysis.Job) error {
	r.mu.Lock()
	r.ran = append(r.ran, job.ID)
	_, r.deadline = ctx.Deadline()
	r.mu.Unlock()
	if r.panicMsg != "" {
		panic(r.panicMsg)
	}
	return r.err
}

func (r *fakeRunner) Ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...)
}

func seededStore(t *testing.T, ids ...string) *memstore.JobStore {
	t.Helper()
	store := memstore.NewJobStore(nil)
	for _, id := range ids {
		require.NoError(t, store.UpsertJob(context.Background(), id, analysis.JobUpdate{URL: analysis.Ptr("https://acme.test")}))
	}
	return store
}

func TestWorkerRunsQueuedJobs(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := memory.NewQueue(4)
	runner := &fakeRunner{}
	w := New(q, seededStore(t, "job-1", "job-2"), runner, Config{JobTimeout: time.Minute}, zap.NewNop())
	go w.Run(ctx)

	require.NoError(t, q.Enqueue(ctx, analysis.QueueItem{JobID: "job-1"}))
	require.NoError(t, q.Enqueue(ctx, analysis.QueueItem{JobID: "job-2"}))
	require.Eventually(t, func() bool { return len(runner.Ran()) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"job-1", "job-2"}, runner.Ran())

	runner.mu.Lock()
	require.True(t, runner.deadline)
	runner.mu.Unlock()
}

func TestWorkerSurvivesFailuresAndPanics(t *testing.T) {
	t.Parallel()

	store := seededStore(t, "job-1")
	for _, runner := range []*fakeRunner{{err: errors.New("store down")}, {panicMsg: "boom"}} {
		w := New(memory.NewQueue(1), store, runner, Config{}, zap.NewNop())
		require.NotPanics(t, func() {
			w.Process(context.Background(), analysis.QueueItem{JobID: "job-1"})
		})
		require.Equal(t, []string{"job-1"}, runner.Ran())
		require.Error(t, w.execute(context.Background(), analysis.QueueItem{JobID: "job-1"}))
	}
}

func TestWorkerSkipsUnknownJob(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	w := New(memory.NewQueue(1), seededStore(t), runner, Config{}, zap.NewNop())
	err := w.execute(context.Background(), analysis.QueueItem{JobID: "ghost"})
	require.ErrorIs(t, err, analysis.ErrNotFound)
	require.Empty(t, runner.Ran())
}

func TestWorkerStopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	w := New(q, seededStore(t), &fakeRunner{}, Config{}, zap.NewNop())
	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	q.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}
