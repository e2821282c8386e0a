package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/productaiseo/backend-ai-seo/internal/analysis"
	"github.com/productaiseo/backend-ai-seo/internal/queue/memory"
)

type blockingWorker struct {
	started *atomic.Int32
}

func (w blockingWorker) Run(ctx context.Context) {
	w.started.Add(1)
	<-ctx.Done()
}

func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	var started atomic.Int32
	dispatch := New(memory.NewQueue(1), []Runner{blockingWorker{&started}, blockingWorker{&started}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return started.Load() == 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherEnqueueStampsItem(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	dispatch := New(q, nil)
	dispatch.now = func() time.Time { return time.UnixMilli(1234) }

	require.NoError(t, dispatch.Enqueue(context.Background(), analysis.QueueItem{JobID: "job"}))
	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, analysis.QueueItem{JobID: "job", Attempt: 1, Submitted: 1234}, item)
}

type errorQueue struct{ err error }

func (q errorQueue) Enqueue(context.Context, analysis.QueueItem) error { return q.err }

func (q errorQueue) Dequeue(context.Context) (analysis.QueueItem, error) {
	return analysis.QueueItem{}, q.err
}

func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(errorQueue{err: errors.New("boom")}, nil)
	err := dispatch.Enqueue(context.Background(), analysis.QueueItem{JobID: "job"})
	require.EqualError(t, err, "queue enqueue: boom")
}
