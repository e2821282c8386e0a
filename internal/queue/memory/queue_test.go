package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/productaiseo/backend-ai-seo/internal/analysis"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan analysis.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	require.NoError(t, q.Enqueue(context.Background(), analysis.QueueItem{JobID: "job-1", Attempt: 1}))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, "job-1", got.JobID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewQueue(1).Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	full := NewQueue(1)
	require.NoError(t, full.Enqueue(context.Background(), analysis.QueueItem{JobID: "primed"}))
	require.Equal(t, 1, full.Len())
	err = full.Enqueue(ctx, analysis.QueueItem{})
	require.EqualError(t, err, "enqueue canceled: context canceled")
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.Enqueue(context.Background(), analysis.QueueItem{JobID: "buffered"}))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Enqueue(context.Background(), analysis.QueueItem{JobID: "late"}), analysis.ErrQueueClosed)
	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "buffered", item.JobID)
	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, analysis.ErrQueueClosed)
}
