// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/productaiseo/backend-ai-seo/internal/analysis"
)

// Runner is one queue consumer.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   analysis.Queue
	workers []Runner
	now     func() time.Time
}

// New creates a Dispatcher.
func New(queue analysis.Queue, workers []Runner) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		now:     time.Now,
	}
}

// Run starts all workers and blocks until every one has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range d.workers {
		g.Go(func() error {
			w.Run(gctx)
			return nil
		})
	}
	_ = g.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item analysis.QueueItem) error {
	if item.Submitted == 0 {
		item.Submitted = d.now().UnixMilli()
	}
	if item.Attempt == 0 {
		item.Attempt = 1
	}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
