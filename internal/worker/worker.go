// Package worker executes queued analysis jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/productaiseo/backend-ai-seo/internal/analysis"
	"github.com/productaiseo/backend-ai-seo/internal/metrics"
)

// Runner drives one job through the analysis pipeline.
type Runner interface {
	Run(ctx context.Context, job analysis.Job) error
}

// JobGetter loads the job referenced by a queue item.
type JobGetter interface {
	GetJob(ctx context.Context, id string) (analysis.Job, error)
}

// Config controls Worker behavior.
type Config struct {
	// JobTimeout bounds one pipeline run. Zero disables the bound.
	JobTimeout time.Duration
}

// Worker consumes queue items and runs the pipeline for each.
type Worker struct {
	queue  analysis.Queue
	jobs   JobGetter
	runner Runner
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(queue analysis.Queue, jobs JobGetter, runner Runner, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:  queue,
		jobs:   jobs,
		runner: runner,
		cfg:    cfg,
		logger: logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, analysis.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID), zap.Int("attempt", item.Attempt))
		w.Process(ctx, item)
	}
}

// Process runs a single item. Errors and panics are logged, never propagated.
func (w *Worker) Process(ctx context.Context, item analysis.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := time.Now()
	err := w.execute(ctx, item)
	logger := w.logger.With(zap.String("job_id", item.JobID), zap.Duration("elapsed", time.Since(start)))
	if err != nil {
		metrics.ObserveJob(string(analysis.StatusFailed))
		logger.Error("analysis job failed", zap.Error(err))
		return
	}
	metrics.ObserveJob(string(analysis.StatusCompleted))
	logger.Info("analysis job finished")
}

func (w *Worker) execute(ctx context.Context, item analysis.QueueItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analysis panicked: %v", r)
		}
	}()
	if w.runner == nil || w.jobs == nil {
		return fmt.Errorf("worker is not configured")
	}
	job, err := w.jobs.GetJob(ctx, item.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}
	return w.runner.Run(ctx, job)
}
