package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/productaiseo/backend-ai-seo/internal/analysis"
	"github.com/productaiseo/backend-ai-seo/internal/fanout"
	"github.com/productaiseo/backend-ai-seo/internal/metrics"
	"github.com/productaiseo/backend-ai-seo/internal/progress"
)

// runStage moves the job to status, records STARTED, runs fn and persists
// its outcome through write, then records COMPLETED or FAILED. The stage
// result is returned as an Outcome; the error is reserved for store failures.
func runStage[T any](
	ctx context.Context,
	o *Orchestrator,
	job analysis.Job,
	step analysis.Step,
	status analysis.Status,
	fn func(context.Context) (T, error),
	write func(fanout.Outcome[T]) analysis.JobUpdate,
) (fanout.Outcome[T], error) {
	ctx, span := o.tracer.Start(ctx, "stage."+strings.ToLower(string(step)))
	defer span.End()

	if err := o.deps.Store.UpsertJob(ctx, job.ID, analysis.JobUpdate{Status: analysis.Ptr(status)}); err != nil {
		return fanout.Outcome[T]{}, fmt.Errorf("set status %s: %w", status, err)
	}
	if err := o.event(ctx, job, step, analysis.EventStarted, ""); err != nil {
		return fanout.Outcome[T]{}, err
	}
	o.emit(job, progress.Event{Kind: progress.KindStage, Step: step, Status: analysis.EventStarted})

	start := o.deps.Clock.Now()
	out := fanout.Call(ctx, fn)
	elapsed := o.deps.Clock.Now().Sub(start)
	metrics.ObserveStage(string(step), out.OK(), elapsed)

	if err := o.deps.Store.UpsertJob(ctx, job.ID, write(out)); err != nil {
		return fanout.Outcome[T]{}, fmt.Errorf("save %s result: %w", step, err)
	}

	evtStatus, detail := analysis.EventCompleted, fmt.Sprintf("%s completed", step)
	if out.Err != nil {
		evtStatus, detail = analysis.EventFailed, out.Err.Error()
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, detail)
		o.logger.Warn("stage failed",
			zap.String("job_id", job.ID),
			zap.String("step", string(step)),
			zap.Duration("elapsed", elapsed),
			zap.Error(out.Err))
	}
	span.SetAttributes(attribute.String("stage.status", string(evtStatus)))
	if err := o.event(ctx, job, step, evtStatus, detail); err != nil {
		return fanout.Outcome[T]{}, err
	}
	o.emit(job, progress.Event{Kind: progress.KindStage, Step: step, Status: evtStatus, Dur: elapsed, Note: noteFor(out.Err)})
	return out, nil
}

// settle runs the branches concurrently and joins their store errors.
func settle(ctx context.Context, branches ...func(context.Context) error) error {
	fns := make([]func(context.Context) (struct{}, error), len(branches))
	for i, branch := range branches {
		fns[i] = func(ctx context.Context) (struct{}, error) {
			return struct{}{}, branch(ctx)
		}
	}
	var errs []error
	for _, out := range fanout.Settle(ctx, fns...) {
		if out.Err != nil {
			errs = append(errs, out.Err)
		}
	}
	return errors.Join(errs...)
}

func section[T any](out fanout.Outcome[T]) *analysis.Section[T] {
	if out.Err != nil {
		return analysis.Failed[T](out.Err)
	}
	return analysis.Succeeded(out.Value)
}

func noteFor(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
