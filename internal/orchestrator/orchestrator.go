// Package orchestrator drives one analysis job through its stages:
// SCRAPE, then ARKHE and PSI in parallel, then PROMETHEUS and GEN_PERF in
// parallel when ARKHE succeeded, then LIR when PROMETHEUS succeeded.
//
// A failed stage never stops the job. Its field on the job is written in the
// failure shape and the pipeline continues with whatever downstream stages
// still have their inputs. Only store failures and malformed jobs end in
// FAILED.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/productaiseo/backend-ai-seo/internal/analysis"
	"github.com/productaiseo/backend-ai-seo/internal/clock/system"
	"github.com/productaiseo/backend-ai-seo/internal/fanout"
	"github.com/productaiseo/backend-ai-seo/internal/metrics"
	"github.com/productaiseo/backend-ai-seo/internal/progress"
	"github.com/productaiseo/backend-ai-seo/internal/stages"
	"github.com/productaiseo/backend-ai-seo/internal/stages/profile"
	"github.com/productaiseo/backend-ai-seo/internal/stages/trust"
	"github.com/productaiseo/backend-ai-seo/internal/stages/visibility"
)

const (
	tracerName = "github.com/productaiseo/backend-ai-seo/internal/orchestrator"

	defaultHeartbeat   = 10 * time.Second
	defaultFailTimeout = 10 * time.Second
)

// ErrInvalidJob is returned for jobs without an id or url.
var ErrInvalidJob = errors.New("job id and url are required")

// ProfileAnalyzer runs the ARKHE stage.
type ProfileAnalyzer interface {
	Analyze(ctx context.Context, in profile.Input) (analysis.ProfileReport, error)
}

// PerformanceAnalyzer runs the PSI stage.
type PerformanceAnalyzer interface {
	Analyze(ctx context.Context, url string) (analysis.PerformanceReport, error)
}

// TrustAnalyzer runs the PROMETHEUS stage.
type TrustAnalyzer interface {
	Analyze(ctx context.Context, in trust.Input) (analysis.TrustReport, error)
}

// VisibilityAnalyzer runs the GEN_PERF stage.
type VisibilityAnalyzer interface {
	Analyze(ctx context.Context, in visibility.Input) (analysis.VisibilityReport, error)
}

// AgendaAnalyzer runs the LIR stage.
type AgendaAnalyzer interface {
	Analyze(ctx context.Context, report *analysis.TrustReport, locale string) (analysis.Agenda, error)
}

// Deps are the collaborators of an Orchestrator. Publisher, Blobs and
// Progress are optional.
type Deps struct {
	Store       analysis.JobStore
	Scraper     analysis.Scraper
	Profile     ProfileAnalyzer
	Performance PerformanceAnalyzer
	Trust       TrustAnalyzer
	Visibility  VisibilityAnalyzer
	Agenda      AgendaAnalyzer

	Publisher analysis.Publisher
	Blobs     analysis.BlobStore
	Progress  progress.Emitter
	Clock     analysis.Clock
	Tracer    trace.TracerProvider
}

// Config tunes side effects and timers.
type Config struct {
	// HeartbeatInterval defaults to 10s.
	HeartbeatInterval time.Duration
	// CompletionTopic is where completion notices are published.
	CompletionTopic string
	// SnapshotPrefix is the blob path prefix for report snapshots.
	SnapshotPrefix string
}

// Orchestrator owns every status transition of a job.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	tracer trace.Tracer
	logger *zap.Logger
}

// New validates deps and builds an Orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("orchestrator requires a job store")
	case deps.Scraper == nil:
		return nil, errors.New("orchestrator requires a scraper")
	case deps.Profile == nil, deps.Performance == nil, deps.Trust == nil, deps.Visibility == nil, deps.Agenda == nil:
		return nil, errors.New("orchestrator requires every stage analyzer")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Progress == nil {
		deps.Progress = progress.Discard
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.GetTracerProvider()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeat
	}
	if cfg.SnapshotPrefix == "" {
		cfg.SnapshotPrefix = "reports"
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		tracer: deps.Tracer.Tracer(tracerName),
		logger: logger.Named("orchestrator"),
	}, nil
}

// Run executes the full pipeline for job. It returns an error only on the
// catastrophic path, after the job has been marked FAILED.
func (o *Orchestrator) Run(ctx context.Context, job analysis.Job) error {
	if job.ID == "" || job.URL == "" {
		if job.ID != "" {
			o.fail(ctx, job, ErrInvalidJob)
		}
		return fmt.Errorf("analysis orchestration failed: %s: %w", job.ID, ErrInvalidJob)
	}

	ctx, span := o.tracer.Start(ctx, "analysis.run", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.url", job.URL),
	))
	defer span.End()

	logger := o.logger.With(zap.String("job_id", job.ID), zap.String("url", job.URL))
	start := o.deps.Clock.Now()
	o.emit(job, progress.Event{Kind: progress.KindJobStart})
	logger.Info("analysis started")

	stop := o.heartbeat(ctx, job, logger)
	defer stop()

	if err := o.pipeline(ctx, job, logger); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.fail(ctx, job, err)
		o.emit(job, progress.Event{Kind: progress.KindJobError, Dur: o.deps.Clock.Now().Sub(start), Note: err.Error()})
		return fmt.Errorf("analysis orchestration failed: %s: %w", job.ID, err)
	}
	o.emit(job, progress.Event{Kind: progress.KindJobDone, Dur: o.deps.Clock.Now().Sub(start)})
	logger.Info("analysis completed", zap.Duration("elapsed", o.deps.Clock.Now().Sub(start)))
	return nil
}

func (o *Orchestrator) pipeline(ctx context.Context, job analysis.Job, logger *zap.Logger) error {
	if err := o.event(ctx, job, analysis.StepInit, analysis.EventCompleted, "analysis initialized"); err != nil {
		return err
	}

	scraped, err := o.scrape(ctx, job)
	if err != nil {
		return err
	}

	var (
		arkhe fanout.Outcome[analysis.ProfileReport]
		psi   fanout.Outcome[analysis.PerformanceReport]
	)
	err = settle(ctx,
		func(ctx context.Context) (err error) {
			arkhe, err = runStage(ctx, o, job, analysis.StepArkhe, analysis.StatusProcessingArkhe,
				func(ctx context.Context) (analysis.ProfileReport, error) {
					if scraped.Err != nil {
						return analysis.ProfileReport{}, stages.MissingInput("no scraped data available")
					}
					return o.deps.Profile.Analyze(ctx, profile.Input{
						URL:     job.URL,
						Content: scraped.Value.Content,
						Locale:  job.Locale,
					})
				},
				func(out fanout.Outcome[analysis.ProfileReport]) analysis.JobUpdate {
					return analysis.JobUpdate{Arkhe: section(out)}
				})
			return err
		},
		func(ctx context.Context) (err error) {
			psi, err = runStage(ctx, o, job, analysis.StepPSI, analysis.StatusProcessingPSI,
				func(ctx context.Context) (analysis.PerformanceReport, error) {
					return o.deps.Performance.Analyze(ctx, job.URL)
				},
				func(out fanout.Outcome[analysis.PerformanceReport]) analysis.JobUpdate {
					return analysis.JobUpdate{Performance: section(out)}
				})
			return err
		},
	)
	if err != nil {
		return err
	}

	var prometheus fanout.Outcome[analysis.TrustReport]
	if arkhe.OK() {
		var perf *analysis.PerformanceReport
		if psi.OK() {
			perf = &psi.Value
		}
		prometheus, err = o.phase3(ctx, job, scraped.Value, &arkhe.Value, perf)
		if err != nil {
			return err
		}
	} else {
		prometheus.Err = stages.MissingInput("Arkhe analysis failed")
		logger.Warn("skipping trust and visibility stages", zap.Error(arkhe.Err))
	}

	var finalScore *int
	if prometheus.OK() {
		trustReport := prometheus.Value
		_, err = runStage(ctx, o, job, analysis.StepLIR, analysis.StatusProcessingLIR,
			func(ctx context.Context) (analysis.Agenda, error) {
				return o.deps.Agenda.Analyze(ctx, &trustReport, job.Locale)
			},
			func(out fanout.Outcome[analysis.Agenda]) analysis.JobUpdate {
				return analysis.JobUpdate{Delfi: section(out)}
			})
		if err != nil {
			return err
		}
		finalScore = analysis.Ptr(trustReport.OverallGeoScore)
	} else {
		logger.Warn("skipping agenda stage", zap.Error(prometheus.Err))
	}

	return o.complete(ctx, job, finalScore, logger)
}

func (o *Orchestrator) scrape(ctx context.Context, job analysis.Job) (fanout.Outcome[analysis.ScrapeResult], error) {
	return runStage(ctx, o, job, analysis.StepScrape, analysis.StatusProcessingScrape,
		func(ctx context.Context) (analysis.ScrapeResult, error) {
			return o.deps.Scraper.Scrape(ctx, job.URL)
		},
		func(out fanout.Outcome[analysis.ScrapeResult]) analysis.JobUpdate {
			if out.Err != nil {
				return analysis.JobUpdate{
					ScrapedContent: analysis.Ptr(""),
					ScrapedHTML:    analysis.Ptr(""),
					ScrapeError:    analysis.Ptr(out.Err.Error()),
				}
			}
			return analysis.JobUpdate{
				ScrapedContent: analysis.Ptr(out.Value.Content),
				ScrapedHTML:    analysis.Ptr(out.Value.HTML),
				ScrapeError:    analysis.Ptr(""),
				SiteSignals: &analysis.SiteSignals{
					RobotsTxt:   out.Value.RobotsTxt,
					LLMsTxt:     out.Value.LLMsTxt,
					AIAccess:    out.Value.AIAccess,
					Performance: out.Value.Performance,
				},
			}
		})
}

func (o *Orchestrator) phase3(
	ctx context.Context,
	job analysis.Job,
	scraped analysis.ScrapeResult,
	arkhe *analysis.ProfileReport,
	perf *analysis.PerformanceReport,
) (fanout.Outcome[analysis.TrustReport], error) {
	var prometheus fanout.Outcome[analysis.TrustReport]
	err := settle(ctx,
		func(ctx context.Context) (err error) {
			prometheus, err = runStage(ctx, o, job, analysis.StepPrometheus, analysis.StatusProcessingPrometheus,
				func(ctx context.Context) (analysis.TrustReport, error) {
					return o.deps.Trust.Analyze(ctx, trust.Input{
						JobID:       job.ID,
						Profile:     arkhe,
						Content:     scraped.Content,
						HTML:        scraped.HTML,
						Performance: perf,
						Locale:      job.Locale,
					})
				},
				func(out fanout.Outcome[analysis.TrustReport]) analysis.JobUpdate {
					return analysis.JobUpdate{Prometheus: section(out)}
				})
			return err
		},
		func(ctx context.Context) error {
			_, err := runStage(ctx, o, job, analysis.StepGenPerf, analysis.StatusProcessingGenerativePerformance,
				func(ctx context.Context) (analysis.VisibilityReport, error) {
					return o.deps.Visibility.Analyze(ctx, visibility.Input{
						URL:        job.URL,
						Profile:    arkhe,
						Content:    scraped.Content,
						TopQueries: job.TopQueries,
						Locale:     job.Locale,
					})
				},
				func(out fanout.Outcome[analysis.VisibilityReport]) analysis.JobUpdate {
					return analysis.JobUpdate{GenerativePerformance: section(out)}
				})
			return err
		},
	)
	return prometheus, err
}

func (o *Orchestrator) complete(ctx context.Context, job analysis.Job, finalScore *int, logger *zap.Logger) error {
	ctx, span := o.tracer.Start(ctx, "analysis.complete")
	defer span.End()

	if err := o.deps.Store.UpsertJob(ctx, job.ID, analysis.JobUpdate{
		Status:        analysis.Ptr(analysis.StatusCompleted),
		FinalGeoScore: finalScore,
	}); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if err := o.event(ctx, job, analysis.StepComplete, analysis.EventCompleted, "analysis completed"); err != nil {
		return err
	}
	stored, err := o.deps.Store.GetJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("reload job: %w", err)
	}
	report := analysis.SnapshotReport(stored, o.deps.Clock.Now())
	if err := o.deps.Store.UpsertReport(ctx, report); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	if err := o.deps.Store.UpsertQueryStatus(ctx, job.QueryID, analysis.StatusCompleted); err != nil {
		return fmt.Errorf("mirror query status: %w", err)
	}
	if finalScore != nil {
		metrics.ObserveFinalScore(*finalScore)
		span.SetAttributes(attribute.Int("job.final_geo_score", *finalScore))
	}

	uri := o.uploadSnapshot(ctx, report, logger)
	o.notify(ctx, analysis.Completion{
		JobID:         job.ID,
		URL:           job.URL,
		Status:        analysis.StatusCompleted,
		FinalGeoScore: finalScore,
		ReportURI:     uri,
	}, logger)
	return nil
}

// fail marks the job FAILED. Writes run detached from ctx, which may already
// be cancelled; their errors are logged only.
func (o *Orchestrator) fail(ctx context.Context, job analysis.Job, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultFailTimeout)
	defer cancel()

	msg := cause.Error()
	logger := o.logger.With(zap.String("job_id", job.ID))
	logger.Error("analysis failed", zap.Error(cause))

	if err := o.deps.Store.UpsertJob(ctx, job.ID, analysis.JobUpdate{
		Status: analysis.Ptr(analysis.StatusFailed),
		Error:  analysis.Ptr(msg),
	}); err != nil {
		logger.Error("mark job failed", zap.Error(err))
	}
	if err := o.deps.Store.AppendEvent(ctx, job.ID, analysis.EventInput{
		Step:   analysis.StepComplete,
		Status: analysis.EventFailed,
		Detail: msg,
	}); err != nil {
		logger.Warn("append failure event", zap.Error(err))
	}
	if err := o.deps.Store.UpsertQueryStatus(ctx, job.QueryID, analysis.StatusFailed); err != nil {
		logger.Warn("mirror failed query status", zap.Error(err))
	}
	o.notify(ctx, analysis.Completion{JobID: job.ID, URL: job.URL, Status: analysis.StatusFailed, Error: msg}, logger)
}

func (o *Orchestrator) uploadSnapshot(ctx context.Context, report analysis.Report, logger *zap.Logger) string {
	if o.deps.Blobs == nil {
		return ""
	}
	body, err := json.Marshal(report)
	if err != nil {
		logger.Warn("marshal report snapshot", zap.Error(err))
		return ""
	}
	uri, err := o.deps.Blobs.PutObject(ctx, o.cfg.SnapshotPrefix+"/"+report.JobID+".json", "application/json", bytes.NewReader(body))
	if err != nil {
		logger.Warn("upload report snapshot", zap.Error(err))
		return ""
	}
	return uri
}

func (o *Orchestrator) notify(ctx context.Context, c analysis.Completion, logger *zap.Logger) {
	if o.deps.Publisher == nil || o.cfg.CompletionTopic == "" {
		return
	}
	if _, err := o.deps.Publisher.Publish(ctx, o.cfg.CompletionTopic, c); err != nil {
		logger.Warn("publish completion", zap.String("status", string(c.Status)), zap.Error(err))
	}
}

func (o *Orchestrator) event(ctx context.Context, job analysis.Job, step analysis.Step, status analysis.EventStatus, detail string) error {
	if err := o.deps.Store.AppendEvent(ctx, job.ID, analysis.EventInput{Step: step, Status: status, Detail: detail}); err != nil {
		return fmt.Errorf("append %s %s event: %w", step, status, err)
	}
	return nil
}

func (o *Orchestrator) emit(job analysis.Job, evt progress.Event) {
	evt.JobID = job.ID
	evt.Host = job.URLHost
	if evt.TS.IsZero() {
		evt.TS = o.deps.Clock.Now()
	}
	o.deps.Progress.Emit(evt)
}

// heartbeat logs liveness until the returned stop func is called.
func (o *Orchestrator) heartbeat(ctx context.Context, job analysis.Job, logger *zap.Logger) func() {
	ticker := time.NewTicker(o.cfg.HeartbeatInterval)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("analysis heartbeat")
				o.emit(job, progress.Event{Kind: progress.KindHeartbeat})
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
			wg.Wait()
		})
	}
}
