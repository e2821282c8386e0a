// Package server builds the application graph from configuration and runs
// the HTTP server and worker pool until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	firestoreclient "cloud.google.com/go/firestore"
	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/productaiseo/backend-ai-seo/internal/aggregator"
	"github.com/productaiseo/backend-ai-seo/internal/analyses"
	"github.com/productaiseo/backend-ai-seo/internal/analysis"
	"github.com/productaiseo/backend-ai-seo/internal/api"
	"github.com/productaiseo/backend-ai-seo/internal/clock/system"
	"github.com/productaiseo/backend-ai-seo/internal/config"
	"github.com/productaiseo/backend-ai-seo/internal/dispatcher"
	"github.com/productaiseo/backend-ai-seo/internal/id/uuid"
	"github.com/productaiseo/backend-ai-seo/internal/llm"
	"github.com/productaiseo/backend-ai-seo/internal/llm/gemini"
	"github.com/productaiseo/backend-ai-seo/internal/llm/openai"
	"github.com/productaiseo/backend-ai-seo/internal/logging"
	"github.com/productaiseo/backend-ai-seo/internal/metrics"
	"github.com/productaiseo/backend-ai-seo/internal/orchestrator"
	"github.com/productaiseo/backend-ai-seo/internal/policy/ratelimit"
	"github.com/productaiseo/backend-ai-seo/internal/progress"
	progresssinks "github.com/productaiseo/backend-ai-seo/internal/progress/sinks"
	memorypublisher "github.com/productaiseo/backend-ai-seo/internal/publisher/memory"
	gcppublisher "github.com/productaiseo/backend-ai-seo/internal/publisher/pubsub"
	queueMemory "github.com/productaiseo/backend-ai-seo/internal/queue/memory"
	"github.com/productaiseo/backend-ai-seo/internal/scraper"
	"github.com/productaiseo/backend-ai-seo/internal/stages/agenda"
	"github.com/productaiseo/backend-ai-seo/internal/stages/performance"
	"github.com/productaiseo/backend-ai-seo/internal/stages/profile"
	"github.com/productaiseo/backend-ai-seo/internal/stages/trust"
	"github.com/productaiseo/backend-ai-seo/internal/stages/visibility"
	firestorestore "github.com/productaiseo/backend-ai-seo/internal/storage/firestore"
	gcsstorage "github.com/productaiseo/backend-ai-seo/internal/storage/gcs"
	localstorage "github.com/productaiseo/backend-ai-seo/internal/storage/local"
	memoryStorage "github.com/productaiseo/backend-ai-seo/internal/storage/memory"
	pgstore "github.com/productaiseo/backend-ai-seo/internal/storage/postgres"
	"github.com/productaiseo/backend-ai-seo/internal/telemetry"
	"github.com/productaiseo/backend-ai-seo/internal/worker"
)

const shutdownTimeout = 15 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	queue     *queueMemory.Queue

	progressHub     *progress.Hub
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
	firestore       *firestoreclient.Client
	postgres        *pgstore.JobStore
	browsers        *scraper.BrowserManager
	gemini          *gemini.Client
	tracer          *sdktrace.TracerProvider

	jobStore analysis.JobStore
}

// Handler exposes the HTTP routes, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the dispatcher and HTTP server and blocks until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Worker.Concurrency))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown deadline")
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return errors.Join(fmt.Errorf("http server: %w", err), closeErr)
	default:
		return closeErr
	}
}

// Close releases every resource Build acquired. It is safe to call on a
// partially built App.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

//nolint:gocognit // Shutdown logic is linear but extensive, ignoring complexity check
func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.browsers != nil {
		a.browsers.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.gemini != nil {
		if err := a.gemini.Close(); err != nil {
			a.logger.Warn("gemini client close failed", zap.Error(err))
		}
	}
	if a.firestore != nil {
		if err := a.firestore.Close(); err != nil {
			a.logger.Warn("firestore client close failed", zap.Error(err))
		}
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
}

// ready reports whether the job store answers.
func (a *App) ready(ctx context.Context) error {
	pinger, ok := a.jobStore.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return pinger.Ping(ctx)
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (_ *App, err error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}

	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close(context.WithoutCancel(ctx))
		}
	}()
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("snapshot_backend", cfg.Storage.Snapshot.Backend),
	)

	metrics.Init()
	app.tracer, err = telemetry.Init(ctx, telemetry.Config{
		ServiceName:   cfg.Telemetry.ServiceName,
		Version:       cfg.Telemetry.Version,
		ProjectID:     cfg.Telemetry.ProjectID,
		CollectorAddr: cfg.Telemetry.CollectorAddr,
		SampleRatio:   cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	clock := system.New()
	app.jobStore, err = setupJobStore(ctx, app, clock)
	if err != nil {
		return nil, err
	}
	blobStore, err := setupSnapshots(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	emitter, err := setupProgress(ctx, app)
	if err != nil {
		return nil, err
	}
	runner, err := setupOrchestrator(ctx, app, clock, blobStore, publisher, emitter)
	if err != nil {
		return nil, err
	}

	app.queue = queueMemory.NewQueue(cfg.Worker.QueueDepth)
	app.dispatch = setupDispatcher(app, runner)

	svc := analyses.New(app.jobStore, app.queue, uuid.New(), clock, analyses.Config{
		DedupWindow: cfg.DedupWindow(),
	}, logger)
	app.apiServer = api.NewServer(svc, api.Config{
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
		Ready:          app.ready,
	}, logger)

	return app, nil
}

func setupJobStore(ctx context.Context, app *App, clock analysis.Clock) (analysis.JobStore, error) {
	cfg := app.cfg
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		app.logger.Info("using postgres job store")
		store, err := pgstore.NewJobStore(ctx, pgstore.Config{
			DSN:             cfg.Database.DSN,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			Migrate:         cfg.Database.Migrate,
		}, clock, app.logger)
		if err != nil {
			return nil, fmt.Errorf("postgres job store init failed: %w", err)
		}
		app.postgres = store
		return store, nil
	case config.BackendFirestore:
		app.logger.Info("using firestore job store", zap.String("project", cfg.Firestore.ProjectID))
		client, err := firestorestore.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("firestore client init failed: %w", err)
		}
		app.firestore = client
		store, err := firestorestore.NewJobStore(client, firestorestore.Config{
			ProjectID: cfg.Firestore.ProjectID,
			Jobs:      cfg.Firestore.Jobs,
			Events:    cfg.Firestore.Events,
			Reports:   cfg.Firestore.Reports,
			Queries:   cfg.Firestore.Queries,
		}, clock, app.logger)
		if err != nil {
			return nil, fmt.Errorf("firestore job store init failed: %w", err)
		}
		return store, nil
	default:
		app.logger.Warn("using in-memory job store, jobs are lost on restart")
		return memoryStorage.NewJobStore(clock), nil
	}
}

func setupSnapshots(ctx context.Context, app *App) (analysis.BlobStore, error) {
	snap := app.cfg.Storage.Snapshot
	switch snap.Backend {
	case config.SnapshotGCS:
		app.logger.Info("using GCS snapshot backend", zap.String("bucket", snap.Bucket))
		client, err := gcsstorage.NewClient(ctx, snap.Bucket)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: snap.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case config.SnapshotLocal:
		app.logger.Info("using local snapshot backend", zap.String("path", snap.BaseDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: snap.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		app.logger.Info("using in-memory snapshot backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (analysis.Publisher, error) {
	ps := app.cfg.PubSub
	if ps.TopicName == "" || ps.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, ps.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubPublisher = client.Publisher(ps.TopicName)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", ps.ProjectID),
		zap.String("topic", ps.TopicName),
	)
	return gcppublisher.New(app.pubsubPublisher), nil
}

func setupProgress(ctx context.Context, app *App) (progress.Emitter, error) {
	pc := app.cfg.Progress
	if !pc.Enabled {
		app.logger.Info("progress tracking disabled")
		return progress.Discard, nil
	}
	var sinkList []progress.Sink
	if pc.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger))
	}
	if pc.MetricsEnabled {
		sink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
		if err != nil {
			return nil, fmt.Errorf("progress metrics sink init failed: %w", err)
		}
		sinkList = append(sinkList, sink)
	}
	if len(sinkList) == 0 {
		app.logger.Warn("progress tracking enabled but no sinks configured")
		return progress.Discard, nil
	}
	hubCfg := progress.Config{
		BufferSize:     pc.BufferSize,
		MaxBatchEvents: pc.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(pc.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(pc.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Int("sinks", len(sinkList)),
	)
	return app.progressHub, nil
}

type providers struct {
	primary   llm.Provider
	secondary llm.Provider
	assistant llm.Provider
}

func setupProviders(ctx context.Context, app *App) (providers, error) {
	lc := app.cfg.LLM
	timeout := app.cfg.LLMTimeout()

	primary := openai.New(openai.Config{
		APIKey:  lc.OpenAI.APIKey,
		Model:   lc.OpenAI.Model,
		BaseURL: lc.OpenAI.BaseURL,
		Timeout: timeout,
	})
	secondary, err := gemini.New(ctx, gemini.Config{
		ProjectID: lc.Gemini.ProjectID,
		Region:    lc.Gemini.Region,
		Model:     lc.Gemini.Model,
		Timeout:   timeout,
	})
	if err != nil {
		return providers{}, fmt.Errorf("gemini client init failed: %w", err)
	}
	app.gemini = secondary
	assistant := openai.New(openai.Config{
		Name:            "perplexity",
		APIKey:          lc.Perplexity.APIKey,
		Model:           lc.Perplexity.Model,
		BaseURL:         lc.Perplexity.BaseURL,
		Timeout:         timeout,
		DisableJSONMode: true,
	})

	for _, p := range []llm.Provider{primary, secondary, assistant} {
		app.logger.Info("llm provider",
			zap.String("name", p.Name()),
			zap.String("model", p.Model()),
			zap.Bool("configured", p.Configured()))
	}
	if !primary.Configured() && !secondary.Configured() {
		app.logger.Warn("no analysis provider configured, AI stages will fail")
	}

	log := app.logger.Named("llm")
	return providers{
		primary:   llm.Retrying(primary, log),
		secondary: llm.Retrying(secondary, log),
		assistant: llm.Retrying(assistant, log),
	}, nil
}

func setupScraper(app *App) *scraper.Scraper {
	sc := app.cfg.Scraper
	app.browsers = scraper.NewBrowserManager(scraper.BrowserConfig{
		ExecPath:  sc.ExecPath,
		UserAgent: sc.UserAgent,
	}, app.logger)
	renderer := scraper.NewChromeRenderer(scraper.ChromeConfig{
		UserAgent:         sc.UserAgent,
		AcceptLanguage:    sc.AcceptLanguage,
		NavigationTimeout: time.Duration(sc.NavigationTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(sc.IdleTimeoutSeconds) * time.Second,
	}, app.browsers, app.logger)
	files := scraper.NewSiteFetcher(scraper.SiteFetcherConfig{
		UserAgent: sc.UserAgent,
		Timeout:   10 * time.Second,
	})
	limiter := ratelimit.New(ratelimit.Config{RPS: sc.RateLimit.RPS, Burst: sc.RateLimit.Burst})
	app.logger.Info("scraper configured",
		zap.Float64("rps", sc.RateLimit.RPS),
		zap.Int("burst", sc.RateLimit.Burst),
		zap.Int("max_retries", sc.MaxRetries),
	)
	return scraper.New(scraper.Config{
		OverallTimeout:  time.Duration(sc.OverallTimeoutSeconds) * time.Second,
		MaxRetries:      sc.MaxRetries,
		RetryDelay:      time.Duration(sc.RetryDelayMs) * time.Millisecond,
		MinContentChars: sc.MinContentChars,
	}, renderer, files, limiter, app.logger)
}

func setupOrchestrator(
	ctx context.Context,
	app *App,
	clock analysis.Clock,
	blobs analysis.BlobStore,
	publisher analysis.Publisher,
	emitter progress.Emitter,
) (*orchestrator.Orchestrator, error) {
	llms, err := setupProviders(ctx, app)
	if err != nil {
		return nil, err
	}
	psi, err := performance.NewPageSpeed(ctx, performance.PageSpeedConfig{
		APIKey:   app.cfg.Performance.APIKey,
		Strategy: app.cfg.Performance.Strategy,
	})
	if err != nil {
		return nil, fmt.Errorf("pagespeed init failed: %w", err)
	}
	if !psi.Configured() {
		app.logger.Warn("no PageSpeed API key configured, performance metrics will be empty")
	}

	agg := aggregator.New(llms.primary, llms.secondary, app.logger)
	orch, err := orchestrator.New(orchestrator.Deps{
		Store:       app.jobStore,
		Scraper:     setupScraper(app),
		Profile:     profile.New(agg, app.logger),
		Performance: performance.New(psi, clock, app.logger),
		Trust:       trust.New(agg, app.logger),
		Visibility: visibility.New(llms.assistant, llms.primary, visibility.Config{
			QueryTemplates: app.cfg.Visibility.QueryTemplates,
		}, app.logger),
		Agenda:    agenda.New(agg, app.logger),
		Publisher: publisher,
		Blobs:     blobs,
		Progress:  emitter,
		Clock:     clock,
		Tracer:    app.tracer,
	}, orchestrator.Config{
		CompletionTopic: app.cfg.PubSub.TopicName,
		SnapshotPrefix:  app.cfg.Storage.Snapshot.Prefix,
	}, app.logger)
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}
	return orch, nil
}

func setupDispatcher(app *App, runner worker.Runner) *dispatcher.Dispatcher {
	workerCfg := worker.Config{JobTimeout: app.cfg.JobTimeout()}
	app.logger.Info("worker config",
		zap.Int("concurrency", app.cfg.Worker.Concurrency),
		zap.Int("queue_depth", app.cfg.Worker.QueueDepth),
		zap.Duration("job_timeout", workerCfg.JobTimeout),
	)
	workers := make([]dispatcher.Runner, 0, app.cfg.Worker.Concurrency)
	for i := range app.cfg.Worker.Concurrency {
		workers = append(workers, worker.New(
			app.queue,
			app.jobStore,
			runner,
			workerCfg,
			app.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(app.queue, workers)
}
