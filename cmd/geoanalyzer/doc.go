// Package main hosts the GEO analyzer service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts analysis requests, reports job status, events and report
//     snapshots, and serves /healthz, /readyz and /metrics. Requests go through internal/analyses, which
//     normalizes the URL, reuses a recent job for the same host and enqueues new work.
//   - Dispatcher & queue: job IDs flow through a bounded in-memory queue sized by worker.queue_depth and are
//     fanned out to a fixed worker pool sized by worker.concurrency. Each run is bounded by
//     worker.job_timeout_seconds.
//   - Pipeline: internal/orchestrator scrapes the page with a shared headless Chrome, then runs the profile and
//     PageSpeed stages together, then the trust and visibility stages, then the strategic agenda. A failed stage
//     is recorded on the job and never stops the run.
//   - Persistence & fanout: jobs live in memory, Postgres or Firestore (storage.backend). Completed report JSON is
//     copied to memory, a local directory or GCS (storage.snapshot.backend), and a completion notice is published
//     to Pub/Sub when a topic is configured.
//   - Configuration & plumbing: a .env file is loaded first, then Viper reads an optional YAML file and GEO_*
//     environment variables; zap provides structured logging; Prometheus metrics and OpenTelemetry traces cover
//     the API and every stage.
//
// Quick checklist:
//   - Configure providers: GEO_LLM_OPENAI_API_KEY, GEO_LLM_GEMINI_PROJECT_ID, GEO_LLM_PERPLEXITY_API_KEY and
//     GEO_PERFORMANCE_API_KEY. Stages whose provider is missing are recorded as failed or empty.
//   - Run locally: go run ./cmd/geoanalyzer -config config.yaml (or rely solely on env overrides).
//   - Cloud Run: the server listens on PORT when set and drains workers on SIGTERM.
package main
