// Package api hosts the HTTP server, middleware, and REST handlers.
// Notable routes:
//   - POST /v1/analyses to start or re-run an analysis.
//   - GET /v1/jobs/{job_id}/status, /events and /report for polling.
//   - GET /v1/reports/{domain} for the latest analysis of a site.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus scraping.
package api
