// Package metrics exposes Prometheus collectors for the analysis service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	jobsTotal                  *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	stageDurationSeconds       *prometheus.HistogramVec
	llmCallsTotal              *prometheus.CounterVec
	llmCallDurationSeconds     *prometheus.HistogramVec
	scrapeAttemptsTotal        *prometheus.CounterVec
	browserLaunchesTotal       prometheus.Counter
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	finalGeoScore              prometheus.Histogram
	dedupHitsTotal             prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geo_jobs_total",
				Help: "Total number of analysis jobs finished, labeled by terminal status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "geo_active_workers",
				Help: "Number of workers currently running an analysis.",
			},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "geo_stage_duration_seconds",
				Help:    "Histogram of pipeline stage durations, labeled by stage and outcome.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 45, 90},
			},
			[]string{"stage", "outcome"},
		)

		llmCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geo_llm_calls_total",
				Help: "Total number of LLM provider calls, labeled by provider, operation and outcome.",
			},
			[]string{"provider", "operation", "outcome"},
		)

		llmCallDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "geo_llm_call_duration_seconds",
				Help:    "Histogram of LLM provider call latencies.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
			},
			[]string{"provider", "operation"},
		)

		scrapeAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geo_scrape_attempts_total",
				Help: "Total number of scrape attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		browserLaunchesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "geo_browser_launches_total",
				Help: "Total number of headless browser launches.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "geo_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		finalGeoScore = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "geo_final_score",
				Help:    "Distribution of final GEO scores of completed analyses.",
				Buckets: prometheus.LinearBuckets(10, 10, 9),
			},
		)

		dedupHitsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "geo_dedup_hits_total",
				Help: "Total number of analysis requests served by an existing job.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}

// ObserveStage records how long a pipeline stage ran.
func ObserveStage(stage string, ok bool, duration time.Duration) {
	if stageDurationSeconds == nil {
		return
	}
	stageDurationSeconds.WithLabelValues(stage, outcome(ok)).Observe(duration.Seconds())
}

// ObserveLLMCall records one provider call.
func ObserveLLMCall(provider, operation string, ok bool, duration time.Duration) {
	if llmCallsTotal == nil {
		return
	}
	llmCallsTotal.WithLabelValues(provider, operation, outcome(ok)).Inc()
	llmCallDurationSeconds.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// ObserveScrapeAttempt counts a scrape attempt by outcome label.
func ObserveScrapeAttempt(result string) {
	if scrapeAttemptsTotal == nil {
		return
	}
	scrapeAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveBrowserLaunch counts a headless browser launch.
func ObserveBrowserLaunch() {
	if browserLaunchesTotal != nil {
		browserLaunchesTotal.Inc()
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	if rateLimitDelaysSeconds == nil {
		return
	}
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveFinalScore records the final score of a completed analysis.
func ObserveFinalScore(score int) {
	if finalGeoScore != nil {
		finalGeoScore.Observe(float64(score))
	}
}

// ObserveDedupHit counts a request answered by an existing job.
func ObserveDedupHit() {
	if dedupHitsTotal != nil {
		dedupHitsTotal.Inc()
	}
}
