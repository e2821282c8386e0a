package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/productaiseo/backend-ai-seo/internal/analysis"
	"github.com/productaiseo/backend-ai-seo/internal/progress"
)

// PrometheusSink exports analysis progress via Prometheus. It owns every
// collector fed by the progress hub.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec
	stageOutcomes *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	heartbeats    prometheus.Counter

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geo_progress_jobs_started_total",
			Help: "Analyses that emitted a start event.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geo_progress_jobs_finished_total",
			Help: "Analyses that finished, partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geo_progress_jobs_running",
			Help: "Analyses currently between start and finish events.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geo_progress_job_runtime_seconds",
			Help:    "Wall time per finished analysis.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 900},
		}, []string{"result"}),
		stageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geo_progress_stage_events_total",
			Help: "Stage events partitioned by step and status.",
		}, []string{"step", "status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geo_progress_stage_duration_seconds",
			Help:    "Duration of finished stages, partitioned by step.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"step"}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geo_progress_heartbeats_total",
			Help: "Heartbeats emitted by running analyses.",
		}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.stageOutcomes,
		s.stageDuration,
		s.heartbeats,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. It is safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Kind {
	case progress.KindJobStart:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.KindJobDone:
		s.finish(evt, "success")
	case progress.KindJobError:
		s.finish(evt, "error")
	case progress.KindStage:
		s.stageOutcomes.WithLabelValues(string(evt.Step), string(evt.Status)).Inc()
		if evt.Status != analysis.EventStarted && evt.Dur > 0 {
			s.stageDuration.WithLabelValues(string(evt.Step)).Observe(evt.Dur.Seconds())
		}
	case progress.KindHeartbeat:
		s.heartbeats.Inc()
	}
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.jobsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
