package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/productaiseo/backend-ai-seo/internal/analysis"
	"github.com/productaiseo/backend-ai-seo/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{JobID: "job-1", TS: now, Kind: progress.KindJobStart},
		{JobID: "job-1", TS: now, Kind: progress.KindJobStart},
		{JobID: "job-2", TS: now, Kind: progress.KindJobStart},
		{JobID: "job-1", TS: now, Kind: progress.KindStage, Step: analysis.StepScrape, Status: analysis.EventStarted},
		{JobID: "job-1", TS: now, Kind: progress.KindStage, Step: analysis.StepScrape, Status: analysis.EventCompleted, Dur: 4 * time.Second},
		{JobID: "job-1", TS: now, Kind: progress.KindHeartbeat},
		{JobID: "job-1", TS: now.Add(30 * time.Second), Kind: progress.KindJobDone, Dur: 30 * time.Second},
		{JobID: "job-2", TS: now.Add(time.Second), Kind: progress.KindJobError, Dur: time.Second},
		{JobID: "job-2", TS: now.Add(time.Second), Kind: progress.KindJobError},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 3.0, testutil.ToFloat64(sink.jobsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("success")))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.stageOutcomes.WithLabelValues("SCRAPE", "COMPLETED")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.heartbeats))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.stageOutcomes.WithLabelValues("SCRAPE", "STARTED")))
	require.Equal(t, 2, testutil.CollectAndCount(sink.jobRuntime, "geo_progress_job_runtime_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.stageDuration, "geo_progress_stage_duration_seconds"))
	require.NoError(t, sink.Close(context.Background()))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.ErrorContains(t, err, "register progress collector")
}

func TestLogSinkConsumes(t *testing.T) {
	t.Parallel()

	sink := NewLogSink(zap.NewNop())
	err := sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-1", TS: time.Now(), Kind: progress.KindStage, Step: analysis.StepPSI, Status: analysis.EventFailed, Note: "quota"},
	})
	require.NoError(t, err)
	require.NoError(t, NewLogSink(nil).Close(context.Background()))
}
