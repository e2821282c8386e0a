package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitWithoutExporter(t *testing.T) {
	tp, err := Init(context.Background(), Config{ServiceName: "geo-test", Version: "dev"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := otel.Tracer("test").Start(context.Background(), "span")
	require.True(t, span.SpanContext().IsValid())
	span.End()
}

func TestSamplerSelection(t *testing.T) {
	t.Parallel()

	require.Equal(t, sdktrace.AlwaysSample().Description(), sampler(0).Description())
	require.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	require.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}

func TestSpanRecorderCapturesSpans(t *testing.T) {
	t.Parallel()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	_, span := tp.Tracer("test").Start(context.Background(), "stage.scrape")
	span.End()
	require.Len(t, rec.Ended(), 1)
	require.Equal(t, "stage.scrape", rec.Ended()[0].Name())
}
