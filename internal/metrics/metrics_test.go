package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, jobsTotal)
	require.NotNil(t, stageDurationSeconds)
	require.NotNil(t, llmCallsTotal)
}

func TestObserveHelpers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(jobsTotal.WithLabelValues("COMPLETED"))
	ObserveJob("COMPLETED")
	require.Equal(t, before+1, testutil.ToFloat64(jobsTotal.WithLabelValues("COMPLETED")))

	llmBefore := testutil.ToFloat64(llmCallsTotal.WithLabelValues("openai", "businessModel", "failure"))
	ObserveLLMCall("openai", "businessModel", false, 120*time.Millisecond)
	require.Equal(t, llmBefore+1, testutil.ToFloat64(llmCallsTotal.WithLabelValues("openai", "businessModel", "failure")))

	ObserveStage("ARKHE", true, time.Second)
	require.Positive(t, testutil.CollectAndCount(stageDurationSeconds))

	dedupBefore := testutil.ToFloat64(dedupHitsTotal)
	ObserveDedupHit()
	require.Equal(t, dedupBefore+1, testutil.ToFloat64(dedupHitsTotal))

	ObserveFinalScore(72)
	ObserveScrapeAttempt("timeout")
	ObserveBrowserLaunch()
	ObserveRateLimitDelay("example.com", 50*time.Millisecond)
	IncActiveWorkers()
	DecActiveWorkers()
	require.Zero(t, testutil.ToFloat64(activeWorkers))
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
