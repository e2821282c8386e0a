package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/productaiseo/backend-ai-seo/internal/config"
)

// Build registers collectors on the default Prometheus registry, so the
// package builds a single App.
func TestBuildInMemoryApp(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Telemetry.ProjectID = ""
	cfg.Telemetry.CollectorAddr = ""

	ctx := context.Background()
	app, err := Build(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(ctx)) })

	h := app.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/analyses", strings.NewReader(`{"url":"example.com"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, app.queue.Len())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "geo_progress_jobs_running")
}

func TestBuildRejectsBadLogLevel(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Logging.Level = "chatty"

	_, err = Build(context.Background(), cfg)
	require.ErrorContains(t, err, "logger init failed")
}
