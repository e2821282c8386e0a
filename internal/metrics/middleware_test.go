package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/jobs/{job_id}/status", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	})

	before418 := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418"))
	before410 := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "410"))

	for _, path := range []string{"/v1/jobs/abc/status", "/missing"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Equal(t, before418+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418")))
	require.Equal(t, before410+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "410")))
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}
