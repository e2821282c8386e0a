package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/productaiseo/backend-ai-seo/internal/analyses"
	"github.com/productaiseo/backend-ai-seo/internal/analysis"
	"github.com/productaiseo/backend-ai-seo/internal/storage/memory"
)

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time { return c.now }

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (g *fakeIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.ids) == 0 {
		return "", errors.New("no ids left")
	}
	id := g.ids[0]
	g.ids = g.ids[1:]
	return id, nil
}

type recordingQueue struct {
	mu    sync.Mutex
	items []analysis.QueueItem
}

func (q *recordingQueue) Enqueue(_ context.Context, item analysis.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

func (q *recordingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type apiFixture struct {
	store  *memory.JobStore
	queue  *recordingQueue
	server *Server
}

func newAPIFixture(cfg Config) *apiFixture {
	clock := fakeClock{now: time.Now().UTC()}
	store := memory.NewJobStore(clock)
	queue := &recordingQueue{}
	svc := analyses.New(store, queue, &fakeIDGen{ids: []string{"job-1", "job-2"}}, clock, analyses.Config{}, zap.NewNop())
	return &apiFixture{store: store, queue: queue, server: NewServer(svc, cfg, zap.NewNop())}
}

func (f *apiFixture) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestStartAnalysisAccepted(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(Config{})
	rec := f.do(t, http.MethodPost, "/v1/analyses", []byte(`{"domain":"acme.test","topQueries":[{"query":"inventory"}]}`))

	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decode(t, rec)
	require.Equal(t, "job-1", body["jobId"])
	require.Equal(t, "PROCESSING_SCRAPE", body["status"])
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	require.Equal(t, 1, f.queue.Len())

	job, err := f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, "https://acme.test", job.URL)
	require.Equal(t, "inventory", job.TopQueries[0].Query)
}

func TestStartAnalysisCompletedDedupReturnsOK(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(Config{})
	rec := f.do(t, http.MethodPost, "/v1/analyses", []byte(`{"url":"https://acme.test"}`))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, f.store.UpsertJob(context.Background(), "job-1", analysis.JobUpdate{Status: analysis.Ptr(analysis.StatusCompleted)}))

	rec = f.do(t, http.MethodPost, "/v1/analyses", []byte(`{"url":"acme.test"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "job-1", decode(t, rec)["jobId"])
	require.Equal(t, 1, f.queue.Len())
}

func TestStartAnalysisErrors(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(Config{})
	rec := f.do(t, http.MethodPost, "/v1/analyses", []byte(`{`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/analyses", []byte(`{"locale":"tr"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/analyses", []byte(`{"url":"acme.test","jobId":"missing"}`))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Job not found", decode(t, rec)["error"])
}

func TestJobStatusShapes(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(Config{})
	ctx := context.Background()

	rec := f.do(t, http.MethodGet, "/v1/jobs/unknown/status", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, map[string]any{"error": "Job not found", "status": "NOT_FOUND"}, decode(t, rec))
	require.Equal(t, "no-store, no-cache, must-revalidate", rec.Header().Get("Cache-Control"))
	require.Equal(t, "no-cache", rec.Header().Get("Pragma"))
	require.Equal(t, "0", rec.Header().Get("Expires"))

	require.NoError(t, f.store.UpsertJob(ctx, "running", analysis.JobUpdate{URL: analysis.Ptr("https://a.test"), Status: analysis.Ptr(analysis.StatusProcessingArkhe)}))
	rec = f.do(t, http.MethodGet, "/v1/jobs/running/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]any{"status": "PROCESSING_ARKHE", "jobId": "running"}, decode(t, rec))

	require.NoError(t, f.store.UpsertJob(ctx, "failed", analysis.JobUpdate{Status: analysis.Ptr(analysis.StatusFailed)}))
	rec = f.do(t, http.MethodGet, "/v1/jobs/failed/status", nil)
	require.Equal(t, map[string]any{"status": "FAILED", "error": "Analysis failed"}, decode(t, rec))

	require.NoError(t, f.store.UpsertJob(ctx, "done", analysis.JobUpdate{
		URL:           analysis.Ptr("https://a.test"),
		Status:        analysis.Ptr(analysis.StatusCompleted),
		FinalGeoScore: analysis.Ptr(71),
		Arkhe:         analysis.Failed[analysis.ProfileReport](errors.New("no scraped data available")),
	}))
	rec = f.do(t, http.MethodGet, "/v1/jobs/done/status", nil)
	body := decode(t, rec)
	require.Equal(t, "COMPLETED", body["status"])
	job := body["job"].(map[string]any)
	require.Equal(t, float64(71), job["finalGeoScore"])
	require.Equal(t, map[string]any{"error": "no scraped data available", "failed": true}, job["arkheReport"])
}

func TestJobEventsAndReport(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(Config{})
	ctx := context.Background()
	require.NoError(t, f.store.UpsertJob(ctx, "job-9", analysis.JobUpdate{URL: analysis.Ptr("https://a.test")}))
	require.NoError(t, f.store.AppendEvent(ctx, "job-9", analysis.EventInput{Step: analysis.StepScrape, Status: analysis.EventStarted}))

	rec := f.do(t, http.MethodGet, "/v1/jobs/job-9/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode(t, rec)["events"].([]any)
	require.Len(t, events, 1)

	rec = f.do(t, http.MethodGet, "/v1/jobs/nope/events", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/jobs/job-9/report", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, f.store.UpsertReport(ctx, analysis.Report{JobID: "job-9", Domain: "https://a.test", FinalGeoScore: analysis.Ptr(50)}))
	rec = f.do(t, http.MethodGet, "/v1/jobs/job-9/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://a.test", decode(t, rec)["domain"])
}

func TestReportByDomain(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(Config{})
	ctx := context.Background()

	rec := f.do(t, http.MethodGet, "/v1/reports/acme.test", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Not found", decode(t, rec)["error"])

	rec = f.do(t, http.MethodGet, "/v1/reports/%20", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Domain is required", decode(t, rec)["error"])

	rec = f.do(t, http.MethodPost, "/v1/analyses", []byte(`{"url":"https://www.acme.test"}`))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/reports/acme.test", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]any{"status": "PROCESSING_SCRAPE", "jobId": "job-1"}, decode(t, rec))

	require.NoError(t, f.store.UpsertJob(ctx, "job-1", analysis.JobUpdate{Status: analysis.Ptr(analysis.StatusCompleted)}))
	rec = f.do(t, http.MethodGet, "/v1/reports/www.acme.test", nil)
	body := decode(t, rec)
	require.Equal(t, "COMPLETED", body["status"])
	require.Contains(t, body, "job")
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(Config{AuthEnabled: true, APIKey: "secret"})

	rec := f.do(t, http.MethodGet, "/v1/jobs/x/status", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/x/status", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/jobs/x/status?api_key=secret", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(Config{Ready: func(context.Context) error { return errors.New("db down") }})
	rec := f.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f = newAPIFixture(Config{})
	rec = f.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type brokenService struct {
	Analyses
}

func (brokenService) Job(context.Context, string) (analysis.Job, error) {
	return analysis.Job{}, errors.New("connection refused")
}

func TestStoreErrorsAreInternal(t *testing.T) {
	t.Parallel()

	server := NewServer(brokenService{}, Config{}, zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/x/status", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "connection refused")
}
