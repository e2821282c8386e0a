package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type uploadRecorder struct {
	mu     sync.Mutex
	names  []string
	bodies []string
}

func (u *uploadRecorder) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	name := r.URL.Query().Get("name")
	u.mu.Lock()
	u.names = append(u.names, name)
	u.bodies = append(u.bodies, string(body))
	u.mu.Unlock()
	if !strings.Contains(r.URL.Path, "/upload/storage/v1/b/snapshots/o") {
		http.NotFound(w, r)
		return
	}
	fmt.Fprintf(w, `{"name":%q,"bucket":"snapshots"}`, name)
}

func newTestStore(t *testing.T, handler http.HandlerFunc, cfg Config) *BlobStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := storage.NewClient(context.Background(), option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	store, err := New(client, cfg)
	require.NoError(t, err)
	return store
}

func TestPutObjectUsesPrefix(t *testing.T) {
	t.Parallel()

	rec := &uploadRecorder{}
	store := newTestStore(t, rec.handler, Config{Bucket: "snapshots", Prefix: "/geo/reports/"})

	uri, err := store.PutObject(context.Background(), "job-1.json", "application/json", strings.NewReader(`{"jobId":"job-1"}`))
	require.NoError(t, err)
	require.Equal(t, "gs://snapshots/geo/reports/job-1.json", uri)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, []string{"geo/reports/job-1.json"}, rec.names)
	require.Contains(t, rec.bodies[0], `{"jobId":"job-1"}`)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, Config{Bucket: "snapshots"})

	_, err := store.PutObject(context.Background(), "job-1.json", "application/json", strings.NewReader("{}"))
	require.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	require.ErrorContains(t, err, "bucket name is required")

	store, err := New(client, Config{Bucket: "b"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), " ", "", strings.NewReader(""))
	require.ErrorContains(t, err, "path is required")
	require.Equal(t, "a/b.json", store.objectName("/a/b.json"))
}
