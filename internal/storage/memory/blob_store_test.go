package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/productaiseo/backend-ai-seo/internal/analysis"
)

var _ analysis.BlobStore = (*BlobStore)(nil)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "reports/j1.json", "application/json", strings.NewReader(`{"jobId":"j1"}`))
	require.NoError(t, err)
	require.Equal(t, "memory://reports/j1.json", uri)

	body, contentType, ok := store.Object("reports/j1.json")
	require.True(t, ok)
	require.Equal(t, "application/json", contentType)
	body[0] = 'X'
	again, _, _ := store.Object("reports/j1.json")
	require.JSONEq(t, `{"jobId":"j1"}`, string(again))
}

func TestBlobStorePutObjectErrors(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.PutObject(context.Background(), "", "", strings.NewReader("x"))
	require.Error(t, err)
	_, err = store.PutObject(context.Background(), "a", "", failingReader{})
	require.ErrorContains(t, err, "disk gone")
	_, _, ok := store.Object("a")
	require.False(t, ok)
}
