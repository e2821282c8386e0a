package scraper

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type renderStep struct {
	page  Page
	err   error
	block bool
}

type scriptedRenderer struct {
	mu    sync.Mutex
	steps []renderStep
	calls int
}

func (r *scriptedRenderer) Render(ctx context.Context, _ string) (Page, error) {
	r.mu.Lock()
	step := r.steps[min(r.calls, len(r.steps)-1)]
	r.calls++
	r.mu.Unlock()
	if step.block {
		<-ctx.Done()
		return Page{}, ctx.Err()
	}
	return step.page, step.err
}

func (r *scriptedRenderer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeFiles struct {
	files SiteFiles
}

func (f fakeFiles) Fetch(context.Context, string) SiteFiles { return f.files }

var goodText = strings.Repeat("Acme builds retail analytics. ", 10)

func okPage() Page {
	return Page{URL: "https://acme.test", Status: http.StatusOK, HTML: "<html></html>", Text: goodText}
}

func newTestScraper(r Renderer, files SiteFileFetcher) *Scraper {
	s := New(Config{OverallTimeout: time.Second, MaxRetries: 3, RetryDelay: time.Millisecond}, r, files, nil, zap.NewNop())
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func TestScrapeRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	robots := "User-agent: GPTBot\nDisallow: /\n"
	r := &scriptedRenderer{steps: []renderStep{
		{err: errors.New("net::ERR_CONNECTION_RESET")},
		{page: okPage()},
	}}
	s := newTestScraper(r, fakeFiles{files: SiteFiles{RobotsTxt: &robots}})

	res, err := s.Scrape(context.Background(), "acme.test")
	require.NoError(t, err)
	require.Equal(t, 2, r.Calls())
	require.Equal(t, goodText, res.Content)
	require.Equal(t, &robots, res.RobotsTxt)
	require.Nil(t, res.LLMsTxt)
	require.False(t, res.AIAccess["GPTBot"])
	require.True(t, res.AIAccess["ClaudeBot"])
}

func TestScrapeUnresolvedHostFailsImmediately(t *testing.T) {
	t.Parallel()

	r := &scriptedRenderer{steps: []renderStep{{err: errors.New("page load error net::ERR_NAME_NOT_RESOLVED")}}}
	s := newTestScraper(r, nil)

	_, err := s.Scrape(context.Background(), "https://nope.invalid")
	require.ErrorIs(t, err, ErrHostUnresolved)
	require.Equal(t, 1, r.Calls())
}

func TestScrapeTimeoutIsNotRetried(t *testing.T) {
	t.Parallel()

	r := &scriptedRenderer{steps: []renderStep{{block: true}}}
	s := New(Config{OverallTimeout: 20 * time.Millisecond, MaxRetries: 3}, r, nil, nil, zap.NewNop())

	_, err := s.Scrape(context.Background(), "https://slow.test")
	require.ErrorIs(t, err, ErrTimeout)
	require.ErrorContains(t, err, "failed to scrape page after 1 attempts")
	require.Equal(t, 1, r.Calls())
}

func TestScrapeHTTPErrorExhaustsRetries(t *testing.T) {
	t.Parallel()

	r := &scriptedRenderer{steps: []renderStep{{page: Page{Status: http.StatusNotFound, Text: goodText}}}}
	s := newTestScraper(r, nil)

	_, err := s.Scrape(context.Background(), "https://acme.test/missing")
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Status)
	require.ErrorContains(t, err, "failed to scrape page after 3 attempts")
	require.Equal(t, 3, r.Calls())
}

func TestScrapeInsufficientContent(t *testing.T) {
	t.Parallel()

	r := &scriptedRenderer{steps: []renderStep{{page: Page{Status: http.StatusOK, Text: "  tiny  "}}}}
	s := newTestScraper(r, nil)

	_, err := s.Scrape(context.Background(), "https://acme.test")
	require.ErrorIs(t, err, ErrInsufficientContent)
}

func TestScrapeStopsWhenCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	r := &scriptedRenderer{steps: []renderStep{{err: errors.New("boom")}}}
	s := newTestScraper(r, nil)
	s.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := s.Scrape(ctx, "https://acme.test")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, r.Calls())
}

func TestScrapeRejectsEmptyURL(t *testing.T) {
	t.Parallel()

	_, err := newTestScraper(&scriptedRenderer{steps: []renderStep{{page: okPage()}}}, nil).Scrape(context.Background(), " ")
	require.Error(t, err)
}

func TestIsUnresolved(t *testing.T) {
	t.Parallel()

	require.True(t, isUnresolved(errors.New("dial tcp: lookup acme.invalid: no such host")))
	require.False(t, isUnresolved(errors.New("connection refused")))
	require.False(t, isUnresolved(nil))
}
