package scraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/temoto/robotstxt"

	"github.com/productaiseo/backend-ai-seo/internal/fanout"
)

// AICrawlers are the user agents reported in the access matrix.
var AICrawlers = []string{"GPTBot", "Google-Extended", "PerplexityBot", "ClaudeBot", "CCBot"}

// SiteFiles are the well-known text files served next to a page.
type SiteFiles struct {
	RobotsTxt *string
	LLMsTxt   *string
}

// SiteFetcherConfig controls site file requests.
type SiteFetcherConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// SiteFetcher downloads robots.txt and llms.txt with a Colly collector.
type SiteFetcher struct {
	cfg  SiteFetcherConfig
	base *colly.Collector
}

// NewSiteFetcher builds a fetcher with a pooled transport.
func NewSiteFetcher(cfg SiteFetcherConfig) *SiteFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.MaxBodySize = 1 << 20
	c.WithTransport(newHTTPTransport())
	return &SiteFetcher{cfg: cfg, base: c}
}

// Fetch downloads both files in parallel. A missing or failing file is nil.
func (f *SiteFetcher) Fetch(ctx context.Context, pageURL string) SiteFiles {
	robots, llms := fanout.Pair(ctx,
		func(ctx context.Context) (*string, error) { return f.get(ctx, pageURL, "/robots.txt") },
		func(ctx context.Context) (*string, error) { return f.get(ctx, pageURL, "/llms.txt") },
	)
	return SiteFiles{RobotsTxt: robots.Value, LLMsTxt: llms.Value}
}

func (f *SiteFetcher) get(ctx context.Context, pageURL, path string) (*string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	target := base.ResolveReference(&url.URL{Path: path}).String()

	collector := f.base.Clone()
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	var (
		body     *string
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		text := string(r.Body)
		body = &text
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch %s canceled: %w", path, ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", path, err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("fetch %s response: %w", path, fetchErr)
		}
		if body == nil {
			return nil, fmt.Errorf("fetch %s: empty response", path)
		}
		return body, nil
	}
}

// AIAccess reports whether each AI crawler may fetch the site root. Without
// a robots.txt every crawler is allowed.
func AIAccess(robotsTxt *string) map[string]bool {
	out := make(map[string]bool, len(AICrawlers))
	var data *robotstxt.RobotsData
	if robotsTxt != nil {
		parsed, err := robotstxt.FromString(*robotsTxt)
		if err == nil {
			data = parsed
		}
	}
	for _, agent := range AICrawlers {
		if data == nil {
			out[agent] = true
			continue
		}
		out[agent] = data.TestAgent("/", agent)
	}
	return out
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
