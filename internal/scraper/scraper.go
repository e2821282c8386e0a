// Package scraper renders pages in a shared headless browser and captures
// the text, site files and timings the analysis stages consume.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/productaiseo/backend-ai-seo/internal/analysis"
	"github.com/productaiseo/backend-ai-seo/internal/metrics"
)

// Config holds scrape timing and retry settings.
type Config struct {
	OverallTimeout  time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	MinContentChars int
}

func (c Config) withDefaults() Config {
	if c.OverallTimeout <= 0 {
		c.OverallTimeout = 45 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.MinContentChars <= 0 {
		c.MinContentChars = 100
	}
	return c
}

// Waiter paces requests per host.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// SiteFileFetcher retrieves robots.txt and llms.txt.
type SiteFileFetcher interface {
	Fetch(ctx context.Context, pageURL string) SiteFiles
}

// Scraper implements analysis.Scraper.
type Scraper struct {
	cfg      Config
	renderer Renderer
	files    SiteFileFetcher
	limiter  Waiter
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New builds a Scraper. files and limiter are optional.
func New(cfg Config, renderer Renderer, files SiteFileFetcher, limiter Waiter, logger *zap.Logger) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		cfg:      cfg.withDefaults(),
		renderer: renderer,
		files:    files,
		limiter:  limiter,
		logger:   logger.Named("scraper"),
		sleep:    sleepWithContext,
	}
}

var _ analysis.Scraper = (*Scraper)(nil)

// Scrape renders rawURL with retries. Unresolved hosts fail at once; an
// attempt that hits the overall timeout ends the retries.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) (analysis.ScrapeResult, error) {
	target, err := analysis.NormalizeURL(rawURL)
	if err != nil {
		return analysis.ScrapeResult{}, fmt.Errorf("scrape: %w", err)
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		attempts = attempt
		s.logger.Info("scrape attempt",
			zap.String("url", target),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.cfg.MaxRetries),
		)
		page, err := s.attempt(ctx, target)
		if err == nil {
			metrics.ObserveScrapeAttempt("success")
			return s.finish(ctx, target, page), nil
		}
		lastErr = err

		switch {
		case isUnresolved(err):
			metrics.ObserveScrapeAttempt("unresolved")
			return analysis.ScrapeResult{}, fmt.Errorf("%w: %s. The specified domain name could not be found. Please check the URL and try again", ErrHostUnresolved, target)
		case errors.Is(err, ErrTimeout):
			metrics.ObserveScrapeAttempt("timeout")
			s.logger.Error("scrape timed out, not retrying", zap.String("url", target), zap.Duration("timeout", s.cfg.OverallTimeout))
			return analysis.ScrapeResult{}, s.exhausted(target, attempts, lastErr)
		case ctx.Err() != nil:
			metrics.ObserveScrapeAttempt("canceled")
			return analysis.ScrapeResult{}, fmt.Errorf("scrape %s canceled: %w", target, ctx.Err())
		}

		metrics.ObserveScrapeAttempt("error")
		s.logger.Warn("scrape attempt failed", zap.String("url", target), zap.Int("attempt", attempt), zap.Error(err))
		if attempt < s.cfg.MaxRetries {
			if err := s.sleep(ctx, s.cfg.RetryDelay); err != nil {
				return analysis.ScrapeResult{}, fmt.Errorf("scrape %s canceled: %w", target, err)
			}
		}
	}
	return analysis.ScrapeResult{}, s.exhausted(target, attempts, lastErr)
}

func (s *Scraper) exhausted(target string, attempts int, err error) error {
	return fmt.Errorf("failed to scrape page after %d attempts: %s. An issue occurred while scraping the website. Please check the URL and try again. Error: %w", attempts, target, err)
}

// attempt runs one bounded render and validates the document.
func (s *Scraper) attempt(ctx context.Context, target string) (Page, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, target); err != nil {
			return Page{}, err
		}
	}
	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.OverallTimeout)
	defer cancel()

	page, err := s.renderer.Render(attemptCtx, target)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return Page{}, fmt.Errorf("%w after %s: %w", ErrTimeout, s.cfg.OverallTimeout, err)
		}
		return Page{}, err
	}
	if page.Status < 200 || page.Status >= 300 {
		return Page{}, &HTTPStatusError{Status: page.Status, URL: target}
	}
	if analysis.TextLength(strings.TrimSpace(page.Text)) < s.cfg.MinContentChars {
		return Page{}, ErrInsufficientContent
	}
	return page, nil
}

// finish adds the optional site metadata. Failures here never fail the scrape.
func (s *Scraper) finish(ctx context.Context, target string, page Page) analysis.ScrapeResult {
	result := analysis.ScrapeResult{
		URL:         page.URL,
		HTML:        page.HTML,
		Content:     page.Text,
		Performance: page.Performance,
	}
	if s.files != nil {
		files := s.files.Fetch(ctx, target)
		result.RobotsTxt = files.RobotsTxt
		result.LLMsTxt = files.LLMsTxt
	}
	result.AIAccess = AIAccess(result.RobotsTxt)
	s.logger.Info("scrape succeeded",
		zap.String("url", target),
		zap.Int("content_chars", analysis.TextLength(page.Text)),
		zap.Bool("robots_txt", result.RobotsTxt != nil),
		zap.Bool("llms_txt", result.LLMsTxt != nil),
	)
	return result
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
