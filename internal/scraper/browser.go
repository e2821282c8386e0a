package scraper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/productaiseo/backend-ai-seo/internal/metrics"
)

// ErrBrowserClosed is returned by Acquire after Close.
var ErrBrowserClosed = errors.New("browser manager closed")

var execCandidates = []string{
	"headless-shell",
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
}

// BrowserConfig controls how the shared browser is launched.
type BrowserConfig struct {
	// ExecPath overrides executable discovery.
	ExecPath  string
	UserAgent string
}

// launchFunc starts a browser and returns its root context.
type launchFunc func(ctx context.Context) (context.Context, context.CancelFunc, error)

// BrowserManager owns the process-wide headless browser. The first Acquire
// launches it, concurrent callers share that launch, and a browser whose
// context has ended is relaunched on the next Acquire.
type BrowserManager struct {
	logger   *zap.Logger
	launch   launchFunc
	execPath func() (string, error)
	group    singleflight.Group

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// NewBrowserManager builds a manager. Nothing is launched until Acquire.
func NewBrowserManager(cfg BrowserConfig, logger *zap.Logger) *BrowserManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &BrowserManager{
		logger:   logger.Named("browser"),
		execPath: sync.OnceValues(func() (string, error) { return findExec(cfg.ExecPath) }),
	}
	m.launch = func(context.Context) (context.Context, context.CancelFunc, error) {
		return m.launchChrome(cfg)
	}
	return m
}

// Acquire returns the root context of a live browser. Tabs are created from
// it with chromedp.NewContext.
func (m *BrowserManager) Acquire(ctx context.Context) (context.Context, error) {
	if browserCtx, ok, err := m.current(); err != nil || ok {
		return browserCtx, err
	}
	ch := m.group.DoChan("browser", func() (any, error) {
		if browserCtx, ok, err := m.current(); err != nil || ok {
			return browserCtx, err
		}
		browserCtx, cancel, err := m.launch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		metrics.ObserveBrowserLaunch()
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			cancel()
			return nil, ErrBrowserClosed
		}
		m.ctx, m.cancel = browserCtx, cancel
		m.logger.Info("browser launched")
		return browserCtx, nil
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire browser: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("launch browser: %w", res.Err)
		}
		browserCtx, ok := res.Val.(context.Context)
		if !ok {
			return nil, fmt.Errorf("launch browser: unexpected %T", res.Val)
		}
		return browserCtx, nil
	}
}

// current returns the live browser, dropping one that has disconnected.
func (m *BrowserManager) current() (context.Context, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrBrowserClosed
	}
	if m.ctx == nil {
		return nil, false, nil
	}
	if m.ctx.Err() != nil {
		m.logger.Warn("browser disconnected, relaunching on next use")
		m.cancel()
		m.ctx, m.cancel = nil, nil
		return nil, false, nil
	}
	return m.ctx, true, nil
}

// Close shuts the browser down. Later Acquire calls fail.
func (m *BrowserManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.cancel != nil {
		m.cancel()
		m.ctx, m.cancel = nil, nil
	}
}

func (m *BrowserManager) launchChrome(cfg BrowserConfig) (context.Context, context.CancelFunc, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.WindowSize(1920, 1080),
	)
	path, err := m.execPath()
	if err != nil {
		return nil, nil, err
	}
	if path != "" {
		opts = append(opts, chromedp.ExecPath(path))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	return browserCtx, func() {
		browserCancel()
		allocCancel()
	}, nil
}

// findExec resolves the browser binary. An empty result lets chromedp use
// its own lookup.
func findExec(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("browser executable %q: %w", configured, err)
		}
		return configured, nil
	}
	for _, name := range execCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", nil
}
