package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const performanceScript = `JSON.stringify(window.performance && window.performance.toJSON ? window.performance.toJSON() : {})`

const innerTextScript = `document.body ? document.body.innerText : ""`

// Page is one rendered document.
type Page struct {
	URL         string
	Status      int
	HTML        string
	Text        string
	Performance json.RawMessage
}

// Renderer loads a URL and returns the rendered document.
type Renderer interface {
	Render(ctx context.Context, url string) (Page, error)
}

// ChromeConfig tunes the chromedp renderer.
type ChromeConfig struct {
	UserAgent         string
	AcceptLanguage    string
	NavigationTimeout time.Duration
	IdleTimeout       time.Duration
}

// ChromeRenderer renders pages in tabs of the shared browser.
type ChromeRenderer struct {
	cfg      ChromeConfig
	browsers *BrowserManager
	logger   *zap.Logger
}

// NewChromeRenderer builds a renderer on top of browsers.
func NewChromeRenderer(cfg ChromeConfig, browsers *BrowserManager, logger *zap.Logger) *ChromeRenderer {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromeRenderer{cfg: cfg, browsers: browsers, logger: logger.Named("chrome")}
}

// Render opens a tab, navigates, waits for network idle and captures the
// DOM, visible text and navigation timings. The tab is closed when ctx ends.
func (r *ChromeRenderer) Render(ctx context.Context, url string) (Page, error) {
	browserCtx, err := r.browsers.Acquire(ctx)
	if err != nil {
		return Page{}, err
	}
	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	meta := newResponseMeta()
	idle := make(chan struct{})
	var (
		idleOnce sync.Once
		armed    atomic.Bool
		loading  atomic.Bool
	)
	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			meta.capture(e)
		case *page.EventLifecycleEvent:
			// Only lifecycle events of the navigated document count.
			switch {
			case e.Name == "init" && armed.Load():
				loading.Store(true)
			case e.Name == "networkIdle" && loading.Load():
				idleOnce.Do(func() { close(idle) })
			}
		}
	})

	if err := chromedp.Run(tabCtx, r.setupAction()); err != nil {
		return Page{}, fmt.Errorf("tab setup: %w", err)
	}

	armed.Store(true)
	navCtx, cancelNav := context.WithTimeout(tabCtx, r.cfg.NavigationTimeout)
	err = chromedp.Run(navCtx, chromedp.Navigate(url))
	cancelNav()
	if err != nil {
		return Page{}, fmt.Errorf("navigate %s: %w", url, err)
	}

	select {
	case <-idle:
	case <-time.After(r.cfg.IdleTimeout):
		r.logger.Warn("network idle timeout (non-fatal)", zap.String("url", url))
	case <-tabCtx.Done():
		return Page{}, fmt.Errorf("wait network idle: %w", tabCtx.Err())
	}

	var (
		html     string
		text     string
		finalURL string
	)
	if err := chromedp.Run(tabCtx,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Evaluate(innerTextScript, &text),
	); err != nil {
		return Page{}, fmt.Errorf("capture document: %w", err)
	}

	var perf string
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(performanceScript, &perf)); err != nil || !json.Valid([]byte(perf)) {
		r.logger.Warn("could not capture performance timings", zap.String("url", url), zap.Error(err))
		perf = "{}"
	}

	status, responseURL := meta.snapshot(url, finalURL)
	return Page{
		URL:         responseURL,
		Status:      status,
		HTML:        html,
		Text:        text,
		Performance: json.RawMessage(perf),
	}, nil
}

func (r *ChromeRenderer) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		if err := emulation.SetDeviceMetricsOverride(1920, 1080, 1, false).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if r.cfg.AcceptLanguage != "" {
			headers := network.Headers{"Accept-Language": r.cfg.AcceptLanguage}
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// responseMeta keeps the first document response of a tab. Later document
// responses belong to iframes.
type responseMeta struct {
	mu     sync.Mutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) snapshot(requestURL, finalURL string) (int, string) {
	m.mu.Lock()
	status, url := m.status, m.url
	m.mu.Unlock()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
