// Package performance collects Core Web Vitals for a URL and normalizes the
// provider answer into lab and field metrics.
package performance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/productaiseo/backend-ai-seo/internal/analysis"
)

// Fetcher returns the raw provider payload for a URL.
type Fetcher interface {
	FetchMetrics(ctx context.Context, url string) (json.RawMessage, error)
}

// Analyzer runs the performance stage.
type Analyzer struct {
	fetcher Fetcher
	now     func() time.Time
	logger  *zap.Logger
}

// New builds an Analyzer.
func New(fetcher Fetcher, clock analysis.Clock, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now
	if clock != nil {
		now = clock.Now
	}
	return &Analyzer{fetcher: fetcher, now: now, logger: logger.Named("performance")}
}

// Analyze fetches and normalizes metrics for url.
func (a *Analyzer) Analyze(ctx context.Context, url string) (analysis.PerformanceReport, error) {
	raw := json.RawMessage("{}")
	if a.fetcher != nil {
		var err error
		raw, err = a.fetcher.FetchMetrics(ctx, url)
		if err != nil {
			a.logger.Error("performance fetch failed", zap.String("url", url), zap.Error(err))
			return analysis.PerformanceReport{}, err
		}
	}
	report, err := BuildReport(url, raw, a.now().UTC())
	if err != nil {
		return analysis.PerformanceReport{}, err
	}
	if report.Empty() {
		a.logger.Warn("performance provider returned no metrics", zap.String("url", url))
	}
	return report, nil
}

var fieldKeys = struct {
	fcp, lcp, cls, fid, inp [2]string
}{
	fcp: [2]string{"FIRST_CONTENTFUL_PAINT_MS", "first_contentful_paint"},
	lcp: [2]string{"LARGEST_CONTENTFUL_PAINT_MS", "largest_contentful_paint"},
	cls: [2]string{"CUMULATIVE_LAYOUT_SHIFT_SCORE", "cumulative_layout_shift"},
	fid: [2]string{"FIRST_INPUT_DELAY_MS", "first_input_delay"},
	inp: [2]string{"INTERACTION_TO_NEXT_PAINT", "interaction_to_next_paint"},
}

// BuildReport normalizes a PageSpeed Insights or CrUX payload. Missing
// values stay nil.
func BuildReport(url string, raw json.RawMessage, fetchedAt time.Time) (analysis.PerformanceReport, error) {
	var doc map[string]any
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return analysis.PerformanceReport{}, fmt.Errorf("decode performance payload: %w", err)
		}
	}

	audits := object(dig(doc, "lighthouseResult", "audits"))
	lab := analysis.LabMetrics{
		LCPMs:        number(dig(audits, "largest-contentful-paint", "numericValue")),
		FCPMs:        number(dig(audits, "first-contentful-paint", "numericValue")),
		CLS:          number(dig(audits, "cumulative-layout-shift", "numericValue")),
		TBTMs:        number(dig(audits, "total-blocking-time", "numericValue")),
		SpeedIndexMs: number(dig(audits, "speed-index", "numericValue")),
	}

	fieldMetrics := object(dig(doc, "loadingExperience", "metrics"))
	if len(fieldMetrics) == 0 {
		fieldMetrics = object(dig(doc, "originLoadingExperience", "metrics"))
	}
	if len(fieldMetrics) == 0 {
		fieldMetrics = object(dig(doc, "record", "metrics"))
	}
	field := analysis.FieldMetrics{
		FCPP75: p75(fieldMetrics, fieldKeys.fcp, false),
		LCPP75: p75(fieldMetrics, fieldKeys.lcp, false),
		CLSP75: p75(fieldMetrics, fieldKeys.cls, true),
		FIDP75: p75(fieldMetrics, fieldKeys.fid, false),
		INPP75: p75(fieldMetrics, fieldKeys.inp, false),
	}

	provider := "unknown"
	if kind, ok := doc["kind"].(string); ok && kind != "" {
		provider = kind
	}
	return analysis.PerformanceReport{
		URL:         url,
		FetchedAt:   fetchedAt,
		Lab:         lab,
		Field:       field,
		RawProvider: provider,
	}, nil
}

// p75 prefers the CrUX percentiles.p75 value and falls back to PSI's
// integer percentile, which for CLS is scaled by 100.
func p75(metrics map[string]any, keys [2]string, scaledCLS bool) *float64 {
	for _, key := range keys {
		m := object(metrics[key])
		if m == nil {
			continue
		}
		if v := number(dig(m, "percentiles", "p75")); v != nil {
			return v
		}
		if v := number(m["percentile"]); v != nil {
			if scaledCLS {
				scaled := *v / 100
				return &scaled
			}
			return v
		}
	}
	return nil
}

func dig(v any, path ...string) any {
	cur := v
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

func object(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func number(v any) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}
