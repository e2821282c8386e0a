package performance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/pagespeedonline/v5"
)

// APIError is a non-2xx answer from the performance provider.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("external API error: %s. status: %d", e.Message, e.Status)
}

// PageSpeedConfig configures the PageSpeed Insights fetcher.
type PageSpeedConfig struct {
	APIKey   string
	Strategy string
	// Options are appended to the client options, mainly for tests.
	Options []option.ClientOption
}

// PageSpeed fetches lab and field data from PageSpeed Insights v5.
type PageSpeed struct {
	svc      *pagespeedonline.Service
	strategy string
}

// NewPageSpeed builds the fetcher. Without an API key no client is created
// and FetchMetrics returns an empty object.
func NewPageSpeed(ctx context.Context, cfg PageSpeedConfig) (*PageSpeed, error) {
	strategy := strings.ToLower(strings.TrimSpace(cfg.Strategy))
	if strategy == "" {
		strategy = "mobile"
	}
	p := &PageSpeed{strategy: strategy}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return p, nil
	}
	opts := append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, cfg.Options...)
	svc, err := pagespeedonline.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pagespeed service: %w", err)
	}
	p.svc = svc
	return p, nil
}

// Configured reports whether an API key was supplied.
func (p *PageSpeed) Configured() bool {
	return p.svc != nil
}

// FetchMetrics implements Fetcher.
func (p *PageSpeed) FetchMetrics(ctx context.Context, url string) (json.RawMessage, error) {
	if p.svc == nil {
		return json.RawMessage("{}"), nil
	}
	resp, err := p.svc.Pagespeedapi.Runpagespeed(url).
		Strategy(p.strategy).
		Category("performance").
		Context(ctx).
		Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			msg := gerr.Message
			if msg == "" {
				msg = fmt.Sprintf("PSI request failed with %d", gerr.Code)
			}
			return nil, &APIError{Status: gerr.Code, Message: msg}
		}
		return nil, fmt.Errorf("run pagespeed: %w", err)
	}
	raw, err := json.Marshal(responseDocument(resp))
	if err != nil {
		return nil, fmt.Errorf("marshal pagespeed response: %w", err)
	}
	return raw, nil
}

// responseDocument rebuilds the parts of the response BuildReport reads.
// The generated types drop zero numbers on marshal, so presence is taken
// from the audit and metric maps instead.
func responseDocument(resp *pagespeedonline.PagespeedApiPagespeedResponseV5) map[string]any {
	doc := map[string]any{"kind": resp.Kind}
	if lr := resp.LighthouseResult; lr != nil && len(lr.Audits) > 0 {
		audits := make(map[string]any, len(lr.Audits))
		for id, audit := range lr.Audits {
			switch audit.ScoreDisplayMode {
			case "error", "notApplicable":
				continue
			}
			audits[id] = map[string]any{"numericValue": audit.NumericValue}
		}
		doc["lighthouseResult"] = map[string]any{"audits": audits}
	}
	if m := loadingMetrics(resp.LoadingExperience); m != nil {
		doc["loadingExperience"] = map[string]any{"metrics": m}
	}
	if m := loadingMetrics(resp.OriginLoadingExperience); m != nil {
		doc["originLoadingExperience"] = map[string]any{"metrics": m}
	}
	return doc
}

func loadingMetrics(exp *pagespeedonline.PagespeedApiLoadingExperienceV5) map[string]any {
	if exp == nil || len(exp.Metrics) == 0 {
		return nil
	}
	out := make(map[string]any, len(exp.Metrics))
	for key, metric := range exp.Metrics {
		out[key] = map[string]any{"percentile": metric.Percentile}
	}
	return out
}
