// Package profile derives the business model, audience and competitor
// profile of a site from its scraped text.
package profile

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/productaiseo/backend-ai-seo/internal/aggregator"
	"github.com/productaiseo/backend-ai-seo/internal/analysis"
	"github.com/productaiseo/backend-ai-seo/internal/fanout"
	"github.com/productaiseo/backend-ai-seo/internal/stages"
)

// MinContentChars is the shortest scraped text worth analyzing.
const MinContentChars = 100

// ErrMissingResults is returned when any of the three calls produced nothing.
var ErrMissingResults = errors.New("profile analysis encountered AI errors - missing combined results")

// Input is what the profile stage needs.
type Input struct {
	URL     string
	Content string
	Locale  string
}

// Analyzer runs the profile stage.
type Analyzer struct {
	agg    *aggregator.Aggregator
	logger *zap.Logger
}

// New builds an Analyzer.
func New(agg *aggregator.Aggregator, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{agg: agg, logger: logger.Named("profile")}
}

// Analyze runs the three profile calls concurrently.
func (a *Analyzer) Analyze(ctx context.Context, in Input) (analysis.ProfileReport, error) {
	content := strings.TrimSpace(in.Content)
	if analysis.TextLength(content) < MinContentChars {
		return analysis.ProfileReport{}, stages.MissingInput("scraped content is insufficient for profile analysis")
	}

	var (
		bm   aggregator.Result[analysis.BusinessModel]
		aud  aggregator.Result[analysis.TargetAudience]
		comp aggregator.Result[analysis.Competitors]
	)
	outcomes := fanout.Settle(ctx,
		func(ctx context.Context) (struct{}, error) {
			var err error
			bm, err = aggregator.BusinessModel(ctx, a.agg, content, in.Locale)
			return struct{}{}, err
		},
		func(ctx context.Context) (struct{}, error) {
			var err error
			aud, err = aggregator.TargetAudience(ctx, a.agg, content, in.Locale)
			return struct{}{}, err
		},
		func(ctx context.Context) (struct{}, error) {
			var err error
			comp, err = aggregator.Competitors(ctx, a.agg, content, in.URL, in.Locale)
			return struct{}{}, err
		},
	)
	for _, out := range outcomes {
		if out.Err != nil {
			a.logger.Error("profile analysis failed", zap.String("url", in.URL), zap.Error(out.Err))
			return analysis.ProfileReport{}, out.Err
		}
	}
	if bm.Combined == nil || aud.Combined == nil || comp.Combined == nil {
		return analysis.ProfileReport{}, ErrMissingResults
	}

	return analysis.ProfileReport{
		BusinessModel:  *bm.Combined,
		TargetAudience: *aud.Combined,
		Competitors:    *comp.Combined,
	}, nil
}
