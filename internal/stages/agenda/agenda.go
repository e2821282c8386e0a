// Package agenda turns a trust report into a prioritized action agenda.
package agenda

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/productaiseo/backend-ai-seo/internal/aggregator"
	"github.com/productaiseo/backend-ai-seo/internal/analysis"
	"github.com/productaiseo/backend-ai-seo/internal/stages"
)

// Analyzer runs the agenda stage.
type Analyzer struct {
	agg    *aggregator.Aggregator
	logger *zap.Logger
}

// New builds an Analyzer.
func New(agg *aggregator.Aggregator, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{agg: agg, logger: logger.Named("agenda")}
}

// Analyze generates the agenda. Any provider error fails the stage, even when
// the other provider answered.
func (a *Analyzer) Analyze(ctx context.Context, report *analysis.TrustReport, locale string) (analysis.Agenda, error) {
	if report == nil {
		return analysis.Agenda{}, stages.MissingInput("Prometheus report is required for Lir analysis")
	}
	res, err := aggregator.DelfiAgenda(ctx, a.agg, *report, locale)
	if err != nil {
		a.logger.Error("agenda analysis failed", zap.Error(err))
		return analysis.Agenda{}, fmt.Errorf("lir analysis failed: %w", err)
	}
	if len(res.Errors) > 0 {
		msg := strings.Join(res.Errors, ", ")
		a.logger.Error("agenda analysis encountered AI errors", zap.String("errors", msg))
		return analysis.Agenda{}, fmt.Errorf("agenda analysis encountered AI errors: %s", msg)
	}
	agenda := *res.Combined
	if agenda.Items == nil {
		agenda.Items = []analysis.AgendaItem{}
	}
	return agenda, nil
}
