package aggregator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/productaiseo/backend-ai-seo/internal/analysis"
	"github.com/productaiseo/backend-ai-seo/internal/llm"
)

// EEATComponent is one of the four E-E-A-T assessments.
type EEATComponent struct {
	Score           *float64 `json:"score"`
	Justification   string   `json:"justification"`
	PositiveSignals []string `json:"positiveSignals"`
	NegativeSignals []string `json:"negativeSignals"`
}

// EEATAnalysis groups the four components.
type EEATAnalysis struct {
	Experience        *EEATComponent `json:"experience"`
	Expertise         *EEATComponent `json:"expertise"`
	Authoritativeness *EEATComponent `json:"authoritativeness"`
	Trustworthiness   *EEATComponent `json:"trustworthiness"`
}

// EEATResponse is the model answer for the E-E-A-T operation.
type EEATResponse struct {
	EEATAnalysis     *EEATAnalysis   `json:"eeatAnalysis"`
	ExecutiveSummary string          `json:"executiveSummary"`
	GeoScoreDetails  json.RawMessage `json:"geoScoreDetails"`
	ActionPlan       json.RawMessage `json:"actionPlan"`
}

// BusinessModel runs the business model analysis.
func BusinessModel(ctx context.Context, a *Aggregator, content, locale string) (Result[analysis.BusinessModel], error) {
	return Run[analysis.BusinessModel](ctx, a, OpBusinessModel, llm.BusinessModelPrompt(content, locale))
}

// TargetAudience runs the audience analysis.
func TargetAudience(ctx context.Context, a *Aggregator, content, locale string) (Result[analysis.TargetAudience], error) {
	return Run[analysis.TargetAudience](ctx, a, OpTargetAudience, llm.TargetAudiencePrompt(content, locale))
}

// Competitors runs the competitor analysis.
func Competitors(ctx context.Context, a *Aggregator, content, url, locale string) (Result[analysis.Competitors], error) {
	return Run[analysis.Competitors](ctx, a, OpCompetitors, llm.CompetitorsPrompt(content, url, locale))
}

// EEATSignals runs the E-E-A-T analysis.
func EEATSignals(ctx context.Context, a *Aggregator, content, sector, audience, locale string) (Result[EEATResponse], error) {
	return Run[EEATResponse](ctx, a, OpEEATSignals, llm.EEATPrompt(content, sector, audience, locale))
}

// DelfiAgenda builds the action agenda from a trust report.
func DelfiAgenda(ctx context.Context, a *Aggregator, report analysis.TrustReport, locale string) (Result[analysis.Agenda], error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return Result[analysis.Agenda]{}, fmt.Errorf("marshal trust report: %w", err)
	}
	return Run[analysis.Agenda](ctx, a, OpDelfiAgenda, llm.AgendaPrompt(string(data), locale))
}
