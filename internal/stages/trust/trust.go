// Package trust scores a site's trust and GEO readiness across eight
// weighted pillars, combining AI E-E-A-T analysis with page signals.
package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/productaiseo/backend-ai-seo/internal/aggregator"
	"github.com/productaiseo/backend-ai-seo/internal/analysis"
	"github.com/productaiseo/backend-ai-seo/internal/scoring"
	"github.com/productaiseo/backend-ai-seo/internal/stages"
)

// Pillar names.
const (
	PillarPerformance        = "performance"
	PillarContentStructure   = "contentStructure"
	PillarEEATSignals        = "eeatSignals"
	PillarTechnicalGEO       = "technicalGEO"
	PillarStructuredData     = "structuredData"
	PillarBrandAuthority     = "brandAuthority"
	PillarEntityOptimization = "entityOptimization"
	PillarContentStrategy    = "contentStrategy"
)

// Weights sum to 1.0.
var Weights = map[string]float64{
	PillarPerformance:        0.20,
	PillarContentStructure:   0.15,
	PillarEEATSignals:        0.20,
	PillarTechnicalGEO:       0.10,
	PillarStructuredData:     0.05,
	PillarBrandAuthority:     0.10,
	PillarEntityOptimization: 0.10,
	PillarContentStrategy:    0.10,
}

const defaultSummary = "The site has a solid foundation but needs improvement in E-E-A-T signals and brand authority."

// ErrNoEEATData is returned when the model answer lacks eeatAnalysis.
var ErrNoEEATData = errors.New("E-E-A-T analysis returned no valid data")

// Input is what the trust stage needs.
type Input struct {
	JobID       string
	Profile     *analysis.ProfileReport
	Content     string
	HTML        string
	Performance *analysis.PerformanceReport
	Locale      string
}

// Analyzer runs the trust stage.
type Analyzer struct {
	agg    *aggregator.Aggregator
	logger *zap.Logger
}

// New builds an Analyzer.
func New(agg *aggregator.Aggregator, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{agg: agg, logger: logger.Named("trust")}
}

// Analyze builds the trust report.
func (a *Analyzer) Analyze(ctx context.Context, in Input) (analysis.TrustReport, error) {
	report, err := a.analyze(ctx, in)
	if err != nil {
		a.logger.Error("trust analysis failed", zap.String("job_id", in.JobID), zap.Error(err))
		return analysis.TrustReport{}, fmt.Errorf("prometheus analysis failed: %w", err)
	}
	return report, nil
}

func (a *Analyzer) analyze(ctx context.Context, in Input) (analysis.TrustReport, error) {
	if in.Profile == nil {
		return analysis.TrustReport{}, stages.MissingInput("Arkhe report is required for Prometheus analysis")
	}
	if strings.TrimSpace(in.Content) == "" || strings.TrimSpace(in.HTML) == "" {
		return analysis.TrustReport{}, stages.MissingInput("scraped content and HTML are required for Prometheus analysis")
	}

	sector := strings.TrimSpace(string(in.Profile.BusinessModel.ModelType))
	if sector == "" {
		sector = "Unknown"
	}
	audience := strings.TrimSpace(string(in.Profile.TargetAudience.PrimaryAudience.Demographics))
	if audience == "" {
		audience = "General Audience"
	}

	res, err := aggregator.EEATSignals(ctx, a.agg, in.Content, sector, audience, in.Locale)
	if err != nil {
		return analysis.TrustReport{}, err
	}
	if len(res.Errors) > 0 {
		return analysis.TrustReport{}, fmt.Errorf("prometheus analysis encountered AI errors: %s", strings.Join(res.Errors, ", "))
	}
	if res.Combined == nil || res.Combined.EEATAnalysis == nil {
		return analysis.TrustReport{}, ErrNoEEATData
	}
	eeat := *res.Combined

	signals, err := ExtractSignals(in.HTML)
	if err != nil {
		return analysis.TrustReport{}, err
	}

	locale := in.Locale
	metricSets := map[string]map[string]analysis.Metric{
		PillarPerformance: performanceMetrics(in.Performance),
		PillarContentStructure: {
			"headings":     headingsMetric(signals, locale),
			"contentDepth": contentDepthMetric(WordCount(in.Content), locale),
		},
		PillarEEATSignals: eeatMetrics(eeat.EEATAnalysis),
		PillarTechnicalGEO: {
			"mobileFriendly": mobileMetric(signals, locale),
		},
		PillarStructuredData: {
			"schemaOrg": schemaMetric(signals, locale),
		},
		PillarBrandAuthority: {
			"mentions": {Score: 60, Justification: localized(locale, "Limited external mentions.", "Sınırlı dış mention.")},
		},
		PillarEntityOptimization: {
			"knowledgeGraphPresence": {Score: 50, Justification: localized(locale, "Default assessment.", "Varsayılan değerlendirme.")},
		},
		PillarContentStrategy: {
			"topicalCoverage": {Score: 65, Justification: localized(locale, "Limited topical coverage.", "Sınırlı konu kapsaması.")},
		},
	}

	pillars := make(map[string]analysis.Pillar, len(metricSets))
	for name, metrics := range metricSets {
		pillars[name] = analysis.Pillar{
			Score:   scoring.ScorePillar(metrics, name, scoring.Options{ApplyPenalties: false}),
			Weight:  Weights[name],
			Metrics: metrics,
		}
	}
	overall := scoring.OverallScore(pillars)

	summary := strings.TrimSpace(eeat.ExecutiveSummary)
	if summary == "" {
		summary = defaultSummary
	}
	return analysis.TrustReport{
		ScoreInterpretation: Interpret(overall, locale),
		ExecutiveSummary:    summary,
		OverallGeoScore:     overall,
		GeoScoreDetails:     nonNull(eeat.GeoScoreDetails),
		Pillars:             pillars,
		ActionPlan:          nonNull(eeat.ActionPlan),
	}, nil
}

// Interpret labels an overall score.
func Interpret(score int, locale string) string {
	switch {
	case score >= 80:
		return localized(locale, "Leader", "Lider")
	case score >= 50:
		return localized(locale, "Developing", "Gelişmekte")
	default:
		return localized(locale, "Weak", "Zayıf")
	}
}

func nonNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}
