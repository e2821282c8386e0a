package trust

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/productaiseo/backend-ai-seo/internal/aggregator"
	"github.com/productaiseo/backend-ai-seo/internal/analysis"
	"github.com/productaiseo/backend-ai-seo/internal/scoring"
)

func localized(locale, en, tr string) string {
	if strings.EqualFold(locale, "tr") {
		return tr
	}
	return en
}

func vitalMetric(v scoring.Vital, value float64) analysis.Metric {
	rating := scoring.Rate(v, value)
	unit := ""
	if u := v.Unit(); u != "" {
		unit = " " + u
	}
	return analysis.Metric{
		Score:         scoring.RatingScore(rating),
		Justification: fmt.Sprintf("%s = %s%s (%s).", v, strconv.FormatFloat(value, 'f', -1, 64), unit, rating),
		Details:       "Source: normalized performance data",
	}
}

// performanceMetrics rates each vital, preferring field p75 over lab values.
func performanceMetrics(report *analysis.PerformanceReport) map[string]analysis.Metric {
	out := map[string]analysis.Metric{}
	if report != nil {
		pick := func(values ...*float64) *float64 {
			for _, v := range values {
				if v != nil {
					return v
				}
			}
			return nil
		}
		candidates := []struct {
			vital scoring.Vital
			value *float64
		}{
			{scoring.VitalLCP, pick(report.Field.LCPP75, report.Lab.LCPMs)},
			{scoring.VitalFCP, pick(report.Field.FCPP75, report.Lab.FCPMs)},
			{scoring.VitalCLS, pick(report.Field.CLSP75, report.Lab.CLS)},
			{scoring.VitalINP, report.Field.INPP75},
			{scoring.VitalFID, report.Field.FIDP75},
			{scoring.VitalTBT, report.Lab.TBTMs},
			{scoring.VitalSpeedIndex, report.Lab.SpeedIndexMs},
		}
		for _, c := range candidates {
			if c.value != nil {
				out[string(c.vital)] = vitalMetric(c.vital, *c.value)
			}
		}
	}
	if len(out) == 0 {
		out[scoring.KeyDataUnavailable] = analysis.Metric{
			Score:         0,
			Justification: "No field or lab metrics found in the performance report.",
			Details:       "field/lab blocks empty",
		}
	}
	return out
}

func eeatComponent(c *aggregator.EEATComponent) analysis.Metric {
	if c == nil {
		return analysis.Metric{
			Score:          0,
			Justification:  "No data for this component from AI analysis.",
			PositivePoints: []string{},
			NegativePoints: []string{},
		}
	}
	score := 0
	if c.Score != nil {
		score = scoring.To0to100(*c.Score)
	}
	justification := c.Justification
	if strings.TrimSpace(justification) == "" {
		justification = "No justification provided"
	}
	pos, neg := c.PositiveSignals, c.NegativeSignals
	if pos == nil {
		pos = []string{}
	}
	if neg == nil {
		neg = []string{}
	}
	return analysis.Metric{
		Score:          float64(score),
		Justification:  justification,
		PositivePoints: pos,
		NegativePoints: neg,
	}
}

func eeatMetrics(e *aggregator.EEATAnalysis) map[string]analysis.Metric {
	return map[string]analysis.Metric{
		"experience":        eeatComponent(e.Experience),
		"expertise":         eeatComponent(e.Expertise),
		"authoritativeness": eeatComponent(e.Authoritativeness),
		"trustworthiness":   eeatComponent(e.Trustworthiness),
	}
}

func headingsMetric(s Signals, locale string) analysis.Metric {
	details := fmt.Sprintf("h1: %d, h2: %d", s.H1, s.H2)
	switch {
	case s.H1 > 0 && s.H2 > 0:
		return analysis.Metric{
			Score:         85,
			Justification: localized(locale, "Clear heading hierarchy with H1 and H2 tags.", "H1 ve H2 etiketleriyle net bir başlık hiyerarşisi."),
			Details:       details,
		}
	case s.H1 > 0:
		return analysis.Metric{
			Score:         75,
			Justification: localized(locale, "Good heading structure.", "Başlık hiyerarşisi genel olarak iyi."),
			Details:       details,
		}
	default:
		return analysis.Metric{
			Score:          45,
			Justification:  localized(locale, "The page has no H1 heading.", "Sayfada H1 başlığı yok."),
			Details:        details,
			NegativePoints: []string{"missing h1"},
		}
	}
}

func contentDepthMetric(words int, locale string) analysis.Metric {
	details := fmt.Sprintf("%d words", words)
	switch {
	case words >= 1500:
		return analysis.Metric{Score: 85, Justification: localized(locale, "Content is comprehensive.", "İçerik kapsamlı."), Details: details}
	case words >= 600:
		return analysis.Metric{Score: 70, Justification: localized(locale, "Content depth is sufficient.", "İçerik derinliği yeterli."), Details: details}
	case words >= 300:
		return analysis.Metric{Score: 55, Justification: localized(locale, "Content is somewhat thin.", "İçerik biraz yüzeysel."), Details: details}
	default:
		return analysis.Metric{Score: 40, Justification: localized(locale, "Content is thin.", "İçerik yetersiz."), Details: details}
	}
}

func mobileMetric(s Signals, locale string) analysis.Metric {
	if s.Viewport {
		return analysis.Metric{Score: 80, Justification: localized(locale, "Mobile friendliness is good.", "Mobil uyumluluk iyi."), Details: "viewport meta present"}
	}
	return analysis.Metric{Score: 40, Justification: localized(locale, "No responsive viewport meta tag.", "Duyarlı viewport meta etiketi yok."), Details: "viewport meta missing"}
}

func schemaMetric(s Signals, locale string) analysis.Metric {
	switch {
	case s.JSONLD > 0:
		details := "JSON-LD blocks: " + strconv.Itoa(s.JSONLD)
		if len(s.SchemaTypes) > 0 {
			details += " (" + strings.Join(s.SchemaTypes, ", ") + ")"
		}
		return analysis.Metric{
			Score:          80,
			Justification:  localized(locale, "Schema.org JSON-LD markup found.", "Schema.org JSON-LD işaretlemesi bulundu."),
			Details:        details,
			PositivePoints: s.SchemaTypes,
		}
	case s.Microdata:
		return analysis.Metric{Score: 70, Justification: localized(locale, "Schema.org microdata found.", "Schema.org mikro verisi bulundu."), Details: "itemscope attributes"}
	default:
		return analysis.Metric{Score: 50, Justification: localized(locale, "Default assessment.", "Varsayılan değerlendirme.")}
	}
}
