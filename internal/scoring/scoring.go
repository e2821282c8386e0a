// Package scoring turns metric sets into pillar and overall GEO scores.
package scoring

import (
	"math"
	"sort"
	"strings"

	"github.com/productaiseo/backend-ai-seo/internal/analysis"
)

// Metric keys with special meaning.
const (
	KeyOverallLighthouse = "overallLighthouseScore"
	KeyDataUnavailable   = "dataUnavailable"
)

// FloorScore is the overall score reported when no pillar qualifies.
const FloorScore = 5

var metricWeights = map[string]float64{
	"knowledgeGraphPresence": 0.5,
	"entityReconciliation":   0.25,
	"entityCompleteness":     0.25,
}

// Options tunes ScorePillar.
type Options struct {
	ApplyPenalties bool
}

// ScorePillar averages the metric scores of one pillar and returns an
// integer in [0,100]. The result does not depend on map iteration order.
func ScorePillar(metrics map[string]analysis.Metric, _ string, opts Options) int {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		if k == KeyOverallLighthouse {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return 0
	}
	sort.Strings(keys)

	hasWeights := false
	for _, k := range keys {
		if metricWeights[k] > 0 {
			hasWeights = true
			break
		}
	}

	var total, weight float64
	if hasWeights {
		for _, k := range keys {
			if w := metricWeights[k]; w > 0 {
				total += metrics[k].Score * w
				weight += w
			}
		}
	}
	if weight == 0 {
		total = 0
		for _, k := range keys {
			total += metrics[k].Score
		}
		weight = float64(len(keys))
	}

	score := total / weight
	if opts.ApplyPenalties {
		for _, k := range keys {
			m := metrics[k]
			score -= 5 * float64(len(m.NegativePoints))
			if strings.Contains(m.Justification, "NEEDS_IMPROVEMENT") {
				score -= 5
			}
			if strings.Contains(m.Justification, "POOR") {
				score -= 10
			}
		}
	}
	return clampRound(score)
}

// OverallScore is the weighted mean of every pillar with a positive score and
// real data. It returns FloorScore when none qualify.
func OverallScore(pillars map[string]analysis.Pillar) int {
	names := make([]string, 0, len(pillars))
	for name := range pillars {
		names = append(names, name)
	}
	sort.Strings(names)

	var total, weight float64
	for _, name := range names {
		p := pillars[name]
		if p.Score <= 0 || Unavailable(p) {
			continue
		}
		total += float64(p.Score) * p.Weight
		weight += p.Weight
	}
	if weight == 0 {
		return FloorScore
	}
	return int(math.Round(total / weight))
}

// Unavailable reports whether a pillar carries the data-unavailable marker.
func Unavailable(p analysis.Pillar) bool {
	_, ok := p.Metrics[KeyDataUnavailable]
	return ok
}

// Subcomponent is one optional weighted input to ResilientScore.
type Subcomponent struct {
	Name   string
	Score  *float64
	Weight float64
}

// ResilientScore is the weighted mean over defined subcomponents.
func ResilientScore(parts []Subcomponent) float64 {
	var total, weight float64
	for _, p := range parts {
		if p.Score == nil {
			continue
		}
		total += *p.Score * p.Weight
		weight += p.Weight
	}
	if weight == 0 {
		return 0
	}
	return total / weight
}

// To0to100 normalizes a model-reported score to an integer percentage.
// Values in [0,1] are fractions and values in (1,10] are out of ten.
func To0to100(x float64) int {
	switch {
	case math.IsNaN(x) || x < 0:
		return 0
	case x <= 1:
		return int(math.Round(x * 100))
	case x <= 10:
		return int(math.Round(x * 10))
	case x > 100:
		return 100
	default:
		return int(math.Round(x))
	}
}

func clampRound(v float64) int {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		v = 100
	}
	return int(math.Round(v))
}
