package scoring

// Rating is a web-vitals verdict.
type Rating string

// Web-vitals ratings.
const (
	RatingGood             Rating = "GOOD"
	RatingNeedsImprovement Rating = "NEEDS_IMPROVEMENT"
	RatingPoor             Rating = "POOR"
)

// Vital names a web-vitals metric.
type Vital string

// Known vitals.
const (
	VitalLCP        Vital = "LCP"
	VitalFCP        Vital = "FCP"
	VitalCLS        Vital = "CLS"
	VitalFID        Vital = "FID"
	VitalINP        Vital = "INP"
	VitalTBT        Vital = "TBT"
	VitalSpeedIndex Vital = "SpeedIndex"
)

type threshold struct {
	good, needsImprovement float64
}

var vitalThresholds = map[Vital]threshold{
	VitalLCP:        {2500, 4000},
	VitalFCP:        {1800, 3000},
	VitalCLS:        {0.1, 0.25},
	VitalFID:        {100, 300},
	VitalINP:        {200, 500},
	VitalTBT:        {200, 600},
	VitalSpeedIndex: {3400, 5800},
}

// Rate classifies a vital value. Unknown vitals rate NEEDS_IMPROVEMENT.
func Rate(v Vital, value float64) Rating {
	t, ok := vitalThresholds[v]
	if !ok {
		return RatingNeedsImprovement
	}
	switch {
	case value <= t.good:
		return RatingGood
	case value <= t.needsImprovement:
		return RatingNeedsImprovement
	default:
		return RatingPoor
	}
}

// RatingScore maps a rating onto the 0..100 metric scale.
func RatingScore(r Rating) float64 {
	switch r {
	case RatingGood:
		return 95
	case RatingNeedsImprovement:
		return 50
	default:
		return 10
	}
}

// Unit returns the display unit of a vital.
func (v Vital) Unit() string {
	if v == VitalCLS {
		return ""
	}
	return "ms"
}
