package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Text is a string that accepts loosely typed JSON. Numbers, booleans,
// arrays and objects are flattened into readable text.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*t = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		*t = Text(s)
		return nil
	}
	var list []Text
	if err := json.Unmarshal(trimmed, &list); err == nil {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			if item != "" {
				parts = append(parts, string(item))
			}
		}
		*t = Text(strings.Join(parts, ", "))
		return nil
	}
	var obj map[string]Text
	if err := json.Unmarshal(trimmed, &obj); err == nil {
		parts := make([]string, 0, len(obj))
		for k, v := range obj {
			if v != "" {
				parts = append(parts, fmt.Sprintf("%s: %s", k, v))
			}
		}
		sort.Strings(parts)
		*t = Text(strings.Join(parts, "; "))
		return nil
	}
	*t = Text(string(trimmed))
	return nil
}

// BusinessModel is the AI-derived business profile of a site.
type BusinessModel struct {
	BrandName        Text   `json:"brandName"`
	ModelType        Text   `json:"modelType"`
	ValueProposition Text   `json:"valueProposition,omitempty"`
	RevenueStreams   []Text `json:"revenueStreams,omitempty"`
	KeyActivities    []Text `json:"keyActivities,omitempty"`
	Summary          Text   `json:"summary,omitempty"`
}

// AudienceSegment describes one audience group.
type AudienceSegment struct {
	Demographics   Text   `json:"demographics"`
	Psychographics Text   `json:"psychographics,omitempty"`
	PainPoints     []Text `json:"painPoints,omitempty"`
}

// TargetAudience is the AI-derived audience profile.
type TargetAudience struct {
	PrimaryAudience    AudienceSegment   `json:"primaryAudience"`
	SecondaryAudiences []AudienceSegment `json:"secondaryAudiences,omitempty"`
}

// Competitor names one competing business or content source.
type Competitor struct {
	Name   string `json:"name"`
	Domain string `json:"domain,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// UnmarshalJSON accepts either a bare name or an object.
func (c *Competitor) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*c = Competitor{Name: name}
		return nil
	}
	var obj struct {
		Name   Text `json:"name"`
		Domain Text `json:"domain"`
		URL    Text `json:"url"`
		Reason Text `json:"reason"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("unmarshal competitor: %w", err)
	}
	domain := obj.Domain
	if domain == "" {
		domain = obj.URL
	}
	*c = Competitor{Name: string(obj.Name), Domain: string(domain), Reason: string(obj.Reason)}
	return nil
}

// Competitors groups business and content competitors.
type Competitors struct {
	BusinessCompetitors []Competitor `json:"businessCompetitors"`
	ContentCompetitors  []Competitor `json:"contentCompetitors,omitempty"`
}

// Names returns the non-empty business competitor names.
func (c Competitors) Names() []string {
	out := make([]string, 0, len(c.BusinessCompetitors))
	for _, comp := range c.BusinessCompetitors {
		if name := strings.TrimSpace(comp.Name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// ProfileReport is the ARKHE stage output.
type ProfileReport struct {
	BusinessModel  BusinessModel  `json:"businessModel"`
	TargetAudience TargetAudience `json:"targetAudience"`
	Competitors    Competitors    `json:"competitors"`
}

// LabMetrics are synthetic timing audits.
type LabMetrics struct {
	LCPMs        *float64 `json:"lcpMs"`
	FCPMs        *float64 `json:"fcpMs"`
	CLS          *float64 `json:"cls"`
	TBTMs        *float64 `json:"tbtMs"`
	SpeedIndexMs *float64 `json:"speedIndexMs"`
}

// FieldMetrics are p75 real-user metrics.
type FieldMetrics struct {
	LCPP75 *float64 `json:"lcpP75"`
	FCPP75 *float64 `json:"fcpP75"`
	CLSP75 *float64 `json:"clsP75"`
	FIDP75 *float64 `json:"fidP75"`
	INPP75 *float64 `json:"inpP75"`
}

// PerformanceReport is the PSI stage output.
type PerformanceReport struct {
	URL         string       `json:"url"`
	FetchedAt   time.Time    `json:"fetchedAt"`
	Lab         LabMetrics   `json:"lab"`
	Field       FieldMetrics `json:"field"`
	RawProvider string       `json:"rawProvider"`
}

// Empty reports whether no metric at all was collected.
func (r PerformanceReport) Empty() bool {
	for _, v := range []*float64{
		r.Lab.LCPMs, r.Lab.FCPMs, r.Lab.CLS, r.Lab.TBTMs, r.Lab.SpeedIndexMs,
		r.Field.LCPP75, r.Field.FCPP75, r.Field.CLSP75, r.Field.FIDP75, r.Field.INPP75,
	} {
		if v != nil {
			return false
		}
	}
	return true
}

// Metric is one scored signal inside a pillar.
type Metric struct {
	Score          float64  `json:"score"`
	Justification  string   `json:"justification"`
	Details        string   `json:"details,omitempty"`
	PositivePoints []string `json:"positivePoints,omitempty"`
	NegativePoints []string `json:"negativePoints,omitempty"`
}

// Pillar is one weighted category of the overall score.
type Pillar struct {
	Score   int               `json:"score"`
	Weight  float64           `json:"weight"`
	Metrics map[string]Metric `json:"metrics,omitempty"`
}

// TrustReport is the PROMETHEUS stage output.
type TrustReport struct {
	ScoreInterpretation string            `json:"scoreInterpretation"`
	ExecutiveSummary    string            `json:"executiveSummary"`
	OverallGeoScore     int               `json:"overallGeoScore"`
	GeoScoreDetails     json.RawMessage   `json:"geoScoreDetails,omitempty"`
	Pillars             map[string]Pillar `json:"pillars"`
	ActionPlan          json.RawMessage   `json:"actionPlan,omitempty"`
}

// CompetitorShare is a competitor's share of generative voice.
type CompetitorShare struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// ShareOfVoice measures how often AI answers mention the brand.
type ShareOfVoice struct {
	Score       float64           `json:"score"`
	Competitors []CompetitorShare `json:"competitors"`
	Mentions    int               `json:"mentions"`
}

// CitationAnalysis measures how often AI answers cite the domain.
type CitationAnalysis struct {
	CitationRate float64  `json:"citationRate"`
	Citations    int      `json:"citations"`
	TopCitedURLs []string `json:"topCitedUrls"`
}

// SentimentTrend labels the dominant sentiment.
type SentimentTrend string

// Sentiment trend labels.
const (
	TrendPositive SentimentTrend = "positive"
	TrendNeutral  SentimentTrend = "neutral"
	TrendNegative SentimentTrend = "negative"
	TrendMixed    SentimentTrend = "mixed"
)

// SentimentAnalysis is the three-way sentiment distribution.
type SentimentAnalysis struct {
	Positive float64        `json:"positive"`
	Neutral  float64        `json:"neutral"`
	Negative float64        `json:"negative"`
	Trend    SentimentTrend `json:"sentimentTrend"`
}

// Verification outcome labels for extracted claims.
const (
	VerificationVerified      = "verified"
	VerificationUnverified    = "unverified"
	VerificationContradictory = "contradictory"
)

// ClaimCheck is one verified or refuted AI claim.
type ClaimCheck struct {
	Claim              string `json:"claim"`
	SourceText         string `json:"sourceText"`
	VerificationResult string `json:"verificationResult"`
	Explanation        string `json:"explanation"`
}

// AccuracyAnalysis scores hallucinations against the scraped ground truth.
type AccuracyAnalysis struct {
	AccuracyScore int          `json:"accuracyScore"`
	Examples      []ClaimCheck `json:"examples"`
}

// VisibilityReport is the GEN_PERF stage output.
type VisibilityReport struct {
	ShareOfVoice ShareOfVoice      `json:"shareOfGenerativeVoice"`
	Citations    CitationAnalysis  `json:"citationAnalysis"`
	Sentiment    SentimentAnalysis `json:"sentimentAnalysis"`
	Accuracy     AccuracyAnalysis  `json:"accuracyAndHallucination"`
	Queries      []string          `json:"queries,omitempty"`
}

// AgendaItem is one prioritized action.
type AgendaItem struct {
	Title       Text `json:"title"`
	Description Text `json:"description,omitempty"`
	Priority    Text `json:"priority,omitempty"`
	Pillar      Text `json:"pillar,omitempty"`
	Effort      Text `json:"effort,omitempty"`
	Impact      Text `json:"impact,omitempty"`
}

// Agenda is the LIR stage output.
type Agenda struct {
	Title   Text         `json:"title,omitempty"`
	Summary Text         `json:"summary,omitempty"`
	Items   []AgendaItem `json:"items"`
}

// SiteSignals is the optional metadata captured next to the scraped page.
type SiteSignals struct {
	RobotsTxt   *string         `json:"robotsTxt,omitempty"`
	LLMsTxt     *string         `json:"llmsTxt,omitempty"`
	AIAccess    map[string]bool `json:"aiCrawlerAccess,omitempty"`
	Performance json.RawMessage `json:"performanceMetrics,omitempty"`
}
