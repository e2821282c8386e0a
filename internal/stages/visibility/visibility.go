// Package visibility measures how a brand shows up in generative search
// answers: share of voice, citations, sentiment and factual accuracy.
package visibility

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/productaiseo/backend-ai-seo/internal/analysis"
	"github.com/productaiseo/backend-ai-seo/internal/fanout"
	"github.com/productaiseo/backend-ai-seo/internal/llm"
	"github.com/productaiseo/backend-ai-seo/internal/stages"
)

const (
	// SentimentChars caps the joined answer text sent for sentiment scoring.
	SentimentChars = 4000
	// MaxCitedURLs caps TopCitedURLs.
	MaxCitedURLs = 5
	// MixedBand is the positive/negative spread still labeled mixed.
	MixedBand = 10.0
)

// DefaultQueryTemplates are appended to the "what is <brand>" fallback query.
// Each template receives the brand through %s.
var DefaultQueryTemplates = []string{
	"best alternatives to %s",
	"is %s trustworthy",
}

// Input is what the visibility stage needs from earlier stages.
type Input struct {
	URL        string
	Brand      string
	Profile    *analysis.ProfileReport
	Content    string
	TopQueries []analysis.TopQuery
	Locale     string
}

// Config tunes query generation.
type Config struct {
	QueryTemplates []string
}

// Analyzer runs the visibility stage. The assistant answers search queries
// as an end user would see them; the judge scores those answers.
type Analyzer struct {
	assistant llm.Provider
	judge     llm.Provider
	templates []string
	logger    *zap.Logger
}

// New builds an Analyzer. A nil Config.QueryTemplates selects the defaults.
func New(assistant, judge llm.Provider, cfg Config, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	templates := cfg.QueryTemplates
	if templates == nil {
		templates = DefaultQueryTemplates
	}
	return &Analyzer{
		assistant: assistant,
		judge:     judge,
		templates: templates,
		logger:    logger.Named("visibility"),
	}
}

// Analyze collects assistant answers for the site's queries and scores them.
func (a *Analyzer) Analyze(ctx context.Context, in Input) (analysis.VisibilityReport, error) {
	if in.Profile == nil || in.Profile.Competitors.BusinessCompetitors == nil {
		return analysis.VisibilityReport{}, stages.MissingInput("Arkhe report with competitors is required.")
	}
	if strings.TrimSpace(in.Content) == "" {
		return analysis.VisibilityReport{}, stages.MissingInput("Scraped content is required for RAG analysis.")
	}
	report, err := a.analyze(ctx, in)
	if err != nil {
		a.logger.Error("generative performance analysis failed", zap.String("url", in.URL), zap.Error(err))
		return analysis.VisibilityReport{}, fmt.Errorf("generative performance analysis failed: %w", err)
	}
	return report, nil
}

func (a *Analyzer) analyze(ctx context.Context, in Input) (analysis.VisibilityReport, error) {
	brand := BrandOf(in)
	queries := a.Queries(brand, in.TopQueries)
	responses := a.collect(ctx, queries)
	a.logger.Info("collected assistant answers",
		zap.String("brand", brand),
		zap.Int("queries", len(queries)),
		zap.Int("answers", len(responses)),
	)

	sov, citations := ShareOfVoice(responses, brand, analysis.HostOf(in.URL), in.Profile.Competitors.Names())

	sentiment, err := a.sentiment(ctx, brand, responses)
	if err != nil {
		return analysis.VisibilityReport{}, err
	}
	claims, err := a.claims(ctx, brand, responses)
	if err != nil {
		return analysis.VisibilityReport{}, err
	}
	accuracy, err := a.verify(ctx, claims, in.Content)
	if err != nil {
		return analysis.VisibilityReport{}, err
	}

	return analysis.VisibilityReport{
		ShareOfVoice: sov,
		Citations:    citations,
		Sentiment:    sentiment,
		Accuracy:     accuracy,
		Queries:      queries,
	}, nil
}

// BrandOf picks the explicit brand, then the profiled brand name, then the
// site host.
func BrandOf(in Input) string {
	if b := strings.TrimSpace(in.Brand); b != "" {
		return b
	}
	if in.Profile != nil {
		if b := strings.TrimSpace(string(in.Profile.BusinessModel.BrandName)); b != "" {
			return b
		}
	}
	return analysis.HostOf(in.URL)
}

// Queries returns the top queries, or templated fallbacks built from brand.
func (a *Analyzer) Queries(brand string, top []analysis.TopQuery) []string {
	out := make([]string, 0, len(top))
	for _, q := range top {
		if s := strings.TrimSpace(q.Query); s != "" {
			out = append(out, s)
		}
	}
	if len(out) > 0 {
		return out
	}
	out = append(out, "what is "+brand)
	for _, tmpl := range a.templates {
		if strings.Contains(tmpl, "%s") {
			out = append(out, fmt.Sprintf(tmpl, brand))
		}
	}
	return out
}

// collect asks the assistant every query. Failed and empty answers are dropped.
func (a *Analyzer) collect(ctx context.Context, queries []string) []string {
	if a.assistant == nil || !a.assistant.Configured() {
		a.logger.Warn("assistant not configured, skipping answer collection")
		return nil
	}
	calls := make([]func(context.Context) (string, error), len(queries))
	for i, q := range queries {
		calls[i] = func(ctx context.Context) (string, error) {
			return a.assistant.Generate(ctx, llm.Prompt{
				System:      "You are a helpful AI assistant.",
				User:        q,
				Temperature: llm.Temperature(0.2),
			})
		}
	}
	out := make([]string, 0, len(queries))
	for i, res := range fanout.Settle(ctx, calls...) {
		if !res.OK() {
			a.logger.Warn("assistant answer failed", zap.String("query", queries[i]), zap.Error(res.Err))
			continue
		}
		if strings.TrimSpace(res.Value) == "" {
			a.logger.Warn("assistant answer empty", zap.String("query", queries[i]))
			continue
		}
		out = append(out, res.Value)
	}
	return out
}

// ShareOfVoice counts brand mentions, domain citations and competitor
// mentions across responses.
func ShareOfVoice(responses []string, brand, domain string, competitors []string) (analysis.ShareOfVoice, analysis.CitationAnalysis) {
	brandLower := strings.ToLower(strings.TrimSpace(brand))
	domainLower := strings.ToLower(strings.TrimSpace(domain))

	var urlPattern *regexp.Regexp
	if domainLower != "" {
		urlPattern = regexp.MustCompile(`(?i)https?://(?:[^\s/?#]*\.)?` + regexp.QuoteMeta(domainLower) + `[^\s]*`)
	}

	mentions, cited := 0, 0
	seen := make(map[string]struct{})
	urls := make([]string, 0, MaxCitedURLs)
	for _, resp := range responses {
		lower := strings.ToLower(resp)
		if brandLower != "" && strings.Contains(lower, brandLower) {
			mentions++
		}
		if domainLower == "" || !strings.Contains(lower, domainLower) {
			continue
		}
		cited++
		for _, u := range urlPattern.FindAllString(resp, -1) {
			u = strings.TrimRight(u, `.,;:!?)]}>"'`)
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			if len(urls) < MaxCitedURLs {
				urls = append(urls, u)
			}
		}
	}

	total := float64(len(responses))
	if total == 0 {
		total = 1
	}
	shares := make([]analysis.CompetitorShare, 0, len(competitors))
	for _, name := range competitors {
		nameLower := strings.ToLower(strings.TrimSpace(name))
		hits := 0
		for _, resp := range responses {
			if nameLower != "" && strings.Contains(strings.ToLower(resp), nameLower) {
				hits++
			}
		}
		shares = append(shares, analysis.CompetitorShare{
			Name:  name,
			Score: int(math.Round(float64(hits) / total * 100)),
		})
	}

	return analysis.ShareOfVoice{
			Score:       float64(mentions) / total * 100,
			Competitors: shares,
			Mentions:    mentions,
		}, analysis.CitationAnalysis{
			CitationRate: float64(cited) / total * 100,
			Citations:    cited,
			TopCitedURLs: urls,
		}
}

// Trend labels a sentiment distribution.
func Trend(positive, neutral, negative float64) analysis.SentimentTrend {
	switch {
	case positive > neutral && positive > negative:
		return analysis.TrendPositive
	case negative > positive && negative > neutral:
		return analysis.TrendNegative
	case neutral > positive && neutral > negative:
		return analysis.TrendNeutral
	case math.Abs(positive-negative) <= MixedBand:
		return analysis.TrendMixed
	default:
		return analysis.TrendNeutral
	}
}

// score is a number the model may send as a JSON string.
type score struct {
	value float64
	valid bool
}

func (s *score) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*s = score{value: n, valid: true}
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		n, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(str), "%"), 64)
		if err == nil {
			*s = score{value: n, valid: true}
		}
	}
	return nil
}

var errNonNumericSentiment = errors.New("AI returned non-numeric sentiment values")

func (a *Analyzer) sentiment(ctx context.Context, brand string, responses []string) (analysis.SentimentAnalysis, error) {
	text := []rune(strings.Join(responses, " "))
	if len(text) > SentimentChars {
		text = text[:SentimentChars]
	}
	var out struct {
		Positive score `json:"positive"`
		Neutral  score `json:"neutral"`
		Negative score `json:"negative"`
	}
	if err := a.judgeJSON(ctx, llm.SentimentPrompt(brand, string(text)), &out); err != nil {
		return analysis.SentimentAnalysis{}, fmt.Errorf("sentiment: %w", err)
	}
	if !out.Positive.valid || !out.Neutral.valid || !out.Negative.valid {
		a.logger.Warn("non-numeric sentiment values")
		return analysis.SentimentAnalysis{}, errNonNumericSentiment
	}
	p, n, neg := out.Positive.value, out.Neutral.value, out.Negative.value
	return analysis.SentimentAnalysis{
		Positive: p,
		Neutral:  n,
		Negative: neg,
		Trend:    Trend(p, n, neg),
	}, nil
}

func (a *Analyzer) claims(ctx context.Context, brand string, responses []string) ([]string, error) {
	if len(responses) == 0 {
		return nil, nil
	}
	var out struct {
		Claims []analysis.Text `json:"claims"`
	}
	if err := a.judgeJSON(ctx, llm.ClaimsPrompt(brand, llm.Truncate(strings.Join(responses, " "), llm.MaxContentChars)), &out); err != nil {
		return nil, fmt.Errorf("extract claims: %w", err)
	}
	claims := make([]string, 0, len(out.Claims))
	for _, c := range out.Claims {
		if s := strings.TrimSpace(string(c)); s != "" {
			claims = append(claims, s)
		}
	}
	return claims, nil
}

// verify checks every claim against the scraped content in parallel.
func (a *Analyzer) verify(ctx context.Context, claims []string, groundTruth string) (analysis.AccuracyAnalysis, error) {
	if len(claims) == 0 {
		return analysis.AccuracyAnalysis{AccuracyScore: 100, Examples: []analysis.ClaimCheck{}}, nil
	}
	calls := make([]func(context.Context) (analysis.ClaimCheck, error), len(claims))
	for i, claim := range claims {
		calls[i] = func(ctx context.Context) (analysis.ClaimCheck, error) {
			var check analysis.ClaimCheck
			if err := a.judgeJSON(ctx, llm.VerifyClaimPrompt(claim, groundTruth), &check); err != nil {
				return analysis.ClaimCheck{}, err
			}
			check.Claim = claim
			check.VerificationResult = normalizeResult(check.VerificationResult)
			return check, nil
		}
	}

	examples := make([]analysis.ClaimCheck, 0, len(claims))
	verified := 0
	for _, res := range fanout.Settle(ctx, calls...) {
		if !res.OK() {
			return analysis.AccuracyAnalysis{}, fmt.Errorf("verify claims: %w", res.Err)
		}
		if res.Value.VerificationResult == analysis.VerificationVerified {
			verified++
		}
		examples = append(examples, res.Value)
	}
	return analysis.AccuracyAnalysis{
		AccuracyScore: int(math.Round(float64(verified) / float64(len(examples)) * 100)),
		Examples:      examples,
	}, nil
}

func normalizeResult(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case analysis.VerificationVerified:
		return analysis.VerificationVerified
	case analysis.VerificationContradictory:
		return analysis.VerificationContradictory
	default:
		return analysis.VerificationUnverified
	}
}

func (a *Analyzer) judgeJSON(ctx context.Context, prompt llm.Prompt, out any) error {
	if a.judge == nil || !a.judge.Configured() {
		return llm.ErrNotConfigured
	}
	raw, err := a.judge.Generate(ctx, prompt)
	if err != nil {
		return err
	}
	decoded, err := llm.Decode[json.RawMessage](raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(decoded, out); err != nil {
		return &llm.ParseError{Raw: raw, Err: err}
	}
	return nil
}
