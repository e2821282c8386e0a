// Package aggregator calls the primary and secondary LLM providers with the
// same prompt in parallel and keeps the primary's answer when it has one.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/productaiseo/backend-ai-seo/internal/fanout"
	"github.com/productaiseo/backend-ai-seo/internal/llm"
	"github.com/productaiseo/backend-ai-seo/internal/metrics"
)

// ErrNoProviders is returned before any call when no provider is configured.
var ErrNoProviders = errors.New("all AI platforms failed - no API keys configured")

// Operation names an aggregated analysis.
type Operation string

// Aggregated operations.
const (
	OpBusinessModel  Operation = "businessModel"
	OpTargetAudience Operation = "targetAudience"
	OpCompetitors    Operation = "competitors"
	OpEEATSignals    Operation = "eeatSignals"
	OpDelfiAgenda    Operation = "delfiAgenda"
)

// Aggregator fans a prompt out to two providers.
type Aggregator struct {
	primary   llm.Provider
	secondary llm.Provider
	logger    *zap.Logger
	now       func() time.Time
}

// New builds an Aggregator. Either provider may be nil or unconfigured.
func New(primary, secondary llm.Provider, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		primary:   primary,
		secondary: secondary,
		logger:    logger.Named("aggregator"),
		now:       time.Now,
	}
}

// Attempt is one provider's answer.
type Attempt[T any] struct {
	Platform string
	Model    string
	Duration time.Duration
	Data     T
}

// Result collects both attempts and the chosen answer.
type Result[T any] struct {
	Primary   *Attempt[T]
	Secondary *Attempt[T]
	Combined  *T
	Errors    []string
}

// Configured reports whether at least one provider can be called.
func (a *Aggregator) Configured() bool {
	return configured(a.primary) || configured(a.secondary)
}

func configured(p llm.Provider) bool {
	return p != nil && p.Configured()
}

// Run sends prompt to every configured provider concurrently and decodes each
// answer into T. A panicking or failing provider never affects the other.
func Run[T any](ctx context.Context, a *Aggregator, op Operation, prompt llm.Prompt) (Result[T], error) {
	var res Result[T]
	if a == nil || !a.Configured() {
		return res, ErrNoProviders
	}

	type slot struct {
		provider llm.Provider
		dst      **Attempt[T]
	}
	var slots []slot
	if configured(a.primary) {
		slots = append(slots, slot{a.primary, &res.Primary})
	}
	if configured(a.secondary) {
		slots = append(slots, slot{a.secondary, &res.Secondary})
	}

	branches := make([]func(context.Context) (Attempt[T], error), len(slots))
	for i, s := range slots {
		branches[i] = func(ctx context.Context) (Attempt[T], error) {
			return call[T](ctx, a, op, s.provider, prompt)
		}
	}
	outcomes := fanout.Settle(ctx, branches...)

	for i, out := range outcomes {
		if out.Err != nil {
			res.Errors = append(res.Errors, out.Err.Error())
			continue
		}
		attempt := out.Value
		*slots[i].dst = &attempt
	}

	switch {
	case res.Primary != nil:
		res.Combined = &res.Primary.Data
	case res.Secondary != nil:
		res.Combined = &res.Secondary.Data
	default:
		return res, fmt.Errorf("all AI platforms failed: %s", strings.Join(res.Errors, "; "))
	}
	if len(res.Errors) > 0 {
		a.logger.Warn("provider failed, using remaining answer",
			zap.String("operation", string(op)),
			zap.Strings("errors", res.Errors),
		)
	}
	return res, nil
}

func call[T any](ctx context.Context, a *Aggregator, op Operation, p llm.Provider, prompt llm.Prompt) (attempt Attempt[T], err error) {
	platform := PlatformLabel(p.Name())
	start := a.now()
	defer func() {
		elapsed := a.now().Sub(start)
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		metrics.ObserveLLMCall(p.Name(), string(op), err == nil, elapsed)
		if err != nil {
			err = fmt.Errorf("%s error after %dms: %w", platform, elapsed.Milliseconds(), err)
		}
	}()

	raw, err := p.Generate(ctx, prompt)
	if err != nil {
		return attempt, err
	}
	data, err := llm.Decode[T](raw)
	if err != nil {
		return attempt, err
	}
	return Attempt[T]{
		Platform: platform,
		Model:    p.Model(),
		Duration: a.now().Sub(start),
		Data:     data,
	}, nil
}

// PlatformLabel returns the display name used in attempt records and errors.
func PlatformLabel(name string) string {
	switch strings.ToLower(name) {
	case "openai":
		return "OpenAI"
	case "gemini":
		return "Gemini"
	case "perplexity":
		return "Perplexity"
	default:
		return name
	}
}
