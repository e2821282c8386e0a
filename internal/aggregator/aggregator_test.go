package aggregator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/productaiseo/backend-ai-seo/internal/analysis"
	"github.com/productaiseo/backend-ai-seo/internal/llm"
)

type fakeProvider struct {
	name       string
	configured bool
	out        string
	err        error
	panicMsg   string

	mu      sync.Mutex
	prompts []llm.Prompt
}

func (f *fakeProvider) Name() string     { return f.name }
func (f *fakeProvider) Model() string    { return f.name + "-model" }
func (f *fakeProvider) Configured() bool { return f.configured }

func (f *fakeProvider) Generate(_ context.Context, p llm.Prompt) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, p)
	f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.out, f.err
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type xData struct {
	X int `json:"x"`
}

func TestRunNoProviders(t *testing.T) {
	t.Parallel()

	primary := &fakeProvider{name: "openai"}
	agg := New(primary, nil, zap.NewNop())
	_, err := Run[xData](context.Background(), agg, OpBusinessModel, llm.Prompt{User: "q"})
	require.ErrorIs(t, err, ErrNoProviders)
	require.EqualError(t, err, "all AI platforms failed - no API keys configured")
	require.Zero(t, primary.calls())
}

func TestRunOneProviderFails(t *testing.T) {
	t.Parallel()

	primary := &fakeProvider{name: "openai", configured: true, err: errors.New("rate limited")}
	secondary := &fakeProvider{name: "gemini", configured: true, out: `{"x":1}`}
	agg := New(primary, secondary, zap.NewNop())

	res, err := Run[xData](context.Background(), agg, OpBusinessModel, llm.Prompt{User: "q"})
	require.NoError(t, err)
	require.NotNil(t, res.Combined)
	require.Equal(t, xData{X: 1}, *res.Combined)
	require.Len(t, res.Errors, 1)
	require.Regexp(t, `^OpenAI error after \d+ms: rate limited$`, res.Errors[0])
	require.Nil(t, res.Primary)
	require.NotNil(t, res.Secondary)
	require.Equal(t, "Gemini", res.Secondary.Platform)
	require.Equal(t, "gemini-model", res.Secondary.Model)
}

func TestRunPrefersPrimaryWithoutBlending(t *testing.T) {
	t.Parallel()

	primary := &fakeProvider{name: "openai", configured: true, out: `{"x":1}`}
	secondary := &fakeProvider{name: "gemini", configured: true, out: `{"x":2}`}
	agg := New(primary, secondary, nil)

	res, err := Run[xData](context.Background(), agg, OpCompetitors, llm.Prompt{User: "q"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Combined.X)
	require.Equal(t, 2, res.Secondary.Data.X)
	require.Empty(t, res.Errors)
	require.Equal(t, 1, primary.calls())
	require.Equal(t, 1, secondary.calls())
}

func TestRunAllFail(t *testing.T) {
	t.Parallel()

	primary := &fakeProvider{name: "openai", configured: true, out: "no json here"}
	secondary := &fakeProvider{name: "gemini", configured: true, panicMsg: "boom"}
	agg := New(primary, secondary, zap.NewNop())

	res, err := Run[xData](context.Background(), agg, OpEEATSignals, llm.Prompt{User: "q"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "all AI platforms failed: OpenAI error after")
	require.Contains(t, err.Error(), "; Gemini error after")
	require.Contains(t, err.Error(), "panic: boom")
	require.Nil(t, res.Combined)
	require.Len(t, res.Errors, 2)
}

func TestRunSkipsUnconfiguredSecondary(t *testing.T) {
	t.Parallel()

	primary := &fakeProvider{name: "openai", configured: true, out: `{"x":3}`}
	secondary := &fakeProvider{name: "gemini"}
	agg := New(primary, secondary, zap.NewNop())

	res, err := Run[xData](context.Background(), agg, OpTargetAudience, llm.Prompt{User: "q"})
	require.NoError(t, err)
	require.Equal(t, 3, res.Combined.X)
	require.Zero(t, secondary.calls())
}

func TestDelfiAgendaEmbedsReport(t *testing.T) {
	t.Parallel()

	primary := &fakeProvider{
		name:       "openai",
		configured: true,
		out:        `{"title":"Plan","items":[{"title":"Add FAQ schema","priority":"high"}]}`,
	}
	agg := New(primary, nil, zap.NewNop())

	res, err := DelfiAgenda(context.Background(), agg, analysis.TrustReport{OverallGeoScore: 42, ExecutiveSummary: "needs work"}, "tr")
	require.NoError(t, err)
	require.Equal(t, analysis.Text("Plan"), res.Combined.Title)
	require.Len(t, res.Combined.Items, 1)
	require.Contains(t, primary.prompts[0].User, `"overallGeoScore": 42`)
	require.Contains(t, primary.prompts[0].User, "Turkish")
}

func TestEEATSignalsDecodesComponents(t *testing.T) {
	t.Parallel()

	primary := &fakeProvider{
		name:       "openai",
		configured: true,
		out: "```json\n" + `{"eeatAnalysis":{"experience":{"score":0.8,"justification":"case studies","positiveSignals":["author bios"]}},
"executiveSummary":"solid","actionPlan":[{"title":"x"}]}` + "\n```",
	}
	agg := New(primary, nil, zap.NewNop())

	res, err := EEATSignals(context.Background(), agg, "content", "SaaS", "developers", "en")
	require.NoError(t, err)
	require.NotNil(t, res.Combined.EEATAnalysis)
	require.NotNil(t, res.Combined.EEATAnalysis.Experience)
	require.InDelta(t, 0.8, *res.Combined.EEATAnalysis.Experience.Score, 1e-9)
	require.Nil(t, res.Combined.EEATAnalysis.Expertise)
	require.Equal(t, "solid", res.Combined.ExecutiveSummary)
	require.JSONEq(t, `[{"title":"x"}]`, string(res.Combined.ActionPlan))
	require.Contains(t, primary.prompts[0].User, "Sector: SaaS")
}

func TestPlatformLabel(t *testing.T) {
	t.Parallel()

	require.Equal(t, "OpenAI", PlatformLabel("openai"))
	require.Equal(t, "Gemini", PlatformLabel("GEMINI"))
	require.Equal(t, "custom", PlatformLabel("custom"))
}
