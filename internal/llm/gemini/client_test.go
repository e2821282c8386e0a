package gemini

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/productaiseo/backend-ai-seo/internal/llm"
)

type fakeModel struct {
	mu     sync.Mutex
	prompt []genai.Part
	resp   *genai.GenerateContentResponse
	err    error
	block  bool
}

func (f *fakeModel) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	f.prompt = parts
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.resp, f.err
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{}
	for _, p := range parts {
		content.Parts = append(content.Parts, genai.Text(p))
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: content}}}
}

func TestGenerateJoinsTextParts(t *testing.T) {
	t.Parallel()

	fake := &fakeModel{resp: textResponse(`{"a":`, `1}`)}
	var seen llm.Prompt
	c := newWithFactory("gemini-test", time.Second, func(p llm.Prompt) generator {
		seen = p
		return fake
	})

	out, err := c.Generate(context.Background(), llm.Prompt{System: "sys", User: "hello", JSON: true})
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, out)
	require.Equal(t, "sys", seen.System)
	require.Equal(t, []genai.Part{genai.Text("hello")}, fake.prompt)
}

func TestGenerateMapsErrors(t *testing.T) {
	t.Parallel()

	c := newWithFactory("m", time.Second, func(llm.Prompt) generator {
		return &fakeModel{err: errors.New("rpc error: API key not valid. Please pass a valid API key")}
	})
	_, err := c.Generate(context.Background(), llm.Prompt{User: "x"})
	require.EqualError(t, err, "invalid Gemini API key")

	c = newWithFactory("m", 10*time.Millisecond, func(llm.Prompt) generator {
		return &fakeModel{block: true}
	})
	_, err = c.Generate(context.Background(), llm.Prompt{User: "x"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, llm.ShouldRetry(err))
}

func TestGenerateMapsGRPCStatus(t *testing.T) {
	t.Parallel()

	c := newWithFactory("m", time.Second, func(llm.Prompt) generator {
		return &fakeModel{err: status.Error(codes.ResourceExhausted, "quota exceeded")}
	})
	_, err := c.Generate(context.Background(), llm.Prompt{User: "x"})
	var statusErr *llm.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.Code)
	require.True(t, llm.ShouldRetry(err))

	c = newWithFactory("m", time.Second, func(llm.Prompt) generator {
		return &fakeModel{err: status.Error(codes.InvalidArgument, "bad schema")}
	})
	_, err = c.Generate(context.Background(), llm.Prompt{User: "x"})
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadRequest, statusErr.Code)
	require.False(t, llm.ShouldRetry(err))
}

func TestGenerateEmptyResponse(t *testing.T) {
	t.Parallel()

	c := newWithFactory("m", time.Second, func(llm.Prompt) generator {
		return &fakeModel{resp: &genai.GenerateContentResponse{}}
	})
	_, err := c.Generate(context.Background(), llm.Prompt{User: "x"})
	require.EqualError(t, err, "gemini response empty content")
}

func TestConfigureModel(t *testing.T) {
	t.Parallel()

	m := configureModel(&genai.GenerativeModel{}, llm.Prompt{System: "be terse", JSON: true, Temperature: llm.Temperature(0.5)})
	require.Equal(t, "application/json", m.GenerationConfig.ResponseMIMEType)
	require.NotNil(t, m.GenerationConfig.Temperature)
	require.InDelta(t, 0.5, *m.GenerationConfig.Temperature, 1e-6)
	require.Equal(t, []genai.Part{genai.Text("be terse")}, m.SystemInstruction.Parts)
}

func TestNewWithoutProjectIsUnconfigured(t *testing.T) {
	t.Parallel()

	c, err := New(context.Background(), Config{})
	require.NoError(t, err)
	require.False(t, c.Configured())
	require.Equal(t, defaultModel, c.Model())
	require.NoError(t, c.Close())
	_, err = c.Generate(context.Background(), llm.Prompt{User: "x"})
	require.ErrorIs(t, err, llm.ErrNotConfigured)
}
