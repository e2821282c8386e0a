// Package gemini implements llm.Provider on Vertex AI generative models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/productaiseo/backend-ai-seo/internal/llm"
)

const (
	defaultModel   = "gemini-1.5-flash"
	defaultRegion  = "us-central1"
	defaultTimeout = 30 * time.Second
)

// Config configures a Client.
type Config struct {
	ProjectID string
	Region    string
	Model     string
	Timeout   time.Duration
}

type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type modelFactory func(p llm.Prompt) generator

// Client generates content with a Vertex AI model.
type Client struct {
	model    string
	timeout  time.Duration
	base     *genai.Client
	newModel modelFactory
}

// New dials Vertex AI. An empty project yields an unconfigured client and no
// network connection is made.
func New(ctx context.Context, cfg Config) (*Client, error) {
	c := &Client{model: cfg.Model, timeout: cfg.Timeout}
	if strings.TrimSpace(c.model) == "" {
		c.model = defaultModel
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return c, nil
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	base, err := genai.NewClient(ctx, cfg.ProjectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	c.base = base
	c.newModel = func(p llm.Prompt) generator {
		return configureModel(base.GenerativeModel(c.model), p)
	}
	return c, nil
}

func newWithFactory(model string, timeout time.Duration, f modelFactory) *Client {
	return &Client{model: model, timeout: timeout, newModel: f}
}

func configureModel(m *genai.GenerativeModel, p llm.Prompt) *genai.GenerativeModel {
	if strings.TrimSpace(p.System) != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(p.System)},
		}
	}
	if p.JSON {
		m.GenerationConfig.ResponseMIMEType = "application/json"
	}
	if p.Temperature != nil {
		m.GenerationConfig.Temperature = genai.Ptr[float32](*p.Temperature)
	}
	return m
}

// Name implements llm.Provider.
func (c *Client) Name() string { return "gemini" }

// Model implements llm.Provider.
func (c *Client) Model() string { return c.model }

// Configured implements llm.Provider.
func (c *Client) Configured() bool { return c.newModel != nil }

// Generate implements llm.Provider.
func (c *Client) Generate(ctx context.Context, p llm.Prompt) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("gemini: %w", llm.ErrNotConfigured)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.newModel(p).GenerateContent(ctx, genai.Text(p.User))
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
			return "", fmt.Errorf("gemini request timed out after %s: %w", c.timeout, context.DeadlineExceeded)
		case strings.Contains(err.Error(), "API key not valid"):
			return "", errors.New("invalid Gemini API key")
		default:
			if statusErr := statusFor(err); statusErr != nil {
				return "", statusErr
			}
			return "", fmt.Errorf("gemini generate: %w", err)
		}
	}
	text := extractText(resp)
	if text == "" {
		return "", errors.New("gemini response empty content")
	}
	return text, nil
}

// Close releases the underlying Vertex AI client.
func (c *Client) Close() error {
	if c.base == nil {
		return nil
	}
	if err := c.base.Close(); err != nil {
		return fmt.Errorf("close genai client: %w", err)
	}
	return nil
}

var grpcToHTTP = map[codes.Code]int{
	codes.InvalidArgument:   http.StatusBadRequest,
	codes.PermissionDenied:  http.StatusForbidden,
	codes.Unauthenticated:   http.StatusUnauthorized,
	codes.NotFound:          http.StatusNotFound,
	codes.ResourceExhausted: http.StatusTooManyRequests,
	codes.Internal:          http.StatusInternalServerError,
	codes.Unavailable:       http.StatusServiceUnavailable,
}

// statusFor maps a gRPC status from Vertex AI onto llm.StatusError.
func statusFor(err error) *llm.StatusError {
	st, ok := status.FromError(err)
	if !ok {
		return nil
	}
	code, known := grpcToHTTP[st.Code()]
	if !known {
		return nil
	}
	return &llm.StatusError{Provider: "gemini", Code: code, Message: st.Message(), Err: err}
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

var _ llm.Provider = (*Client)(nil)
