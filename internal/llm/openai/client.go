// Package openai implements llm.Provider over the Chat Completions API. Any
// OpenAI-compatible endpoint, such as Perplexity, can be targeted through
// Config.BaseURL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/productaiseo/backend-ai-seo/internal/llm"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 512
)

// Config configures a Client.
type Config struct {
	// Name labels the provider in errors and logs. Defaults to "openai".
	Name    string
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	// DisableJSONMode omits response_format for endpoints that reject it.
	DisableJSONMode bool
	HTTPClient      *http.Client
}

// Client talks to a Chat Completions endpoint.
type Client struct {
	name     string
	model    string
	timeout  time.Duration
	jsonMode bool
	api      *sdk.Client
}

// New constructs a Client. A missing API key yields an unconfigured client
// whose Generate returns llm.ErrNotConfigured.
func New(cfg Config) *Client {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "openai"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		name:     name,
		model:    model,
		timeout:  timeout,
		jsonMode: !cfg.DisableJSONMode,
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return c
	}

	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	// Retries belong to llm.Retrying.
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(base + "/"),
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	api := sdk.NewClient(opts...)
	c.api = &api
	return c
}

// Name implements llm.Provider.
func (c *Client) Name() string { return c.name }

// Model implements llm.Provider.
func (c *Client) Model() string { return c.model }

// Configured implements llm.Provider.
func (c *Client) Configured() bool { return c.api != nil }

func (c *Client) params(p llm.Prompt) sdk.ChatCompletionNewParams {
	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, 2)
	if strings.TrimSpace(p.System) != "" {
		messages = append(messages, sdk.SystemMessage(p.System))
	}
	messages = append(messages, sdk.UserMessage(p.User))
	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	}
	if p.Temperature != nil {
		params.Temperature = sdk.Float(float64(*p.Temperature))
	}
	if p.JSON && c.jsonMode {
		params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

// Generate implements llm.Provider.
func (c *Client) Generate(ctx context.Context, p llm.Prompt) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("%s: %w", c.name, llm.ErrNotConfigured)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.Chat.Completions.New(ctx, c.params(p))
	if err != nil {
		return "", c.classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s response missing choices", c.name)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%s response empty content", c.name)
	}
	return content, nil
}

func (c *Client) classify(ctx context.Context, err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		msg := strings.TrimSpace(apiErr.Message)
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return &llm.StatusError{
			Provider: c.name,
			Code:     apiErr.StatusCode,
			Message:  llm.Truncate(msg, maxErrorBody),
			Err:      err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s request timeout after %s: %w", c.name, c.timeout, context.DeadlineExceeded)
	}
	return fmt.Errorf("%s request: %w", c.name, err)
}

var _ llm.Provider = (*Client)(nil)
