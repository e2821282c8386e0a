// Package llm defines the language-model provider contract shared by the
// OpenAI-compatible and Vertex AI backends, plus tolerant JSON decoding of
// their responses.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrNotConfigured is returned by providers that have no credentials.
var ErrNotConfigured = errors.New("provider not configured")

// Prompt is one request to a model.
type Prompt struct {
	System string
	User   string
	// Temperature is optional; nil keeps the provider default.
	Temperature *float32
	// JSON asks the provider for a JSON object response when it supports it.
	JSON bool
}

// Provider generates text from a prompt.
type Provider interface {
	Name() string
	Model() string
	Configured() bool
	Generate(ctx context.Context, p Prompt) (string, error)
}

// Temperature returns a pointer suitable for Prompt.Temperature.
func Temperature(v float32) *float32 {
	return &v
}

// StatusError is a non-2xx answer from a provider endpoint.
type StatusError struct {
	Provider string
	Code     int
	Message  string
	Err      error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s http status %d: %s", e.Provider, e.Code, e.Message)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}
