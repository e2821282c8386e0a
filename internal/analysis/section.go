package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Section holds the outcome of one stage: either a value or the error that
// replaced it. On the wire a failure is {"error": "...", "failed": true}.
type Section[T any] struct {
	value *T
	err   string
}

// Succeeded wraps a stage result.
func Succeeded[T any](v T) *Section[T] {
	return &Section[T]{value: &v}
}

// Failed wraps a stage error. A nil error is reported as "unknown error".
func Failed[T any](err error) *Section[T] {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return &Section[T]{err: msg}
}

// OK reports whether the section holds a value.
func (s *Section[T]) OK() bool {
	return s != nil && s.value != nil && s.err == ""
}

// Value returns the wrapped result and whether the stage succeeded.
func (s *Section[T]) Value() (T, bool) {
	var zero T
	if !s.OK() {
		return zero, false
	}
	return *s.value, true
}

// Err returns the stage error, or nil for successful or absent sections.
func (s *Section[T]) Err() error {
	if s == nil || s.err == "" {
		return nil
	}
	return errors.New(s.err)
}

type failureShape struct {
	Error  string `json:"error"`
	Failed bool   `json:"failed"`
}

// MarshalJSON implements json.Marshaler.
func (s Section[T]) MarshalJSON() ([]byte, error) {
	if s.err != "" || s.value == nil {
		msg := s.err
		if msg == "" {
			msg = "unknown error"
		}
		return json.Marshal(failureShape{Error: msg, Failed: true})
	}
	data, err := json.Marshal(s.value)
	if err != nil {
		return nil, fmt.Errorf("marshal section: %w", err)
	}
	return data, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Section[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("{")) {
		var probe struct {
			Error  *string `json:"error"`
			Failed *bool   `json:"failed"`
		}
		if err := json.Unmarshal(trimmed, &probe); err == nil && probe.Failed != nil && *probe.Failed {
			msg := "unknown error"
			if probe.Error != nil && *probe.Error != "" {
				msg = *probe.Error
			}
			s.value, s.err = nil, msg
			return nil
		}
	}
	var v T
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return fmt.Errorf("unmarshal section: %w", err)
	}
	s.value, s.err = &v, ""
	return nil
}
