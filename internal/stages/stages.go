// Package stages holds what the analysis stage services share. Each stage
// lives in its own subpackage and is a pure function of earlier results.
package stages

import (
	"errors"
	"fmt"
)

// ErrMissingInput marks a stage that could not run because an upstream
// result was absent.
var ErrMissingInput = errors.New("missing input")

// MissingInput wraps ErrMissingInput with a message shown to users.
func MissingInput(msg string) error {
	return &missingInputError{msg: msg}
}

type missingInputError struct {
	msg string
}

func (e *missingInputError) Error() string { return e.msg }

func (e *missingInputError) Unwrap() error { return ErrMissingInput }

// Wrap prefixes err with a stage label, keeping it inspectable.
func Wrap(stage string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", stage, err)
}
