package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	fencedJSON     = regexp.MustCompile("(?is)```json\\s*(.*?)\\s*```")
	fencedAny      = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
	trailingCommas = regexp.MustCompile(`,\s*([}\]])`)
)

// ParseError reports a model response that could not be decoded as JSON.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse model response: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Decode sanitizes a model response and unmarshals it into T. Markdown
// fences are stripped, the last balanced JSON value is extracted, NUL bytes
// and trailing commas are removed.
func Decode[T any](raw string) (T, error) {
	var out T
	cleaned := Sanitize(raw)
	if cleaned == "" {
		return out, &ParseError{Raw: raw, Err: fmt.Errorf("empty response")}
	}
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return out, &ParseError{Raw: raw, Err: err}
	}
	return out, nil
}

// Sanitize returns the JSON payload embedded in raw.
func Sanitize(raw string) string {
	s := stripFences(raw)
	if extracted, ok := balancedJSON(s); ok {
		s = extracted
	}
	s = strings.ReplaceAll(s, "\x00", "")
	s = trailingCommas.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}

func stripFences(s string) string {
	s = fencedJSON.ReplaceAllString(s, "$1")
	s = fencedAny.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}

// balancedJSON finds the last top-level balanced object. An array is
// preferred only when it encloses that object. Delimiters inside string
// literals are ignored.
func balancedJSON(s string) (string, bool) {
	objStart, objEnd, okObj := lastBalanced(s, '{', '}')
	arrStart, arrEnd, okArr := lastBalanced(s, '[', ']')
	switch {
	case okArr && (!okObj || (arrStart < objStart && arrEnd > objEnd)):
		return s[arrStart:arrEnd], true
	case okObj:
		return s[objStart:objEnd], true
	default:
		return "", false
	}
}

func lastBalanced(s string, open, closing byte) (int, int, bool) {
	var (
		depth    int
		start    = -1
		bestFrom int
		bestTo   int
		found    bool
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case open:
			if depth == 0 {
				start = i
			}
			depth++
		case closing:
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				bestFrom, bestTo, found = start, i+1, true
			}
		}
	}
	return bestFrom, bestTo, found
}
