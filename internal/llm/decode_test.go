package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct {
	X    int      `json:"x"`
	Tags []string `json:"tags"`
}

func TestDecodeSanitizes(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		raw  string
		want sample
	}{
		{"plain", `{"x":1}`, sample{X: 1}},
		{"json fence", "Here you go:\n```json\n{\"x\":2}\n```", sample{X: 2}},
		{"bare fence", "```\n{\"x\":3}\n```", sample{X: 3}},
		{"prose around", `Sure! {"x":4,"tags":["a","b",]} Hope it helps.`, sample{X: 4, Tags: []string{"a", "b"}}},
		{"nul bytes", "{\"x\":5\x00}", sample{X: 5}},
		{"braces in strings", `{"x":6,"tags":["}{"]}`, sample{X: 6, Tags: []string{"}{"}}},
		{"last object wins", `{"x":7} then {"x":8}`, sample{X: 8}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode[sample](tc.raw)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeArrayEnclosingObjects(t *testing.T) {
	t.Parallel()

	got, err := Decode[[]sample](`[{"x":1},{"x":2}]`)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestDecodeParseError(t *testing.T) {
	t.Parallel()

	_, err := Decode[sample]("not json at all")
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, "not json at all", pe.Raw)

	_, err = Decode[sample]("   ")
	require.ErrorAs(t, err, &pe)
}
