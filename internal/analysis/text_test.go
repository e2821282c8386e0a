package analysis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTextLength(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"ascii", "acme", 4},
		{"turkish", "ağaç", 4},
		{"emoji counts twice", "🚀🚀", 4},
		{"mixed", "go 🚀", 5},
		{"invalid byte", "\xff", 1},
		{"long emoji run", strings.Repeat("😀", 60), 120},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, TextLength(tt.in))
		})
	}
}
