package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"empty", "", 10},
		{"single word", "hello", 11},
		{"sentence", "the user prefers dark mode", 15},
		{"collapses whitespace", "  spaced\t\nout  words ", 13},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, estimateTokens(tt.content))
		})
	}
}
