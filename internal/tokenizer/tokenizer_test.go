package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeuristic_NonNegative(t *testing.T) {
	tok := New()
	require.Equal(t, 0, tok.Count(""))
	require.GreaterOrEqual(t, tok.Count("a"), 1)
	require.Greater(t, tok.Count("a long string of english words here"), tok.Count("short"))
}
