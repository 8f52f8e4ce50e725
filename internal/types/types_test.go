package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLLMConfigMerge_OverrideWins(t *testing.T) {
	base := LLMConfig{Model: "claude-haiku", Temperature: 0.2, MaxTokens: 512}
	override := LLMConfig{Temperature: 0.9}

	merged := base.Merge(override)

	require.Equal(t, "claude-haiku", merged.Model)
	require.Equal(t, 0.9, merged.Temperature)
	require.Equal(t, 512, merged.MaxTokens)
}

func TestLLMConfigMerge_ExtraMapsCombine(t *testing.T) {
	base := LLMConfig{Extra: map[string]any{"a": 1}}
	override := LLMConfig{Extra: map[string]any{"b": 2}}

	merged := base.Merge(override)

	require.Equal(t, 1, merged.Extra["a"])
	require.Equal(t, 2, merged.Extra["b"])
}

func TestDefaultPriority(t *testing.T) {
	require.Equal(t, PriorityNormal, DefaultPriority())
}
