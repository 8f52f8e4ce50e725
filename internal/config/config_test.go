package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/WilliamJin123/tract-sub000/internal/types"
	"github.com/stretchr/testify/require"
)

func TestResolve_CallOverridesOperationOverridesHandle(t *testing.T) {
	handle := types.LLMConfig{Model: "handle-model", Temperature: 0.1}
	op := types.LLMConfig{Temperature: 0.5}
	call := types.LLMConfig{MaxTokens: 99}

	resolved := Resolve(handle, op, call)

	require.Equal(t, "handle-model", resolved.Model, "call/op left Model unset, handle default should survive")
	require.Equal(t, 0.5, resolved.Temperature, "op overrides handle")
	require.Equal(t, 99, resolved.MaxTokens, "call overrides both lower layers")
}

func TestLoadFileConfig_MissingFileReturnsEmpty(t *testing.T) {
	cfg := LoadFileConfig(t.TempDir())
	require.NotNil(t, cfg)
	require.Empty(t, cfg.DefaultBranch)
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := &Manifest{TractID: "t-1", Name: "demo", DefaultBranch: "main"}
	require.NoError(t, WriteManifest(dir, m))

	got, err := LoadManifest(dir)
	require.NoError(t, err)
	require.Equal(t, m.TractID, got.TractID)
	require.Equal(t, m.DefaultBranch, got.DefaultBranch)

	_, err = os.Stat(filepath.Join(dir, "tract.toml"))
	require.NoError(t, err)
}
