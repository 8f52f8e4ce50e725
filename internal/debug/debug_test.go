package debug

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogEvent_AppendsLine(t *testing.T) {
	root := t.TempDir()

	LogEvent(root, "commit", "tract-1", "hash=abc123")
	LogEvent(root, "gc", "tract-1", "removed=3")

	data, err := os.ReadFile(filepath.Join(root, ".tract", "events.log"))
	require.NoError(t, err)
	require.Contains(t, string(data), "commit|tract-1|hash=abc123")
	require.Contains(t, string(data), "gc|tract-1|removed=3")
}

func TestQuietMode(t *testing.T) {
	SetQuiet(true)
	defer SetQuiet(false)
	require.True(t, IsQuiet())
}
