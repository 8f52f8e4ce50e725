package audit

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppend_WritesJSONL(t *testing.T) {
	root := t.TempDir()

	id1, err := Append(root, &Entry{Kind: "llm_call", Model: "claude-haiku", Prompt: "p", Response: "r"})
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	_, err = Append(root, &Entry{Kind: "llm_call", Model: "claude-haiku", Error: "timeout"})
	require.NoError(t, err)

	f, err := os.Open(filepath.Join(root, ".tract", FileName))
	require.NoError(t, err)
	defer f.Close()

	sc := bufio.NewScanner(f)
	lines := 0
	for sc.Scan() {
		lines++
	}
	require.NoError(t, sc.Err())
	require.Equal(t, 2, lines)
}
