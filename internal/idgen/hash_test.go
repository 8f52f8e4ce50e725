package idgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestContentHash_Deterministic(t *testing.T) {
	p1 := map[string]any{"kind": "dialogue", "role": "user", "text": "hi"}
	p2 := map[string]any{"text": "hi", "role": "user", "kind": "dialogue"}

	h1, err := ContentHash(p1)
	require.NoError(t, err)
	h2, err := ContentHash(p2)
	require.NoError(t, err)

	require.Equal(t, h1, h2, "key order must not affect the hash")
}

func TestContentHash_DifferentPayloadsDiffer(t *testing.T) {
	h1, err := ContentHash(map[string]any{"text": "a"})
	require.NoError(t, err)
	h2, err := ContentHash(map[string]any{"text": "b"})
	require.NoError(t, err)

	require.NotEqual(t, h1, h2)
}

func TestCommitHash_ParentOrderMatters(t *testing.T) {
	ts := time.Unix(0, 1700000000000000000)

	h1, err := CommitHash("content", []string{"p1", "p2"}, "APPEND", "", ts, "tract-1")
	require.NoError(t, err)
	h2, err := CommitHash("content", []string{"p2", "p1"}, "APPEND", "", ts, "tract-1")
	require.NoError(t, err)

	require.NotEqual(t, h1, h2, "parent order is semantic content and must affect the hash")
}

func TestCommitHash_MutatingAnyFieldChangesHash(t *testing.T) {
	ts := time.Unix(0, 1700000000000000000)
	base, err := CommitHash("content", []string{"p1"}, "APPEND", "", ts, "tract-1")
	require.NoError(t, err)

	edited, err := CommitHash("content", []string{"p1"}, "EDIT", "p1", ts, "tract-1")
	require.NoError(t, err)

	require.NotEqual(t, base, edited)
}
