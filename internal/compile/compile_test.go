package compile

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WilliamJin123/tract-sub000/internal/store"
	"github.com/WilliamJin123/tract-sub000/internal/store/sqlite"
	"github.com/WilliamJin123/tract-sub000/internal/types"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), ":memory:", false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func putPayload(t *testing.T, ctx context.Context, s store.Storage, p types.Payload) string {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	hash, err := s.PutBlob(ctx, data)
	require.NoError(t, err)
	return hash
}

func mustCommit(t *testing.T, ctx context.Context, s store.Storage, tractID string, in store.CommitInput) string {
	t.Helper()
	hash, err := s.CreateCommit(ctx, tractID, in)
	require.NoError(t, err)
	return hash
}

func TestCompile_CommitChainInInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tractID := "t1"

	sysHash := putPayload(t, ctx, s, types.Payload{Kind: types.KindInstruction, Text: "You are helpful."})
	c1 := mustCommit(t, ctx, s, tractID, store.CommitInput{ContentHash: sysHash, Operation: types.OpAppend, Timestamp: time.Unix(0, 1), TokenCount: 4})

	userHash := putPayload(t, ctx, s, types.Payload{Kind: types.KindDialogue, Role: "user", Text: "Hi"})
	c2 := mustCommit(t, ctx, s, tractID, store.CommitInput{ContentHash: userHash, Parents: []string{c1}, Operation: types.OpAppend, Timestamp: time.Unix(0, 2), TokenCount: 1})

	asstHash := putPayload(t, ctx, s, types.Payload{Kind: types.KindDialogue, Role: "assistant", Text: "Hello"})
	c3 := mustCommit(t, ctx, s, tractID, store.CommitInput{ContentHash: asstHash, Parents: []string{c2}, Operation: types.OpAppend, Timestamp: time.Unix(0, 3), TokenCount: 1})

	require.NoError(t, s.SetRef(ctx, tractID, "main", c3))

	engine, err := New(s, Options{})
	require.NoError(t, err)

	cc, err := engine.Compile(ctx, Request{TractID: tractID, Head: c3})
	require.NoError(t, err)
	require.Len(t, cc.Messages, 3)
	require.Equal(t, []string{"system", "user", "assistant"}, []string{cc.Messages[0].Role, cc.Messages[1].Role, cc.Messages[2].Role})
	require.Equal(t, cc.Messages[0].Tokens+cc.Messages[1].Tokens+cc.Messages[2].Tokens, cc.TokenCount)
}

func TestCompile_EditOverridesTarget(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tractID := "t1"

	qHash := putPayload(t, ctx, s, types.Payload{Kind: types.KindDialogue, Role: "user", Text: "What is Python?"})
	x := mustCommit(t, ctx, s, tractID, store.CommitInput{ContentHash: qHash, Operation: types.OpAppend, Timestamp: time.Unix(0, 1), TokenCount: 4})

	aHash := putPayload(t, ctx, s, types.Payload{Kind: types.KindDialogue, Role: "assistant", Text: "A library."})
	y := mustCommit(t, ctx, s, tractID, store.CommitInput{ContentHash: aHash, Parents: []string{x}, Operation: types.OpAppend, Timestamp: time.Unix(0, 2), TokenCount: 3})

	editHash := putPayload(t, ctx, s, types.Payload{Kind: types.KindDialogue, Role: "assistant", Text: "A programming language."})
	z := mustCommit(t, ctx, s, tractID, store.CommitInput{ContentHash: editHash, Parents: []string{y}, Operation: types.OpEdit, EditTarget: y, Timestamp: time.Unix(0, 3), TokenCount: 4})

	engine, err := New(s, Options{})
	require.NoError(t, err)

	cc, err := engine.Compile(ctx, Request{TractID: tractID, Head: z})
	require.NoError(t, err)
	require.Len(t, cc.Messages, 2)
	require.Equal(t, "What is Python?", cc.Messages[0].Content)
	require.Equal(t, "A programming language.", cc.Messages[1].Content)
}

func TestCompile_SkipAnnotationDropsCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tractID := "t1"

	h1 := putPayload(t, ctx, s, types.Payload{Kind: types.KindDialogue, Role: "user", Text: "keep"})
	c1 := mustCommit(t, ctx, s, tractID, store.CommitInput{ContentHash: h1, Operation: types.OpAppend, Timestamp: time.Unix(0, 1), TokenCount: 1})

	h2 := putPayload(t, ctx, s, types.Payload{Kind: types.KindDialogue, Role: "user", Text: "drop"})
	c2 := mustCommit(t, ctx, s, tractID, store.CommitInput{ContentHash: h2, Parents: []string{c1}, Operation: types.OpAppend, Timestamp: time.Unix(0, 2), TokenCount: 1})

	require.NoError(t, s.Annotate(ctx, tractID, c2, types.PrioritySkip, "noise"))

	engine, err := New(s, Options{})
	require.NoError(t, err)
	cc, err := engine.Compile(ctx, Request{TractID: tractID, Head: c2})
	require.NoError(t, err)
	require.Len(t, cc.Messages, 1)
	require.Equal(t, "keep", cc.Messages[0].Content)
}

func TestCompile_CacheHitAfterFirstCompile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tractID := "t1"

	h1 := putPayload(t, ctx, s, types.Payload{Kind: types.KindDialogue, Role: "user", Text: "hi"})
	c1 := mustCommit(t, ctx, s, tractID, store.CommitInput{ContentHash: h1, Operation: types.OpAppend, Timestamp: time.Unix(0, 1), TokenCount: 1})

	engine, err := New(s, Options{})
	require.NoError(t, err)

	first, err := engine.Compile(ctx, Request{TractID: tractID, Head: c1})
	require.NoError(t, err)
	require.Equal(t, 1, engine.cache.Len())

	second, err := engine.Compile(ctx, Request{TractID: tractID, Head: c1})
	require.NoError(t, err)
	require.Equal(t, first.TokenCount, second.TokenCount)
	require.Equal(t, 1, engine.cache.Len())

	// Annotating bumps the generation counter, invalidating the prior key
	// without evicting unrelated heads — a fresh compile adds a new entry.
	require.NoError(t, s.Annotate(ctx, tractID, c1, types.PriorityPinned, "keep forever"))
	_, err = engine.Compile(ctx, Request{TractID: tractID, Head: c1})
	require.NoError(t, err)
	require.Equal(t, 2, engine.cache.Len())
}

func TestCompile_EmptyTractReturnsZeroMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	engine, err := New(s, Options{})
	require.NoError(t, err)

	cc, err := engine.Compile(ctx, Request{TractID: "empty"})
	require.NoError(t, err)
	require.Empty(t, cc.Messages)
	require.Equal(t, 0, cc.TokenCount)
}

func TestCompile_MergeCommitSplicesNonMainlineAncestry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tractID := "t1"

	baseHash := putPayload(t, ctx, s, types.Payload{Kind: types.KindDialogue, Role: "user", Text: "base"})
	base := mustCommit(t, ctx, s, tractID, store.CommitInput{ContentHash: baseHash, Operation: types.OpAppend, Timestamp: time.Unix(0, 1), TokenCount: 1})

	mainHash := putPayload(t, ctx, s, types.Payload{Kind: types.KindDialogue, Role: "user", Text: "main-work"})
	mainTip := mustCommit(t, ctx, s, tractID, store.CommitInput{ContentHash: mainHash, Parents: []string{base}, Operation: types.OpAppend, Timestamp: time.Unix(0, 2), TokenCount: 1})

	sideHash := putPayload(t, ctx, s, types.Payload{Kind: types.KindDialogue, Role: "user", Text: "side-work"})
	sideTip := mustCommit(t, ctx, s, tractID, store.CommitInput{ContentHash: sideHash, Parents: []string{base}, Operation: types.OpAppend, Timestamp: time.Unix(0, 3), TokenCount: 1})

	mergeHash := putPayload(t, ctx, s, types.Payload{Kind: types.KindDialogue, Role: "user", Text: "merged"})
	merge := mustCommit(t, ctx, s, tractID, store.CommitInput{ContentHash: mergeHash, Parents: []string{mainTip, sideTip}, Operation: types.OpAppend, Timestamp: time.Unix(0, 4), TokenCount: 1})

	engine, err := New(s, Options{})
	require.NoError(t, err)
	cc, err := engine.Compile(ctx, Request{TractID: tractID, Head: merge})
	require.NoError(t, err)

	var texts []string
	for _, m := range cc.Messages {
		texts = append(texts, m.Content)
	}
	require.Equal(t, []string{"base", "main-work", "side-work", "merged"}, texts)
}
