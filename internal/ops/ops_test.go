package ops

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WilliamJin123/tract-sub000/internal/compile"
	"github.com/WilliamJin123/tract-sub000/internal/llm"
	"github.com/WilliamJin123/tract-sub000/internal/store/sqlite"
	"github.com/WilliamJin123/tract-sub000/internal/types"
)

func newTestHandle(t *testing.T) *Handle {
	t.Helper()
	s, err := sqlite.Open(context.Background(), ":memory:", false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	h, err := New(s, Options{})
	require.NoError(t, err)
	return h
}

// newResolvedTestHandle is newTestHandle plus a scripted Fake resolver, for
// operations (Merge/semantic, Compress, Collapse) that require one.
func newResolvedTestHandle(t *testing.T, fake *llm.Fake) *Handle {
	t.Helper()
	s, err := sqlite.Open(context.Background(), ":memory:", false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	h, err := New(s, Options{Resolver: fake})
	require.NoError(t, err)
	return h
}

func commitText(t *testing.T, h *Handle, ctx context.Context, tractID, text string) types.Commit {
	t.Helper()
	c, err := h.Commit(ctx, CommitArgs{
		TractID: tractID,
		Payload: types.Payload{Kind: types.KindDialogue, Role: "user", Text: text},
	})
	require.NoError(t, err)
	return c
}

// parentHashes returns commitHash's parent hashes in edge order (mainline
// first), read through Storage.Parents.
func parentHashes(t *testing.T, h *Handle, ctx context.Context, commitHash string) []string {
	t.Helper()
	edges, err := h.Store.Parents(ctx, commitHash)
	require.NoError(t, err)
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.ParentHash)
	}
	return out
}

func TestCommit_FirstCommitHasNoParentAndAdvancesMain(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	c := commitText(t, h, ctx, "t1", "hello")
	require.Equal(t, types.OpAppend, c.Operation)

	head, err := h.Store.Head(ctx, "t1")
	require.NoError(t, err)
	require.True(t, head.Attached)
	require.Equal(t, "main", head.Branch)

	resolved, err := h.Store.ResolveRef(ctx, "t1", "main")
	require.NoError(t, err)
	require.Equal(t, c.CommitHash, resolved)
}

func TestCommit_EditRequiresValidTarget(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	_, err := h.Commit(ctx, CommitArgs{
		TractID:    "t1",
		Payload:    types.Payload{Kind: types.KindDialogue, Role: "user", Text: "x"},
		Operation:  types.OpEdit,
		EditTarget: "does-not-exist",
	})
	require.ErrorIs(t, err, types.ErrEditTargetMissing)
}

func TestCommit_DetachedHeadRefusesCommit(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	root := commitText(t, h, ctx, "t1", "root")
	require.NoError(t, h.Checkout(ctx, "t1", root.CommitHash))

	_, err := h.Commit(ctx, CommitArgs{
		TractID: "t1",
		Payload: types.Payload{Kind: types.KindDialogue, Role: "user", Text: "more"},
	})
	require.ErrorIs(t, err, types.ErrDetachedHead)
}

func TestBranchSwitchReset(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	root := commitText(t, h, ctx, "t1", "root")
	require.NoError(t, h.Branch(ctx, "t1", "feature", ""))
	require.NoError(t, h.Switch(ctx, "t1", "feature"))

	second := commitText(t, h, ctx, "t1", "second")
	require.NoError(t, h.Switch(ctx, "t1", "main"))

	head, err := h.Store.Head(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "main", head.Branch)

	require.NoError(t, h.Reset(ctx, "t1", "feature", root.CommitHash, ResetHard))
	resolved, err := h.Store.ResolveRef(ctx, "t1", "feature")
	require.NoError(t, err)
	require.Equal(t, root.CommitHash, resolved)
	require.NotEqual(t, second.CommitHash, resolved)
}

func TestGC_EmptyStoreIsNoOp(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	res, err := h.GC(ctx, GCArgs{TractID: "nowhere"})
	require.NoError(t, err)
	require.Equal(t, GCResult{}, res)
}

func TestGC_RetainsOrphanUntilRetentionWindowElapses(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	a := commitText(t, h, ctx, "t1", "a")
	_ = commitText(t, h, ctx, "t1", "b")

	require.NoError(t, h.Reset(ctx, "t1", "main", a.CommitHash, ResetHard))

	res, err := h.GC(ctx, GCArgs{TractID: "t1", OrphanRetention: 24 * time.Hour})
	require.NoError(t, err)
	require.Equal(t, 0, res.CommitsRemoved)

	res, err = h.GC(ctx, GCArgs{TractID: "t1", OrphanRetention: time.Nanosecond})
	require.NoError(t, err)
	require.Equal(t, 1, res.CommitsRemoved)
}

func TestMerge_FastForward(t *testing.T) {
	// spec.md §8 scenario 4: branch "exp" at HEAD, commit on "exp", switch
	// to "main", merge "exp" into "main" fast-forwards with no merge commit.
	h := newTestHandle(t)
	ctx := context.Background()

	commitText(t, h, ctx, "t1", "root")
	require.NoError(t, h.Branch(ctx, "t1", "exp", ""))
	require.NoError(t, h.Switch(ctx, "t1", "exp"))
	expHead := commitText(t, h, ctx, "t1", "exp change")
	require.NoError(t, h.Switch(ctx, "t1", "main"))

	res, err := h.Merge(ctx, MergeArgs{TractID: "t1", SourceRef: "exp", Strategy: MergeTextual})
	require.NoError(t, err)
	require.True(t, res.FastForward)
	require.Empty(t, res.MergeCommit)
	require.Equal(t, expHead.CommitHash, res.NewHead)

	resolved, err := h.Store.ResolveRef(ctx, "t1", "main")
	require.NoError(t, err)
	require.Equal(t, expHead.CommitHash, resolved)
}

func TestMerge_Textual(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	commitText(t, h, ctx, "t1", "root")
	require.NoError(t, h.Branch(ctx, "t1", "feat", ""))
	require.NoError(t, h.Switch(ctx, "t1", "feat"))
	srcCommit := commitText(t, h, ctx, "t1", "feat text")
	require.NoError(t, h.Switch(ctx, "t1", "main"))
	tgtCommit := commitText(t, h, ctx, "t1", "main text")

	res, err := h.Merge(ctx, MergeArgs{TractID: "t1", SourceRef: "feat", Strategy: MergeTextual})
	require.NoError(t, err)
	require.False(t, res.FastForward)
	require.NotEmpty(t, res.MergeCommit)

	merged, err := h.Store.GetCommit(ctx, res.MergeCommit)
	require.NoError(t, err)
	require.Equal(t, []string{tgtCommit.CommitHash, srcCommit.CommitHash}, parentHashes(t, h, ctx, merged.CommitHash))

	text, err := blobText(ctx, h.Store, merged.ContentHash)
	require.NoError(t, err)
	require.Contains(t, text, "feat text")
	require.Contains(t, text, "main text")
}

func TestMerge_Semantic(t *testing.T) {
	fake := &llm.Fake{Responses: []string{"merged-content"}}
	h := newResolvedTestHandle(t, fake)
	ctx := context.Background()

	commitText(t, h, ctx, "t1", "root")
	require.NoError(t, h.Branch(ctx, "t1", "feat", ""))
	require.NoError(t, h.Switch(ctx, "t1", "feat"))
	// Same Kind/Role as the target-side commit below, so they share a
	// conflictKey and are treated as one overlapping conflict.
	commitText(t, h, ctx, "t1", "feat change")
	require.NoError(t, h.Switch(ctx, "t1", "main"))
	commitText(t, h, ctx, "t1", "main change")

	res, err := h.Merge(ctx, MergeArgs{TractID: "t1", SourceRef: "feat", Strategy: MergeSemantic})
	require.NoError(t, err)
	require.NotEmpty(t, res.MergeCommit)

	merged, err := h.Store.GetCommit(ctx, res.MergeCommit)
	require.NoError(t, err)
	text, err := blobText(ctx, h.Store, merged.ContentHash)
	require.NoError(t, err)
	require.Equal(t, "merged-content", text)
	// system prompt + one item from each side of the conflict.
	require.Len(t, fake.Calls, 3)
}

func TestRebase_RecordsReorganizeEvent(t *testing.T) {
	// spec.md §8 scenario 5: feat has F1, F2 on top of B0; rebasing onto
	// main's head B1 yields F1' <- F2' chained onto B1, with a reorganize
	// event linking [F1, F2] to [F1', F2'], and feat pointing at F2'.
	h := newTestHandle(t)
	ctx := context.Background()

	commitText(t, h, ctx, "t1", "b0")
	require.NoError(t, h.Branch(ctx, "t1", "feat", ""))
	require.NoError(t, h.Switch(ctx, "t1", "feat"))
	f1 := commitText(t, h, ctx, "t1", "f1")
	f2 := commitText(t, h, ctx, "t1", "f2")
	require.NoError(t, h.Switch(ctx, "t1", "main"))
	b1 := commitText(t, h, ctx, "t1", "b1")

	res, err := h.Rebase(ctx, RebaseArgs{TractID: "t1", Branch: "feat", Onto: b1.CommitHash})
	require.NoError(t, err)
	require.Equal(t, []string{f1.CommitHash, f2.CommitHash}, res.OldCommits)
	require.Len(t, res.NewCommits, 2)
	require.Equal(t, res.NewCommits[1], res.NewHead)

	f1New, err := h.Store.GetCommit(ctx, res.NewCommits[0])
	require.NoError(t, err)
	require.Equal(t, []string{b1.CommitHash}, parentHashes(t, h, ctx, f1New.CommitHash))
	f2New, err := h.Store.GetCommit(ctx, res.NewCommits[1])
	require.NoError(t, err)
	require.Equal(t, []string{res.NewCommits[0]}, parentHashes(t, h, ctx, f2New.CommitHash))

	resolved, err := h.Store.ResolveRef(ctx, "t1", "feat")
	require.NoError(t, err)
	require.Equal(t, res.NewHead, resolved)

	results, err := h.Store.ResultsOf(ctx, f1.CommitHash)
	require.NoError(t, err)
	require.Equal(t, []string{res.NewCommits[0]}, results)
	results, err = h.Store.ResultsOf(ctx, f2.CommitHash)
	require.NoError(t, err)
	require.Equal(t, []string{res.NewCommits[1]}, results)
}

func TestCherryPick_ReplaysCommitAndRecordsImportEvent(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	commitText(t, h, ctx, "t1", "root")
	require.NoError(t, h.Branch(ctx, "t1", "feat", ""))
	require.NoError(t, h.Switch(ctx, "t1", "feat"))
	src := commitText(t, h, ctx, "t1", "pickme")
	require.NoError(t, h.Switch(ctx, "t1", "main"))
	before, err := h.Store.ResolveRef(ctx, "t1", "main")
	require.NoError(t, err)

	out, err := h.CherryPick(ctx, CherryPickArgs{TractID: "t1", Source: src.CommitHash})
	require.NoError(t, err)
	require.Equal(t, []string{before}, parentHashes(t, h, ctx, out.CommitHash))
	require.Equal(t, src.ContentHash, out.ContentHash)

	resolved, err := h.Store.ResolveRef(ctx, "t1", "main")
	require.NoError(t, err)
	require.Equal(t, out.CommitHash, resolved)

	results, err := h.Store.ResultsOf(ctx, src.CommitHash)
	require.NoError(t, err)
	require.Equal(t, []string{out.CommitHash}, results)
}

func TestCompress_PinSurvivesAndSummaryIsSmaller(t *testing.T) {
	// spec.md §8 scenario 3: commit A, B pinned, C. Compress. The summary
	// replaces A and C at A's position, B survives verbatim at its original
	// ordinal, and the summary is cheaper than the commits it replaces.
	fake := &llm.Fake{Responses: []string{"not a json cluster", "short summary"}}
	h := newResolvedTestHandle(t, fake)
	ctx := context.Background()

	a := commitText(t, h, ctx, "t1", "AAAAAAAAAA content")
	b := commitText(t, h, ctx, "t1", "BBBBBBBBBB content")
	c := commitText(t, h, ctx, "t1", "CCCCCCCCCC content")
	require.NoError(t, h.Annotate(ctx, "t1", b.CommitHash, types.PriorityPinned, "keep"))

	res, err := h.Compress(ctx, CompressArgs{
		TractID:   "t1",
		Selection: []string{a.CommitHash, b.CommitHash, c.CommitHash},
	})
	require.NoError(t, err)
	require.Nil(t, res.Pending)
	require.Len(t, res.Summaries, 1)
	require.Equal(t, []string{b.CommitHash}, res.Preserved)
	require.Less(t, res.CompressedTokens, a.TokenCount+c.TokenCount)

	cc, err := h.Compile.Compile(ctx, compile.Request{TractID: "t1"})
	require.NoError(t, err)
	require.Len(t, cc.Messages, 2)
	require.Equal(t, "short summary", cc.Messages[0].Content)
	require.Equal(t, "BBBBBBBBBB content", cc.Messages[1].Content)
}

func TestCollapse_FoldsChildIntoParent(t *testing.T) {
	fake := &llm.Fake{Responses: []string{"child folded in"}}
	h := newResolvedTestHandle(t, fake)
	ctx := context.Background()

	parentRoot := commitText(t, h, ctx, "parent", "parent root")
	commitText(t, h, ctx, "child", "child detail one")
	commitText(t, h, ctx, "child", "child detail two")

	out, err := h.Collapse(ctx, CollapseArgs{ParentTractID: "parent", ChildTractID: "child"})
	require.NoError(t, err)
	require.Equal(t, []string{parentRoot.CommitHash}, parentHashes(t, h, ctx, out.CommitHash))

	text, err := blobText(ctx, h.Store, out.ContentHash)
	require.NoError(t, err)
	require.Equal(t, "child folded in", text)

	resolved, err := h.Store.ResolveRef(ctx, "parent", "main")
	require.NoError(t, err)
	require.Equal(t, out.CommitHash, resolved)

	pointers, err := h.Store.SpawnPointersForChild(ctx, "child")
	require.NoError(t, err)
	require.Len(t, pointers, 1)
	require.Equal(t, "collapse", pointers[0].Purpose)
}

func TestSpawn_HeadSnapshotCreatesChildTract(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	commitText(t, h, ctx, "parent", "hello")
	commitText(t, h, ctx, "parent", "world")

	res, err := h.Spawn(ctx, SpawnArgs{
		ParentTractID: "parent",
		ChildTractID:  "child",
		Mode:          types.InheritHeadSnapshot,
		Branch:        "main",
	})
	require.NoError(t, err)
	require.Equal(t, "child", res.ChildTractID)
	require.NotEmpty(t, res.RootCommit)

	head, err := h.Store.Head(ctx, "child")
	require.NoError(t, err)
	require.True(t, head.Attached)

	pointers, err := h.Store.SpawnPointersForChild(ctx, "child")
	require.NoError(t, err)
	require.Len(t, pointers, 1)
	require.Equal(t, "parent", pointers[0].ParentTract)
}
