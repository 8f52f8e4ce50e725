package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WilliamJin123/tract-sub000/internal/store"
	"github.com/WilliamJin123/tract-sub000/internal/types"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RunsMigrationsOnFreshStore(t *testing.T) {
	s := openTest(t)
	var version string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	require.NoError(t, err)
	require.Equal(t, "2", version)
}

func TestBlobs_PutIsContentAddressedAndIdempotent(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	h1, err := s.PutBlob(ctx, []byte("hello"))
	require.NoError(t, err)
	h2, err := s.PutBlob(ctx, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	payload, found, err := s.GetBlob(ctx, h1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("hello"), payload)

	_, found, err = s.GetBlob(ctx, "does-not-exist")
	require.NoError(t, err)
	require.False(t, found)
}

func TestCommits_CreateAndAncestry(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	tractID := "t1"

	blobHash, err := s.PutBlob(ctx, []byte("root"))
	require.NoError(t, err)

	root, err := s.CreateCommit(ctx, tractID, store.CommitInput{
		ContentHash: blobHash,
		Operation:   types.OpAppend,
		Timestamp:   time.Unix(0, 1),
		TokenCount:  3,
	})
	require.NoError(t, err)

	child, err := s.CreateCommit(ctx, tractID, store.CommitInput{
		ContentHash: blobHash,
		Parents:     []string{root},
		Operation:   types.OpAppend,
		Timestamp:   time.Unix(0, 2),
		TokenCount:  3,
	})
	require.NoError(t, err)

	ancestors, err := s.Ancestors(ctx, child, 0, false)
	require.NoError(t, err)
	require.Equal(t, []string{root}, ancestors)

	has, err := s.HasAncestor(ctx, child, root)
	require.NoError(t, err)
	require.True(t, has)

	has, err = s.HasAncestor(ctx, root, child)
	require.NoError(t, err)
	require.False(t, has)
}

func TestRefs_AttachDetachAndHead(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	tractID := "t1"

	head, err := s.Head(ctx, tractID)
	require.NoError(t, err)
	require.True(t, head.Attached)
	require.Equal(t, "main", head.Branch)

	require.NoError(t, s.SetRef(ctx, tractID, "main", "c1"))
	resolved, err := s.ResolveRef(ctx, tractID, "main")
	require.NoError(t, err)
	require.Equal(t, "c1", resolved)

	require.NoError(t, s.Detach(ctx, tractID, "c1"))
	head, err = s.Head(ctx, tractID)
	require.NoError(t, err)
	require.False(t, head.Attached)
	require.Equal(t, "c1", head.Commit)

	require.NoError(t, s.Attach(ctx, tractID, "main"))
	head, err = s.Head(ctx, tractID)
	require.NoError(t, err)
	require.True(t, head.Attached)
	require.Equal(t, "main", head.Branch)
}

func TestAnnotations_MostRecentWins(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	tractID := "t1"

	blobHash, err := s.PutBlob(ctx, []byte("annotated"))
	require.NoError(t, err)
	c1, err := s.CreateCommit(ctx, tractID, store.CommitInput{
		ContentHash: blobHash,
		Operation:   types.OpAppend,
		Timestamp:   time.Unix(0, 1),
		TokenCount:  3,
	})
	require.NoError(t, err)

	p, err := s.PriorityOf(ctx, tractID, c1)
	require.NoError(t, err)
	require.Equal(t, types.DefaultPriority(), p)

	require.NoError(t, s.Annotate(ctx, tractID, c1, types.PrioritySkip, "first"))
	require.NoError(t, s.Annotate(ctx, tractID, c1, types.PriorityPinned, "changed my mind"))

	p, err = s.PriorityOf(ctx, tractID, c1)
	require.NoError(t, err)
	require.Equal(t, types.PriorityPinned, p)

	hist, err := s.AnnotationHistory(ctx, tractID, c1)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, types.PrioritySkip, hist[0].Priority)
	require.Equal(t, types.PriorityPinned, hist[1].Priority)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	var hash string
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Storage) error {
		var err error
		hash, err = tx.PutBlob(ctx, []byte("x"))
		if err != nil {
			return err
		}
		return assertErr
	})
	require.ErrorIs(t, err, assertErr)

	_, found, err := s.GetBlob(ctx, hash)
	require.NoError(t, err)
	require.False(t, found)
}

var assertErr = errFixture("boom")

type errFixture string

func (e errFixture) Error() string { return string(e) }
