// Package store defines the Storage contract backing the content store,
// commit DAG, refs & annotations, and provenance & events components from
// spec.md §4.A-§4.C and §4.F. Concrete backends live in subpackages
// (sqlite today); internal/compile and internal/ops depend only on this
// interface, mirroring the teacher's storage.Storage / factory split.
package store

import (
	"context"
	"time"

	"github.com/WilliamJin123/tract-sub000/internal/types"
)

// CommitInput is the set of fields a caller supplies to CreateCommit; the
// commit hash itself is computed by the store from these plus tract_id,
// per idgen.CommitHash.
type CommitInput struct {
	ContentHash      string
	Parents          []string // in order; order 0 is mainline
	Operation        types.Operation
	EditTarget       string
	TokenCount       int
	Timestamp        time.Time
	Message          string
	GenerationConfig string
	Usage            string
}

// Storage is the full persistence contract. A handle in internal/ops owns
// exactly one Storage backed by one database session and is not safe to
// share across goroutines — the single-threaded-per-handle scheduling
// model from spec.md §5.
type Storage interface {
	// Content store (§4.A)
	PutBlob(ctx context.Context, payload []byte) (contentHash string, err error)
	GetBlob(ctx context.Context, contentHash string) (payload []byte, found bool, err error)

	// Commit DAG (§4.B)
	CreateCommit(ctx context.Context, tractID string, in CommitInput) (commitHash string, err error)
	GetCommit(ctx context.Context, commitHash string) (*types.Commit, error)
	Parents(ctx context.Context, commitHash string) ([]types.ParentEdge, error)
	Ancestors(ctx context.Context, commitHash string, limit int, multiParent bool) ([]string, error)
	HasAncestor(ctx context.Context, x, y string) (bool, error)
	Between(ctx context.Context, from, to string) ([]string, bool, error)

	// Refs & annotations (§4.C)
	SetRef(ctx context.Context, tractID, name, commitHash string) error
	ResolveRef(ctx context.Context, tractID, name string) (string, error)
	ListRefs(ctx context.Context, tractID string) (map[string]string, error)
	DeleteRef(ctx context.Context, tractID, name string) error
	Head(ctx context.Context, tractID string) (types.HeadState, error)
	Attach(ctx context.Context, tractID, branch string) error
	Detach(ctx context.Context, tractID, commitHash string) error

	Annotate(ctx context.Context, tractID, target string, priority types.Priority, reason string) error
	PriorityOf(ctx context.Context, tractID, target string) (types.Priority, error)
	AnnotationHistory(ctx context.Context, tractID, target string) ([]types.Annotation, error)
	// AnnotationGeneration is the id of the most recent annotation row
	// written for tractID (0 if none), a cheap O(1) proxy for "has anything
	// about this tract's annotations changed" used to fingerprint the
	// compile cache without enumerating every row.
	AnnotationGeneration(ctx context.Context, tractID string) (int64, error)

	// Provenance & events (§4.F)
	RecordEvent(ctx context.Context, ev types.OperationEvent, rows []types.EventCommitRow) error
	SourcesOf(ctx context.Context, resultCommit string) ([]string, error)
	ResultsOf(ctx context.Context, sourceCommit string) ([]string, error)
	EventsForCommit(ctx context.Context, commitHash string) ([]types.OperationEvent, error)

	RecordCompile(ctx context.Context, rec types.CompileRecord, rows []types.CompileEffectiveRow) error
	GetCompileRecord(ctx context.Context, recordID string) (*types.CompileRecord, []types.CompileEffectiveRow, error)

	// Spawn pointers
	CreateSpawnPointer(ctx context.Context, sp types.SpawnPointer) error
	SpawnPointersForParent(ctx context.Context, parentTract string) ([]types.SpawnPointer, error)
	SpawnPointersForChild(ctx context.Context, childTract string) ([]types.SpawnPointer, error)

	// GC support
	// ListTracts enumerates every tract with at least one commit or ref,
	// for GCAll's tract-by-tract sweep.
	ListTracts(ctx context.Context) ([]string, error)
	AllCommits(ctx context.Context, tractID string) ([]string, error)
	AllRefCommits(ctx context.Context, tractID string) ([]string, error)
	ArchivedCommits(ctx context.Context, tractID string) (map[string]bool, error)
	DeleteCommit(ctx context.Context, commitHash string) error
	BlobRefCount(ctx context.Context, contentHash string) (int, error)
	DeleteBlob(ctx context.Context, contentHash string) error

	// WithTx runs fn inside one transaction with a savepoint; on error or
	// panic the savepoint is rolled back and no partial state is left, per
	// spec.md §4.E's "each mutating operation runs inside a transaction
	// with a savepoint" requirement.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Storage) error) error

	Close() error
}
