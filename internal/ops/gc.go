package ops

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/WilliamJin123/tract-sub000/internal/debug"
	"github.com/WilliamJin123/tract-sub000/internal/store"
)

// defaultOrphanRetention is how long an unreachable commit with no event
// reference survives before GC is willing to remove it, per spec.md §4.E.
const defaultOrphanRetention = 7 * 24 * time.Hour

// GCArgs is the input to GC.
type GCArgs struct {
	TractID string
	// OrphanRetention overrides the default seven-day grace window before
	// an unreachable, unreferenced commit becomes eligible for deletion.
	OrphanRetention time.Duration
	// ArchiveRetention is unset (zero) by default, meaning archived commits
	// (commits referenced by a recorded event) are protected indefinitely. Setting it
	// positive explicitly lowers that protection: an unreachable archived
	// commit older than this window becomes eligible too.
	ArchiveRetention time.Duration
}

// GCResult reports what GC removed.
type GCResult struct {
	CommitsRemoved  int
	TokensFreed     int
	ArchivesRemoved int
}

// GC removes orphaned commits (and any blob left with a zero refcount) from
// a tract, per spec.md §4.E. Two categories are distinguished: archived
// commits (referenced by any recorded operation event, in any role) are
// protected indefinitely unless ArchiveRetention is set, in which case an
// unreachable archived commit older than that window is deleted and counted
// in ArchivesRemoved; true orphans (unreachable, no event reference at all)
// are eligible once they've sat unreachable past the retention window. GC never
// deletes a blob still referenced by a surviving commit, and runs only on
// explicit invocation.
func (h *Handle) GC(ctx context.Context, args GCArgs) (GCResult, error) {
	retention := args.OrphanRetention
	if retention <= 0 {
		retention = defaultOrphanRetention
	}

	reachable, err := h.reachableSet(ctx, args.TractID)
	if err != nil {
		return GCResult{}, fmt.Errorf("ops: gc: %w", err)
	}

	archived, err := h.Store.ArchivedCommits(ctx, args.TractID)
	if err != nil {
		return GCResult{}, fmt.Errorf("ops: gc: archived commits: %w", err)
	}

	all, err := h.Store.AllCommits(ctx, args.TractID)
	if err != nil {
		return GCResult{}, fmt.Errorf("ops: gc: all commits: %w", err)
	}

	orphanCutoff := nowUTC().Add(-retention)
	var archiveCutoff time.Time
	if args.ArchiveRetention > 0 {
		archiveCutoff = nowUTC().Add(-args.ArchiveRetention)
	}

	type candidate struct {
		hash      string
		isArchive bool
	}
	var toDelete []candidate
	for _, hash := range all {
		if reachable[hash] {
			continue
		}
		isArchive := archived[hash]
		if isArchive && args.ArchiveRetention <= 0 {
			// Archived, and the caller hasn't lowered archive retention:
			// protected indefinitely.
			continue
		}
		c, err := h.Store.GetCommit(ctx, hash)
		if err != nil {
			return GCResult{}, fmt.Errorf("ops: gc: get commit %s: %w", hash, err)
		}
		cutoff := orphanCutoff
		if isArchive {
			cutoff = archiveCutoff
		}
		if c.Timestamp.After(cutoff) {
			// Still inside the retention window; leave it for a later run.
			continue
		}
		toDelete = append(toDelete, candidate{hash: hash, isArchive: isArchive})
	}

	if len(toDelete) == 0 {
		return GCResult{}, nil
	}

	var result GCResult
	err = h.Store.WithTx(ctx, func(ctx context.Context, tx store.Storage) error {
		touchedBlobs := map[string]bool{}
		for _, cand := range toDelete {
			c, err := tx.GetCommit(ctx, cand.hash)
			if err != nil {
				return fmt.Errorf("get commit %s: %w", cand.hash, err)
			}
			if err := tx.DeleteCommit(ctx, cand.hash); err != nil {
				return fmt.Errorf("delete commit %s: %w", cand.hash, err)
			}
			result.CommitsRemoved++
			result.TokensFreed += c.TokenCount
			if cand.isArchive {
				result.ArchivesRemoved++
			}
			touchedBlobs[c.ContentHash] = true
		}

		for contentHash := range touchedBlobs {
			count, err := tx.BlobRefCount(ctx, contentHash)
			if err != nil {
				return fmt.Errorf("blob refcount %s: %w", contentHash, err)
			}
			if count == 0 {
				if err := tx.DeleteBlob(ctx, contentHash); err != nil {
					return fmt.Errorf("delete blob %s: %w", contentHash, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return GCResult{}, err
	}

	h.Compile.Invalidate(args.TractID, "")
	debug.Logf("gc: tract %s removed %d commit(s), freed %d token(s)", args.TractID, result.CommitsRemoved, result.TokensFreed)
	return result, nil
}

// reachableSet computes every commit hash reachable from tractID's own
// refs, plus commits protected because another tract spawned from them.
// Reachability for GC purposes follows every ref in the tract, transitively
// through parent edges and spawn pointers, per spec.md §4.E. Every root's
// ancestor walk is read-only and independent of the others, so they run
// concurrently (bounded fan-out) rather than one at a time — the roots
// here are exactly the ones cross-tract spawn pointers can multiply: one
// per local branch plus one per tract that spawned from a commit here.
func (h *Handle) reachableSet(ctx context.Context, tractID string) (map[string]bool, error) {
	roots, err := h.Store.AllRefCommits(ctx, tractID)
	if err != nil {
		return nil, fmt.Errorf("ref roots: %w", err)
	}

	// Any tract spawned from a commit here protects that commit, whatever
	// tractID's own refs now point at.
	pointers, err := h.Store.SpawnPointersForParent(ctx, tractID)
	if err != nil {
		return nil, fmt.Errorf("spawn pointers for %s: %w", tractID, err)
	}
	for _, sp := range pointers {
		if sp.ParentCommit != "" {
			roots = append(roots, sp.ParentCommit)
		}
	}

	var mu sync.Mutex
	reachable := map[string]bool{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, root := range roots {
		root := root
		g.Go(func() error {
			if root == "" {
				return nil
			}
			ancestors, err := h.Store.Ancestors(gctx, root, 0, true)
			if err != nil {
				return fmt.Errorf("ancestors of %s: %w", root, err)
			}
			mu.Lock()
			reachable[root] = true
			for _, a := range ancestors {
				reachable[a] = true
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return reachable, nil
}

// GCAll runs GC across every tract sharing the store, one tract at a time —
// a Handle is bound to a single-connection Storage and isn't safe to drive
// concurrently, so the sweep itself stays sequential even though each
// tract's own reachability computation fans out internally.
func (h *Handle) GCAll(ctx context.Context, retention time.Duration) (map[string]GCResult, error) {
	tracts, err := h.Store.ListTracts(ctx)
	if err != nil {
		return nil, fmt.Errorf("ops: gc all: %w", err)
	}

	out := make(map[string]GCResult, len(tracts))
	for _, tractID := range tracts {
		res, err := h.GC(ctx, GCArgs{TractID: tractID, OrphanRetention: retention})
		if err != nil {
			return out, fmt.Errorf("ops: gc all: tract %s: %w", tractID, err)
		}
		out[tractID] = res
	}
	return out, nil
}
