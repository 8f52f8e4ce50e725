package ops

import (
	"context"
	"fmt"

	"github.com/WilliamJin123/tract-sub000/internal/store"
	"github.com/WilliamJin123/tract-sub000/internal/types"
)

// Branch creates a named ref at commitHash (defaulting to current HEAD
// when commitHash is empty).
func (h *Handle) Branch(ctx context.Context, tractID, name, commitHash string) error {
	target := commitHash
	if target == "" {
		resolved, err := h.resolveHeadCommit(ctx, tractID)
		if err != nil {
			return fmt.Errorf("ops: branch: %w", err)
		}
		target = resolved
	}
	if err := h.Store.SetRef(ctx, tractID, name, target); err != nil {
		return fmt.Errorf("ops: branch: %w", err)
	}
	return nil
}

// Switch updates HEAD's symbolic target to an existing branch.
func (h *Handle) Switch(ctx context.Context, tractID, branch string) error {
	if _, err := h.Store.ResolveRef(ctx, tractID, branch); err != nil {
		return fmt.Errorf("ops: switch: %w", err)
	}
	if err := h.Store.Attach(ctx, tractID, branch); err != nil {
		return fmt.Errorf("ops: switch: %w", err)
	}
	return nil
}

// Checkout enters detached HEAD at an arbitrary commit, for read-only
// compile; a subsequent Commit call fails with ErrDetachedHead until a
// Switch re-attaches HEAD.
func (h *Handle) Checkout(ctx context.Context, tractID, commitHash string) error {
	if _, err := h.Store.GetCommit(ctx, commitHash); err != nil {
		return fmt.Errorf("ops: checkout: %w", types.ErrInvalidCommitRef)
	}
	if err := h.Store.Detach(ctx, tractID, commitHash); err != nil {
		return fmt.Errorf("ops: checkout: %w", err)
	}
	return nil
}

// ResetMode selects reset's forward-commit retention behavior.
type ResetMode string

const (
	ResetSoft ResetMode = "soft"
	ResetHard ResetMode = "hard"
)

// Reset moves branch's ref to target, an ancestor of its current position.
// Soft reset leaves the forward commits reachable only through the
// recorded reorganize event (a reflog-like trail); hard reset simply drops
// the ref forward, making those commits GC orphan candidates.
func (h *Handle) Reset(ctx context.Context, tractID, branch, target string, mode ResetMode) error {
	current, err := h.Store.ResolveRef(ctx, tractID, branch)
	if err != nil {
		return fmt.Errorf("ops: reset: %w", err)
	}
	if _, err := h.Store.GetCommit(ctx, target); err != nil {
		return fmt.Errorf("ops: reset: %w", types.ErrInvalidCommitRef)
	}
	hasAncestor, err := h.Store.HasAncestor(ctx, current, target)
	if err != nil {
		return fmt.Errorf("ops: reset: %w", err)
	}
	if !hasAncestor {
		return fmt.Errorf("ops: reset: %w: target is not an ancestor of %s", types.ErrInvalidCommitRef, branch)
	}

	err = h.Store.WithTx(ctx, func(ctx context.Context, tx store.Storage) error {
		if mode == ResetSoft {
			dropped, _, err := tx.Between(ctx, target, current)
			if err != nil {
				return fmt.Errorf("ops: reset: compute dropped range: %w", err)
			}
			rows := make([]types.EventCommitRow, 0, len(dropped)+1)
			ev := types.OperationEvent{
				EventID:   newEventID(),
				TractID:   tractID,
				EventType: types.EventReorganize,
				CreatedAt: nowUTC(),
			}
			for _, d := range dropped {
				rows = append(rows, types.EventCommitRow{EventID: ev.EventID, CommitHash: d, Role: types.RoleSource})
			}
			rows = append(rows, types.EventCommitRow{EventID: ev.EventID, CommitHash: target, Role: types.RoleResult})
			if err := tx.RecordEvent(ctx, ev, rows); err != nil {
				return fmt.Errorf("ops: reset: record event: %w", err)
			}
		}
		return tx.SetRef(ctx, tractID, branch, target)
	})
	if err != nil {
		return err
	}
	h.Compile.Invalidate(tractID, current)
	return nil
}

// Annotate sets target's priority overlay (NORMAL, PINNED, or SKIP),
// per spec.md §4.C. target must already be a commit in the tract;
// PINNED commits render verbatim and are skipped by Compress's selection,
// SKIP commits are omitted from compilation entirely.
func (h *Handle) Annotate(ctx context.Context, tractID, target string, priority types.Priority, reason string) error {
	if err := h.Store.Annotate(ctx, tractID, target, priority, reason); err != nil {
		return fmt.Errorf("ops: annotate: %w", err)
	}
	h.Compile.Invalidate(tractID, "")
	return nil
}

// resolveHeadCommit returns the commit HEAD currently points at, whether
// attached (via its branch) or detached.
func (h *Handle) resolveHeadCommit(ctx context.Context, tractID string) (string, error) {
	hs, err := h.Store.Head(ctx, tractID)
	if err != nil {
		return "", err
	}
	if !hs.Attached {
		return hs.Commit, nil
	}
	return h.Store.ResolveRef(ctx, tractID, hs.Branch)
}
