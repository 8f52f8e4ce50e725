package ops

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/WilliamJin123/tract-sub000/internal/debug"
	"github.com/WilliamJin123/tract-sub000/internal/store"
	"github.com/WilliamJin123/tract-sub000/internal/types"
)

// RebaseArgs is the input to Rebase.
type RebaseArgs struct {
	TractID     string
	Branch      string // branch whose commits are replayed
	Onto        string // new base commit hash
	TriggeredBy string
}

// RebaseResult reports the old->new commit mapping, in replay order.
type RebaseResult struct {
	OldCommits []string
	NewCommits []string
	NewHead    string
}

// Rebase replays branch's commits since their common ancestor with Onto
// onto Onto as new commits, per spec.md §4.E. The original commits are
// left in place (they may become unreachable from branch's new position)
// and a reorganize event records the replayed commits as sources and the
// new commits as results. The event rows carry no position: the pairing of
// each old commit with its replacement is reported only in RebaseResult
// (OldCommits[i] -> NewCommits[i]), and ResultsOf on one replayed commit
// returns every new commit of the event. Rebase refuses to run while HEAD
// is detached.
//
// Safety checks: an EDIT commit whose edit_target is not among the
// replayed set, or not found after replay, is warned about but not
// fatal (the edit becomes a no-op pointing at a commit rebase never
// touched); a ToolResult commit whose matching ToolCall did not replay
// alongside it is likewise warned, not fatal.
func (h *Handle) Rebase(ctx context.Context, args RebaseArgs) (RebaseResult, error) {
	hs, err := h.Store.Head(ctx, args.TractID)
	if err != nil {
		return RebaseResult{}, fmt.Errorf("ops: rebase: %w", err)
	}
	if !hs.Attached {
		return RebaseResult{}, fmt.Errorf("ops: rebase: %w", types.ErrDetachedHead)
	}
	current, err := h.Store.ResolveRef(ctx, args.TractID, args.Branch)
	if err != nil {
		return RebaseResult{}, fmt.Errorf("ops: rebase: %w", err)
	}
	if _, err := h.Store.GetCommit(ctx, args.Onto); err != nil {
		return RebaseResult{}, fmt.Errorf("ops: rebase: onto: %w", types.ErrInvalidCommitRef)
	}

	ontoBase, err := h.mergeBaseFirstParent(ctx, current, args.Onto)
	if err != nil {
		return RebaseResult{}, fmt.Errorf("ops: rebase: %w", err)
	}

	dropped, _, err := h.Store.Between(ctx, ontoBase, current)
	if err != nil {
		return RebaseResult{}, fmt.Errorf("ops: rebase: replay set: %w", err)
	}
	replaySet, err := h.chronological(ctx, dropped)
	if err != nil {
		return RebaseResult{}, err
	}

	result := RebaseResult{OldCommits: replaySet}
	err = h.Store.WithTx(ctx, func(ctx context.Context, tx store.Storage) error {
		newBase := args.Onto
		mapping := make(map[string]string, len(replaySet))
		seenToolCalls := map[string]bool{}

		for _, oldHash := range replaySet {
			oldCommit, err := tx.GetCommit(ctx, oldHash)
			if err != nil {
				return fmt.Errorf("ops: rebase: get commit %s: %w", oldHash, err)
			}

			editTarget := oldCommit.EditTarget
			if oldCommit.Operation == types.OpEdit && editTarget != "" {
				if mapped, ok := mapping[editTarget]; ok {
					editTarget = mapped
				} else {
					// edit target predates the replay window or wasn't
					// itself replayed; left pointing at the original commit.
					debug.Logf("rebase: tract %s: edit target %s for commit %s was not replayed; the replayed edit still points at the original commit", args.TractID, editTarget, oldHash)
				}
			}

			p, err := payloadOf(ctx, tx, oldCommit.ContentHash)
			if err != nil {
				return fmt.Errorf("ops: rebase: %w", err)
			}
			switch p.Kind {
			case types.KindToolCall:
				seenToolCalls[p.ToolCallID] = true
			case types.KindToolResult:
				if p.ToolCallID != "" && !seenToolCalls[p.ToolCallID] {
					debug.Logf("rebase: tract %s: tool result commit %s (tool_call_id=%s) replayed without its matching tool call; the tool-call/result chain is now broken", args.TractID, oldHash, p.ToolCallID)
				}
			}

			newHash, err := tx.CreateCommit(ctx, args.TractID, store.CommitInput{
				ContentHash: oldCommit.ContentHash,
				Parents:     []string{newBase},
				Operation:   oldCommit.Operation,
				EditTarget:  editTarget,
				TokenCount:  oldCommit.TokenCount,
				Timestamp:   nowUTC(),
				Message:     oldCommit.Message,
			})
			if err != nil {
				return fmt.Errorf("ops: rebase: create commit for %s: %w", oldHash, err)
			}

			mapping[oldHash] = newHash
			result.NewCommits = append(result.NewCommits, newHash)
			newBase = newHash
		}

		if err := tx.SetRef(ctx, args.TractID, args.Branch, newBase); err != nil {
			return fmt.Errorf("ops: rebase: advance branch: %w", err)
		}

		rows := make([]types.EventCommitRow, 0, len(replaySet)+len(result.NewCommits))
		ev := types.OperationEvent{
			EventID:   newEventID(),
			TractID:   args.TractID,
			EventType: types.EventReorganize,
			CreatedAt: nowUTC(),
		}
		for _, old := range replaySet {
			rows = append(rows, types.EventCommitRow{EventID: ev.EventID, CommitHash: old, Role: types.RoleSource})
		}
		for _, n := range result.NewCommits {
			rows = append(rows, types.EventCommitRow{EventID: ev.EventID, CommitHash: n, Role: types.RoleResult})
		}
		if err := tx.RecordEvent(ctx, ev, rows); err != nil {
			return fmt.Errorf("ops: rebase: record event: %w", err)
		}

		result.NewHead = newBase
		return nil
	})
	if err != nil {
		return RebaseResult{}, err
	}

	h.Compile.Invalidate(args.TractID, current)
	return result, nil
}

// CherryPickArgs is the input to CherryPick.
type CherryPickArgs struct {
	TractID     string
	Source      string // commit hash to replay
	Branch      string // branch to replay onto; defaults to attached HEAD
	TriggeredBy string
}

// CherryPick replays a single commit onto HEAD (or Branch, if given) as a
// new commit, recording an import event linking source to result. It
// refuses to run while HEAD is detached, whether or not Branch is given.
func (h *Handle) CherryPick(ctx context.Context, args CherryPickArgs) (types.Commit, error) {
	head, err := h.Store.Head(ctx, args.TractID)
	if err != nil {
		return types.Commit{}, fmt.Errorf("ops: cherry-pick: %w", err)
	}
	if !head.Attached {
		return types.Commit{}, fmt.Errorf("ops: cherry-pick: %w", types.ErrDetachedHead)
	}
	branch := args.Branch
	if branch == "" {
		branch = head.Branch
	}

	src, err := h.Store.GetCommit(ctx, args.Source)
	if err != nil {
		return types.Commit{}, fmt.Errorf("ops: cherry-pick: %w", types.ErrInvalidCommitRef)
	}

	current, err := h.Store.ResolveRef(ctx, args.TractID, branch)
	if err != nil {
		return types.Commit{}, fmt.Errorf("ops: cherry-pick: %w", err)
	}

	if src.Operation == types.OpEdit && src.EditTarget != "" {
		if _, err := h.Store.GetCommit(ctx, src.EditTarget); err != nil {
			// Edit target unreachable from the destination branch: the
			// replayed edit becomes a dangling override. Not fatal.
			debug.Logf("cherry-pick: tract %s: edit target %s for commit %s is unreachable from %s; the replayed edit becomes a dangling override", args.TractID, src.EditTarget, args.Source, branch)
		}
	}

	var out types.Commit
	err = h.Store.WithTx(ctx, func(ctx context.Context, tx store.Storage) error {
		newHash, err := tx.CreateCommit(ctx, args.TractID, store.CommitInput{
			ContentHash: src.ContentHash,
			Parents:     []string{current},
			Operation:   src.Operation,
			EditTarget:  src.EditTarget,
			TokenCount:  src.TokenCount,
			Timestamp:   nowUTC(),
			Message:     src.Message,
		})
		if err != nil {
			return fmt.Errorf("ops: cherry-pick: create commit: %w", err)
		}
		if err := tx.SetRef(ctx, args.TractID, branch, newHash); err != nil {
			return fmt.Errorf("ops: cherry-pick: advance branch: %w", err)
		}

		ev := types.OperationEvent{
			EventID:   newEventID(),
			TractID:   args.TractID,
			EventType: types.EventImport,
			CreatedAt: nowUTC(),
		}
		rows := []types.EventCommitRow{
			{EventID: ev.EventID, CommitHash: args.Source, Role: types.RoleSource},
			{EventID: ev.EventID, CommitHash: newHash, Role: types.RoleResult},
		}
		if err := tx.RecordEvent(ctx, ev, rows); err != nil {
			return fmt.Errorf("ops: cherry-pick: record event: %w", err)
		}

		c, err := tx.GetCommit(ctx, newHash)
		if err != nil {
			return err
		}
		out = *c
		return nil
	})
	if err != nil {
		return types.Commit{}, err
	}

	h.Compile.Invalidate(args.TractID, current)
	return out, nil
}

// payloadOf loads and decodes the payload behind a commit's content hash,
// used by Rebase to detect a broken tool-call/tool-result chain across the
// replay window.
func payloadOf(ctx context.Context, tx store.Storage, contentHash string) (types.Payload, error) {
	raw, found, err := tx.GetBlob(ctx, contentHash)
	if err != nil {
		return types.Payload{}, fmt.Errorf("get blob %s: %w", contentHash, err)
	}
	if !found {
		return types.Payload{}, fmt.Errorf("%w: %s", types.ErrMissingBlob, contentHash)
	}
	var p types.Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return types.Payload{}, fmt.Errorf("%w: unmarshal blob %s: %v", types.ErrCorruptHash, contentHash, err)
	}
	return p, nil
}

// mergeBaseFirstParent walks current's first-parent chain back until it
// finds a commit that is also an ancestor of onto (all-parent reachable),
// giving the point rebase should treat as "already shared" history.
func (h *Handle) mergeBaseFirstParent(ctx context.Context, current, onto string) (string, error) {
	chain, err := h.Store.Ancestors(ctx, current, 0, false)
	if err != nil {
		return "", fmt.Errorf("ops: first-parent chain of %s: %w", current, err)
	}
	chain = append([]string{current}, chain...)
	for _, candidate := range chain {
		ok, err := h.Store.HasAncestor(ctx, onto, candidate)
		if err != nil {
			return "", err
		}
		if ok {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("ops: rebase: %w: no common ancestor with onto", types.ErrOrphanParent)
}
