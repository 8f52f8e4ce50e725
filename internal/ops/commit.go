package ops

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/WilliamJin123/tract-sub000/internal/compile"
	"github.com/WilliamJin123/tract-sub000/internal/hooks"
	"github.com/WilliamJin123/tract-sub000/internal/store"
	"github.com/WilliamJin123/tract-sub000/internal/types"
)

// CommitArgs is the input to Commit.
type CommitArgs struct {
	TractID     string
	Payload     types.Payload
	Operation   types.Operation // defaults to APPEND
	EditTarget  string          // required when Operation == EDIT
	Message     string          // auto-generated from content when empty
	TriggeredBy string
}

// Commit appends (or edits) one commit onto the tract's attached HEAD,
// per spec.md §4.E. Preconditions: HEAD must be attached; edit_target must
// resolve to an existing commit when Operation is EDIT.
func (h *Handle) Commit(ctx context.Context, args CommitArgs) (types.Commit, error) {
	if args.Operation == "" {
		args.Operation = types.OpAppend
	}

	head, err := h.Store.Head(ctx, args.TractID)
	if err != nil {
		return types.Commit{}, fmt.Errorf("ops: commit: %w", err)
	}
	if !head.Attached {
		return types.Commit{}, fmt.Errorf("ops: commit: %w", types.ErrDetachedHead)
	}

	if args.Operation == types.OpEdit {
		if args.EditTarget == "" {
			return types.Commit{}, fmt.Errorf("ops: commit: %w", types.ErrEditTargetMissing)
		}
		if _, err := h.Store.GetCommit(ctx, args.EditTarget); err != nil {
			return types.Commit{}, fmt.Errorf("ops: commit: edit target: %w", types.ErrEditTargetMissing)
		}
	}

	text, err := compile.PayloadText(args.Payload)
	if err != nil {
		return types.Commit{}, fmt.Errorf("ops: commit: %w", err)
	}
	message := args.Message
	if message == "" {
		message = autoMessage(args.Operation, text)
	}

	pending := &hooks.Pending{
		Operation: "commit",
		TractID:   args.TractID,
		Mode:      h.Mode,
		Fields: map[string]any{
			"message": message,
		},
	}
	decision, err := h.Hooks.Fire(ctx, pending)
	if err != nil {
		return types.Commit{}, fmt.Errorf("ops: commit: %w", err)
	}
	switch decision {
	case hooks.DecisionReject:
		return types.Commit{}, fmt.Errorf("ops: commit: rejected by hook: %s", pending.Reason)
	case hooks.DecisionModify:
		if m, ok := pending.Fields["message"].(string); ok {
			message = m
		}
	}

	resolvedBranch := head.Branch

	var out types.Commit
	err = h.Store.WithTx(ctx, func(ctx context.Context, tx store.Storage) error {
		var currentHead string
		resolved, err := tx.ResolveRef(ctx, args.TractID, resolvedBranch)
		if err == nil {
			currentHead = resolved
		}
		// else: first commit on a freshly-created branch, no parent.

		data, err := json.Marshal(args.Payload)
		if err != nil {
			return fmt.Errorf("ops: marshal payload: %w", err)
		}
		contentHash, err := tx.PutBlob(ctx, data)
		if err != nil {
			return fmt.Errorf("ops: put blob: %w", err)
		}

		var parents []string
		if currentHead != "" {
			parents = []string{currentHead}
		}

		commitHash, err := tx.CreateCommit(ctx, args.TractID, store.CommitInput{
			ContentHash: contentHash,
			Parents:     parents,
			Operation:   args.Operation,
			EditTarget:  args.EditTarget,
			TokenCount:  h.Tok.Count(text),
			Timestamp:   nowUTC(),
			Message:     message,
		})
		if err != nil {
			return fmt.Errorf("ops: create commit: %w", err)
		}

		if err := tx.SetRef(ctx, args.TractID, resolvedBranch, commitHash); err != nil {
			return fmt.Errorf("ops: advance branch ref: %w", err)
		}

		c, err := tx.GetCommit(ctx, commitHash)
		if err != nil {
			return err
		}
		out = *c
		return nil
	})
	if err != nil {
		return types.Commit{}, err
	}

	h.Compile.Invalidate(args.TractID, out.CommitHash)
	return out, nil
}

// autoMessage deterministically derives a commit message from content when
// the caller supplies none, per spec.md §4.E ("auto-generation of messages
// is allowed when absent; it is deterministic given content").
func autoMessage(op types.Operation, text string) string {
	const maxLen = 72
	summary := text
	if len(summary) > maxLen {
		summary = summary[:maxLen] + "..."
	}
	if op == types.OpEdit {
		return "edit: " + summary
	}
	return "append: " + summary
}
