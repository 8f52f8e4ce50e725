package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/WilliamJin123/tract-sub000/internal/debug"
	"github.com/WilliamJin123/tract-sub000/internal/hooks"
	"github.com/WilliamJin123/tract-sub000/internal/llm"
	"github.com/WilliamJin123/tract-sub000/internal/store"
	"github.com/WilliamJin123/tract-sub000/internal/types"
)

const defaultCompressSystemPrompt = "Summarize the following context commits into a single concise passage that preserves their essential meaning."

// CompressArgs is the input to Compress.
type CompressArgs struct {
	TractID string
	// Selection defaults to every NORMAL commit reachable from HEAD.
	Selection    []string
	TargetTokens int
	Instructions string // appended to the default prompt
	SystemPrompt string // replaces the default prompt entirely
	// Preserve is a temporary pin list; it cannot unpin a permanent PINNED
	// commit, it only adds to the preserved set.
	Preserve    []string
	LLMConfig   types.LLMConfig
	TriggeredBy string
}

// CompressResult reports what Compress did. Pending is non-nil in
// collaborative mode when no hook handler resolved the operation: nothing
// has been committed yet, and Pending.Fields["drafts"] holds the draft
// summaries. Compress has no entry point that commits a returned Pending;
// calling Compress again clusters and drafts the selection afresh.
type CompressResult struct {
	Pending          *hooks.Pending
	Summaries        []types.Commit
	Preserved        []string
	OriginalTokens   int
	CompressedTokens int
}

type compressGroup struct {
	anchor  string
	sources []string
}

// Compress clusters the NORMAL commits in a selection and replaces each
// cluster with one LLM-authored summary commit, per spec.md §4.E. PINNED
// commits (and anything in Preserve) are left untouched and keep rendering
// verbatim at their original chain position; the compressed-away commits
// are SKIP-annotated rather than deleted, and a summary is recorded as an
// EDIT over the earliest commit in its group so it inherits that commit's
// position the same way any other EDIT override does.
func (h *Handle) Compress(ctx context.Context, args CompressArgs) (CompressResult, error) {
	selection := args.Selection
	if len(selection) == 0 {
		head, err := h.resolveHeadCommit(ctx, args.TractID)
		if err != nil {
			return CompressResult{}, fmt.Errorf("ops: compress: %w", err)
		}
		selection, err = h.allNormalReachable(ctx, args.TractID, head)
		if err != nil {
			return CompressResult{}, fmt.Errorf("ops: compress: %w", err)
		}
	}

	preserveSet := map[string]bool{}
	for _, p := range args.Preserve {
		preserveSet[p] = true
	}

	var normal, preserved []string
	for _, hash := range selection {
		priority, err := h.Store.PriorityOf(ctx, args.TractID, hash)
		if err != nil {
			return CompressResult{}, fmt.Errorf("ops: compress: priority of %s: %w", hash, err)
		}
		if priority == types.PriorityPinned || preserveSet[hash] {
			preserved = append(preserved, hash)
			continue
		}
		normal = append(normal, hash)
	}

	if len(normal) == 0 {
		debug.Logf("compress: tract %s has nothing but preserved commits, nothing to do", args.TractID)
		return CompressResult{Preserved: preserved}, nil
	}

	if h.Resolver == nil {
		return CompressResult{}, fmt.Errorf("ops: compress: %w: no resolver configured", types.ErrResolverRefused)
	}

	groups, err := h.clusterForCompress(ctx, normal)
	if err != nil {
		return CompressResult{}, fmt.Errorf("ops: compress: cluster: %w", err)
	}

	cfg := resolveLLMConfig(types.LLMConfig{}, h.Configs.Compress, args.LLMConfig)
	drafts, err := h.draftSummaries(ctx, groups, args, cfg)
	if err != nil {
		return CompressResult{}, fmt.Errorf("ops: compress: draft: %w", err)
	}

	draftsAny := make([]any, len(drafts))
	for i, d := range drafts {
		draftsAny[i] = d
	}
	pending := &hooks.Pending{
		Operation: "compress",
		TractID:   args.TractID,
		Mode:      h.Mode,
		Fields: map[string]any{
			"drafts": draftsAny,
		},
	}
	decision, err := h.Hooks.Fire(ctx, pending)
	if err != nil {
		return CompressResult{}, fmt.Errorf("ops: compress: %w", err)
	}
	switch decision {
	case hooks.DecisionReject:
		return CompressResult{}, fmt.Errorf("ops: compress: rejected by hook: %s", pending.Reason)
	case hooks.DecisionPending:
		return CompressResult{Pending: pending, Preserved: preserved}, nil
	case hooks.DecisionModify:
		if edited, ok := pending.Fields["drafts"].([]any); ok {
			for i := range drafts {
				if i < len(edited) {
					if s, ok := edited[i].(string); ok {
						drafts[i] = s
					}
				}
			}
		}
	}

	return h.commitCompress(ctx, args.TractID, groups, drafts, normal, preserved)
}

func (h *Handle) allNormalReachable(ctx context.Context, tractID, head string) ([]string, error) {
	ancestors, err := h.Store.Ancestors(ctx, head, 0, true)
	if err != nil {
		return nil, err
	}
	candidates := append([]string{head}, ancestors...)
	var out []string
	for _, hash := range candidates {
		priority, err := h.Store.PriorityOf(ctx, tractID, hash)
		if err != nil {
			return nil, err
		}
		if priority == types.PriorityNormal {
			out = append(out, hash)
		}
	}
	return out, nil
}

// clusterForCompress asks the resolver to partition commits into ≥1
// semantically coherent groups, identified by commit hash. If the
// resolver's response can't be parsed as a clustering, every commit falls
// back into a single group rather than failing the operation.
func (h *Handle) clusterForCompress(ctx context.Context, normal []string) ([]compressGroup, error) {
	ordered, err := h.chronological(ctx, normal)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("Group the following commit hashes into one or more clusters of related content. ")
	sb.WriteString("Respond with only a JSON array of arrays of commit hashes, covering every hash exactly once.\n")
	for _, hash := range ordered {
		text, rerr := h.renderedTextOf(ctx, hash)
		if rerr != nil {
			return nil, rerr
		}
		fmt.Fprintf(&sb, "%s: %s\n", hash, text)
	}

	resp, err := h.Resolver.Chat(ctx, []llm.ChatMessage{
		{Role: "system", Content: "You cluster context commits for compression. Output JSON only."},
		{Role: "user", Content: sb.String()},
	}, h.Configs.Compress)
	if err != nil {
		debug.Logf("compress: clustering call failed, falling back to a single group: %v", err)
		return []compressGroup{{anchor: ordered[0], sources: ordered}}, nil
	}

	var rawGroups [][]string
	if jerr := json.Unmarshal([]byte(strings.TrimSpace(resp.Text)), &rawGroups); jerr != nil || len(rawGroups) == 0 {
		debug.Logf("compress: clustering response unparseable, falling back to a single group")
		return []compressGroup{{anchor: ordered[0], sources: ordered}}, nil
	}

	groups := make([]compressGroup, 0, len(rawGroups))
	for _, g := range rawGroups {
		if len(g) == 0 {
			continue
		}
		sorted, err := h.chronological(ctx, g)
		if err != nil {
			return nil, err
		}
		groups = append(groups, compressGroup{anchor: sorted[0], sources: sorted})
	}
	if len(groups) == 0 {
		return []compressGroup{{anchor: ordered[0], sources: ordered}}, nil
	}
	return groups, nil
}

func (h *Handle) draftSummaries(ctx context.Context, groups []compressGroup, args CompressArgs, cfg types.LLMConfig) ([]string, error) {
	systemPrompt := args.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultCompressSystemPrompt
		if args.Instructions != "" {
			systemPrompt += " " + args.Instructions
		}
	}

	drafts := make([]string, len(groups))
	for i, g := range groups {
		var sb strings.Builder
		for _, hash := range g.sources {
			text, err := h.renderedTextOf(ctx, hash)
			if err != nil {
				return nil, err
			}
			sb.WriteString(text)
			sb.WriteString("\n")
		}
		resp, err := h.Resolver.Chat(ctx, []llm.ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: sb.String()},
		}, cfg)
		if err != nil {
			return nil, fmt.Errorf("summarize group %d: %w", i, err)
		}
		drafts[i] = resp.Text
	}
	return drafts, nil
}

func (h *Handle) renderedTextOf(ctx context.Context, commitHash string) (string, error) {
	c, err := h.Store.GetCommit(ctx, commitHash)
	if err != nil {
		return "", fmt.Errorf("get commit %s: %w", commitHash, err)
	}
	return blobText(ctx, h.Store, c.ContentHash)
}

func (h *Handle) commitCompress(ctx context.Context, tractID string, groups []compressGroup, drafts []string, normal, preserved []string) (CompressResult, error) {
	result := CompressResult{Preserved: preserved}

	err := h.Store.WithTx(ctx, func(ctx context.Context, tx store.Storage) error {
		head, err := h.resolveHeadCommitTx(ctx, tx, tractID)
		if err != nil {
			return err
		}

		ev := types.OperationEvent{
			EventID:   newEventID(),
			TractID:   tractID,
			EventType: types.EventCompress,
			CreatedAt: nowUTC(),
		}
		var rows []types.EventCommitRow

		for i, g := range groups {
			draft := drafts[i]
			data, err := json.Marshal(types.Payload{Kind: types.KindOpaque, Text: draft})
			if err != nil {
				return fmt.Errorf("marshal summary: %w", err)
			}
			contentHash, err := tx.PutBlob(ctx, data)
			if err != nil {
				return fmt.Errorf("put summary blob: %w", err)
			}

			summaryHash, err := tx.CreateCommit(ctx, tractID, store.CommitInput{
				ContentHash: contentHash,
				Parents:     []string{head},
				Operation:   types.OpEdit,
				EditTarget:  g.anchor,
				TokenCount:  h.Tok.Count(draft),
				Timestamp:   nowUTC(),
				Message:     fmt.Sprintf("compress: summarize %d commit(s)", len(g.sources)),
			})
			if err != nil {
				return fmt.Errorf("create summary commit: %w", err)
			}
			head = summaryHash

			c, err := tx.GetCommit(ctx, summaryHash)
			if err != nil {
				return err
			}
			result.Summaries = append(result.Summaries, *c)
			result.CompressedTokens += c.TokenCount
			rows = append(rows, types.EventCommitRow{EventID: ev.EventID, CommitHash: summaryHash, Role: types.RoleResult})

			for _, src := range g.sources {
				if src == g.anchor {
					continue
				}
				if err := tx.Annotate(ctx, tractID, src, types.PrioritySkip, "compressed"); err != nil {
					return fmt.Errorf("skip-annotate %s: %w", src, err)
				}
			}
		}

		for _, src := range normal {
			orig, err := tx.GetCommit(ctx, src)
			if err != nil {
				return err
			}
			result.OriginalTokens += orig.TokenCount
			rows = append(rows, types.EventCommitRow{EventID: ev.EventID, CommitHash: src, Role: types.RoleSource})
		}
		for _, p := range preserved {
			rows = append(rows, types.EventCommitRow{EventID: ev.EventID, CommitHash: p, Role: types.RolePreserved})
		}
		ev.OriginalTokens = result.OriginalTokens
		ev.CompressedTokens = result.CompressedTokens

		if err := tx.RecordEvent(ctx, ev, rows); err != nil {
			return fmt.Errorf("record compress event: %w", err)
		}

		hs, err := tx.Head(ctx, tractID)
		if err != nil {
			return err
		}
		if hs.Attached {
			if err := tx.SetRef(ctx, tractID, hs.Branch, head); err != nil {
				return fmt.Errorf("advance branch past summaries: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return CompressResult{}, err
	}

	h.Compile.Invalidate(tractID, "")
	return result, nil
}

// resolveHeadCommitTx mirrors resolveHeadCommit but runs against an
// in-flight transaction's Storage view.
func (h *Handle) resolveHeadCommitTx(ctx context.Context, tx store.Storage, tractID string) (string, error) {
	hs, err := tx.Head(ctx, tractID)
	if err != nil {
		return "", err
	}
	if !hs.Attached {
		return hs.Commit, nil
	}
	return tx.ResolveRef(ctx, tractID, hs.Branch)
}
