package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/WilliamJin123/tract-sub000/internal/compile"
	"github.com/WilliamJin123/tract-sub000/internal/llm"
	"github.com/WilliamJin123/tract-sub000/internal/store"
	"github.com/WilliamJin123/tract-sub000/internal/types"
)

// MergeStrategy selects how merge resolves a non-fast-forward divergence.
type MergeStrategy string

const (
	MergeTextual  MergeStrategy = "textual"
	MergeSemantic MergeStrategy = "semantic"
)

// MergeArgs is the input to Merge.
type MergeArgs struct {
	TractID     string
	SourceRef   string // branch name or raw commit hash
	Strategy    MergeStrategy
	LLMConfig   types.LLMConfig // used only by MergeSemantic
	TriggeredBy string
}

// MergeResult reports what Merge did.
type MergeResult struct {
	FastForward bool
	MergeCommit string // empty on fast-forward
	NewHead     string
}

// Merge merges SourceRef into the tract's attached HEAD branch, per
// spec.md §4.E.
func (h *Handle) Merge(ctx context.Context, args MergeArgs) (MergeResult, error) {
	head, err := h.Store.Head(ctx, args.TractID)
	if err != nil {
		return MergeResult{}, fmt.Errorf("ops: merge: %w", err)
	}
	if !head.Attached {
		return MergeResult{}, fmt.Errorf("ops: merge: %w", types.ErrDetachedHead)
	}

	targetCommit, err := h.Store.ResolveRef(ctx, args.TractID, head.Branch)
	if err != nil {
		return MergeResult{}, fmt.Errorf("ops: merge: resolve HEAD branch: %w", err)
	}

	sourceCommit, err := h.resolveRefOrCommit(ctx, args.TractID, args.SourceRef)
	if err != nil {
		return MergeResult{}, fmt.Errorf("ops: merge: resolve source: %w", err)
	}

	if targetCommit == sourceCommit {
		return MergeResult{FastForward: true, NewHead: targetCommit}, nil
	}

	// HasAncestor(x, y) reports whether y is an ancestor of x.
	targetIsAncestorOfSource, err := h.Store.HasAncestor(ctx, sourceCommit, targetCommit)
	if err != nil {
		return MergeResult{}, fmt.Errorf("ops: merge: %w", err)
	}
	if targetIsAncestorOfSource {
		// target's history is a subset of source's: fast-forward the ref.
		if err := h.Store.SetRef(ctx, args.TractID, head.Branch, sourceCommit); err != nil {
			return MergeResult{}, fmt.Errorf("ops: merge: fast-forward: %w", err)
		}
		h.Compile.Invalidate(args.TractID, targetCommit)
		return MergeResult{FastForward: true, NewHead: sourceCommit}, nil
	}

	sourceIsAncestorOfTarget, err := h.Store.HasAncestor(ctx, targetCommit, sourceCommit)
	if err != nil {
		return MergeResult{}, fmt.Errorf("ops: merge: %w", err)
	}
	if sourceIsAncestorOfTarget {
		// source is already fully contained in target: nothing to do.
		return MergeResult{FastForward: true, NewHead: targetCommit}, nil
	}

	base, err := compile.MergeBase(ctx, h.Store, targetCommit, sourceCommit)
	if err != nil {
		return MergeResult{}, fmt.Errorf("ops: merge: merge-base: %w", err)
	}

	// Diverged commits are computed on BOTH sides of merge-base: textual
	// merge concatenates everything from both sides, and semantic merge's
	// conflict set is exactly the subset whose rendered role/topic overlaps
	// across the two sides, per spec.md §4.E.
	targetDiverged, _, err := h.Store.Between(ctx, base, targetCommit)
	if err != nil {
		return MergeResult{}, fmt.Errorf("ops: merge: target diverged commits: %w", err)
	}
	sourceDiverged, _, err := h.Store.Between(ctx, base, sourceCommit)
	if err != nil {
		return MergeResult{}, fmt.Errorf("ops: merge: source diverged commits: %w", err)
	}

	var contentHash string
	switch args.Strategy {
	case MergeSemantic:
		contentHash, err = h.semanticMergeContent(ctx, args, targetDiverged, sourceDiverged)
	default:
		all := append(append([]string{}, targetDiverged...), sourceDiverged...)
		ordered, orderErr := h.chronological(ctx, all)
		if orderErr != nil {
			return MergeResult{}, orderErr
		}
		contentHash, err = h.textualMergeContent(ctx, ordered)
	}
	if err != nil {
		return MergeResult{}, err
	}

	tokenText, err := blobText(ctx, h.Store, contentHash)
	if err != nil {
		return MergeResult{}, err
	}

	var mergeCommit string
	err = h.Store.WithTx(ctx, func(ctx context.Context, tx store.Storage) error {
		hash, err := tx.CreateCommit(ctx, args.TractID, store.CommitInput{
			ContentHash: contentHash,
			Parents:     []string{targetCommit, sourceCommit},
			Operation:   types.OpAppend,
			TokenCount:  h.Tok.Count(tokenText),
			Timestamp:   nowUTC(),
			Message:     fmt.Sprintf("merge %s", args.SourceRef),
		})
		if err != nil {
			return fmt.Errorf("ops: merge: create commit: %w", err)
		}
		mergeCommit = hash
		return tx.SetRef(ctx, args.TractID, head.Branch, hash)
	})
	if err != nil {
		return MergeResult{}, err
	}

	h.Compile.Invalidate(args.TractID, targetCommit)
	return MergeResult{MergeCommit: mergeCommit, NewHead: mergeCommit}, nil
}

// textualMergeContent canonically concatenates the diverged commits' text
// into a single opaque payload, per spec.md §4.E's textual strategy.
func (h *Handle) textualMergeContent(ctx context.Context, diverged []string) (string, error) {
	var sb strings.Builder
	for i, hash := range diverged {
		c, err := h.Store.GetCommit(ctx, hash)
		if err != nil {
			return "", fmt.Errorf("ops: merge: get commit %s: %w", hash, err)
		}
		text, err := blobText(ctx, h.Store, c.ContentHash)
		if err != nil {
			return "", err
		}
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(text)
	}
	return h.putTextBlob(ctx, sb.String())
}

// conflictItem is one diverged-side commit's rendered payload, keyed for
// cross-side overlap detection.
type conflictItem struct {
	hash string
	ts   int64
	key  string
	text string
}

// conflictKey groups commits that address the same topic across the two
// sides of a merge: tool calls/results key on their ToolCallID (a result
// only conflicts with the call it answers), everything else keys on
// kind+role, per spec.md §4.E's "overlap in role/topic".
func conflictKey(p types.Payload) string {
	switch p.Kind {
	case types.KindToolCall, types.KindToolResult:
		return "tool:" + p.ToolCallID
	default:
		return "role:" + string(p.Kind) + ":" + p.Role
	}
}

func (h *Handle) loadConflictItems(ctx context.Context, hashes []string) ([]conflictItem, error) {
	items := make([]conflictItem, 0, len(hashes))
	for _, hash := range hashes {
		c, err := h.Store.GetCommit(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("ops: merge: get commit %s: %w", hash, err)
		}
		raw, found, err := h.Store.GetBlob(ctx, c.ContentHash)
		if err != nil {
			return nil, fmt.Errorf("ops: merge: get blob %s: %w", c.ContentHash, err)
		}
		if !found {
			return nil, fmt.Errorf("ops: merge: %w: %s", types.ErrMissingBlob, c.ContentHash)
		}
		var p types.Payload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("ops: merge: %w: unmarshal blob %s: %v", types.ErrCorruptHash, c.ContentHash, err)
		}
		text, err := compile.PayloadText(p)
		if err != nil {
			return nil, err
		}
		items = append(items, conflictItem{hash: hash, ts: c.Timestamp.UnixNano(), key: conflictKey(p), text: text})
	}
	return items, nil
}

// semanticMergeContent resolves only the commits whose key overlaps across
// both sides of merge-base, per spec.md §4.E: the conflict set = commits on
// each side since merge-base whose rendered outputs overlap in role/topic.
// Non-overlapping commits on either side carry over verbatim. Each
// overlapping key is sent to the resolver independently ("one content per
// conflict"), and the final content is the chronological concatenation of
// every resolved conflict and every carried-over commit.
func (h *Handle) semanticMergeContent(ctx context.Context, args MergeArgs, targetDiverged, sourceDiverged []string) (string, error) {
	targetItems, err := h.loadConflictItems(ctx, targetDiverged)
	if err != nil {
		return "", err
	}
	sourceItems, err := h.loadConflictItems(ctx, sourceDiverged)
	if err != nil {
		return "", err
	}

	targetByKey := map[string][]conflictItem{}
	for _, it := range targetItems {
		targetByKey[it.key] = append(targetByKey[it.key], it)
	}
	sourceByKey := map[string][]conflictItem{}
	for _, it := range sourceItems {
		sourceByKey[it.key] = append(sourceByKey[it.key], it)
	}

	type segment struct {
		ts   int64
		text string
	}
	var segments []segment
	conflictKeys := map[string]bool{}

	for key, tItems := range targetByKey {
		sItems, overlaps := sourceByKey[key]
		if !overlaps {
			continue
		}
		conflictKeys[key] = true

		if h.Resolver == nil {
			return "", fmt.Errorf("ops: merge: %w: no resolver configured", types.ErrResolverRefused)
		}
		resolved, err := h.resolveConflict(ctx, args, tItems, sItems)
		if err != nil {
			return "", err
		}
		minTS := tItems[0].ts
		for _, it := range append(tItems, sItems...) {
			if it.ts < minTS {
				minTS = it.ts
			}
		}
		segments = append(segments, segment{ts: minTS, text: resolved})
	}

	for _, it := range targetItems {
		if conflictKeys[it.key] {
			continue
		}
		segments = append(segments, segment{ts: it.ts, text: it.text})
	}
	for _, it := range sourceItems {
		if conflictKeys[it.key] {
			continue
		}
		segments = append(segments, segment{ts: it.ts, text: it.text})
	}

	sort.SliceStable(segments, func(i, j int) bool { return segments[i].ts < segments[j].ts })

	var sb strings.Builder
	for i, seg := range segments {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(seg.text)
	}
	return h.putTextBlob(ctx, sb.String())
}

// resolveConflict delegates a single overlapping key's resolution to the
// injected LLM resolver, returning one resolved content for that conflict.
func (h *Handle) resolveConflict(ctx context.Context, args MergeArgs, targetSide, sourceSide []conflictItem) (string, error) {
	messages := []llm.ChatMessage{
		{Role: "system", Content: "Resolve the following diverged context branches into one coherent merged passage. Respond with only the merged content."},
	}
	for _, it := range targetSide {
		messages = append(messages, llm.ChatMessage{Role: "user", Content: it.text})
	}
	for _, it := range sourceSide {
		messages = append(messages, llm.ChatMessage{Role: "user", Content: it.text})
	}

	cfg := resolveLLMConfig(types.LLMConfig{}, h.Configs.Merge, args.LLMConfig)
	resp, err := h.Resolver.Chat(ctx, messages, cfg)
	if err != nil {
		return "", fmt.Errorf("ops: merge: %w: %v", types.ErrMergeConflict, err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", fmt.Errorf("ops: merge: %w: empty resolution", types.ErrResolverRefused)
	}
	return resp.Text, nil
}

func (h *Handle) putTextBlob(ctx context.Context, text string) (string, error) {
	data, err := json.Marshal(types.Payload{Kind: types.KindOpaque, Text: text})
	if err != nil {
		return "", fmt.Errorf("ops: marshal merge payload: %w", err)
	}
	hash, err := h.Store.PutBlob(ctx, data)
	if err != nil {
		return "", fmt.Errorf("ops: put merge blob: %w", err)
	}
	return hash, nil
}

func blobText(ctx context.Context, s store.Storage, contentHash string) (string, error) {
	raw, found, err := s.GetBlob(ctx, contentHash)
	if err != nil {
		return "", fmt.Errorf("ops: get blob %s: %w", contentHash, err)
	}
	if !found {
		return "", fmt.Errorf("ops: %w: %s", types.ErrMissingBlob, contentHash)
	}
	var p types.Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("ops: %w: unmarshal blob %s: %v", types.ErrCorruptHash, contentHash, err)
	}
	text, err := compile.PayloadText(p)
	if err != nil {
		return "", err
	}
	return text, nil
}

func (h *Handle) resolveRefOrCommit(ctx context.Context, tractID, ref string) (string, error) {
	if hash, err := h.Store.ResolveRef(ctx, tractID, ref); err == nil {
		return hash, nil
	}
	if _, err := h.Store.GetCommit(ctx, ref); err != nil {
		return "", fmt.Errorf("%w: %s", types.ErrUnknownRef, ref)
	}
	return ref, nil
}

// chronological orders commit hashes by their recorded timestamp, oldest
// first.
func (h *Handle) chronological(ctx context.Context, hashes []string) ([]string, error) {
	type stamped struct {
		hash string
		ts   int64
	}
	items := make([]stamped, 0, len(hashes))
	for _, hash := range hashes {
		c, err := h.Store.GetCommit(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("ops: get commit %s: %w", hash, err)
		}
		items = append(items, stamped{hash: hash, ts: c.Timestamp.UnixNano()})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].ts < items[j].ts })
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.hash
	}
	return out, nil
}
