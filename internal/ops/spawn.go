package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/WilliamJin123/tract-sub000/internal/compile"
	"github.com/WilliamJin123/tract-sub000/internal/llm"
	"github.com/WilliamJin123/tract-sub000/internal/store"
	"github.com/WilliamJin123/tract-sub000/internal/types"
)

const defaultCollapseSystemPrompt = "Summarize the following child context into a passage suitable for folding back into its parent."

// CurationPipeline describes the fixed-order curation a branch-mode spawn
// may apply to the commits it carries over, per spec.md §4.E's
// keep_tags -> drop -> compact_before -> reorder pipeline.
type CurationPipeline struct {
	// KeepTags, if non-empty, drops every commit whose rendered role is
	// not in this set.
	KeepTags []string
	// Drop names commit hashes to remove outright, applied after KeepTags.
	Drop []string
	// CompactBefore, if set, replaces every surviving commit strictly
	// earlier than it with one concatenated commit.
	CompactBefore string
	// Reorder, if non-empty, is the final explicit commit order; commits
	// not named are appended afterward in their prior relative order.
	Reorder []string
}

// SpawnArgs is the input to Spawn.
type SpawnArgs struct {
	ParentTractID string
	ParentCommit  string // defaults to the parent's current HEAD commit
	ChildTractID  string // generated if empty
	Mode          types.InheritanceMode
	Purpose       string
	// Branch names the child's branch when Mode == InheritBranch; defaults
	// to "main".
	Branch   string
	Curation CurationPipeline // consulted only when Mode == InheritBranch
}

// SpawnResult reports the new child tract and its root/head commit.
type SpawnResult struct {
	ChildTractID string
	RootCommit   string
}

// commitSeed is a read-only description of one commit Spawn will write.
// oldHash, when set, is the original parent-tract commit this seed was
// cloned from, used to remap EditTarget references as new hashes are
// minted; seeds with no oldHash (head snapshots, compacted blocks) carry
// no edit target of their own.
type commitSeed struct {
	oldHash       string
	contentHash   string
	operation     types.Operation
	editTargetOld string
	tokenCount    int
	message       string
}

// Spawn creates a child tract linked to a parent commit, per spec.md
// §4.E. Tracts share one Storage, so spawning never opens a second store:
// it only writes rows scoped under a fresh tract_id.
//
// All reads (compiling the parent snapshot, walking ancestry, curating)
// happen before the write transaction opens: the store's single
// connection means a read issued through the non-transactional Storage
// while a transaction is in flight on the same connection would block
// until that transaction ends, so nothing here calls h.Store or
// h.Compile from inside the WithTx closure below.
func (h *Handle) Spawn(ctx context.Context, args SpawnArgs) (SpawnResult, error) {
	parentCommit := args.ParentCommit
	if parentCommit == "" {
		resolved, err := h.resolveHeadCommit(ctx, args.ParentTractID)
		if err != nil {
			return SpawnResult{}, fmt.Errorf("ops: spawn: %w", err)
		}
		parentCommit = resolved
	}
	childTractID := args.ChildTractID
	if childTractID == "" {
		childTractID = uuid.NewString()
	}
	if err := h.checkSpawnCycle(ctx, args.ParentTractID, childTractID); err != nil {
		return SpawnResult{}, fmt.Errorf("ops: spawn: %w", err)
	}

	branch := args.Branch
	if branch == "" {
		branch = "main"
	}

	var seeds []commitSeed
	var err error
	switch args.Mode {
	case types.InheritHeadSnapshot:
		seeds, err = h.prepHeadSnapshot(ctx, args.ParentTractID, parentCommit)
	case types.InheritFullClone:
		seeds, err = h.prepFullClone(ctx, parentCommit)
	case types.InheritBranch:
		seeds, err = h.prepBranch(ctx, parentCommit, args.Curation)
	default:
		return SpawnResult{}, fmt.Errorf("ops: spawn: unknown inheritance mode %q", args.Mode)
	}
	if err != nil {
		return SpawnResult{}, fmt.Errorf("ops: spawn: %w", err)
	}
	if len(seeds) == 0 {
		return SpawnResult{}, fmt.Errorf("ops: spawn: curation left no commits to branch from")
	}

	var root string
	err = h.Store.WithTx(ctx, func(ctx context.Context, tx store.Storage) error {
		var err error
		root, err = h.materializeSpawn(ctx, tx, childTractID, branch, seeds)
		if err != nil {
			return err
		}
		return tx.CreateSpawnPointer(ctx, types.SpawnPointer{
			ID:              uuid.NewString(),
			ParentTract:     args.ParentTractID,
			ParentCommit:    parentCommit,
			ChildTract:      childTractID,
			InheritanceMode: args.Mode,
			Purpose:         args.Purpose,
			CreatedAt:       nowUTC(),
		})
	})
	if err != nil {
		return SpawnResult{}, err
	}

	return SpawnResult{ChildTractID: childTractID, RootCommit: root}, nil
}

// prepHeadSnapshot builds the single seed for a head_snapshot spawn: the
// parent's compiled text at parentCommit, as one opaque blob.
func (h *Handle) prepHeadSnapshot(ctx context.Context, parentTractID, parentCommit string) ([]commitSeed, error) {
	cc, err := h.Compile.Compile(ctx, compile.Request{TractID: parentTractID, Head: parentCommit})
	if err != nil {
		return nil, fmt.Errorf("compile parent snapshot: %w", err)
	}
	text := joinMessages(cc.Messages)
	contentHash, err := h.putTextBlob(ctx, text)
	if err != nil {
		return nil, err
	}
	return []commitSeed{{
		contentHash: contentHash,
		operation:   types.OpAppend,
		tokenCount:  h.Tok.Count(text),
		message:     "spawn: head snapshot",
	}}, nil
}

// prepFullClone builds one seed per commit on parentCommit's first-parent
// chain, oldest first, preserving operation and edit_target for remapping.
// Commits reachable only through a merge's non-first parents are not cloned.
func (h *Handle) prepFullClone(ctx context.Context, parentCommit string) ([]commitSeed, error) {
	ordered, err := h.chronologicalAncestry(ctx, parentCommit)
	if err != nil {
		return nil, err
	}
	seeds := make([]commitSeed, 0, len(ordered))
	for _, oldHash := range ordered {
		c, err := h.Store.GetCommit(ctx, oldHash)
		if err != nil {
			return nil, fmt.Errorf("get commit %s: %w", oldHash, err)
		}
		seeds = append(seeds, commitSeed{
			oldHash:       oldHash,
			contentHash:   c.ContentHash,
			operation:     c.Operation,
			editTargetOld: c.EditTarget,
			tokenCount:    c.TokenCount,
			message:       c.Message,
		})
	}
	return seeds, nil
}

// prepBranch builds curated seeds for a branch spawn; curated commits
// become plain APPENDs (the curation pipeline already resolved any edit
// overrides into final content, so edit_target has no meaning here).
func (h *Handle) prepBranch(ctx context.Context, parentCommit string, curation CurationPipeline) ([]commitSeed, error) {
	ordered, err := h.chronologicalAncestry(ctx, parentCommit)
	if err != nil {
		return nil, err
	}
	curated, synthetic, err := h.curate(ctx, ordered, curation)
	if err != nil {
		return nil, fmt.Errorf("curate: %w", err)
	}
	seeds := make([]commitSeed, 0, len(curated))
	for _, item := range curated {
		contentHash, tokenCount, message, err := h.resolveCurated(ctx, item, synthetic)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, commitSeed{
			contentHash: contentHash,
			operation:   types.OpAppend,
			tokenCount:  tokenCount,
			message:     message,
		})
	}
	return seeds, nil
}

// chronologicalAncestry returns head's first-parent ancestry oldest-first,
// head itself last; merges' other parents are not followed.
func (h *Handle) chronologicalAncestry(ctx context.Context, head string) ([]string, error) {
	chain, err := h.Store.Ancestors(ctx, head, 0, false)
	if err != nil {
		return nil, fmt.Errorf("ancestors of %s: %w", head, err)
	}
	ordered := append([]string{}, chain...)
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}
	return append(ordered, head), nil
}

// materializeSpawn writes seeds as a linear chain of new commits in
// childTractID, remapping EditTarget references by oldHash as it goes,
// then points branch at the result.
func (h *Handle) materializeSpawn(ctx context.Context, tx store.Storage, childTractID, branch string, seeds []commitSeed) (string, error) {
	mapping := map[string]string{}
	var head string
	for _, seed := range seeds {
		editTarget := seed.editTargetOld
		if editTarget != "" {
			if mapped, ok := mapping[editTarget]; ok {
				editTarget = mapped
			}
			// else: target predates this ancestry walk; left pointing at
			// the original (cross-tract) commit.
		}
		var parents []string
		if head != "" {
			parents = []string{head}
		}
		newHash, err := tx.CreateCommit(ctx, childTractID, store.CommitInput{
			ContentHash: seed.contentHash,
			Parents:     parents,
			Operation:   seed.operation,
			EditTarget:  editTarget,
			TokenCount:  seed.tokenCount,
			Timestamp:   nowUTC(),
			Message:     seed.message,
		})
		if err != nil {
			return "", fmt.Errorf("create spawned commit: %w", err)
		}
		if seed.oldHash != "" {
			mapping[seed.oldHash] = newHash
		}
		head = newHash
	}
	if err := tx.SetRef(ctx, childTractID, branch, head); err != nil {
		return "", err
	}
	if err := tx.Attach(ctx, childTractID, branch); err != nil {
		return "", err
	}
	return head, nil
}

// curatedSynthetic is a compacted block produced by CompactBefore: it has
// no corresponding original commit, so its content is carried alongside
// the curated list under a synthetic key instead.
type curatedSynthetic struct {
	contentHash string
	tokenCount  int
	message     string
}

// curate applies keep_tags -> drop -> compact_before -> reorder, in that
// fixed order, to a chronological commit list. The returned list holds
// original commit hashes, except for any compacted block, which is
// represented by a key into the returned synthetic map. Read-only: safe
// to call before a write transaction opens, never inside one.
func (h *Handle) curate(ctx context.Context, chain []string, c CurationPipeline) ([]string, map[string]curatedSynthetic, error) {
	out := chain
	synthetic := map[string]curatedSynthetic{}

	if len(c.KeepTags) > 0 {
		keep := map[string]bool{}
		for _, t := range c.KeepTags {
			keep[t] = true
		}
		var filtered []string
		for _, hash := range out {
			commit, err := h.Store.GetCommit(ctx, hash)
			if err != nil {
				return nil, nil, err
			}
			raw, found, err := h.Store.GetBlob(ctx, commit.ContentHash)
			if err != nil {
				return nil, nil, err
			}
			if !found {
				continue
			}
			var p types.Payload
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, nil, err
			}
			role, _, emits, err := compile.RoleAndText(p)
			if err != nil {
				return nil, nil, err
			}
			if emits && keep[role] {
				filtered = append(filtered, hash)
			}
		}
		out = filtered
	}

	if len(c.Drop) > 0 {
		drop := map[string]bool{}
		for _, d := range c.Drop {
			drop[d] = true
		}
		var filtered []string
		for _, hash := range out {
			if !drop[hash] {
				filtered = append(filtered, hash)
			}
		}
		out = filtered
	}

	if c.CompactBefore != "" {
		idx := -1
		for i, hash := range out {
			if hash == c.CompactBefore {
				idx = i
				break
			}
		}
		if idx > 0 {
			var sb strings.Builder
			var tokens int
			for _, hash := range out[:idx] {
				text, err := h.renderedTextOf(ctx, hash)
				if err != nil {
					return nil, nil, err
				}
				sb.WriteString(text)
				sb.WriteString("\n")
				commit, err := h.Store.GetCommit(ctx, hash)
				if err != nil {
					return nil, nil, err
				}
				tokens += commit.TokenCount
			}
			contentHash, err := h.putTextBlob(ctx, sb.String())
			if err != nil {
				return nil, nil, err
			}
			key := "synthetic:" + contentHash
			synthetic[key] = curatedSynthetic{
				contentHash: contentHash,
				tokenCount:  tokens,
				message:     fmt.Sprintf("spawn: compacted %d commit(s)", idx),
			}
			out = append([]string{key}, out[idx:]...)
		}
	}

	if len(c.Reorder) > 0 {
		pos := map[string]int{}
		for i, hash := range c.Reorder {
			pos[hash] = i
		}
		named := make([]string, 0, len(c.Reorder))
		var rest []string
		for _, hash := range out {
			if _, ok := pos[hash]; ok {
				named = append(named, hash)
			} else {
				rest = append(rest, hash)
			}
		}
		sortByPos(named, pos)
		out = append(named, rest...)
	}

	return out, synthetic, nil
}

// resolveCurated maps one entry of curate's output list back to
// committable content: either the original commit or a synthetic
// compacted block.
func (h *Handle) resolveCurated(ctx context.Context, item string, synthetic map[string]curatedSynthetic) (contentHash string, tokenCount int, message string, err error) {
	if s, ok := synthetic[item]; ok {
		return s.contentHash, s.tokenCount, s.message, nil
	}
	c, err := h.Store.GetCommit(ctx, item)
	if err != nil {
		return "", 0, "", fmt.Errorf("get commit %s: %w", item, err)
	}
	return c.ContentHash, c.TokenCount, c.Message, nil
}

func sortByPos(hashes []string, pos map[string]int) {
	for i := 1; i < len(hashes); i++ {
		for j := i; j > 0 && pos[hashes[j-1]] > pos[hashes[j]]; j-- {
			hashes[j-1], hashes[j] = hashes[j], hashes[j-1]
		}
	}
}

func joinMessages(messages []types.Message) string {
	var sb strings.Builder
	for i, m := range messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.Content)
	}
	return sb.String()
}

// CollapseArgs is the input to Collapse.
type CollapseArgs struct {
	ParentTractID string
	ChildTractID  string
	Instructions  string
	LLMConfig     types.LLMConfig
}

// Collapse generates a summary commit in the parent tract from the
// child's full compiled context, per spec.md §4.E, and records the
// parent<->child linkage via a spawn pointer (purpose "collapse"). The
// child compile and LLM call both happen before the write transaction,
// for the same single-connection reason Spawn does.
func (h *Handle) Collapse(ctx context.Context, args CollapseArgs) (types.Commit, error) {
	if h.Resolver == nil {
		return types.Commit{}, fmt.Errorf("ops: collapse: %w: no resolver configured", types.ErrResolverRefused)
	}

	cc, err := h.Compile.Compile(ctx, compile.Request{TractID: args.ChildTractID})
	if err != nil {
		return types.Commit{}, fmt.Errorf("ops: collapse: compile child: %w", err)
	}
	text := joinMessages(cc.Messages)

	systemPrompt := defaultCollapseSystemPrompt
	if args.Instructions != "" {
		systemPrompt += " " + args.Instructions
	}
	cfg := resolveLLMConfig(types.LLMConfig{}, h.Configs.Collapse, args.LLMConfig)
	resp, err := h.Resolver.Chat(ctx, []llm.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: text},
	}, cfg)
	if err != nil {
		return types.Commit{}, fmt.Errorf("ops: collapse: %w", err)
	}

	parentHead, err := h.resolveHeadCommit(ctx, args.ParentTractID)
	if err != nil {
		return types.Commit{}, fmt.Errorf("ops: collapse: %w", err)
	}
	head, err := h.Store.Head(ctx, args.ParentTractID)
	if err != nil {
		return types.Commit{}, fmt.Errorf("ops: collapse: %w", err)
	}
	if !head.Attached {
		return types.Commit{}, fmt.Errorf("ops: collapse: %w", types.ErrDetachedHead)
	}

	var out types.Commit
	err = h.Store.WithTx(ctx, func(ctx context.Context, tx store.Storage) error {
		data, err := json.Marshal(types.Payload{Kind: types.KindOpaque, Text: resp.Text})
		if err != nil {
			return fmt.Errorf("marshal collapse summary: %w", err)
		}
		contentHash, err := tx.PutBlob(ctx, data)
		if err != nil {
			return fmt.Errorf("put collapse blob: %w", err)
		}
		commitHash, err := tx.CreateCommit(ctx, args.ParentTractID, store.CommitInput{
			ContentHash: contentHash,
			Parents:     []string{parentHead},
			Operation:   types.OpAppend,
			TokenCount:  h.Tok.Count(resp.Text),
			Timestamp:   nowUTC(),
			Message:     fmt.Sprintf("collapse: fold in tract %s", args.ChildTractID),
		})
		if err != nil {
			return fmt.Errorf("create collapse commit: %w", err)
		}
		if err := tx.SetRef(ctx, args.ParentTractID, head.Branch, commitHash); err != nil {
			return fmt.Errorf("advance branch: %w", err)
		}
		if err := tx.CreateSpawnPointer(ctx, types.SpawnPointer{
			ID:              uuid.NewString(),
			ParentTract:     args.ParentTractID,
			ParentCommit:    commitHash,
			ChildTract:      args.ChildTractID,
			InheritanceMode: types.InheritHeadSnapshot,
			Purpose:         "collapse",
			CreatedAt:       nowUTC(),
		}); err != nil {
			return fmt.Errorf("record collapse linkage: %w", err)
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

	h.Compile.Invalidate(args.ParentTractID, parentHead)
	return out, nil
}

// checkSpawnCycle walks the spawn graph upward from parentTractID (who
// spawned it, and who spawned that, and so on) and fails if childTractID
// appears anywhere in that ancestry, or if they're the same tract.
func (h *Handle) checkSpawnCycle(ctx context.Context, parentTractID, childTractID string) error {
	if parentTractID == childTractID {
		return types.ErrCycleDetected
	}
	visited := map[string]bool{parentTractID: true}
	cursor := parentTractID
	for {
		pointers, err := h.Store.SpawnPointersForChild(ctx, cursor)
		if err != nil {
			return err
		}
		if len(pointers) == 0 {
			return nil
		}
		next := pointers[0].ParentTract
		if next == childTractID {
			return types.ErrCycleDetected
		}
		if visited[next] {
			return nil
		}
		visited[next] = true
		cursor = next
	}
}
