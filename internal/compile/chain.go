package compile

import (
	"context"
	"fmt"
	"sort"

	"github.com/WilliamJin123/tract-sub000/internal/store"
	"github.com/WilliamJin123/tract-sub000/internal/types"
)

// collectChain walks from head via first-parent to the root, then splices
// in each merge commit's additional-parent ancestry as a bounded block
// immediately before the merge commit, per spec.md §4.D step 1.
func collectChain(ctx context.Context, s store.Storage, head string) ([]string, error) {
	mainline, err := firstParentChain(ctx, s, head)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(mainline))
	var chain []string

	for _, commitHash := range mainline {
		edges, err := s.Parents(ctx, commitHash)
		if err != nil {
			return nil, fmt.Errorf("compile: parents of %s: %w", commitHash, err)
		}
		if len(edges) > 1 {
			block, err := mergeExpansionBlock(ctx, s, edges, seen)
			if err != nil {
				return nil, err
			}
			chain = append(chain, block...)
			for _, h := range block {
				seen[h] = true
			}
		}
		if !seen[commitHash] {
			chain = append(chain, commitHash)
			seen[commitHash] = true
		}
	}
	return chain, nil
}

// firstParentChain returns commits from root to head, following only the
// order-0 parent edge at each step.
func firstParentChain(ctx context.Context, s store.Storage, head string) ([]string, error) {
	var reversed []string
	cur := head
	visited := map[string]bool{}
	for cur != "" {
		if visited[cur] {
			return nil, fmt.Errorf("compile: %w", types.ErrCycleDetected)
		}
		visited[cur] = true
		reversed = append(reversed, cur)

		edges, err := s.Parents(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("compile: parents of %s: %w", cur, err)
		}
		if len(edges) == 0 {
			break
		}
		cur = edges[0].ParentHash
	}

	chain := make([]string, len(reversed))
	for i, h := range reversed {
		chain[len(reversed)-1-i] = h
	}
	return chain, nil
}

// mergeExpansionBlock computes, for every non-mainline parent of a merge
// commit, the ordered ancestry back to its merge-base with the mainline
// parent (inclusive), filtered to commits not already in the chain.
func mergeExpansionBlock(ctx context.Context, s store.Storage, edges []types.ParentEdge, seen map[string]bool) ([]string, error) {
	mainlineParent := edges[0].ParentHash

	var block []string
	blockSeen := map[string]bool{}

	for _, e := range edges[1:] {
		base, err := MergeBase(ctx, s, mainlineParent, e.ParentHash)
		if err != nil {
			return nil, err
		}

		ancestry, err := ancestryUntil(ctx, s, e.ParentHash, base)
		if err != nil {
			return nil, err
		}

		ordered, err := chronological(ctx, s, ancestry)
		if err != nil {
			return nil, err
		}

		for _, h := range ordered {
			if seen[h] || blockSeen[h] {
				continue
			}
			block = append(block, h)
			blockSeen[h] = true
		}
	}
	return block, nil
}

// ancestryUntil collects commit (multi-parent ancestry) starting at start,
// walking backward through all parent edges, stopping expansion at (but
// including) base.
func ancestryUntil(ctx context.Context, s store.Storage, start, base string) ([]string, error) {
	visited := map[string]bool{}
	var out []string
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		out = append(out, cur)
		if cur == base {
			continue
		}
		edges, err := s.Parents(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("compile: parents of %s: %w", cur, err)
		}
		for _, e := range edges {
			if !visited[e.ParentHash] {
				queue = append(queue, e.ParentHash)
			}
		}
	}
	return out, nil
}

// chronological sorts commit hashes by their recorded timestamp, oldest
// first, so a spliced merge-expansion block reads in commit order rather
// than BFS-discovery order.
func chronological(ctx context.Context, s store.Storage, hashes []string) ([]string, error) {
	type stamped struct {
		hash string
		ts   int64
	}
	items := make([]stamped, 0, len(hashes))
	for _, h := range hashes {
		c, err := s.GetCommit(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("compile: get commit %s: %w", h, err)
		}
		items = append(items, stamped{hash: h, ts: c.Timestamp.UnixNano()})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].ts < items[j].ts })

	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.hash
	}
	return out, nil
}

// MergeBase finds the merge-base of target and source: target's first-
// parent walk intersected with source's full ancestry, per spec.md §4.E
// ("compute merge-base ... by first-parent walk intersected with full
// ancestry"). target is walked along its mainline since it is the side
// being merged into; source contributes its complete reachable history.
func MergeBase(ctx context.Context, s store.Storage, target, source string) (string, error) {
	sourceAncestry := map[string]bool{source: true}
	queue := []string{source}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		edges, err := s.Parents(ctx, cur)
		if err != nil {
			return "", fmt.Errorf("compile: merge-base ancestry of %s: %w", cur, err)
		}
		for _, e := range edges {
			if !sourceAncestry[e.ParentHash] {
				sourceAncestry[e.ParentHash] = true
				queue = append(queue, e.ParentHash)
			}
		}
	}

	cur := target
	visited := map[string]bool{}
	for cur != "" {
		if visited[cur] {
			return "", fmt.Errorf("compile: %w", types.ErrCycleDetected)
		}
		visited[cur] = true
		if sourceAncestry[cur] {
			return cur, nil
		}
		edges, err := s.Parents(ctx, cur)
		if err != nil {
			return "", fmt.Errorf("compile: parents of %s: %w", cur, err)
		}
		if len(edges) == 0 {
			break
		}
		cur = edges[0].ParentHash
	}
	return "", nil
}
