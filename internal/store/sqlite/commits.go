package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/WilliamJin123/tract-sub000/internal/idgen"
	"github.com/WilliamJin123/tract-sub000/internal/store"
	"github.com/WilliamJin123/tract-sub000/internal/types"
)

// CreateCommit computes the commit hash from in's fields plus tractID, and
// inserts the commit row plus its ordered parent edges. The hash doubles as
// the primary key, so re-creating an identical commit is a harmless no-op —
// the DAG is a content-addressed structure the same way blobs are.
func (s *Store) CreateCommit(ctx context.Context, tractID string, in store.CommitInput) (string, error) {
	hash, err := idgen.CommitHash(in.ContentHash, in.Parents, string(in.Operation), in.EditTarget, in.Timestamp, tractID)
	if err != nil {
		return "", fmt.Errorf("sqlite: compute commit hash: %w", err)
	}

	_, err = s.ex.ExecContext(ctx, `
		INSERT OR IGNORE INTO commits(
			commit_hash, tract_id, content_hash, operation, edit_target,
			token_count, timestamp, message, generation_config, usage
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, hash, tractID, in.ContentHash, string(in.Operation), nullIfEmpty(in.EditTarget),
		in.TokenCount, in.Timestamp.UTC().Format(time.RFC3339Nano), nullIfEmpty(in.Message),
		nullIfEmpty(in.GenerationConfig), nullIfEmpty(in.Usage))
	if err != nil {
		return "", fmt.Errorf("sqlite: insert commit: %w", err)
	}

	for i, parent := range in.Parents {
		_, err = s.ex.ExecContext(ctx, `
			INSERT OR IGNORE INTO parents(child_hash, parent_hash, order_idx) VALUES (?, ?, ?)
		`, hash, parent, i)
		if err != nil {
			return "", fmt.Errorf("sqlite: insert parent edge: %w", err)
		}
	}

	return hash, nil
}

// GetCommit reads one commit by hash.
func (s *Store) GetCommit(ctx context.Context, commitHash string) (*types.Commit, error) {
	var (
		c                                    types.Commit
		editTarget, message, genCfg, usage   sql.NullString
		tsRaw, op                            string
	)
	err := s.ex.QueryRowContext(ctx, `
		SELECT tract_id, content_hash, operation, edit_target, token_count,
		       timestamp, message, generation_config, usage
		FROM commits WHERE commit_hash = ?
	`, commitHash).Scan(&c.TractID, &c.ContentHash, &op, &editTarget, &c.TokenCount,
		&tsRaw, &message, &genCfg, &usage)
	switch {
	case err == sql.ErrNoRows:
		return nil, fmt.Errorf("sqlite: %w: %s", types.ErrInvalidCommitRef, commitHash)
	case err != nil:
		return nil, fmt.Errorf("sqlite: get commit: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, tsRaw)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w: parse commit timestamp: %v", types.ErrCorruptHash, err)
	}

	c.CommitHash = commitHash
	c.Operation = types.Operation(op)
	c.EditTarget = editTarget.String
	c.Timestamp = ts
	c.Message = message.String
	c.GenerationConfig = genCfg.String
	c.Usage = usage.String
	return &c, nil
}

// Parents returns the ordered parent edges of commitHash.
func (s *Store) Parents(ctx context.Context, commitHash string) ([]types.ParentEdge, error) {
	rows, err := s.ex.QueryContext(ctx, `
		SELECT parent_hash, order_idx FROM parents
		WHERE child_hash = ? ORDER BY order_idx ASC
	`, commitHash)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list parents: %w", err)
	}
	defer rows.Close()

	var out []types.ParentEdge
	for rows.Next() {
		var e types.ParentEdge
		if err := rows.Scan(&e.ParentHash, &e.Order); err != nil {
			return nil, fmt.Errorf("sqlite: scan parent edge: %w", err)
		}
		e.ChildHash = commitHash
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ancestors walks back from commitHash, first-parent only unless
// multiParent is set (in which case every parent is followed), collecting
// up to limit commit hashes in visited order. limit <= 0 means unbounded.
// The visited set guards against the DAG's merge commits revisiting a
// shared ancestor more than once.
func (s *Store) Ancestors(ctx context.Context, commitHash string, limit int, multiParent bool) ([]string, error) {
	visited := map[string]bool{}
	var order []string
	queue := []string{commitHash}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if cur != commitHash {
			order = append(order, cur)
			if limit > 0 && len(order) >= limit {
				break
			}
		}

		edges, err := s.Parents(ctx, cur)
		if err != nil {
			return nil, err
		}
		if !multiParent {
			if len(edges) > 0 {
				queue = append(queue, edges[0].ParentHash)
			}
			continue
		}
		for _, e := range edges {
			queue = append(queue, e.ParentHash)
		}
	}
	return order, nil
}

// HasAncestor reports whether y is reachable from x by walking parent
// edges (all parents, not just first-parent) — the general DAG reachability
// test used by merge-base and fast-forward detection.
func (s *Store) HasAncestor(ctx context.Context, x, y string) (bool, error) {
	if x == y {
		return true, nil
	}
	visited := map[string]bool{x: true}
	queue := []string{x}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		edges, err := s.Parents(ctx, cur)
		if err != nil {
			return false, err
		}
		for _, e := range edges {
			if e.ParentHash == y {
				return true, nil
			}
			if !visited[e.ParentHash] {
				visited[e.ParentHash] = true
				queue = append(queue, e.ParentHash)
			}
		}
	}
	return false, nil
}

// Between returns every commit reachable from `to` but not from `from`
// (all-parents reachability), in no particular order, plus whether `from`
// is itself an ancestor of `to` (a fast-forward is possible iff so).
func (s *Store) Between(ctx context.Context, from, to string) ([]string, bool, error) {
	fromAncestors := map[string]bool{}
	queue := []string{from}
	fromAncestors[from] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		edges, err := s.Parents(ctx, cur)
		if err != nil {
			return nil, false, err
		}
		for _, e := range edges {
			if !fromAncestors[e.ParentHash] {
				fromAncestors[e.ParentHash] = true
				queue = append(queue, e.ParentHash)
			}
		}
	}

	isFastForward := fromAncestors[to]

	visited := map[string]bool{}
	var out []string
	queue = []string{to}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] || fromAncestors[cur] {
			continue
		}
		visited[cur] = true
		out = append(out, cur)

		edges, err := s.Parents(ctx, cur)
		if err != nil {
			return nil, false, err
		}
		for _, e := range edges {
			if !visited[e.ParentHash] && !fromAncestors[e.ParentHash] {
				queue = append(queue, e.ParentHash)
			}
		}
	}
	return out, isFastForward, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
