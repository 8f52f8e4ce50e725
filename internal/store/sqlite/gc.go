package sqlite

import (
	"context"
	"fmt"
)

// ListTracts enumerates every tract_id that owns at least one commit or
// ref, including tracts whose only activity so far is an implicit HEAD row.
func (s *Store) ListTracts(ctx context.Context) ([]string, error) {
	rows, err := s.ex.QueryContext(ctx, `
		SELECT tract_id FROM commits
		UNION
		SELECT tract_id FROM refs
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tracts: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("sqlite: scan tract id: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AllCommits lists every commit hash belonging to a tract, regardless of
// reachability — the full candidate set gc reasons over.
func (s *Store) AllCommits(ctx context.Context, tractID string) ([]string, error) {
	rows, err := s.ex.QueryContext(ctx, `SELECT commit_hash FROM commits WHERE tract_id = ?`, tractID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: all commits: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("sqlite: scan commit hash: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// AllRefCommits returns the commit every named ref (including HEAD, when
// detached) currently points at — gc's reachability roots before spawn
// pointers are added in.
func (s *Store) AllRefCommits(ctx context.Context, tractID string) ([]string, error) {
	rows, err := s.ex.QueryContext(ctx, `
		SELECT commit_hash FROM refs WHERE tract_id = ? AND commit_hash IS NOT NULL
	`, tractID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: all ref commits: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("sqlite: scan ref commit: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ArchivedCommits returns the set of commits referenced by any of the
// tract's operation events (compress, reorganize or import; source, result
// or preserved role) — the commits gc protects even when unreachable,
// unless the caller lowers archive retention.
func (s *Store) ArchivedCommits(ctx context.Context, tractID string) (map[string]bool, error) {
	rows, err := s.ex.QueryContext(ctx, `
		SELECT DISTINCT oc.commit_hash
		FROM operation_commits oc
		JOIN operation_events e ON e.event_id = oc.event_id
		WHERE e.tract_id = ?
	`, tractID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: archived commits: %w", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("sqlite: scan archived commit: %w", err)
		}
		out[h] = true
	}
	return out, rows.Err()
}

// DeleteCommit removes a commit row and its parent edges. Callers must have
// already verified the commit is unreachable from every root.
func (s *Store) DeleteCommit(ctx context.Context, commitHash string) error {
	if _, err := s.ex.ExecContext(ctx, `DELETE FROM parents WHERE child_hash = ? OR parent_hash = ?`, commitHash, commitHash); err != nil {
		return fmt.Errorf("sqlite: delete commit parent edges: %w", err)
	}
	if _, err := s.ex.ExecContext(ctx, `DELETE FROM commits WHERE commit_hash = ?`, commitHash); err != nil {
		return fmt.Errorf("sqlite: delete commit: %w", err)
	}
	return nil
}
