package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/WilliamJin123/tract-sub000/internal/types"
)

// SetRef points a named branch ref at commitHash, creating it if absent.
// Setting a ref never touches symbolic_target — HEAD's attach/detach state
// is tracked separately under the reserved name "HEAD".
func (s *Store) SetRef(ctx context.Context, tractID, name, commitHash string) error {
	_, err := s.ex.ExecContext(ctx, `
		INSERT INTO refs(tract_id, name, commit_hash, symbolic_target) VALUES (?, ?, ?, NULL)
		ON CONFLICT(tract_id, name) DO UPDATE SET commit_hash = excluded.commit_hash, symbolic_target = NULL
	`, tractID, name, commitHash)
	if err != nil {
		return fmt.Errorf("sqlite: set ref: %w", err)
	}
	return nil
}

// ResolveRef returns the commit hash name currently points at.
func (s *Store) ResolveRef(ctx context.Context, tractID, name string) (string, error) {
	var commitHash sql.NullString
	err := s.ex.QueryRowContext(ctx, `
		SELECT commit_hash FROM refs WHERE tract_id = ? AND name = ?
	`, tractID, name).Scan(&commitHash)
	switch {
	case err == sql.ErrNoRows:
		return "", fmt.Errorf("sqlite: %w: %s", types.ErrUnknownRef, name)
	case err != nil:
		return "", fmt.Errorf("sqlite: resolve ref: %w", err)
	}
	if !commitHash.Valid {
		return "", fmt.Errorf("sqlite: %w: %s has no commit", types.ErrUnknownRef, name)
	}
	return commitHash.String, nil
}

// ListRefs returns every named branch ref (not HEAD) in a tract.
func (s *Store) ListRefs(ctx context.Context, tractID string) (map[string]string, error) {
	rows, err := s.ex.QueryContext(ctx, `
		SELECT name, commit_hash FROM refs WHERE tract_id = ? AND name != 'HEAD' AND commit_hash IS NOT NULL
	`, tractID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list refs: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var name, hash string
		if err := rows.Scan(&name, &hash); err != nil {
			return nil, fmt.Errorf("sqlite: scan ref: %w", err)
		}
		out[name] = hash
	}
	return out, rows.Err()
}

// DeleteRef removes a named branch ref.
func (s *Store) DeleteRef(ctx context.Context, tractID, name string) error {
	_, err := s.ex.ExecContext(ctx, `DELETE FROM refs WHERE tract_id = ? AND name = ?`, tractID, name)
	if err != nil {
		return fmt.Errorf("sqlite: delete ref: %w", err)
	}
	return nil
}

// Head reads the symbolic HEAD row. A tract with no HEAD row yet (freshly
// created, before its first commit) reports attached to "main" — the
// default branch every tract starts on.
func (s *Store) Head(ctx context.Context, tractID string) (types.HeadState, error) {
	var commitHash, symbolicTarget sql.NullString
	err := s.ex.QueryRowContext(ctx, `
		SELECT commit_hash, symbolic_target FROM refs WHERE tract_id = ? AND name = 'HEAD'
	`, tractID).Scan(&commitHash, &symbolicTarget)
	switch {
	case err == sql.ErrNoRows:
		return types.HeadState{Attached: true, Branch: "main"}, nil
	case err != nil:
		return types.HeadState{}, fmt.Errorf("sqlite: read head: %w", err)
	}

	if symbolicTarget.Valid {
		return types.HeadState{Attached: true, Branch: symbolicTarget.String}, nil
	}
	return types.HeadState{Attached: false, Commit: commitHash.String}, nil
}

// Attach points HEAD at branch symbolically, the state switch leaves a
// tract in (checkout uses Detach instead).
func (s *Store) Attach(ctx context.Context, tractID, branch string) error {
	_, err := s.ex.ExecContext(ctx, `
		INSERT INTO refs(tract_id, name, commit_hash, symbolic_target) VALUES (?, 'HEAD', NULL, ?)
		ON CONFLICT(tract_id, name) DO UPDATE SET commit_hash = NULL, symbolic_target = excluded.symbolic_target
	`, tractID, branch)
	if err != nil {
		return fmt.Errorf("sqlite: attach head: %w", err)
	}
	return nil
}

// Detach points HEAD directly at commitHash, the state checkout of a raw
// commit (not a branch name) leaves a tract in.
func (s *Store) Detach(ctx context.Context, tractID, commitHash string) error {
	_, err := s.ex.ExecContext(ctx, `
		INSERT INTO refs(tract_id, name, commit_hash, symbolic_target) VALUES (?, 'HEAD', ?, NULL)
		ON CONFLICT(tract_id, name) DO UPDATE SET commit_hash = excluded.commit_hash, symbolic_target = NULL
	`, tractID, commitHash)
	if err != nil {
		return fmt.Errorf("sqlite: detach head: %w", err)
	}
	return nil
}
