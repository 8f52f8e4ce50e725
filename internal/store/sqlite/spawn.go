package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/WilliamJin123/tract-sub000/internal/types"
)

// CreateSpawnPointer persists a link from a spawned child tract back to the
// parent commit it branched off from.
func (s *Store) CreateSpawnPointer(ctx context.Context, sp types.SpawnPointer) error {
	_, err := s.ex.ExecContext(ctx, `
		INSERT INTO spawn_pointers(
			id, parent_tract, parent_commit, child_tract, inheritance_mode, purpose, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sp.ID, sp.ParentTract, nullIfEmpty(sp.ParentCommit), sp.ChildTract,
		string(sp.InheritanceMode), nullIfEmpty(sp.Purpose), sp.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite: create spawn pointer: %w", err)
	}
	return nil
}

func scanSpawnRows(rows *sql.Rows) ([]types.SpawnPointer, error) {
	defer rows.Close()
	var out []types.SpawnPointer
	for rows.Next() {
		var sp types.SpawnPointer
		var parentCommit, purpose sql.NullString
		var mode, tsRaw string
		if err := rows.Scan(&sp.ID, &sp.ParentTract, &parentCommit, &sp.ChildTract, &mode, &purpose, &tsRaw); err != nil {
			return nil, fmt.Errorf("sqlite: scan spawn pointer: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, tsRaw)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w: parse spawn pointer timestamp: %v", types.ErrCorruptHash, err)
		}
		sp.ParentCommit = parentCommit.String
		sp.InheritanceMode = types.InheritanceMode(mode)
		sp.Purpose = purpose.String
		sp.CreatedAt = ts
		out = append(out, sp)
	}
	return out, rows.Err()
}

// SpawnPointersForParent lists every child spawned from parentTract.
func (s *Store) SpawnPointersForParent(ctx context.Context, parentTract string) ([]types.SpawnPointer, error) {
	rows, err := s.ex.QueryContext(ctx, `
		SELECT id, parent_tract, parent_commit, child_tract, inheritance_mode, purpose, created_at
		FROM spawn_pointers WHERE parent_tract = ? ORDER BY created_at ASC
	`, parentTract)
	if err != nil {
		return nil, fmt.Errorf("sqlite: spawn pointers for parent: %w", err)
	}
	return scanSpawnRows(rows)
}

// SpawnPointersForChild lists the spawn pointer(s) recording where
// childTract came from.
func (s *Store) SpawnPointersForChild(ctx context.Context, childTract string) ([]types.SpawnPointer, error) {
	rows, err := s.ex.QueryContext(ctx, `
		SELECT id, parent_tract, parent_commit, child_tract, inheritance_mode, purpose, created_at
		FROM spawn_pointers WHERE child_tract = ? ORDER BY created_at ASC
	`, childTract)
	if err != nil {
		return nil, fmt.Errorf("sqlite: spawn pointers for child: %w", err)
	}
	return scanSpawnRows(rows)
}
