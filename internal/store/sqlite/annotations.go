package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/WilliamJin123/tract-sub000/internal/types"
)

// Annotate appends a new priority overlay entry for target. History is
// append-only: nothing is ever updated or deleted, so PriorityOf always
// resolves to the most recently appended row (highest id). target must
// already be a commit in this tract — PINNED (or any other priority)
// cannot be set on a commit that doesn't exist, per spec.md §4.C.
func (s *Store) Annotate(ctx context.Context, tractID, target string, priority types.Priority, reason string) error {
	c, err := s.GetCommit(ctx, target)
	if err != nil || c.TractID != tractID {
		return fmt.Errorf("sqlite: annotate: %w: %s", types.ErrInvalidAnnotation, target)
	}
	_, err = s.ex.ExecContext(ctx, `
		INSERT INTO annotations(tract_id, target_hash, priority, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, tractID, target, string(priority), nullIfEmpty(reason), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite: annotate: %w", err)
	}
	return nil
}

// PriorityOf resolves target's effective priority: the most recent
// annotation, or DefaultPriority if none exists.
func (s *Store) PriorityOf(ctx context.Context, tractID, target string) (types.Priority, error) {
	var priority string
	err := s.ex.QueryRowContext(ctx, `
		SELECT priority FROM annotations
		WHERE tract_id = ? AND target_hash = ?
		ORDER BY id DESC LIMIT 1
	`, tractID, target).Scan(&priority)
	switch {
	case err == sql.ErrNoRows:
		return types.DefaultPriority(), nil
	case err != nil:
		return "", fmt.Errorf("sqlite: priority of: %w", err)
	}
	return types.Priority(priority), nil
}

// AnnotationGeneration returns the highest annotation row id written for
// tractID, or 0 if it has none yet.
func (s *Store) AnnotationGeneration(ctx context.Context, tractID string) (int64, error) {
	var id sql.NullInt64
	err := s.ex.QueryRowContext(ctx, `
		SELECT MAX(id) FROM annotations WHERE tract_id = ?
	`, tractID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sqlite: annotation generation: %w", err)
	}
	return id.Int64, nil
}

// AnnotationHistory returns every annotation ever applied to target, oldest
// first.
func (s *Store) AnnotationHistory(ctx context.Context, tractID, target string) ([]types.Annotation, error) {
	rows, err := s.ex.QueryContext(ctx, `
		SELECT id, priority, reason, created_at FROM annotations
		WHERE tract_id = ? AND target_hash = ?
		ORDER BY id ASC
	`, tractID, target)
	if err != nil {
		return nil, fmt.Errorf("sqlite: annotation history: %w", err)
	}
	defer rows.Close()

	var out []types.Annotation
	for rows.Next() {
		var a types.Annotation
		var reason sql.NullString
		var tsRaw string
		if err := rows.Scan(&a.ID, &a.Priority, &reason, &tsRaw); err != nil {
			return nil, fmt.Errorf("sqlite: scan annotation: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, tsRaw)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w: parse annotation timestamp: %v", types.ErrCorruptHash, err)
		}
		a.TractID = tractID
		a.Target = target
		a.Reason = reason.String
		a.CreatedAt = ts
		out = append(out, a)
	}
	return out, rows.Err()
}
