package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/WilliamJin123/tract-sub000/internal/types"
)

// RecordCompile persists a CompileRecord and the ordered, resolved-priority
// rows of commits that were actually sent to the model — the exact message
// sequence, not just the head it was computed from.
func (s *Store) RecordCompile(ctx context.Context, rec types.CompileRecord, rows []types.CompileEffectiveRow) error {
	_, err := s.ex.ExecContext(ctx, `
		INSERT INTO compile_records(
			record_id, tract_id, head_hash, branch_name, token_count, created_at, triggered_by
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.RecordID, rec.TractID, rec.HeadHash, nullIfEmpty(rec.BranchName),
		rec.TokenCount, rec.CreatedAt.UTC().Format(time.RFC3339Nano), nullIfEmpty(rec.TriggeredBy))
	if err != nil {
		return fmt.Errorf("sqlite: record compile: %w", err)
	}

	for _, r := range rows {
		_, err = s.ex.ExecContext(ctx, `
			INSERT INTO compile_effective(record_id, position, commit_hash, effective_priority)
			VALUES (?, ?, ?, ?)
		`, r.RecordID, r.Position, r.CommitHash, string(r.EffectivePriority))
		if err != nil {
			return fmt.Errorf("sqlite: record compile effective row: %w", err)
		}
	}
	return nil
}

// GetCompileRecord reads back a CompileRecord and its ordered effective
// rows by id.
func (s *Store) GetCompileRecord(ctx context.Context, recordID string) (*types.CompileRecord, []types.CompileEffectiveRow, error) {
	var rec types.CompileRecord
	var branch, triggeredBy sql.NullString
	var tsRaw string
	err := s.ex.QueryRowContext(ctx, `
		SELECT tract_id, head_hash, branch_name, token_count, created_at, triggered_by
		FROM compile_records WHERE record_id = ?
	`, recordID).Scan(&rec.TractID, &rec.HeadHash, &branch, &rec.TokenCount, &tsRaw, &triggeredBy)
	switch {
	case err == sql.ErrNoRows:
		return nil, nil, fmt.Errorf("sqlite: %w: compile record %s", types.ErrInvalidCommitRef, recordID)
	case err != nil:
		return nil, nil, fmt.Errorf("sqlite: get compile record: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, tsRaw)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: %w: parse compile record timestamp: %v", types.ErrCorruptHash, err)
	}
	rec.RecordID = recordID
	rec.BranchName = branch.String
	rec.CreatedAt = ts
	rec.TriggeredBy = triggeredBy.String

	rows, err := s.ex.QueryContext(ctx, `
		SELECT position, commit_hash, effective_priority FROM compile_effective
		WHERE record_id = ? ORDER BY position ASC
	`, recordID)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: list compile effective rows: %w", err)
	}
	defer rows.Close()

	var out []types.CompileEffectiveRow
	for rows.Next() {
		var r types.CompileEffectiveRow
		var priority string
		if err := rows.Scan(&r.Position, &r.CommitHash, &priority); err != nil {
			return nil, nil, fmt.Errorf("sqlite: scan compile effective row: %w", err)
		}
		r.RecordID = recordID
		r.EffectivePriority = types.Priority(priority)
		out = append(out, r)
	}
	return &rec, out, rows.Err()
}
