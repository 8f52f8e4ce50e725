package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/WilliamJin123/tract-sub000/internal/types"
)

// RecordEvent persists an OperationEvent and the commit rows that played
// source/result/preserved roles in it. Called inside the same WithTx as the
// structural mutation it documents, so a crash never leaves a commit
// without its provenance record or vice versa.
func (s *Store) RecordEvent(ctx context.Context, ev types.OperationEvent, rows []types.EventCommitRow) error {
	_, err := s.ex.ExecContext(ctx, `
		INSERT INTO operation_events(
			event_id, tract_id, event_type, params_json,
			original_tokens, compressed_tokens, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.EventID, ev.TractID, string(ev.EventType), nullIfEmpty(ev.ParamsJSON),
		ev.OriginalTokens, ev.CompressedTokens, ev.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite: record event: %w", err)
	}

	for _, r := range rows {
		_, err = s.ex.ExecContext(ctx, `
			INSERT OR IGNORE INTO operation_commits(event_id, commit_hash, role) VALUES (?, ?, ?)
		`, r.EventID, r.CommitHash, string(r.Role))
		if err != nil {
			return fmt.Errorf("sqlite: record event commit row: %w", err)
		}
	}
	return nil
}

// SourcesOf returns every commit that played role "source" in an event
// whose "result" was resultCommit — the provenance question "what did this
// come from".
func (s *Store) SourcesOf(ctx context.Context, resultCommit string) ([]string, error) {
	rows, err := s.ex.QueryContext(ctx, `
		SELECT oc_src.commit_hash
		FROM operation_commits oc_result
		JOIN operation_commits oc_src
		  ON oc_src.event_id = oc_result.event_id AND oc_src.role = 'source'
		WHERE oc_result.commit_hash = ? AND oc_result.role = 'result'
	`, resultCommit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: sources of: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("sqlite: scan source: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ResultsOf returns every commit that played role "result" in an event
// whose "source" was sourceCommit — the provenance question "what did this
// become".
func (s *Store) ResultsOf(ctx context.Context, sourceCommit string) ([]string, error) {
	rows, err := s.ex.QueryContext(ctx, `
		SELECT oc_result.commit_hash
		FROM operation_commits oc_src
		JOIN operation_commits oc_result
		  ON oc_result.event_id = oc_src.event_id AND oc_result.role = 'result'
		WHERE oc_src.commit_hash = ? AND oc_src.role = 'source'
	`, sourceCommit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: results of: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("sqlite: scan result: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// EventsForCommit returns every OperationEvent commitHash played any role
// in, most recent first.
func (s *Store) EventsForCommit(ctx context.Context, commitHash string) ([]types.OperationEvent, error) {
	rows, err := s.ex.QueryContext(ctx, `
		SELECT e.event_id, e.tract_id, e.event_type, e.params_json,
		       e.original_tokens, e.compressed_tokens, e.created_at
		FROM operation_events e
		JOIN operation_commits oc ON oc.event_id = e.event_id
		WHERE oc.commit_hash = ?
		GROUP BY e.event_id
		ORDER BY e.created_at DESC
	`, commitHash)
	if err != nil {
		return nil, fmt.Errorf("sqlite: events for commit: %w", err)
	}
	defer rows.Close()

	var out []types.OperationEvent
	for rows.Next() {
		var ev types.OperationEvent
		var eventType string
		var params sql.NullString
		var tsRaw string
		if err := rows.Scan(&ev.EventID, &ev.TractID, &eventType, &params,
			&ev.OriginalTokens, &ev.CompressedTokens, &tsRaw); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, tsRaw)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w: parse event timestamp: %v", types.ErrCorruptHash, err)
		}
		ev.EventType = types.EventType(eventType)
		ev.ParamsJSON = params.String
		ev.CreatedAt = ts
		out = append(out, ev)
	}
	return out, rows.Err()
}
