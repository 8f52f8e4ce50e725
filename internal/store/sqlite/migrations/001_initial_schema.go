// Package migrations holds the forward-only, numbered schema migration
// chain described in spec.md §6 ("Schema version is read on open; older
// versions run a monotonic migration chain"). Each file exports one
// Migrate<Description>(db *sql.DB) error (MigrateInitialSchema,
// MigratePinnedFastPathIndex), in files numbered after the teacher's
// internal/storage/sqlite/migrations/0NN_*.go convention, and is
// idempotent: it checks for existing tables/columns before creating them
// so re-running the chain on an already-current database is a no-op.
package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateInitialSchema creates every table from the persisted state layout
// in spec.md §6.
func MigrateInitialSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS blobs (
			content_hash TEXT PRIMARY KEY,
			payload      BLOB NOT NULL,
			byte_size    INTEGER NOT NULL,
			created_at   TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS commits (
			commit_hash        TEXT PRIMARY KEY,
			tract_id           TEXT NOT NULL,
			content_hash       TEXT NOT NULL REFERENCES blobs(content_hash),
			operation          TEXT NOT NULL,
			edit_target        TEXT,
			token_count        INTEGER NOT NULL,
			timestamp          TEXT NOT NULL,
			message            TEXT,
			generation_config  TEXT,
			usage              TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_commits_tract ON commits(tract_id)`,
		`CREATE TABLE IF NOT EXISTS parents (
			child_hash  TEXT NOT NULL,
			parent_hash TEXT NOT NULL,
			order_idx   INTEGER NOT NULL,
			PRIMARY KEY (child_hash, parent_hash)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_parents_child ON parents(child_hash, order_idx)`,
		`CREATE TABLE IF NOT EXISTS refs (
			tract_id        TEXT NOT NULL,
			name            TEXT NOT NULL,
			commit_hash     TEXT,
			symbolic_target TEXT,
			PRIMARY KEY (tract_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS annotations (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			tract_id    TEXT NOT NULL,
			target_hash TEXT NOT NULL,
			priority    TEXT NOT NULL,
			reason      TEXT,
			created_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_annotations_target ON annotations(tract_id, target_hash, id)`,
		`CREATE TABLE IF NOT EXISTS operation_events (
			event_id          TEXT PRIMARY KEY,
			tract_id          TEXT NOT NULL,
			event_type        TEXT NOT NULL,
			params_json       TEXT,
			original_tokens   INTEGER NOT NULL,
			compressed_tokens INTEGER NOT NULL,
			created_at        TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_original_tokens ON operation_events(original_tokens)`,
		`CREATE INDEX IF NOT EXISTS idx_events_compressed_tokens ON operation_events(compressed_tokens)`,
		`CREATE TABLE IF NOT EXISTS operation_commits (
			event_id    TEXT NOT NULL,
			commit_hash TEXT NOT NULL,
			role        TEXT NOT NULL,
			PRIMARY KEY (event_id, commit_hash, role)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_opcommits_hash ON operation_commits(commit_hash, role)`,
		`CREATE TABLE IF NOT EXISTS compile_records (
			record_id    TEXT PRIMARY KEY,
			tract_id     TEXT NOT NULL,
			head_hash    TEXT NOT NULL,
			branch_name  TEXT,
			token_count  INTEGER NOT NULL,
			created_at   TEXT NOT NULL,
			triggered_by TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS compile_effective (
			record_id          TEXT NOT NULL,
			position           INTEGER NOT NULL,
			commit_hash        TEXT NOT NULL,
			effective_priority TEXT NOT NULL,
			PRIMARY KEY (record_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS spawn_pointers (
			id               TEXT PRIMARY KEY,
			parent_tract     TEXT NOT NULL,
			parent_commit    TEXT,
			child_tract      TEXT NOT NULL,
			inheritance_mode TEXT NOT NULL,
			purpose          TEXT,
			created_at       TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_spawn_parent ON spawn_pointers(parent_tract)`,
		`CREATE INDEX IF NOT EXISTS idx_spawn_child ON spawn_pointers(child_tract)`,
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrations: initial schema: %w", err)
		}
	}
	return nil
}
