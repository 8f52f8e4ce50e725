package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/WilliamJin123/tract-sub000/internal/store/sqlite/migrations"
	"github.com/WilliamJin123/tract-sub000/internal/types"
)

// currentSchemaVersion is the number of migrations below. Bump it (and add
// a new migrations/NNN_*.go entry below) whenever the schema changes;
// migrations never run out of order and never run backward.
const currentSchemaVersion = 2

// migrationChain runs in order, v1 -> v2 -> ... -> currentSchemaVersion,
// each step idempotent. A store opened against a newer schema version than
// this binary knows about is refused as corruption (see Open).
var migrationChain = []func(db *sql.DB) error{
	1: migrations.MigrateInitialSchema,
	2: migrations.MigratePinnedFastPathIndex,
}

// runMigrations reads the stored schema version from meta (defaulting to 0
// for a brand-new database file) and applies every migration above it in
// order. The migration steps run directly against db, outside the
// transaction; only the schema_version update is transactional. A failed
// step therefore leaves the tables and indexes of earlier steps in place
// while schema_version keeps its old value, and the next open re-runs the
// chain (every step is idempotent).
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		return fmt.Errorf("sqlite: bootstrap meta table: %w", err)
	}

	version := 0
	row := db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`)
	var raw string
	switch err := row.Scan(&raw); err {
	case nil:
		if _, err := fmt.Sscanf(raw, "%d", &version); err != nil {
			return fmt.Errorf("sqlite: %w: unparsable schema_version %q", types.ErrSchemaUnrecognized, raw)
		}
	case sql.ErrNoRows:
		version = 0
	default:
		return fmt.Errorf("sqlite: read schema_version: %w", err)
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("sqlite: %w: store is at version %d, binary knows up to %d", types.ErrSchemaUnrecognized, version, currentSchemaVersion)
	}

	if version == currentSchemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite: begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for v := version + 1; v <= currentSchemaVersion; v++ {
		step, ok := migrationChain[v]
		if !ok || step == nil {
			return fmt.Errorf("sqlite: %w: no migration registered for version %d", types.ErrMigrationBroken, v)
		}
		// Migrations run against *sql.DB directly (they use their own
		// ALTER/CREATE statements, some of which SQLite disallows inside
		// certain transaction states); schema_version is advanced, inside
		// this tx, only once every step has succeeded.
		if err := step(db); err != nil {
			return fmt.Errorf("sqlite: migration v%d: %w", v, err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO meta(key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, fmt.Sprintf("%d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("sqlite: record schema_version: %w", err)
	}

	return tx.Commit()
}
