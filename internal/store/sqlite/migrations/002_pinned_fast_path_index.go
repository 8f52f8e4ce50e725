package migrations

import (
	"database/sql"
	"fmt"
)

// MigratePinnedFastPathIndex adds a partial index on annotations so
// priority_of's "most recent annotation per target" lookup and compress's
// PINNED partition don't require a full table scan as a tract's history
// grows. Grounded on the teacher's migrations/023_pinned_column.go, which
// adds a similar partial index for a pinned flag.
func MigratePinnedFastPathIndex(db *sql.DB) error {
	var exists bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0 FROM sqlite_master
		WHERE type = 'index' AND name = 'idx_annotations_pinned'
	`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("migrations: check pinned index: %w", err)
	}
	if exists {
		return nil
	}

	_, err = db.Exec(`
		CREATE INDEX idx_annotations_pinned
		ON annotations(tract_id, target_hash)
		WHERE priority = 'PINNED'
	`)
	if err != nil {
		return fmt.Errorf("migrations: create pinned index: %w", err)
	}
	return nil
}
