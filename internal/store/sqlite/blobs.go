package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/WilliamJin123/tract-sub000/internal/idgen"
)

// PutBlob stores payload content-addressed by its canonical hash. Writing
// the same payload twice is a no-op beyond the INSERT OR IGNORE, matching
// spec.md §4.A's "blobs are immutable and deduplicated by content hash".
func (s *Store) PutBlob(ctx context.Context, payload []byte) (string, error) {
	hash := idgen.HashBytes(payload)
	_, err := s.ex.ExecContext(ctx, `
		INSERT OR IGNORE INTO blobs(content_hash, payload, byte_size, created_at)
		VALUES (?, ?, ?, ?)
	`, hash, payload, len(payload), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("sqlite: put blob: %w", err)
	}
	return hash, nil
}

// GetBlob reads a blob by content hash.
func (s *Store) GetBlob(ctx context.Context, contentHash string) ([]byte, bool, error) {
	var payload []byte
	err := s.ex.QueryRowContext(ctx, `SELECT payload FROM blobs WHERE content_hash = ?`, contentHash).Scan(&payload)
	switch {
	case err == sql.ErrNoRows:
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("sqlite: get blob: %w", err)
	}
	return payload, true, nil
}

// BlobRefCount counts commits still referencing contentHash, used by gc to
// decide whether a blob is safe to delete.
func (s *Store) BlobRefCount(ctx context.Context, contentHash string) (int, error) {
	var n int
	err := s.ex.QueryRowContext(ctx, `SELECT COUNT(*) FROM commits WHERE content_hash = ?`, contentHash).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: blob ref count: %w", err)
	}
	return n, nil
}

// DeleteBlob removes a blob row. Callers must have already verified
// BlobRefCount is zero.
func (s *Store) DeleteBlob(ctx context.Context, contentHash string) error {
	_, err := s.ex.ExecContext(ctx, `DELETE FROM blobs WHERE content_hash = ?`, contentHash)
	if err != nil {
		return fmt.Errorf("sqlite: delete blob: %w", err)
	}
	return nil
}
