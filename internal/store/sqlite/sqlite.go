// Package sqlite is the default Storage backend: a single SQLite file per
// tract-store, opened with the pure-Go ncruces/go-sqlite3 driver (no cgo),
// following the teacher's internal/storage/ephemeral DSN and single-
// connection pool pattern. Callers use internal/store/factory to open one
// rather than importing this package directly.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/WilliamJin123/tract-sub000/internal/store"
	"github.com/WilliamJin123/tract-sub000/internal/store/factory"
)

func init() {
	factory.Register("sqlite", func(ctx context.Context, path string, opts factory.Options) (store.Storage, error) {
		return Open(ctx, path, opts.ReadOnly)
	})
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting every query
// method run unmodified whether or not it's inside WithTx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the sqlite-backed Storage implementation. One Store wraps one
// *sql.DB connection, matching the single-writer, single-threaded-per-
// handle model spec.md §5 requires. Outside WithTx every query goes
// through *sql.DB, which serializes concurrent callers on that one
// connection (gc's reachability walk reads through one Store from several
// goroutines); a Store bound to a transaction must not be shared across
// goroutines.
type Store struct {
	db  *sql.DB
	ex  execer // db itself, or the active *sql.Tx when inside WithTx
	tx  *sql.Tx
}

var _ store.Storage = (*Store)(nil)

// Open creates (if needed) and opens the sqlite file at path, running the
// migration chain before returning.
func Open(ctx context.Context, path string, readOnly bool) (*Store, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create store dir: %w", err)
		}
	}

	mode := "rwc"
	if readOnly {
		mode = "ro"
	}
	dsn := fmt.Sprintf("file:%s?_journal=WAL&_busy_timeout=5000&_foreign_keys=1&mode=%s", path, mode)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// SQLite has no useful concurrent-writer story; one connection per
	// store keeps every statement serialized against the same session,
	// mirroring the teacher's ephemeral store pool limits.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	if !readOnly {
		if err := runMigrations(db); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &Store{db: db, ex: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn against a Store bound to one transaction; a panic or
// error rolls the transaction back, per spec.md §4.E.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Storage) error) error {
	if s.tx != nil {
		// Already inside a transaction: sql.Tx doesn't support nested
		// BEGINs, so fn runs against the same Store inside a savepoint
		// that is rolled back if fn fails.
		if _, err := s.tx.ExecContext(ctx, "SAVEPOINT tract_nested"); err != nil {
			return fmt.Errorf("sqlite: savepoint: %w", err)
		}
		if err := fn(ctx, s); err != nil {
			_, _ = s.tx.ExecContext(ctx, "ROLLBACK TO tract_nested")
			_, _ = s.tx.ExecContext(ctx, "RELEASE tract_nested")
			return err
		}
		if _, err := s.tx.ExecContext(ctx, "RELEASE tract_nested"); err != nil {
			return fmt.Errorf("sqlite: release savepoint: %w", err)
		}
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}

	txStore := &Store{db: s.db, ex: tx, tx: tx}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(ctx, txStore); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	committed = true
	return nil
}
