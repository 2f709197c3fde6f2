// Package metastore persists the server's authoritative file, version,
// event, and chunk-session metadata (component-design.md §4.3) in a single
// SQLite database, mirroring the client local state store's migration and
// pragma conventions.
package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx, letting every query method
// in this package run unmodified against either a connection pool or a
// single transaction (RunInTransaction binds the latter).
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore is the concrete Store implementation backed by modernc.org/sqlite.
type SQLiteStore struct {
	db     *sql.DB
	exec   dbtx
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// Open opens (creating and migrating if necessary) the metadata database at
// dsn, a modernc.org/sqlite data source name (typically a file path).
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("metastore: opening database: %w", err)
	}

	// The server accepts concurrent requests from many clients; a single
	// writable connection avoids SQLITE_BUSY under WAL without a pool tuneup.
	db.SetMaxOpenConns(1)

	if err := setPragmas(ctx, db); err != nil {
		db.Close()

		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()

		return nil, err
	}

	return &SQLiteStore{db: db, exec: db, logger: logger}, nil
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("metastore: setting pragma %q: %w", p, err)
		}
	}

	return nil
}

// Close releases the underlying database handle. Only meaningful on the
// top-level Store returned by Open, not on a RunInTransaction-scoped Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RunInTransaction runs fn against a Store bound to a single SQLite
// transaction, committing on success and rolling back on error or panic.
// The reconciliation service relies on this for its atomic read-current-
// vector, decide, write-new-vector sequence (concurrency-model.md §5).
func (s *SQLiteStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metastore: beginning transaction: %w", err)
	}

	txStore := &SQLiteStore{db: s.db, exec: tx, logger: s.logger}

	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := fn(ctx, txStore); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("metastore: committing transaction: %w", err)
	}

	committed = true

	return nil
}
