// Package sqlite is a thin wrapper around database/sql for the
// mattn/go-sqlite3 driver, applying the PRAGMAs a single-writer index
// store needs before the connection is handed back.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Options configures the PRAGMAs and connection pool applied on Open.
type Options struct {
	// JournalMode selects the journal mode; empty defaults to WAL.
	JournalMode string
	// Synchronous selects the fsync level; empty defaults to NORMAL.
	Synchronous string
	// BusyTimeout bounds how long a write waits before SQLITE_BUSY; 0 defaults to 5s.
	BusyTimeout time.Duration
	// ForeignKeys toggles foreign-key enforcement; nil defaults to on.
	ForeignKeys *bool
	// CacheSize sets the page cache size (negative values are KiB); 0 leaves the driver default.
	CacheSize int
	// MaxOpenConns, MaxIdleConns, ConnMaxLifetime tune the pool; zero values leave the driver default.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Database wraps *sql.DB. It knows nothing about the schema stored on
// top of it.
type Database struct {
	db *sql.DB
}

// Open connects to the sqlite file at path and applies opts' PRAGMAs.
func Open(path string, opts Options) (*Database, error) {
	if path == "" {
		return nil, errors.New("sqlite: empty path")
	}

	journal := opts.JournalMode
	if journal == "" {
		journal = "WAL"
	}
	syncMode := opts.Synchronous
	if syncMode == "" {
		syncMode = "NORMAL"
	}
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pragmas := []string{
		fmt.Sprintf("PRAGMA journal_mode=%s", journal),
		fmt.Sprintf("PRAGMA synchronous=%s", syncMode),
		fmt.Sprintf("PRAGMA busy_timeout=%d", busy.Milliseconds()),
	}

	if opts.ForeignKeys != nil && !*opts.ForeignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys=OFF")
	} else {
		pragmas = append(pragmas, "PRAGMA foreign_keys=ON")
	}

	if opts.CacheSize != 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA cache_size=%d", opts.CacheSize))
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: apply %s: %w", pragma, err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the underlying connection.
func (d *Database) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Exec runs a statement that returns no rows.
func (d *Database) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, query, args...)
}

// Query runs a statement and returns its rows to the caller.
func (d *Database) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, query, args...)
}

// QueryRow runs a statement expected to return at most one row.
func (d *Database) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, query, args...)
}

// BeginTx opens a transaction; the caller decides how to use it.
func (d *Database) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx is a thin wrapper over *sql.Tx.
type Tx struct {
	tx *sql.Tx
}

// Exec runs a statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

// Query runs a query inside the transaction.
func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback aborts the transaction.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

