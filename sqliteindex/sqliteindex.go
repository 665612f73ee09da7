// Package sqliteindex is an alternate Backend realization backed by a
// single SQLite database instead of the filesystem, demonstrating the
// "dynamic backend dispatch" design note: the core only depends on
// backend.Backend, so this can be swapped in for backend.FileBackend
// without touching the ingestion or query layers.
package sqliteindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cdpfgl/server/backend"
	"github.com/cdpfgl/server/blockstore"
	"github.com/cdpfgl/server/cdperrors"
	"github.com/cdpfgl/server/metalog"
	"github.com/cdpfgl/server/sqlite"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS blocks (
		digest   TEXT PRIMARY KEY,
		payload  BLOB NOT NULL,
		cmptype  INTEGER NOT NULL,
		uncmplen INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS file_records (
		id   INTEGER PRIMARY KEY AUTOINCREMENT,
		host TEXT NOT NULL,
		line TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_file_records_host ON file_records(host)`,
}

// Backend is the SQLite-backed Backend realization.
type Backend struct {
	db *sqlite.Database
}

var _ backend.Backend = (*Backend)(nil)

// Open creates or opens the SQLite database at path. It does not
// create the schema; Init does.
func Open(path string, opts sqlite.Options) (*Backend, error) {
	db, err := sqlite.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("sqliteindex: open: %w", err)
	}
	b := &Backend{db: db}
	return b, nil
}

// Init creates the schema if absent. All three DDL statements run
// inside one transaction so a failure partway (e.g. the index
// creation failing after the tables exist) leaves nothing behind for
// a retry to trip over.
func (b *Backend) Init(ctx context.Context) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqliteindex: init schema: begin: %w", err)
	}

	for _, stmt := range schemaStatements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqliteindex: init schema: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqliteindex: init schema: commit: %w", err)
	}
	return nil
}

func (b *Backend) Shutdown(ctx context.Context) error {
	return b.db.Close()
}

func (b *Backend) StoreMetadata(ctx context.Context, host string, record metalog.Record) error {
	line := metalog.Encode(record)
	_, err := b.db.Exec(ctx, `INSERT INTO file_records (host, line) VALUES (?, ?)`, host, line)
	if err != nil {
		return fmt.Errorf("sqliteindex: store metadata: %w", err)
	}
	return nil
}

func (b *Backend) StoreBlock(ctx context.Context, block backend.BlockDescriptor) error {
	_, err := b.db.Exec(ctx,
		`INSERT INTO blocks (digest, payload, cmptype, uncmplen) VALUES (?, ?, ?, ?)
		 ON CONFLICT(digest) DO UPDATE SET payload=excluded.payload, cmptype=excluded.cmptype, uncmplen=excluded.uncmplen`,
		block.Digest.String(), block.Payload, int(block.Descriptor.Kind), block.Descriptor.UncompressedSize)
	if err != nil {
		return fmt.Errorf("sqliteindex: store block: %w", err)
	}
	return nil
}

func (b *Backend) Needed(ctx context.Context, candidates []blockstore.Digest) ([]blockstore.Digest, error) {
	seen := make(map[blockstore.Digest]bool, len(candidates))
	out := make([]blockstore.Digest, 0, len(candidates))
	for _, d := range candidates {
		if seen[d] {
			continue
		}
		seen[d] = true

		var count int
		row := b.db.QueryRow(ctx, `SELECT COUNT(1) FROM blocks WHERE digest = ?`, d.String())
		if err := row.Scan(&count); err != nil {
			return nil, fmt.Errorf("sqliteindex: needed: %w", err)
		}
		if count == 0 {
			out = append(out, d)
		}
	}
	return out, nil
}

func (b *Backend) ListFiles(ctx context.Context, host string, filter metalog.Filter) ([]metalog.Record, error) {
	rows, err := b.db.Query(ctx, `SELECT line FROM file_records WHERE host = ? ORDER BY id`, host)
	if err != nil {
		return nil, fmt.Errorf("sqliteindex: list files: %w", err)
	}
	defer rows.Close()

	var out []metalog.Record
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("sqliteindex: scan row: %w", err)
		}
		r, err := metalog.Decode(line, filter.Reduced)
		if err != nil {
			continue
		}
		if matches(filter, r) {
			out = append(out, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqliteindex: iterate rows: %w", err)
	}

	sortByNameThenMtime(out)
	if filter.LatestOnly {
		out = latestPerPath(out)
	}
	return out, nil
}

func (b *Backend) GetBlock(ctx context.Context, digest blockstore.Digest) ([]byte, blockstore.Descriptor, error) {
	var payload []byte
	var cmptype int
	var uncmplen uint64

	row := b.db.QueryRow(ctx, `SELECT payload, cmptype, uncmplen FROM blocks WHERE digest = ?`, digest.String())
	err := row.Scan(&payload, &cmptype, &uncmplen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, blockstore.Descriptor{}, cdperrors.ErrNotFound
	}
	if err != nil {
		return nil, blockstore.Descriptor{}, fmt.Errorf("sqliteindex: get block: %w", err)
	}
	return payload, blockstore.Descriptor{Kind: blockstore.Compression(cmptype), UncompressedSize: uncmplen}, nil
}
