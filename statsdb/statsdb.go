// Package statsdb is a trimmed adaptation of the Badger-backed
// key/value wrapper the pack's own datastore.go builds on top of
// github.com/ipfs/go-ds-badger4: this keeps only Put/Get — the
// counters service touches exactly one key ("counters") and has no
// need for the teacher's Batching/Txn/GC/TTL/prefix-scan feature
// surface.
package statsdb

import (
	"context"
	"fmt"

	ds "github.com/ipfs/go-datastore"
	badger4 "github.com/ipfs/go-ds-badger4"
)

// Store is a small persistent key/value store for server counters.
type Store struct {
	ds *badger4.Datastore
}

// Open opens (creating if absent) a Badger-backed store at path.
func Open(path string) (*Store, error) {
	bds, err := badger4.NewDatastore(path, nil)
	if err != nil {
		return nil, fmt.Errorf("statsdb: open: %w", err)
	}
	return &Store{ds: bds}, nil
}

// Close releases the underlying Badger handles.
func (s *Store) Close() error {
	return s.ds.Close()
}

// Put stores value under key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	return s.ds.Put(ctx, ds.NewKey(key), value)
}

// Get retrieves the value stored under key. It returns ds.ErrNotFound
// when the key is absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	return s.ds.Get(ctx, ds.NewKey(key))
}

