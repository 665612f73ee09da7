// Package backend defines the storage capability the rest of the
// server depends on, and is the seam the "dynamic backend dispatch"
// design note asks for: the file-based realization in blockstore and
// metalog is one implementation of Backend; sqliteindex is another,
// and tests drive a third, in-memory one so property tests stay fast
// and deterministic.
package backend

import (
	"context"

	"github.com/cdpfgl/server/blockstore"
	"github.com/cdpfgl/server/metalog"
)

// BlockDescriptor carries a block's compression metadata alongside
// its payload, exactly as transmitted by the client.
type BlockDescriptor struct {
	Digest     blockstore.Digest
	Payload    []byte
	Descriptor blockstore.Descriptor
}

// Backend is the capability a storage realization must provide.
type Backend interface {
	// Init prepares the backend for use; called once at startup.
	Init(ctx context.Context) error
	// Shutdown releases resources; called once at process exit.
	Shutdown(ctx context.Context) error

	// StoreMetadata durably appends a file-version record for host.
	StoreMetadata(ctx context.Context, host string, record metalog.Record) error
	// StoreBlock durably persists a block.
	StoreBlock(ctx context.Context, block BlockDescriptor) error

	// Needed filters candidates down to the digests not yet stored,
	// de-duplicated, preserving input order.
	Needed(ctx context.Context, candidates []blockstore.Digest) ([]blockstore.Digest, error)

	// ListFiles runs a filename query against host's metadata log.
	ListFiles(ctx context.Context, host string, filter metalog.Filter) ([]metalog.Record, error)

	// GetBlock retrieves a block's payload exactly as stored, along
	// with its compression descriptor.
	GetBlock(ctx context.Context, digest blockstore.Digest) ([]byte, blockstore.Descriptor, error)
}
