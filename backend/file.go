package backend

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cdpfgl/server/blockstore"
	"github.com/cdpfgl/server/metalog"
)

// FileBackend is the primary Backend realization: a digest-addressed
// block store plus a per-host metadata log, both on the local
// filesystem.
type FileBackend struct {
	blocks *blockstore.Store
	logs   *metalog.Log
	log    *logrus.Entry
}

var _ Backend = (*FileBackend)(nil)

// FileOptions configures a FileBackend.
type FileOptions struct {
	Root      string
	DirLevel  int
	CacheSize int
	Log       *logrus.Entry
}

// NewFileBackend opens the block store and metadata log rooted at
// opts.Root. Both are ready for use immediately; Init performs no
// further work beyond a log line, since neither sub-store has deferred
// setup.
func NewFileBackend(opts FileOptions) (*FileBackend, error) {
	blocks, err := blockstore.Open(blockstore.Options{
		Root:      opts.Root,
		Levels:    opts.DirLevel,
		CacheSize: opts.CacheSize,
		Log:       opts.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("backend: open block store: %w", err)
	}

	logs, err := metalog.Open(opts.Root+"/meta", opts.Log)
	if err != nil {
		return nil, fmt.Errorf("backend: open metadata log: %w", err)
	}

	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}

	return &FileBackend{blocks: blocks, logs: logs, log: log.WithField("backend", "file")}, nil
}

func (b *FileBackend) Init(ctx context.Context) error {
	b.log.Info("file backend initialised")
	return nil
}

func (b *FileBackend) Shutdown(ctx context.Context) error {
	b.log.Info("file backend shut down")
	return nil
}

func (b *FileBackend) StoreMetadata(ctx context.Context, host string, record metalog.Record) error {
	return b.logs.Append(host, record)
}

func (b *FileBackend) StoreBlock(ctx context.Context, block BlockDescriptor) error {
	return b.blocks.Put(block.Digest, block.Payload, block.Descriptor)
}

func (b *FileBackend) Needed(ctx context.Context, candidates []blockstore.Digest) ([]blockstore.Digest, error) {
	return b.blocks.Needed(candidates), nil
}

func (b *FileBackend) ListFiles(ctx context.Context, host string, filter metalog.Filter) ([]metalog.Record, error) {
	return b.logs.Scan(host, filter)
}

func (b *FileBackend) GetBlock(ctx context.Context, digest blockstore.Digest) ([]byte, blockstore.Descriptor, error) {
	return b.blocks.Get(digest)
}
