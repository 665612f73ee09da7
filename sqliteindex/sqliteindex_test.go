package sqliteindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdpfgl/server/backend"
	"github.com/cdpfgl/server/blockstore"
	"github.com/cdpfgl/server/metalog"
	"github.com/cdpfgl/server/sqlite"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	b, err := Open(path, sqlite.Options{})
	require.NoError(t, err)
	require.NoError(t, b.Init(context.Background()))
	t.Cleanup(func() { _ = b.Shutdown(context.Background()) })
	return b
}

func TestSqliteindexStoreAndGetBlock(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	data := []byte("sqlite backed block")
	d := blockstore.Sum(data)
	desc := blockstore.Descriptor{Kind: blockstore.CompressionNone, UncompressedSize: uint64(len(data))}

	require.NoError(t, b.StoreBlock(ctx, backend.BlockDescriptor{Digest: d, Payload: data, Descriptor: desc}))

	got, gotDesc, err := b.GetBlock(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, desc, gotDesc)
}

func TestSqliteindexPutIsIdempotentOnConflict(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	data := []byte("idempotent block")
	d := blockstore.Sum(data)
	desc := blockstore.Descriptor{UncompressedSize: uint64(len(data))}

	bd := backend.BlockDescriptor{Digest: d, Payload: data, Descriptor: desc}
	require.NoError(t, b.StoreBlock(ctx, bd))
	require.NoError(t, b.StoreBlock(ctx, bd))

	got, _, err := b.GetBlock(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestSqliteindexNeededDedupAndOrder(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	present := []byte("already present")
	pd := blockstore.Sum(present)
	require.NoError(t, b.StoreBlock(ctx, backend.BlockDescriptor{Digest: pd, Payload: present}))

	missingA := blockstore.Sum([]byte("missing a"))
	missingB := blockstore.Sum([]byte("missing b"))

	got, err := b.Needed(ctx, []blockstore.Digest{missingA, pd, missingB, missingA})
	require.NoError(t, err)
	assert.Equal(t, []blockstore.Digest{missingA, missingB}, got)
}

func TestSqliteindexStoreMetadataAndListFiles(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	r1 := metalog.Record{Name: "/b", ModifyTime: 2}
	r2 := metalog.Record{Name: "/a", ModifyTime: 1}
	require.NoError(t, b.StoreMetadata(ctx, "h1", r1))
	require.NoError(t, b.StoreMetadata(ctx, "h1", r2))

	got, err := b.ListFiles(ctx, "h1", metalog.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "/a", got[0].Name)
	assert.Equal(t, "/b", got[1].Name)
}

func TestSqliteindexListFilesUnknownHostEmpty(t *testing.T) {
	b := newTestBackend(t)
	got, err := b.ListFiles(context.Background(), "nope", metalog.Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}
