package stats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdpfgl/server/statsdb"
)

func TestServiceTalliesRequestsInMemory(t *testing.T) {
	s, err := New(context.Background(), nil)
	require.NoError(t, err)

	s.RecordGET()
	s.RecordGET()
	s.RecordPOST()
	s.RecordUnknown()
	s.AddBytesStored(100)
	s.AddDedupBytes(40)
	s.IncrementFileCount()

	c, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), c.GETRequests)
	assert.Equal(t, uint64(1), c.POSTRequests)
	assert.Equal(t, uint64(1), c.UnknownRequests)
	assert.Equal(t, uint64(100), c.BytesStored)
	assert.Equal(t, uint64(40), c.DedupBytes)
	assert.Equal(t, uint64(1), c.FileCount)
}

func TestServicePersistsAndRestoresAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := statsdb.Open(dir)
	require.NoError(t, err)

	s, err := New(ctx, db)
	require.NoError(t, err)
	s.RecordGET()
	s.AddBytesStored(512)
	_, err = s.Snapshot(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db2, err := statsdb.Open(dir)
	require.NoError(t, err)
	defer db2.Close()

	s2, err := New(ctx, db2)
	require.NoError(t, err)
	c, err := s2.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.GETRequests)
	assert.Equal(t, uint64(512), c.BytesStored)
}
