// Package stats implements the long-lived counters service behind
// /Stats.json: request breakdowns and storage totals, held in memory
// for lock-free increments and persisted to statsdb on Snapshot so
// counts survive a restart.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/cdpfgl/server/statsdb"
)

// Counters is the JSON shape served by /Stats.json.
type Counters struct {
	GETRequests     uint64 `json:"get_requests"`
	POSTRequests    uint64 `json:"post_requests"`
	UnknownRequests uint64 `json:"unknown_requests"`

	BytesStored    uint64 `json:"bytes_stored"`
	DedupBytes     uint64 `json:"dedup_bytes"`
	MetadataBytes  uint64 `json:"metadata_bytes"`
	FileCount      uint64 `json:"file_count"`
}

const persistKey = "counters"

// Service tracks request and storage counters for the process.
type Service struct {
	get, post, unknown uint64
	bytesStored        uint64
	dedupBytes         uint64
	metadataBytes      uint64
	fileCount          uint64

	store *statsdb.Store
}

// New builds a Service, restoring any previously persisted counters
// from store. A nil store runs purely in memory (useful for tests).
func New(ctx context.Context, store *statsdb.Store) (*Service, error) {
	s := &Service{store: store}
	if store == nil {
		return s, nil
	}

	raw, err := store.Get(ctx, persistKey)
	if err != nil {
		// Absent on first run; that's not an error.
		return s, nil
	}

	var c Counters
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("stats: decode persisted counters: %w", err)
	}
	s.get = c.GETRequests
	s.post = c.POSTRequests
	s.unknown = c.UnknownRequests
	s.bytesStored = c.BytesStored
	s.dedupBytes = c.DedupBytes
	s.metadataBytes = c.MetadataBytes
	s.fileCount = c.FileCount

	return s, nil
}

// RecordGET, RecordPOST, RecordUnknown tally one request of that kind.
func (s *Service) RecordGET()     { atomic.AddUint64(&s.get, 1) }
func (s *Service) RecordPOST()    { atomic.AddUint64(&s.post, 1) }
func (s *Service) RecordUnknown() { atomic.AddUint64(&s.unknown, 1) }

// AddBytesStored accounts for n newly-written block bytes.
func (s *Service) AddBytesStored(n uint64) { atomic.AddUint64(&s.bytesStored, n) }

// AddDedupBytes accounts for n bytes of a block whose digest the
// server already held when the block arrived (the block is rewritten
// in place, adding no new content).
func (s *Service) AddDedupBytes(n uint64) { atomic.AddUint64(&s.dedupBytes, n) }

// AddMetadataBytes accounts for n bytes of encoded metadata-log lines.
func (s *Service) AddMetadataBytes(n uint64) { atomic.AddUint64(&s.metadataBytes, n) }

// IncrementFileCount tallies one newly-appended file-version record.
func (s *Service) IncrementFileCount() { atomic.AddUint64(&s.fileCount, 1) }

// Snapshot returns the current counters and persists them if a store
// is configured.
func (s *Service) Snapshot(ctx context.Context) (Counters, error) {
	c := Counters{
		GETRequests:     atomic.LoadUint64(&s.get),
		POSTRequests:    atomic.LoadUint64(&s.post),
		UnknownRequests: atomic.LoadUint64(&s.unknown),
		BytesStored:     atomic.LoadUint64(&s.bytesStored),
		DedupBytes:      atomic.LoadUint64(&s.dedupBytes),
		MetadataBytes:   atomic.LoadUint64(&s.metadataBytes),
		FileCount:       atomic.LoadUint64(&s.fileCount),
	}

	if s.store != nil {
		raw, err := json.Marshal(c)
		if err != nil {
			return c, fmt.Errorf("stats: encode counters: %w", err)
		}
		if err := s.store.Put(ctx, persistKey, raw); err != nil {
			return c, fmt.Errorf("stats: persist counters: %w", err)
		}
	}

	return c, nil
}
