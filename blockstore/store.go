// Package blockstore implements the content-addressed block store: a
// digest-keyed fan-out directory tree under a configurable root, with
// a small LRU read cache in front of it. Every stored block carries a
// ".meta" sidecar recording how it was compressed on disk, mirroring
// the cache-wrapper shape the pack's own blockstore.go uses in front
// of its Blockstore.Get/Put.
package blockstore

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/cdpfgl/server/cdperrors"
)

// Compression identifies the sidecar's recorded codec.
type Compression int

const (
	// CompressionNone stores the block's raw bytes unmodified.
	CompressionNone Compression = iota
	// CompressionZlib stores the block deflated with compress/zlib.
	//
	// klauspost/compress is present only transitively, and its
	// klauspost/compress/zlib package is a drop-in replacement for
	// the standard one rather than a different codec, so this one
	// concern stays on the standard library — see DESIGN.md.
	CompressionZlib
)

// MinFanout and MaxFanout bound the configurable directory fan-out
// level: each level consumes one byte (two hex characters) of the
// digest to pick the next directory component.
const (
	MinFanout = 2
	MaxFanout = 5
)

// Store is the digest-addressed block store.
type Store struct {
	root   string
	levels int
	log    *logrus.Entry

	mu    sync.RWMutex
	cache *lru.Cache[Digest, cacheEntry]
}

type cacheEntry struct {
	payload []byte
	desc    Descriptor
}

// Options configures a new Store.
type Options struct {
	// Root is the filesystem directory blocks are stored under.
	Root string
	// Levels is the fan-out depth, in [MinFanout, MaxFanout].
	Levels int
	// CacheSize is the number of whole blocks kept in the read cache.
	// Zero disables caching.
	CacheSize int
	Log       *logrus.Entry
}

// Open validates opts and prepares the store root for use. If the
// marker file data/.done is absent, every leaf directory of the
// fan-out tree is pre-created before .done is written, so that Put
// never pays a mkdir cost on the hot path.
func Open(opts Options) (*Store, error) {
	if opts.Levels < MinFanout || opts.Levels > MaxFanout {
		return nil, fmt.Errorf("%w: got %d", cdperrors.ErrBadFanout, opts.Levels)
	}
	if opts.Root == "" {
		return nil, errors.New("blockstore: root must not be empty")
	}
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, fmt.Errorf("blockstore: create root: %w", err)
	}

	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}

	s := &Store{
		root:   opts.Root,
		levels: opts.Levels,
		log:    log.WithField("component", "blockstore"),
	}

	if opts.CacheSize > 0 {
		c, err := lru.New[Digest, cacheEntry](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("blockstore: create cache: %w", err)
		}
		s.cache = c
	}

	if err := s.ensureFanout(); err != nil {
		return nil, err
	}

	return s, nil
}

// ensureFanout pre-creates all 256^levels leaf directories under
// data/ unless a previous init already finished the job.
func (s *Store) ensureFanout() error {
	dataDir := filepath.Join(s.root, "data")
	marker := filepath.Join(dataDir, ".done")
	if _, err := os.Stat(marker); err == nil {
		return nil
	}

	s.log.WithField("levels", s.levels).Info("pre-creating block store fan-out tree")
	if err := s.mkdirLevel(dataDir, s.levels); err != nil {
		return fmt.Errorf("blockstore: pre-create fan-out: %w", err)
	}
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return fmt.Errorf("blockstore: write fan-out marker: %w", err)
	}
	return nil
}

const hexDigits = "0123456789abcdef"

// mkdirLevel recursively creates the remaining directory levels under
// dir, one fan-out byte (two hex characters) at a time.
func (s *Store) mkdirLevel(dir string, levelsLeft int) error {
	if levelsLeft == 0 {
		return os.MkdirAll(dir, 0o755)
	}
	for _, hi := range hexDigits {
		for _, lo := range hexDigits {
			sub := filepath.Join(dir, string(hi)+string(lo))
			if err := s.mkdirLevel(sub, levelsLeft-1); err != nil {
				return err
			}
		}
	}
	return nil
}

// path returns the on-disk path of a digest's data file, fanning out
// across s.levels directory components before the remaining hex
// suffix, e.g. for levels=2: data/<hh>/<hh>/<rest>.
func (s *Store) path(d Digest) string {
	hex := d.String()
	parts := make([]string, 0, s.levels+2)
	parts = append(parts, s.root, "data")
	for i := 0; i < s.levels; i++ {
		parts = append(parts, hex[i*2:i*2+2])
	}
	parts = append(parts, hex[s.levels*2:])
	return filepath.Join(parts...)
}

func (s *Store) metaPath(d Digest) string {
	return s.path(d) + ".meta"
}

func (s *Store) leafDir(d Digest) string {
	return filepath.Dir(s.path(d))
}

// Descriptor is the compression metadata stored in a block's ".meta"
// sidecar: the payload's on-disk encoding and the byte length it
// inflates to.
type Descriptor struct {
	Kind             Compression
	UncompressedSize uint64
}

// Put stores payload under its digest exactly as given — the block
// store never compresses or decompresses; payload is whatever form
// the caller (the client, via the ingestion pipeline) transmitted,
// and descriptor records how to interpret it. The leaf directory
// already exists from the fan-out pre-creation in Open, so this is a
// pure write. Writing the same digest twice is idempotent: the
// second write overwrites the first, last-write-wins.
func (s *Store) Put(d Digest, payload []byte, descriptor Descriptor) error {
	tmp := s.path(d) + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("blockstore: write block: %w", err)
	}
	if err := os.Rename(tmp, s.path(d)); err != nil {
		return fmt.Errorf("blockstore: finalize block: %w", err)
	}

	meta := fmt.Sprintf("[meta]\ncmptype = %d\nuncmplen = %d\n", descriptor.Kind, descriptor.UncompressedSize)
	if err := os.WriteFile(s.metaPath(d), []byte(meta), 0o644); err != nil {
		return fmt.Errorf("blockstore: write meta: %w", err)
	}

	s.cacheBlock(d, payload, descriptor)
	return nil
}

// Get returns the payload exactly as stored, together with its
// compression descriptor. Callers that need the uncompressed form
// (e.g. the Hash_Array.json endpoint) call Decompress themselves.
func (s *Store) Get(d Digest) ([]byte, Descriptor, error) {
	if entry, ok := s.cacheGet(d); ok {
		return entry.payload, entry.desc, nil
	}

	raw, err := os.ReadFile(s.path(d))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Descriptor{}, cdperrors.ErrNotFound
		}
		return nil, Descriptor{}, fmt.Errorf("blockstore: read block: %w", err)
	}

	desc, err := s.readMeta(d)
	if err != nil {
		return nil, Descriptor{}, err
	}

	s.cacheBlock(d, raw, desc)
	return raw, desc, nil
}

// Decompress inflates payload according to descriptor's compression
// kind. CompressionNone returns payload unchanged.
func Decompress(payload []byte, descriptor Descriptor) ([]byte, error) {
	switch descriptor.Kind {
	case CompressionNone:
		return payload, nil
	case CompressionZlib:
		r, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("blockstore: decompress: %w", err)
		}
		defer r.Close()
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("blockstore: decompress: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression kind %d", cdperrors.ErrMalformed, descriptor.Kind)
	}
}

func (s *Store) readMeta(d Digest) (Descriptor, error) {
	f, err := os.Open(s.metaPath(d))
	if err != nil {
		if os.IsNotExist(err) {
			return Descriptor{}, nil
		}
		return Descriptor{}, fmt.Errorf("blockstore: read meta: %w", err)
	}
	defer f.Close()

	var kind int
	var uncmplen uint64
	if _, err := fmt.Fscanf(f, "[meta]\ncmptype = %d\nuncmplen = %d\n", &kind, &uncmplen); err != nil {
		return Descriptor{}, nil
	}
	return Descriptor{Kind: Compression(kind), UncompressedSize: uncmplen}, nil
}

// Has reports whether d is already stored, without reading its data.
func (s *Store) Has(d Digest) bool {
	if _, ok := s.cacheGet(d); ok {
		return true
	}
	_, err := os.Stat(s.path(d))
	return err == nil
}

func (s *Store) cacheBlock(d Digest, data []byte, desc Descriptor) {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(d, cacheEntry{payload: data, desc: desc})
}

func (s *Store) cacheGet(d Digest) (cacheEntry, bool) {
	if s.cache == nil {
		return cacheEntry{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Get(d)
}

// Needed filters candidates down to the digests not already present
// in the store, preserving input order and de-duplicating repeats.
func (s *Store) Needed(candidates []Digest) []Digest {
	seen := make(map[Digest]bool, len(candidates))
	out := make([]Digest, 0, len(candidates))
	for _, d := range candidates {
		if seen[d] {
			continue
		}
		seen[d] = true
		if !s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}
