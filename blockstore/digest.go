package blockstore

import (
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// DigestSize is the length in bytes of every digest this store produces
// and accepts.
const DigestSize = 32

// Digest identifies a block by its content hash.
type Digest [DigestSize]byte

// Sum computes the digest of data.
func Sum(data []byte) Digest {
	return Digest(blake3.Sum256(data))
}

// String returns the lowercase hex form used on disk and over HTTP.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest decodes a lowercase hex digest string. It rejects any
// length other than 2*DigestSize hex characters.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if len(s) != DigestSize*2 {
		return d, fmt.Errorf("blockstore: digest must be %d hex chars, got %d", DigestSize*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("blockstore: invalid hex digest: %w", err)
	}
	copy(d[:], b)
	return d, nil
}
