// Package query implements the two read-side operations the HTTP
// adapter exposes: the needed-blocks dedup check and the filename
// query, both as thin wrappers over a backend.Backend.
package query

import (
	"context"
	"fmt"
	"regexp"

	"github.com/cdpfgl/server/backend"
	"github.com/cdpfgl/server/blockstore"
	"github.com/cdpfgl/server/metalog"
)

// Needed returns the subset of candidates the backend does not yet
// have, in input order, de-duplicated.
func Needed(ctx context.Context, b backend.Backend, candidates []blockstore.Digest) ([]blockstore.Digest, error) {
	got, err := b.Needed(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("query: needed: %w", err)
	}
	return got, nil
}

// FileListParams mirrors the /File/List.json query arguments.
type FileListParams struct {
	Hostname string
	// FilenamePattern is a regular expression matched case-insensitively
	// against the decoded name.
	FilenamePattern string
	// ExactTime, AfterTime, BeforeTime are seconds-since-epoch bounds; 0 means unset.
	ExactTime  uint64
	AfterTime  uint64
	BeforeTime uint64
	Latest     bool
	Reduced    bool
}

// Files runs a filename query against host's metadata log, returning
// records sorted by (name, mtime) ascending.
func Files(ctx context.Context, b backend.Backend, params FileListParams) ([]metalog.Record, error) {
	filter := metalog.Filter{
		ExactTime:  params.ExactTime,
		AfterTime:  params.AfterTime,
		BeforeTime: params.BeforeTime,
		Reduced:    params.Reduced,
		LatestOnly: params.Latest,
	}

	if params.FilenamePattern != "" {
		re, err := regexp.Compile("(?i)" + params.FilenamePattern)
		if err != nil {
			return nil, fmt.Errorf("query: invalid filename pattern: %w", err)
		}
		filter.NameRegexp = re
	}

	records, err := b.ListFiles(ctx, params.Hostname, filter)
	if err != nil {
		return nil, fmt.Errorf("query: list files: %w", err)
	}
	return records, nil
}
