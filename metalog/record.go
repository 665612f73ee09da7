// Package metalog implements the per-host append-only metadata log:
// one text file per host, one line per file-version record, encoded
// with the comma-separated / base64-shielded scheme and the 12-comma
// line-framing heuristic described for scanning a chunked byte stream.
package metalog

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/cdpfgl/server/blockstore"
	"github.com/cdpfgl/server/cdperrors"
)

// FileType tags what kind of filesystem entry a record describes.
type FileType int

const (
	FileTypeRegular FileType = iota
	FileTypeDirectory
	FileTypeSymlink
)

// Record is one file-version entry in a host's metadata log.
type Record struct {
	FileType FileType
	Inode    uint64
	Mode     uint32

	AccessTime  uint64
	ChangeTime  uint64
	ModifyTime  uint64
	Size        uint64

	Owner string
	Group string
	UID   uint32
	GID   uint32

	// Name and Link hold decoded (not base64) values; encoding
	// happens at serialization time.
	Name string
	Link string

	Digests []blockstore.Digest
}

// fieldCount is the number of top-level comma-separated fields,
// digests included: type, inode, mode, atime, ctime, mtime, size,
// owner, group, uid, gid, name, link, digests — 14 fields, 13 commas.
// The final digest-sequence field may itself contain commas (one
// between each pair of digests); splitQuoted keeps everything after
// the 13th top-level comma together as that one field, so those
// commas are never mistaken for additional top-level fields.
const fieldCount = 14

// Encode renders r as one log line, without the trailing newline.
func Encode(r Record) string {
	digestStrs := make([]string, len(r.Digests))
	for i, d := range r.Digests {
		digestStrs[i] = base64.StdEncoding.EncodeToString(d[:])
	}

	fields := []string{
		strconv.Itoa(int(r.FileType)),
		strconv.FormatUint(r.Inode, 10),
		strconv.FormatUint(uint64(r.Mode), 10),
		strconv.FormatUint(r.AccessTime, 10),
		strconv.FormatUint(r.ChangeTime, 10),
		strconv.FormatUint(r.ModifyTime, 10),
		strconv.FormatUint(r.Size, 10),
		quoted(r.Owner),
		quoted(r.Group),
		strconv.FormatUint(uint64(r.UID), 10),
		strconv.FormatUint(uint64(r.GID), 10),
		quoted(b64(r.Name)),
		quoted(b64(r.Link)),
		strings.Join(digestStrs, ","),
	}
	return strings.Join(fields, ",")
}

func quoted(s string) string {
	return `"` + s + `"`
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// Decode parses one log line (without its trailing newline) into a
// Record. When reduced is true, only (file type, mtime, size, name)
// are populated and every other field is left zero-valued; owner,
// group, uid, gid, link, and digests are not decoded at all — an
// optimisation for list-only queries.
func Decode(line string, reduced bool) (Record, error) {
	fields, err := splitQuoted(line)
	if err != nil {
		return Record{}, err
	}
	if len(fields) != fieldCount {
		return Record{}, fmt.Errorf("%w: expected %d fields, got %d", cdperrors.ErrMalformed, fieldCount, len(fields))
	}

	var r Record

	ft, err := strconv.Atoi(fields[0])
	if err != nil {
		return Record{}, fmt.Errorf("%w: file type: %v", cdperrors.ErrMalformed, err)
	}
	r.FileType = FileType(ft)

	r.Inode, err = strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: inode: %v", cdperrors.ErrMalformed, err)
	}
	mode, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return Record{}, fmt.Errorf("%w: mode: %v", cdperrors.ErrMalformed, err)
	}
	r.Mode = uint32(mode)

	r.AccessTime, err = strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: atime: %v", cdperrors.ErrMalformed, err)
	}
	r.ChangeTime, err = strconv.ParseUint(fields[4], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: ctime: %v", cdperrors.ErrMalformed, err)
	}
	r.ModifyTime, err = strconv.ParseUint(fields[5], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: mtime: %v", cdperrors.ErrMalformed, err)
	}
	r.Size, err = strconv.ParseUint(fields[6], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: size: %v", cdperrors.ErrMalformed, err)
	}

	name, err := unb64(unquote(fields[11]))
	if err != nil {
		return Record{}, fmt.Errorf("%w: name: %v", cdperrors.ErrMalformed, err)
	}
	r.Name = name

	if reduced {
		return Record{FileType: r.FileType, ModifyTime: r.ModifyTime, Size: r.Size, Name: r.Name}, nil
	}

	r.Owner = unquote(fields[7])
	r.Group = unquote(fields[8])

	uid, err := strconv.ParseUint(fields[9], 10, 32)
	if err != nil {
		return Record{}, fmt.Errorf("%w: uid: %v", cdperrors.ErrMalformed, err)
	}
	r.UID = uint32(uid)
	gid, err := strconv.ParseUint(fields[10], 10, 32)
	if err != nil {
		return Record{}, fmt.Errorf("%w: gid: %v", cdperrors.ErrMalformed, err)
	}
	r.GID = uint32(gid)

	link, err := unb64(unquote(fields[12]))
	if err != nil {
		return Record{}, fmt.Errorf("%w: link: %v", cdperrors.ErrMalformed, err)
	}
	r.Link = link

	if fields[13] != "" {
		parts := strings.Split(fields[13], ",")
		r.Digests = make([]blockstore.Digest, 0, len(parts))
		for _, p := range parts {
			raw, err := base64.StdEncoding.DecodeString(p)
			if err != nil || len(raw) != blockstore.DigestSize {
				return Record{}, fmt.Errorf("%w: digest list entry", cdperrors.ErrMalformed)
			}
			var d blockstore.Digest
			copy(d[:], raw)
			r.Digests = append(r.Digests, d)
		}
	}

	return r, nil
}

func unquote(s string) string {
	return strings.TrimSuffix(strings.TrimPrefix(s, `"`), `"`)
}

func unb64(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// splitQuoted splits a record line on top-level commas, respecting
// `"`-quoted fields (which never themselves contain a comma or quote,
// since name/link are base64 before quoting) and leaving the final
// digest-sequence field — itself comma-separated — intact as a
// single field once fieldCount-1 top-level commas have been consumed.
func splitQuoted(line string) ([]string, error) {
	var fields []string
	inQuotes := false
	start := 0
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if inQuotes {
				continue
			}
			fields = append(fields, line[start:i])
			start = i + 1
			if len(fields) == fieldCount-1 {
				fields = append(fields, line[start:])
				return fields, nil
			}
		}
	}
	if inQuotes {
		return nil, fmt.Errorf("%w: unterminated quoted field", cdperrors.ErrMalformed)
	}
	fields = append(fields, line[start:])
	return fields, nil
}
