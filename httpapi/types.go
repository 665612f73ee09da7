package httpapi

import (
	"encoding/base64"
	"fmt"

	"github.com/cdpfgl/server/blockstore"
	"github.com/cdpfgl/server/metalog"
)

// jsonRecord is the wire shape of a file-version record: the same
// shape POST /Meta.json accepts and GET /File/List.json returns. name
// and link travel base64-encoded, matching the on-disk log encoding.
type jsonRecord struct {
	FileType int    `json:"type"`
	Inode    uint64 `json:"inode"`
	Mode     uint32 `json:"mode"`

	AccessTime uint64 `json:"atime"`
	ChangeTime uint64 `json:"ctime"`
	ModifyTime uint64 `json:"mtime"`
	Size       uint64 `json:"size"`

	Owner string `json:"owner"`
	Group string `json:"group"`
	UID   uint32 `json:"uid"`
	GID   uint32 `json:"gid"`

	Name string `json:"name"` // base64
	Link string `json:"link"` // base64

	HashList []string `json:"hash_list"` // base64 digests
}

func toJSONRecord(r metalog.Record) jsonRecord {
	hashList := make([]string, len(r.Digests))
	for i, d := range r.Digests {
		hashList[i] = base64.StdEncoding.EncodeToString(d[:])
	}
	return jsonRecord{
		FileType:   int(r.FileType),
		Inode:      r.Inode,
		Mode:       r.Mode,
		AccessTime: r.AccessTime,
		ChangeTime: r.ChangeTime,
		ModifyTime: r.ModifyTime,
		Size:       r.Size,
		Owner:      r.Owner,
		Group:      r.Group,
		UID:        r.UID,
		GID:        r.GID,
		Name:       base64.StdEncoding.EncodeToString([]byte(r.Name)),
		Link:       base64.StdEncoding.EncodeToString([]byte(r.Link)),
		HashList:   hashList,
	}
}

func fromJSONRecord(j jsonRecord) (metalog.Record, error) {
	name, err := base64.StdEncoding.DecodeString(j.Name)
	if err != nil {
		return metalog.Record{}, fmt.Errorf("name: not valid base64: %w", err)
	}
	link, err := base64.StdEncoding.DecodeString(j.Link)
	if err != nil {
		return metalog.Record{}, fmt.Errorf("link: not valid base64: %w", err)
	}

	digests := make([]blockstore.Digest, 0, len(j.HashList))
	for _, h := range j.HashList {
		raw, err := base64.StdEncoding.DecodeString(h)
		if err != nil || len(raw) != blockstore.DigestSize {
			return metalog.Record{}, fmt.Errorf("hash_list: invalid digest %q", h)
		}
		var d blockstore.Digest
		copy(d[:], raw)
		digests = append(digests, d)
	}

	return metalog.Record{
		FileType:   metalog.FileType(j.FileType),
		Inode:      j.Inode,
		Mode:       j.Mode,
		AccessTime: j.AccessTime,
		ChangeTime: j.ChangeTime,
		ModifyTime: j.ModifyTime,
		Size:       j.Size,
		Owner:      j.Owner,
		Group:      j.Group,
		UID:        j.UID,
		GID:        j.GID,
		Name:       string(name),
		Link:       string(link),
		Digests:    digests,
	}, nil
}

// metaRequest is the POST /Meta.json body: a file-version record plus
// the host it belongs to.
type metaRequest struct {
	Hostname string     `json:"hostname"`
	Meta     jsonRecord `json:"meta"`
}

// hashListRequest/hashListResponse cover both POST /Hash_Array.json
// (request only) and the hash_list field returned by /Meta.json and
// /Hash_Array.json.
type hashListRequest struct {
	HashList []string `json:"hash_list"`
}

type hashListResponse struct {
	HashList []string `json:"hash_list"`
}

func encodeDigests(digests []blockstore.Digest) []string {
	out := make([]string, len(digests))
	for i, d := range digests {
		out[i] = base64.StdEncoding.EncodeToString(d[:])
	}
	return out
}

func decodeDigests(encoded []string) ([]blockstore.Digest, error) {
	out := make([]blockstore.Digest, 0, len(encoded))
	for _, h := range encoded {
		raw, err := base64.StdEncoding.DecodeString(h)
		if err != nil || len(raw) != blockstore.DigestSize {
			return nil, fmt.Errorf("invalid digest %q", h)
		}
		var d blockstore.Digest
		copy(d[:], raw)
		out = append(out, d)
	}
	return out, nil
}

// dataBlock is the wire shape of a single block in /Data.json and
// /Data_Array.json.
type dataBlock struct {
	Hash     string `json:"hash"` // base64 digest
	Data     string `json:"data"` // base64 payload, as transmitted
	Size     uint64 `json:"size"`
	Cmptype  int    `json:"cmptype"`
	Uncmplen uint64 `json:"uncmplen"`
}

type dataArrayRequest struct {
	DataArray []dataBlock `json:"data_array"`
}

// versionInfo is the JSON shape of GET /Version.json.
type versionInfo struct {
	Name    string `json:"name"`
	Date    string `json:"date"`
	Version string `json:"version"`
	Authors string `json:"authors"`
	License string `json:"license"`
}

// apiError is the JSON shape of every non-2xx response.
type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
