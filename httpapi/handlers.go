package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/cdpfgl/server/backend"
	"github.com/cdpfgl/server/blockstore"
	"github.com/cdpfgl/server/cdperrors"
	"github.com/cdpfgl/server/query"
)

func (s *Server) handleVersionJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, versionInfo{
		Name:    s.version.Name,
		Date:    s.version.Date,
		Version: s.version.Version,
		Authors: s.version.Authors,
		License: s.version.License,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	banner := s.version.Name + " " + s.version.Version + " (" + s.version.Date + ")"
	writePlainText(w, http.StatusOK, banner)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusInternalServerError, "stats service not configured")
		return
	}
	counters, err := s.stats.Snapshot(r.Context())
	if err != nil {
		s.log.WithError(err).Error("stats snapshot failed")
		writeError(w, http.StatusInternalServerError, "failed to collect stats")
		return
	}
	writeJSON(w, http.StatusOK, counters)
}

// queryTimeParam base64-decodes a time query parameter and parses it
// as a decimal seconds-since-epoch value. An empty value yields 0
// (unset), which every filter bound treats as "no constraint".
func queryTimeParam(raw string) (uint64, error) {
	if raw == "" {
		return 0, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(decoded), 10, 64)
}

func (s *Server) handleFileList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filenamePattern string
	if raw := q.Get("filename"); raw != "" {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "filename: not valid base64")
			return
		}
		filenamePattern = string(decoded)
	}

	exactTime, err := queryTimeParam(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date: "+err.Error())
		return
	}

	var afterTime, beforeTime uint64
	if raw := q.Get("afterdate"); raw != "" {
		afterTime, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "afterdate: "+err.Error())
			return
		}
	}
	if raw := q.Get("beforedate"); raw != "" {
		beforeTime, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "beforedate: "+err.Error())
			return
		}
	}

	params := query.FileListParams{
		Hostname:        q.Get("hostname"),
		FilenamePattern: filenamePattern,
		ExactTime:       exactTime,
		AfterTime:       afterTime,
		BeforeTime:      beforeTime,
		Latest:          q.Get("latest") == "True",
		Reduced:         q.Get("reduced") == "True",
	}

	records, err := query.Files(r.Context(), s.backend, params)
	if err != nil {
		writeBackendError(w, err)
		return
	}

	jsonRecords := make([]jsonRecord, len(records))
	for i, rec := range records {
		jsonRecords[i] = toJSONRecord(rec)
	}

	writeJSON(w, http.StatusOK, struct {
		FileList []jsonRecord `json:"file_list"`
	}{FileList: jsonRecords})
}

func (s *Server) handleDataByDigest(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/Data/")
	if path == "Hash_Array.json" {
		// Routed separately; ServeMux prefers the more specific
		// pattern, so this only runs if this handler is reached with
		// that exact path by some other route.
		s.handleDataHashArray(w, r)
		return
	}

	hex := strings.TrimSuffix(path, ".json")
	digest, err := blockstore.ParseDigest(hex)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	payload, desc, err := s.backend.GetBlock(r.Context(), digest)
	if err != nil {
		writeBackendError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dataBlock{
		Hash:     base64.StdEncoding.EncodeToString(digest[:]),
		Data:     base64.StdEncoding.EncodeToString(payload),
		Size:     uint64(len(payload)),
		Cmptype:  int(desc.Kind),
		Uncmplen: desc.UncompressedSize,
	})
}

func (s *Server) handleDataHashArray(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("X-Get-Hash-Array")
	if header == "" {
		writeError(w, http.StatusBadRequest, "missing X-Get-Hash-Array header")
		return
	}

	var concatenated []byte
	for _, encoded := range strings.Split(header, ",") {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil || len(raw) != blockstore.DigestSize {
			writeError(w, http.StatusBadRequest, "X-Get-Hash-Array: invalid digest")
			return
		}
		var digest blockstore.Digest
		copy(digest[:], raw)

		payload, desc, err := s.backend.GetBlock(r.Context(), digest)
		if err != nil {
			writeBackendError(w, err)
			return
		}
		uncompressed, err := blockstore.Decompress(payload, desc)
		if err != nil {
			writeBackendError(w, err)
			return
		}
		concatenated = append(concatenated, uncompressed...)
	}

	writeJSON(w, http.StatusOK, struct {
		Data string `json:"data"`
	}{Data: base64.StdEncoding.EncodeToString(concatenated)})
}

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	var body metaRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if body.Hostname == "" {
		writeError(w, http.StatusBadRequest, "hostname is required")
		return
	}

	record, err := fromJSONRecord(body.Meta)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	needed, err := query.Needed(r.Context(), s.backend, record.Digests)
	if err != nil {
		writeBackendError(w, err)
		return
	}

	s.dispatcher.SubmitMetadata(body.Hostname, record)

	writeJSON(w, http.StatusOK, hashListResponse{HashList: encodeDigests(needed)})
}

func (s *Server) handleHashArray(w http.ResponseWriter, r *http.Request) {
	var body hashListRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	digests, err := decodeDigests(body.HashList)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	needed, err := query.Needed(r.Context(), s.backend, digests)
	if err != nil {
		writeBackendError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, hashListResponse{HashList: encodeDigests(needed)})
}

func blockFromWire(b dataBlock) (backend.BlockDescriptor, error) {
	rawDigest, err := base64.StdEncoding.DecodeString(b.Hash)
	if err != nil || len(rawDigest) != blockstore.DigestSize {
		return backend.BlockDescriptor{}, cdperrors.ErrMalformed
	}
	var digest blockstore.Digest
	copy(digest[:], rawDigest)

	payload, err := base64.StdEncoding.DecodeString(b.Data)
	if err != nil {
		return backend.BlockDescriptor{}, cdperrors.ErrMalformed
	}

	return backend.BlockDescriptor{
		Digest:  digest,
		Payload: payload,
		Descriptor: blockstore.Descriptor{
			Kind:             blockstore.Compression(b.Cmptype),
			UncompressedSize: b.Uncmplen,
		},
	}, nil
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	var body dataBlock
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	block, err := blockFromWire(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.dispatcher.SubmitBlock(block)
	writePlainText(w, http.StatusOK, "Ok!")
}

func (s *Server) handleDataArray(w http.ResponseWriter, r *http.Request) {
	var body dataArrayRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	for _, wireBlock := range body.DataArray {
		block, err := blockFromWire(wireBlock)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.dispatcher.SubmitBlock(block)
	}

	writePlainText(w, http.StatusOK, "Ok!")
}
