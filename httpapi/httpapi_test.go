package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdpfgl/server/backend"
	"github.com/cdpfgl/server/blockstore"
	"github.com/cdpfgl/server/ingest"
	"github.com/cdpfgl/server/metalog"
	"github.com/cdpfgl/server/stats"
)

func metalogRecordNamed(name string) metalog.Record {
	return metalog.Record{Name: name, ModifyTime: 1}
}

func newInMemoryStatsService(t *testing.T) (*stats.Service, error) {
	t.Helper()
	return stats.New(context.Background(), nil)
}

func testServer(t *testing.T) (*Server, backend.Backend) {
	b := backend.NewMemoryBackend()
	log := logrus.NewEntry(logrus.New())
	d := ingest.New(b, nil, log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})
	return New(b, d, nil, VersionInfo{Name: "cdpfgl-server", Version: "test"}, log), b
}

func waitForQueueDrain(t *testing.T, d *ingest.Dispatcher) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		meta, block := d.QueueDepths()
		if meta == 0 && block == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("queues never drained")
}

func decodeJSON(t *testing.T, body *bytes.Buffer, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(body.Bytes(), v))
}

func TestVersionJSON(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/Version.json", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var v versionInfo
	decodeJSON(t, rec.Body, &v)
	assert.Equal(t, "cdpfgl-server", v.Name)
}

func TestVersionPlainText(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/Version", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cdpfgl-server")
}

func TestDataAndHashArrayRoundTrip(t *testing.T) {
	s, _ := testServer(t)

	payload := []byte("hello, backup world")
	digest := blockstore.Sum(payload)

	body := dataBlock{
		Hash:     base64.StdEncoding.EncodeToString(digest[:]),
		Data:     base64.StdEncoding.EncodeToString(payload),
		Size:     uint64(len(payload)),
		Cmptype:  int(blockstore.CompressionNone),
		Uncmplen: uint64(len(payload)),
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/Data.json", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	routes := s.Routes()
	routes.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ok!", rec.Body.String())

	waitForQueueDrain(t, s.dispatcher)

	hashListBody, err := json.Marshal(hashListRequest{HashList: []string{body.Hash}})
	require.NoError(t, err)
	req2 := httptest.NewRequest(http.MethodPost, "/Hash_Array.json", bytes.NewReader(hashListBody))
	rec2 := httptest.NewRecorder()
	routes.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)

	var resp hashListResponse
	decodeJSON(t, rec2.Body, &resp)
	assert.Empty(t, resp.HashList, "block already stored, so nothing should be needed")

	req3 := httptest.NewRequest(http.MethodGet, "/Data/"+digest.String()+".json", nil)
	rec3 := httptest.NewRecorder()
	routes.ServeHTTP(rec3, req3)
	require.Equal(t, http.StatusOK, rec3.Code)

	var fetched dataBlock
	decodeJSON(t, rec3.Body, &fetched)
	gotPayload, err := base64.StdEncoding.DecodeString(fetched.Data)
	require.NoError(t, err)
	assert.Equal(t, payload, gotPayload)
}

func TestDataByDigestUnknownIs404(t *testing.T) {
	s, _ := testServer(t)
	unknown := blockstore.Sum([]byte("never stored"))
	req := httptest.NewRequest(http.MethodGet, "/Data/"+unknown.String()+".json", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDataByDigestMalformedHexIs400(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/Data/not-a-valid-digest.json", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDataEmptyBodyIs400(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/Data.json", bytes.NewReader(nil))
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetaRoundTripReturnsNeededHashes(t *testing.T) {
	s, _ := testServer(t)

	missing := blockstore.Sum([]byte("not yet uploaded"))
	meta := metaRequest{
		Hostname: "host-a",
		Meta: jsonRecord{
			Name:     base64.StdEncoding.EncodeToString([]byte("/etc/hosts")),
			HashList: []string{base64.StdEncoding.EncodeToString(missing[:])},
		},
	}
	raw, err := json.Marshal(meta)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/Meta.json", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp hashListResponse
	decodeJSON(t, rec.Body, &resp)
	require.Len(t, resp.HashList, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString(missing[:]), resp.HashList[0])

	waitForQueueDrain(t, s.dispatcher)

	listReq := httptest.NewRequest(http.MethodGet, "/File/List.json?hostname=host-a", nil)
	listRec := httptest.NewRecorder()
	s.Routes().ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)

	var listResp struct {
		FileList []jsonRecord `json:"file_list"`
	}
	decodeJSON(t, listRec.Body, &listResp)
	require.Len(t, listResp.FileList, 1)
	nameBytes, err := base64.StdEncoding.DecodeString(listResp.FileList[0].Name)
	require.NoError(t, err)
	assert.Equal(t, "/etc/hosts", string(nameBytes))
}

func TestFileListUnknownHostIsEmptyNotError(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/File/List.json?hostname=nowhere", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		FileList []jsonRecord `json:"file_list"`
	}
	decodeJSON(t, rec.Body, &resp)
	assert.Empty(t, resp.FileList)
}

func TestFileListRegexFilter(t *testing.T) {
	s, b := testServer(t)
	ctx := context.Background()
	require.NoError(t, b.StoreMetadata(ctx, "host-b", metalogRecordNamed("/var/log/syslog")))
	require.NoError(t, b.StoreMetadata(ctx, "host-b", metalogRecordNamed("/var/log/readme.txt")))

	req := httptest.NewRequest(http.MethodGet, "/File/List.json?hostname=host-b&filename="+base64.StdEncoding.EncodeToString([]byte(`\.txt$`)), nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		FileList []jsonRecord `json:"file_list"`
	}
	decodeJSON(t, rec.Body, &resp)
	require.Len(t, resp.FileList, 1)
}

func TestStatsTalliesRequests(t *testing.T) {
	b := backend.NewMemoryBackend()
	log := logrus.NewEntry(logrus.New())
	d := ingest.New(b, nil, log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})
	svc, err := newInMemoryStatsService(t)
	require.NoError(t, err)
	s := New(b, d, svc, VersionInfo{Name: "cdpfgl-server"}, log)

	routes := s.Routes()
	routes.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/Version", nil))
	routes.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/Hash_Array.json", bytes.NewReader([]byte(`{"hash_list":[]}`))))

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/Stats.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var counters struct {
		GETRequests  uint64 `json:"get_requests"`
		POSTRequests uint64 `json:"post_requests"`
	}
	decodeJSON(t, rec.Body, &counters)
	assert.Equal(t, uint64(2), counters.GETRequests, "counts /Version and this /Stats.json request itself")
	assert.Equal(t, uint64(1), counters.POSTRequests)
}

func TestHashArrayDedupesAndPreservesOrder(t *testing.T) {
	s, b := testServer(t)
	ctx := context.Background()

	present := []byte("present block")
	pd := blockstore.Sum(present)
	require.NoError(t, b.StoreBlock(ctx, backend.BlockDescriptor{Digest: pd, Payload: present}))

	missing := blockstore.Sum([]byte("missing block"))

	reqBody, err := json.Marshal(hashListRequest{HashList: []string{
		base64.StdEncoding.EncodeToString(missing[:]),
		base64.StdEncoding.EncodeToString(pd[:]),
		base64.StdEncoding.EncodeToString(missing[:]),
	}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/Hash_Array.json", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp hashListResponse
	decodeJSON(t, rec.Body, &resp)
	assert.Equal(t, []string{base64.StdEncoding.EncodeToString(missing[:])}, resp.HashList)
}
