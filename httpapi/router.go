// Package httpapi is the thin request adapter: it parses HTTP
// requests, calls into query/ingest/backend, and encodes responses —
// it holds no storage logic of its own, the way the pack's own
// cmd/server/main.go keeps its DocumentServer a thin wrapper over a
// repository.Repository.
package httpapi

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/cdpfgl/server/backend"
	"github.com/cdpfgl/server/ingest"
	"github.com/cdpfgl/server/stats"
)

// VersionInfo is the static build information served by /Version(.json).
type VersionInfo struct {
	Name    string
	Date    string
	Version string
	Authors string
	License string
}

// Server is the HTTP front end described in the external interfaces.
type Server struct {
	backend    backend.Backend
	dispatcher *ingest.Dispatcher
	stats      *stats.Service
	version    VersionInfo
	log        *logrus.Entry
}

// New builds a Server ready to be handed to http.ListenAndServe via Routes().
func New(b backend.Backend, d *ingest.Dispatcher, s *stats.Service, version VersionInfo, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Server{backend: b, dispatcher: d, stats: s, version: version, log: log.WithField("component", "httpapi")}
}

// Routes builds the request mux with every endpoint from the external
// interfaces table wired through the request-counting middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/Version.json", s.handleVersionJSON)
	mux.HandleFunc("/Version", s.handleVersion)
	mux.HandleFunc("/Stats.json", s.handleStats)
	mux.HandleFunc("/File/List.json", s.handleFileList)
	mux.HandleFunc("/Data/Hash_Array.json", s.handleDataHashArray)
	mux.HandleFunc("/Data/", s.handleDataByDigest)
	mux.HandleFunc("/Meta.json", s.handleMeta)
	mux.HandleFunc("/Hash_Array.json", s.handleHashArray)
	mux.HandleFunc("/Data.json", s.handleData)
	mux.HandleFunc("/Data_Array.json", s.handleDataArray)

	return s.countRequests(mux)
}

// countRequests tallies every request by method into the GET/POST/
// unknown breakdown the stats service reports.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.stats != nil {
			switch r.Method {
			case http.MethodGet:
				s.stats.RecordGET()
			case http.MethodPost:
				s.stats.RecordPOST()
			default:
				s.stats.RecordUnknown()
			}
		}
		next.ServeHTTP(w, r)
	})
}
