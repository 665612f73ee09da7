package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cdpfgl/server/cdperrors"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writePlainText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeError(w http.ResponseWriter, status int, message string) {
	var e apiError
	e.Error.Code = status
	e.Error.Message = message
	writeJSON(w, status, e)
}

// writeBackendError maps an error from the backend/query/ingest
// layers onto the HTTP status codes in the error handling design.
func writeBackendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cdperrors.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, cdperrors.ErrMalformed):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, cdperrors.ErrUnsupportedBackend):
		writeError(w, http.StatusNotImplemented, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
