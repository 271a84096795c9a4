package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/woozymasta/geoannotator/internal/annotation"
	"github.com/woozymasta/geoannotator/internal/export"
	"github.com/woozymasta/geoannotator/internal/geo"

	"github.com/rs/zerolog/log"
)

// APIError is a structured error response.
type APIError struct {
	Code    string `json:"code"`    // bad_request, not_found, empty_store, ...
	Message string `json:"message"` // human-readable message
	Status  int    `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Ignoring error as we cannot handle client disconnects
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIError{Status: status, Code: code, Message: message})
}

// writeFailure maps domain errors to HTTP responses.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var parseErr *export.GeometryParseError

	switch {
	case errors.As(err, &parseErr):
		writeError(w, http.StatusUnprocessableEntity, "geometry_parse_error", err.Error())
	case errors.Is(err, geo.ErrUnsupportedGeometry):
		writeError(w, http.StatusUnprocessableEntity, "unsupported_geometry", err.Error())
	case errors.Is(err, geo.ErrInvalidGeometry):
		writeError(w, http.StatusUnprocessableEntity, "invalid_geometry", err.Error())
	case errors.Is(err, annotation.ErrNotFound), errors.Is(err, annotation.ErrIndexOutOfRange):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, export.ErrEmptyStore):
		writeError(w, http.StatusConflict, "empty_store", err.Error())
	case errors.Is(err, export.ErrUnknownFormat):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	default:
		log.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
