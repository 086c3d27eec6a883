package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/librettohq/libretto/internal/align"
	"github.com/librettohq/libretto/internal/epub"
	"github.com/librettohq/libretto/internal/meta"
	"github.com/librettohq/libretto/internal/providers"
	"github.com/librettohq/libretto/internal/source"
	"github.com/librettohq/libretto/internal/types"
)

// statusClientClosedRequest is the nginx convention for a request the
// client abandoned; canceled jobs map onto it.
const statusClientClosedRequest = 499

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeDomainError maps a pipeline error to its HTTP status and writes it.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, httpStatus(err), err.Error())
}

// httpStatus translates pipeline errors to status codes: bad input 400,
// unknown voice 400, missing state 404, busy key 409, diverged
// alignment 422, canceled 499, everything else 500.
func httpStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, types.ErrInvalidRange),
		errors.Is(err, types.ErrUnknownVoice),
		errors.Is(err, epub.ErrMalformedContainer),
		errors.Is(err, epub.ErrUnsupportedPackage),
		errors.Is(err, epub.ErrAssetMissing),
		errors.Is(err, source.ErrUnsupportedAudio),
		errors.Is(err, providers.ErrNotConfigured):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	}

	var diverged *align.DivergedError
	if errors.As(err, &diverged) {
		return http.StatusUnprocessableEntity
	}

	return http.StatusInternalServerError
}

// decodeJSON reads a JSON request body. Empty bodies decode into the
// zero value so optional bodies stay optional.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// chapterIndex parses the {index} path segment.
func chapterIndex(r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

// bookLang resolves the effective language of a request, following the
// same fallback chain the pipeline services use.
func bookLang(md *meta.Metadata, lang string) string {
	if lang != "" {
		return lang
	}
	if md.Book.Language != "" {
		return md.Book.Language
	}
	return "en"
}

// JobAccepted is the response for operations that run in the background.
type JobAccepted struct {
	JobID string `json:"job_id"`
}
