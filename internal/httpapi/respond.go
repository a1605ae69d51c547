package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/analysis"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/service"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/session"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/store"
)

type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	RequestID        string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, desc string) {
	writeJSON(w, status, apiError{
		Error:            code,
		ErrorDescription: desc,
		RequestID:        middleware.GetReqID(r.Context()),
	})
}

// writeUnauthorized is the one answer for every rejected credential.
func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusUnauthorized, "unauthorized", "")
}

// readJSON decodes a request body of at most 1MB. Unknown fields are allowed.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if ct != "" && !strings.Contains(ct, "application/json") {
		writeError(w, r, http.StatusUnsupportedMediaType, "invalid_json", "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "invalid_json", "malformed JSON body")
		return false
	}
	return true
}

// writeServiceError maps domain errors onto HTTP answers.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrAuthenticationRejected), errors.Is(err, session.ErrInvalidToken):
		writeUnauthorized(w, r)
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, store.ErrUnknownFlag), errors.Is(err, analysis.ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden", "")
	case errors.Is(err, session.ErrLicenseRequired):
		writeError(w, r, http.StatusForbidden, "license_required", err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "")
	case errors.Is(err, store.ErrDuplicateEmail):
		writeError(w, r, http.StatusConflict, "duplicate_email", "a tenant is already registered under this email")
	case errors.Is(err, store.ErrStorageTimeout):
		writeError(w, r, http.StatusGatewayTimeout, "storage_timeout", "")
	case errors.Is(err, store.ErrStorageUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "storage_unavailable", "")
	case errors.Is(err, analysis.ErrNotConfigured):
		writeError(w, r, http.StatusServiceUnavailable, "analysis_unavailable", "")
	case analysis.KindOf(err) == analysis.KindTimeout:
		writeError(w, r, http.StatusGatewayTimeout, "analysis_timeout", "")
	case analysis.KindOf(err) != "":
		writeError(w, r, http.StatusBadGateway, "analysis_failed", string(analysis.KindOf(err)))
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Unhandled request error")
		writeError(w, r, http.StatusInternalServerError, "internal_error", "")
	}
}
