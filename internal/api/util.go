package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/org/authguard/internal/approval"
	"github.com/org/authguard/internal/auth"
	"github.com/org/authguard/internal/credential"
	"github.com/org/authguard/internal/lock"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"errors": []string{msg}})
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// writeDomainError maps domain errors to HTTP status codes. Anything
// unrecognized is a broken subsystem: 500, and upstream callers treat that
// as denial.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, credential.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, credential.ErrAuthRequired):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, lock.ErrAuthorization), errors.Is(err, auth.ErrAuthorization):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, approval.ErrRequestResolved):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, approval.ErrRequestExpired):
		writeError(w, http.StatusGone, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
