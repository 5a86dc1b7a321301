package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/org/authguard/internal/storage"
)

// HealthHandler handles GET /v1/sys/health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	active, err := s.locks.IsActive(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                "ok",
		"device_id":             s.cfg.DeviceID,
		"emergency_lock_active": active,
	})
}

// ContextHandler handles GET /v1/context/{deviceID}
func (s *Server) ContextHandler(w http.ResponseWriter, r *http.Request) {
	sctx, err := s.trust.Context(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sctx)
}

// AuditLogHandler handles GET /v1/sys/audit-log
func (s *Server) AuditLogHandler(w http.ResponseWriter, r *http.Request) {
	filter := storage.AuditFilter{
		DeviceID:  r.URL.Query().Get("device_id"),
		EventType: r.URL.Query().Get("event_type"),
		Limit:     100,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp (must be RFC3339)")
			return
		}
		filter.Since = &t
	}

	events, err := s.auditor.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
