package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/org/authguard/pkg/models"
)

// RequestCreateHandler handles POST /v1/requests
func (s *Server) RequestCreateHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID    string `json:"device_id"`
		ActionType  string `json:"action_type"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id and action_type required")
		return
	}
	actionType := models.ActionType(req.ActionType)
	if !actionType.IsValid() {
		writeError(w, http.StatusBadRequest, "unknown action_type")
		return
	}

	request, err := s.approvals.CreatePermissionRequest(r.Context(), req.DeviceID, actionType, req.Description)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

// RequestGetHandler handles GET /v1/requests/{id}
func (s *Server) RequestGetHandler(w http.ResponseWriter, r *http.Request) {
	request, err := s.approvals.GetPermissionRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

// RequestApproveHandler handles POST /v1/requests/{id}/approve
func (s *Server) RequestApproveHandler(w http.ResponseWriter, r *http.Request) {
	session := sessionFromCtx(r.Context())

	approval, err := s.approvals.ApprovePermissionRequest(r.Context(), chi.URLParam(r, "id"), session.OwnerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

// RequestRejectHandler handles POST /v1/requests/{id}/reject
func (s *Server) RequestRejectHandler(w http.ResponseWriter, r *http.Request) {
	session := sessionFromCtx(r.Context())

	if err := s.approvals.RejectPermissionRequest(r.Context(), chi.URLParam(r, "id"), session.OwnerID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
