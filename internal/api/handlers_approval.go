package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/org/authguard/pkg/models"
)

// ApprovalCreateHandler handles POST /v1/approvals
func (s *Server) ApprovalCreateHandler(w http.ResponseWriter, r *http.Request) {
	session := sessionFromCtx(r.Context())

	var req struct {
		ActionID    string  `json:"action_id"`
		Description string  `json:"description"`
		ActionType  string  `json:"action_type"`
		DeviceID    string  `json:"device_id"`
		HoursValid  float64 `json:"hours_valid"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ActionID == "" || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "action_id and device_id required")
		return
	}
	actionType := models.ActionType(req.ActionType)
	if !actionType.IsValid() {
		writeError(w, http.StatusBadRequest, "unknown action_type")
		return
	}

	validFor := time.Duration(req.HoursValid * float64(time.Hour))
	approval, err := s.approvals.CreateOwnerApproval(r.Context(), req.ActionID, req.Description, actionType, req.DeviceID, session.OwnerID, validFor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

// ApprovalGetHandler handles GET /v1/approvals/{actionID}
func (s *Server) ApprovalGetHandler(w http.ResponseWriter, r *http.Request) {
	approval, err := s.approvals.GetApproval(r.Context(), chi.URLParam(r, "actionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

// ApprovalValidHandler handles GET /v1/approvals/{actionID}/valid
func (s *Server) ApprovalValidHandler(w http.ResponseWriter, r *http.Request) {
	valid, err := s.approvals.IsApprovalValid(r.Context(), chi.URLParam(r, "actionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": valid})
}

// ApprovalExpireHandler handles POST /v1/approvals/{actionID}/expire
func (s *Server) ApprovalExpireHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.approvals.ExpireApproval(r.Context(), chi.URLParam(r, "actionID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApprovalCleanupHandler handles POST /v1/approvals/cleanup
func (s *Server) ApprovalCleanupHandler(w http.ResponseWriter, r *http.Request) {
	removed, err := s.approvals.CleanupExpiredPermissions(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// ActivePermissionsHandler handles GET /v1/approvals
func (s *Server) ActivePermissionsHandler(w http.ResponseWriter, r *http.Request) {
	perms, err := s.approvals.ActivePermissions(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	activePermissionsTotal.Set(float64(len(perms)))
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

// PermissionCheckHandler handles POST /v1/permission/check
func (s *Server) PermissionCheckHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID             string `json:"device_id"`
		ActionType           string `json:"action_type"`
		RequireOwnerApproval *bool  `json:"require_owner_approval"`
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
	requireApproval := true
	if req.RequireOwnerApproval != nil {
		requireApproval = *req.RequireOwnerApproval
	}

	allowed, err := s.approvals.HasPermission(r.Context(), req.DeviceID, actionType, requireApproval)
	if err != nil {
		// A broken gate is an error, not a denial; the caller fails closed.
		writeDomainError(w, err)
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	permissionChecksTotal.WithLabelValues(decision).Inc()
	writeJSON(w, http.StatusOK, map[string]any{"allowed": allowed})
}
