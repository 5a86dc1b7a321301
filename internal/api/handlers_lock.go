package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/org/authguard/internal/credential"
	"github.com/org/authguard/pkg/models"
)

// LockTriggerHandler handles POST /v1/lock/trigger
func (s *Server) LockTriggerHandler(w http.ResponseWriter, r *http.Request) {
	session := sessionFromCtx(r.Context())

	var req struct {
		Reason       string  `json:"reason"`
		ExpiresHours float64 `json:"expires_hours"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason required")
		return
	}

	expiresIn := time.Duration(req.ExpiresHours * float64(time.Hour))
	lockRecord, err := s.locks.Trigger(r.Context(), req.Reason, session.OwnerID, expiresIn)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	emergencyLockActive.Set(1)
	writeJSON(w, http.StatusOK, lockRecord)
}

// LockRemoteHandler handles POST /v1/lock/remote. Authorization comes from
// the admin token in the body, not a session: a remote admin locking a
// stolen device has no session on it.
func (s *Server) LockRemoteHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetDeviceID string  `json:"target_device_id"`
		Reason         string  `json:"reason"`
		AdminToken     string  `json:"admin_token"`
		ExpiresHours   float64 `json:"expires_hours"`
	}
	if err := decodeJSON(r, &req); err != nil || req.AdminToken == "" {
		writeError(w, http.StatusBadRequest, "target_device_id, reason, admin_token required")
		return
	}

	expiresIn := time.Duration(req.ExpiresHours * float64(time.Hour))
	lockRecord, err := s.locks.TriggerRemote(r.Context(), req.TargetDeviceID, req.Reason, req.AdminToken, expiresIn)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	emergencyLockActive.Set(1)
	writeJSON(w, http.StatusOK, lockRecord)
}

// LockStatusHandler handles GET /v1/lock/status
func (s *Server) LockStatusHandler(w http.ResponseWriter, r *http.Request) {
	details, err := s.locks.Details(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if details == nil {
		emergencyLockActive.Set(0)
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	emergencyLockActive.Set(1)
	writeJSON(w, http.StatusOK, details)
}

// LockAllowedHandler handles GET /v1/lock/allowed/{action}
func (s *Server) LockAllowedHandler(w http.ResponseWriter, r *http.Request) {
	action := models.ActionType(chi.URLParam(r, "action"))
	if !action.IsValid() {
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"action":  action,
		"allowed": s.locks.AllowedDuringLock(action),
	})
}

// LockClearHandler handles POST /v1/lock/clear. Public route: the clearing
// owner may have no session while locked. Owner verification is mandatory,
// and releasing the owner digest requires the device to have completed a
// challenge within the step-up window.
func (s *Server) LockClearHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID         string `json:"device_id"`
		OwnerID          string `json:"owner_id"`
		VerificationCode string `json:"verification_code"`
	}
	if err := decodeJSON(r, &req); err != nil || req.OwnerID == "" || req.VerificationCode == "" {
		writeError(w, http.StatusBadRequest, "device_id, owner_id, verification_code required")
		return
	}

	ctx := credential.WithRequestor(r.Context(), req.DeviceID)
	if err := s.locks.Clear(ctx, req.OwnerID, req.VerificationCode); err != nil {
		writeDomainError(w, err)
		return
	}
	emergencyLockActive.Set(0)
	writeJSON(w, http.StatusOK, map[string]any{"active": false, "cleared": true})
}

// LockConditionsHandler handles POST /v1/lock/conditions: evaluates the
// auto-trigger rules against a device's current security context.
func (s *Server) LockConditionsHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id required")
		return
	}

	sctx, err := s.trust.Context(r.Context(), req.DeviceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	triggered, err := s.locks.CheckSecurityConditions(r.Context(), sctx)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if triggered {
		emergencyLockActive.Set(1)
	}
	writeJSON(w, http.StatusOK, map[string]any{"triggered": triggered})
}
