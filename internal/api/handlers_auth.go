package api

import (
	"encoding/base64"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ChallengeCreateHandler handles POST /v1/auth/challenge
func (s *Server) ChallengeCreateHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id required")
		return
	}

	challenge, err := s.challenges.Create(r.Context(), req.DeviceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":         challenge.ID,
		"nonce":      base64.StdEncoding.EncodeToString(challenge.Nonce),
		"expires_at": challenge.ExpiresAt,
	})
}

// ChallengeValidateHandler handles POST /v1/auth/challenge/{id}/validate
func (s *Server) ChallengeValidateHandler(w http.ResponseWriter, r *http.Request) {
	challengeID := chi.URLParam(r, "id")

	var req struct {
		Response string `json:"response"` // base64 HMAC over the nonce
		OwnerID  string `json:"owner_id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Response == "" {
		writeError(w, http.StatusBadRequest, "response required")
		return
	}
	response, err := base64.StdEncoding.DecodeString(req.Response)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid response encoding (must be base64)")
		return
	}

	session, plaintext, err := s.challenges.Validate(r.Context(), challengeID, response, req.OwnerID)
	if err != nil {
		authOutcomesTotal.WithLabelValues("failure").Inc()
		writeDomainError(w, err)
		return
	}
	authOutcomesTotal.WithLabelValues("success").Inc()

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      plaintext,
		"session_id": session.ID,
		"device_id":  session.DeviceID,
		"expires_at": session.ExpiresAt,
	})
}

// SessionRevokeHandler handles POST /v1/auth/session/revoke
func (s *Server) SessionRevokeHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Revoke(r.Context(), r.Header.Get("X-Guard-Token")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OwnerEnrollHandler handles POST /v1/owners
func (s *Server) OwnerEnrollHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID string `json:"owner_id"`
		Code    string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil || req.OwnerID == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "owner_id and code required")
		return
	}

	if err := s.owners.Enroll(r.Context(), req.OwnerID, req.Code); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner_id": req.OwnerID, "enrolled": true})
}

// DeviceEnrollHandler handles POST /v1/devices
func (s *Server) DeviceEnrollHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id required")
		return
	}

	record, err := s.trust.EnrollDevice(r.Context(), req.DeviceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":   record.DeviceID,
		"trust_level": record.TrustLevel,
		"enrolled_at": record.EnrolledAt,
	})
}
