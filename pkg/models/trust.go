package models

import "time"

// DeviceTrust is the persisted per-device trust record.
type DeviceTrust struct {
	DeviceID           string     `json:"device_id"`
	TrustLevel         int        `json:"trust_level"` // 0-100
	FailedAuthAttempts int        `json:"failed_auth_attempts"`
	LastBiometricAuth  *time.Time `json:"last_biometric_auth,omitempty"`
	SessionExpiresAt   *time.Time `json:"session_expires_at,omitempty"`
	SuspiciousFindings []string   `json:"suspicious_findings,omitempty"`
	EnrolledAt         time.Time  `json:"enrolled_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// SecurityContext is a read-only snapshot aggregated on demand from the
// trust record and the emergency lock state. It is never persisted.
type SecurityContext struct {
	DeviceID            string     `json:"device_id"`
	TrustLevel          int        `json:"trust_level"`
	EmergencyLockActive bool       `json:"emergency_lock_active"`
	IsAuthenticated     bool       `json:"is_authenticated"`
	LastBiometricAuth   *time.Time `json:"last_biometric_auth,omitempty"`
	SessionExpiresAt    *time.Time `json:"session_expires_at,omitempty"`
	FailedAuthAttempts  int        `json:"failed_auth_attempts"`
	SuspiciousFindings  []string   `json:"suspicious_findings,omitempty"`
}
