package models

import "time"

// Session represents an authenticated owner session. The plaintext token is
// shown once at creation; only its SHA-256 hash is used as a lookup key.
type Session struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired returns true if the session has passed its expiry time.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// AuthChallenge is a short-lived nonce a device must sign to prove
// possession of its derived key (the biometric/passcode gate).
type AuthChallenge struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Nonce     []byte    `json:"nonce"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
