package models

import "time"

// CredentialItem is one encrypted entry in the credential store. Values are
// sealed with AES-256-GCM before they reach the backend; the backend only
// ever sees ciphertext.
type CredentialItem struct {
	Key         string
	Ciphertext  []byte
	Nonce       []byte
	ExpiresAt   *time.Time
	RequireAuth bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsExpired returns true if the item has an expiry and it has passed.
func (c *CredentialItem) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}
