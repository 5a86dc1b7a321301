package models

import "time"

// EmergencyLock is the system-wide override record. While live it vetoes
// every gated action regardless of approvals. It always carries an expiry so
// a lost owner cannot cause an irrecoverable lockout.
type EmergencyLock struct {
	Active              bool      `json:"active"`
	TriggeredAt         time.Time `json:"triggered_at"`
	TriggeredBy         string    `json:"triggered_by"`
	Reason              string    `json:"reason"`
	RequiresOwnerUnlock bool      `json:"requires_owner_unlock"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// IsLive returns true iff the lock is active and has not yet expired.
// Active is authoritative only while now <= ExpiresAt.
func (l *EmergencyLock) IsLive(now time.Time) bool {
	return l.Active && !now.After(l.ExpiresAt)
}
