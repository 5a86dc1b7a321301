package models

import "time"

// OwnerApproval is a time-boxed owner authorization for one sensitive action.
type OwnerApproval struct {
	ActionID    string     `json:"action_id"`
	Description string     `json:"description"`
	Approved    bool       `json:"approved"`
	ActionType  ActionType `json:"action_type"`
	DeviceID    string     `json:"device_id"`
	ApprovedBy  string     `json:"approved_by"`
	ApprovedAt  time.Time  `json:"approved_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

// IsValid returns true iff the approval is still live at the given instant.
// A revoked approval (Approved=false) and a naturally expired one are
// indistinguishable to callers.
func (a *OwnerApproval) IsValid(now time.Time) bool {
	return a.Approved && !now.After(a.ExpiresAt)
}

// ActivePermission is a denormalized record kept in an aggregate list for
// fast "anything currently approved for this device/action" checks.
type ActivePermission struct {
	ActionID   string     `json:"action_id"`
	ActionType ActionType `json:"action_type"`
	DeviceID   string     `json:"device_id"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// RequestStatus is the lifecycle state of a PermissionRequest.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// PermissionRequest is a pending ask from a non-owner device for a named
// action. It carries its own expiration, independent of any approval it may
// later produce.
type PermissionRequest struct {
	ID          string        `json:"id"`
	DeviceID    string        `json:"device_id"`
	ActionType  ActionType    `json:"action_type"`
	Description string        `json:"description"`
	Status      RequestStatus `json:"status"`
	RequestedAt time.Time     `json:"requested_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
	ResolvedBy  string        `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
}

// IsExpired returns true if the request can no longer be acted on.
func (r *PermissionRequest) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
