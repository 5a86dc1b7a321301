package models

import "time"

// Audit event types.
const (
	AuditPermissionCheck = "permission_check"
	AuditApprovalCreated = "approval_created"
	AuditApprovalExpired = "approval_expired"
	AuditRequestCreated  = "request_created"
	AuditRequestResolved = "request_resolved"
	AuditLockTriggered   = "lock_triggered"
	AuditLockCleared     = "lock_cleared"
	AuditAuthSuccess     = "auth_success"
	AuditAuthFailure     = "auth_failure"
	AuditHTTPRequest     = "http_request"
)

// AuditEvent records a single security-relevant event.
type AuditEvent struct {
	ID             int64          `json:"id"`
	RequestID      string         `json:"request_id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	EventType      string         `json:"event_type"`
	DeviceID       string         `json:"device_id,omitempty"`
	Action         string         `json:"action,omitempty"`
	Decision       string         `json:"decision,omitempty"` // "allow" / "deny"
	Reason         string         `json:"reason,omitempty"`
	ResponseCode   int            `json:"response_code,omitempty"`
	ResponseTimeMs int64          `json:"response_time_ms,omitempty"`
	ClientIP       string         `json:"client_ip,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}
