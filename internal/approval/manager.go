package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/org/authguard/internal/audit"
	"github.com/org/authguard/internal/config"
	"github.com/org/authguard/internal/credential"
	"github.com/org/authguard/pkg/models"
	"github.com/rs/zerolog"
)

const (
	approvalKeyPrefix = "approval:"
	requestKeyPrefix  = "request:"
	activeListKey     = "active_permissions"
)

// ErrRequestResolved is returned when approving or rejecting a request that
// is no longer pending.
var ErrRequestResolved = errors.New("permission request already resolved")

// ErrRequestExpired is returned when acting on a request past its expiry.
var ErrRequestExpired = errors.New("permission request expired")

// ContextSource supplies security context snapshots. The emergency lock
// state arrives through the snapshot, which keeps the veto check first in
// the gate's evaluation order.
type ContextSource interface {
	Context(ctx context.Context, deviceID string) (*models.SecurityContext, error)
}

// Manager is the authoritative answer to "is device D currently allowed to
// perform sensitive action A". It holds no state of its own; approvals and
// the active-permissions aggregate live in the credential store.
//
// Not safe for concurrent writers against the same actionID: two concurrent
// creations race with a last-writer-wins outcome, acceptable for the
// expected single-actor usage.
type Manager struct {
	creds    *credential.Store
	contexts ContextSource
	auditor  *audit.Recorder
	policy   config.PolicySource
	now      func() time.Time
	log      zerolog.Logger
}

// NewManager creates an approval Manager.
func NewManager(creds *credential.Store, contexts ContextSource, auditor *audit.Recorder, policy config.PolicySource, log zerolog.Logger) *Manager {
	return &Manager{
		creds:    creds,
		contexts: contexts,
		auditor:  auditor,
		policy:   policy,
		now:      time.Now,
		log:      log,
	}
}

// SetClock overrides the manager's time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// CreateOwnerApproval issues a time-boxed approval for one sensitive action
// and registers it in the active-permissions aggregate. validFor defaults to
// the policy's approval TTL (4h). Re-creating an existing actionID silently
// overwrites it.
func (m *Manager) CreateOwnerApproval(ctx context.Context, actionID, description string, actionType models.ActionType, deviceID, approvedBy string, validFor time.Duration) (*models.OwnerApproval, error) {
	if !actionType.IsValid() {
		return nil, fmt.Errorf("unknown action type %q", actionType)
	}
	if validFor <= 0 {
		validFor = m.policy.Policy().DefaultApprovalTTL.Std()
	}
	now := m.now().UTC()
	approval := &models.OwnerApproval{
		ActionID:    actionID,
		Description: description,
		Approved:    true,
		ActionType:  actionType,
		DeviceID:    deviceID,
		ApprovedBy:  approvedBy,
		ApprovedAt:  now,
		ExpiresAt:   now.Add(validFor),
	}
	if err := m.creds.PutJSON(ctx, approvalKeyPrefix+actionID, approval, credential.Options{}); err != nil {
		return nil, fmt.Errorf("persisting approval: %w", err)
	}

	if err := m.appendActivePermission(ctx, models.ActivePermission{
		ActionID:   actionID,
		ActionType: actionType,
		DeviceID:   deviceID,
		ExpiresAt:  approval.ExpiresAt,
	}); err != nil {
		return nil, err
	}

	m.log.Info().Str("action_id", actionID).Str("action_type", string(actionType)).
		Str("device_id", deviceID).Time("expires_at", approval.ExpiresAt).Msg("owner approval created")
	m.auditor.Record(ctx, &models.AuditEvent{
		EventType: models.AuditApprovalCreated,
		DeviceID:  deviceID,
		Action:    string(actionType),
		Metadata:  map[string]any{"action_id": actionID, "approved_by": approvedBy, "expires_at": approval.ExpiresAt},
	})
	return approval, nil
}

// GetApproval returns a stored approval, or credential.ErrNotFound.
func (m *Manager) GetApproval(ctx context.Context, actionID string) (*models.OwnerApproval, error) {
	var approval models.OwnerApproval
	if err := m.creds.GetJSON(ctx, approvalKeyPrefix+actionID, &approval); err != nil {
		return nil, err
	}
	return &approval, nil
}

// IsApprovalValid reports whether an approval is live: approved and not past
// expiry. A missing approval is (false, nil), not an error; only a broken
// store produces an error, which callers must treat as denial.
func (m *Manager) IsApprovalValid(ctx context.Context, actionID string) (bool, error) {
	approval, err := m.GetApproval(ctx, actionID)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return approval.IsValid(m.now()), nil
}

// ExpireApproval revokes an approval by flipping approved to false. The
// record stays in place; revoked and naturally expired approvals look the
// same to every caller.
func (m *Manager) ExpireApproval(ctx context.Context, actionID string) error {
	approval, err := m.GetApproval(ctx, actionID)
	if err != nil {
		return err
	}
	approval.Approved = false
	if err := m.creds.PutJSON(ctx, approvalKeyPrefix+actionID, approval, credential.Options{}); err != nil {
		return fmt.Errorf("revoking approval: %w", err)
	}

	// Drop it from the aggregate so the fast path stops matching at once.
	if err := m.removeActivePermission(ctx, actionID); err != nil {
		return err
	}

	m.auditor.Record(ctx, &models.AuditEvent{
		EventType: models.AuditApprovalExpired,
		DeviceID:  approval.DeviceID,
		Action:    string(approval.ActionType),
		Metadata:  map[string]any{"action_id": actionID},
	})
	return nil
}

// HasPermission is the primary gate. The evaluation order is a correctness
// requirement: the emergency lock and the trust floor are absolute vetoes
// checked before any approval lookup, so a revoked-trust device can never
// piggyback on a stale approval record.
func (m *Manager) HasPermission(ctx context.Context, deviceID string, actionType models.ActionType, requireOwnerApproval bool) (bool, error) {
	sctx, err := m.contexts.Context(ctx, deviceID)
	if err != nil {
		return false, fmt.Errorf("fetching security context: %w", err)
	}
	pol := m.policy.Policy()

	if sctx.EmergencyLockActive {
		m.audit(ctx, deviceID, actionType, false, "emergency lock active")
		return false, nil
	}
	if sctx.TrustLevel < pol.MinTrustLevel {
		m.audit(ctx, deviceID, actionType, false, "trust level below minimum")
		return false, nil
	}
	if !requireOwnerApproval {
		allowed := sctx.IsAuthenticated && sctx.TrustLevel >= pol.ElevatedTrustLevel
		reason := "authenticated with elevated trust"
		if !allowed {
			reason = "not authenticated or trust below elevated threshold"
		}
		m.audit(ctx, deviceID, actionType, allowed, reason)
		return allowed, nil
	}

	perms, err := m.activePermissions(ctx)
	if err != nil {
		return false, err
	}
	now := m.now()
	for _, p := range perms {
		if p.ActionType == actionType && p.DeviceID == deviceID && p.ExpiresAt.After(now) {
			m.audit(ctx, deviceID, actionType, true, "active owner approval")
			return true, nil
		}
	}
	m.audit(ctx, deviceID, actionType, false, "no active owner approval")
	return false, nil
}

func (m *Manager) audit(ctx context.Context, deviceID string, actionType models.ActionType, allowed bool, reason string) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.auditor.Record(ctx, &models.AuditEvent{
		EventType: models.AuditPermissionCheck,
		DeviceID:  deviceID,
		Action:    string(actionType),
		Decision:  decision,
		Reason:    reason,
	})
}

// CreatePermissionRequest opens the two-phase flow: a non-owner device asks
// for a named action; an owner approves or rejects it later. The request
// expires on its own schedule, independent of any approval it produces.
func (m *Manager) CreatePermissionRequest(ctx context.Context, deviceID string, actionType models.ActionType, description string) (*models.PermissionRequest, error) {
	if !actionType.IsValid() {
		return nil, fmt.Errorf("unknown action type %q", actionType)
	}
	now := m.now().UTC()
	req := &models.PermissionRequest{
		ID:          uuid.NewString(),
		DeviceID:    deviceID,
		ActionType:  actionType,
		Description: description,
		Status:      models.RequestPending,
		RequestedAt: now,
		ExpiresAt:   now.Add(m.policy.Policy().DefaultRequestTTL.Std()),
	}
	if err := m.creds.PutJSON(ctx, requestKeyPrefix+req.ID, req, credential.Options{}); err != nil {
		return nil, fmt.Errorf("persisting permission request: %w", err)
	}
	m.auditor.Record(ctx, &models.AuditEvent{
		EventType: models.AuditRequestCreated,
		DeviceID:  deviceID,
		Action:    string(actionType),
		Metadata:  map[string]any{"request_id": req.ID},
	})
	return req, nil
}

// GetPermissionRequest returns a request by ID, or credential.ErrNotFound.
func (m *Manager) GetPermissionRequest(ctx context.Context, requestID string) (*models.PermissionRequest, error) {
	var req models.PermissionRequest
	if err := m.creds.GetJSON(ctx, requestKeyPrefix+requestID, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ApprovePermissionRequest grants a pending request, producing an owner
// approval scoped to the action type the request asked for.
func (m *Manager) ApprovePermissionRequest(ctx context.Context, requestID, approvedBy string) (*models.OwnerApproval, error) {
	req, err := m.GetPermissionRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.RequestPending {
		return nil, ErrRequestResolved
	}
	if req.IsExpired(m.now()) {
		return nil, ErrRequestExpired
	}

	approval, err := m.CreateOwnerApproval(ctx, "req-"+req.ID, req.Description, req.ActionType, req.DeviceID, approvedBy, 0)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	req.Status = models.RequestApproved
	req.ResolvedBy = approvedBy
	req.ResolvedAt = &now
	if err := m.creds.PutJSON(ctx, requestKeyPrefix+req.ID, req, credential.Options{}); err != nil {
		return nil, fmt.Errorf("updating permission request: %w", err)
	}
	m.auditor.Record(ctx, &models.AuditEvent{
		EventType: models.AuditRequestResolved,
		DeviceID:  req.DeviceID,
		Action:    string(req.ActionType),
		Decision:  "allow",
		Metadata:  map[string]any{"request_id": req.ID, "resolved_by": approvedBy},
	})
	return approval, nil
}

// RejectPermissionRequest marks a pending request rejected.
func (m *Manager) RejectPermissionRequest(ctx context.Context, requestID, rejectedBy string) error {
	req, err := m.GetPermissionRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != models.RequestPending {
		return ErrRequestResolved
	}
	now := m.now().UTC()
	req.Status = models.RequestRejected
	req.ResolvedBy = rejectedBy
	req.ResolvedAt = &now
	if err := m.creds.PutJSON(ctx, requestKeyPrefix+req.ID, req, credential.Options{}); err != nil {
		return fmt.Errorf("updating permission request: %w", err)
	}
	m.auditor.Record(ctx, &models.AuditEvent{
		EventType: models.AuditRequestResolved,
		DeviceID:  req.DeviceID,
		Action:    string(req.ActionType),
		Decision:  "deny",
		Metadata:  map[string]any{"request_id": req.ID, "resolved_by": rejectedBy},
	})
	return nil
}

// CleanupExpiredPermissions prunes expired entries from the aggregate and
// returns the count removed. Purely a compaction convenience: every read
// already filters by expiry, so correctness never depends on calling this.
func (m *Manager) CleanupExpiredPermissions(ctx context.Context) (int, error) {
	perms, err := m.loadActiveList(ctx)
	if err != nil {
		return 0, err
	}
	now := m.now()
	kept := perms[:0]
	for _, p := range perms {
		if p.ExpiresAt.After(now) {
			kept = append(kept, p)
		}
	}
	removed := len(perms) - len(kept)
	if removed > 0 {
		if err := m.storeActiveList(ctx, kept); err != nil {
			return 0, err
		}
	}
	return removed, nil
}

// ActivePermissions returns the current (pruned) aggregate list.
func (m *Manager) ActivePermissions(ctx context.Context) ([]models.ActivePermission, error) {
	return m.activePermissions(ctx)
}

// activePermissions loads the aggregate with expired entries filtered out.
func (m *Manager) activePermissions(ctx context.Context) ([]models.ActivePermission, error) {
	perms, err := m.loadActiveList(ctx)
	if err != nil {
		return nil, err
	}
	now := m.now()
	live := perms[:0]
	for _, p := range perms {
		if p.ExpiresAt.After(now) {
			live = append(live, p)
		}
	}
	return live, nil
}

func (m *Manager) appendActivePermission(ctx context.Context, perm models.ActivePermission) error {
	perms, err := m.activePermissions(ctx) // prunes while appending
	if err != nil {
		return err
	}
	// Same actionID replaces its slot instead of accumulating duplicates.
	replaced := false
	for i, p := range perms {
		if p.ActionID == perm.ActionID {
			perms[i] = perm
			replaced = true
			break
		}
	}
	if !replaced {
		perms = append(perms, perm)
	}
	return m.storeActiveList(ctx, perms)
}

func (m *Manager) removeActivePermission(ctx context.Context, actionID string) error {
	perms, err := m.loadActiveList(ctx)
	if err != nil {
		return err
	}
	kept := perms[:0]
	for _, p := range perms {
		if p.ActionID != actionID {
			kept = append(kept, p)
		}
	}
	return m.storeActiveList(ctx, kept)
}

func (m *Manager) loadActiveList(ctx context.Context) ([]models.ActivePermission, error) {
	var perms []models.ActivePermission
	if err := m.creds.GetJSON(ctx, activeListKey, &perms); err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading active permissions: %w", err)
	}
	return perms, nil
}

func (m *Manager) storeActiveList(ctx context.Context, perms []models.ActivePermission) error {
	if err := m.creds.PutJSON(ctx, activeListKey, perms, credential.Options{}); err != nil {
		return fmt.Errorf("storing active permissions: %w", err)
	}
	return nil
}
