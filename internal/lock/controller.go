package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/org/authguard/internal/audit"
	"github.com/org/authguard/internal/config"
	"github.com/org/authguard/internal/credential"
	"github.com/org/authguard/internal/crypto"
	"github.com/org/authguard/pkg/models"
	"github.com/rs/zerolog"
)

const (
	lockKey = "emergency_lock"

	// TriggeredBy value for locks raised by the rule evaluator.
	AutoSecuritySystem = "auto_security_system"
)

// ErrAuthorization is returned when admin-token or owner verification fails.
var ErrAuthorization = errors.New("authorization failed")

// OwnerVerifier checks an owner's verification code.
type OwnerVerifier interface {
	VerifyOwner(ctx context.Context, ownerID, code string) error
}

// Actions that must remain reachable while the lock is active, e.g. the
// unlock flow itself cannot be blocked by the lock it is meant to clear.
var lockExemptActions = map[models.ActionType]bool{
	models.ActionUnlockDevice:      true,
	models.ActionEmergencyContact:  true,
	models.ActionViewLockStatus:    true,
	models.ActionOwnerVerification: true,
}

// Controller manages the system-wide emergency lock: a kill switch that
// overrides all approval state until cleared by a verified owner or until
// its own expiry elapses. It is stateless; the lock record lives in the
// credential store.
type Controller struct {
	creds      *credential.Store
	owners     OwnerVerifier
	rootSecret []byte
	deviceID   string
	auditor    *audit.Recorder
	policy     config.PolicySource
	now        func() time.Time
	log        zerolog.Logger
}

// NewController creates a lock Controller guarding the given device.
func NewController(creds *credential.Store, owners OwnerVerifier, rootSecret []byte, deviceID string, auditor *audit.Recorder, policy config.PolicySource, log zerolog.Logger) *Controller {
	return &Controller{
		creds:      creds,
		owners:     owners,
		rootSecret: rootSecret,
		deviceID:   deviceID,
		auditor:    auditor,
		policy:     policy,
		now:        time.Now,
		log:        log,
	}
}

// SetClock overrides the controller's time source. Test hook.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

// Trigger activates the emergency lock. The lock always carries an expiry
// (default 24h), so it is never permanent by construction.
func (c *Controller) Trigger(ctx context.Context, reason, triggeredBy string, expiresIn time.Duration) (*models.EmergencyLock, error) {
	if expiresIn <= 0 {
		expiresIn = c.policy.Policy().DefaultLockTTL.Std()
	}
	now := c.now().UTC()
	lock := &models.EmergencyLock{
		Active:              true,
		TriggeredAt:         now,
		TriggeredBy:         triggeredBy,
		Reason:              reason,
		RequiresOwnerUnlock: true,
		ExpiresAt:           now.Add(expiresIn),
	}
	if err := c.creds.PutJSON(ctx, lockKey, lock, credential.Options{}); err != nil {
		return nil, fmt.Errorf("writing emergency lock: %w", err)
	}

	c.log.Warn().Str("reason", reason).Str("triggered_by", triggeredBy).
		Time("expires_at", lock.ExpiresAt).Msg("emergency lock triggered")
	c.auditor.Record(ctx, &models.AuditEvent{
		EventType: models.AuditLockTriggered,
		DeviceID:  c.deviceID,
		Reason:    reason,
		Metadata:  map[string]any{"triggered_by": triggeredBy, "expires_at": lock.ExpiresAt},
	})
	return lock, nil
}

// TriggerRemote activates the lock on behalf of a remote admin. The admin
// token is an HMAC bound to the target device; a token minted for another
// device fails verification.
func (c *Controller) TriggerRemote(ctx context.Context, targetDeviceID, reason, adminToken string, expiresIn time.Duration) (*models.EmergencyLock, error) {
	if targetDeviceID != c.deviceID {
		return nil, fmt.Errorf("%w: lock target %q is not this device", ErrAuthorization, targetDeviceID)
	}
	if !crypto.VerifyAdminToken(c.rootSecret, targetDeviceID, adminToken) {
		c.auditor.Record(ctx, &models.AuditEvent{
			EventType: models.AuditAuthFailure,
			DeviceID:  targetDeviceID,
			Reason:    "invalid admin token for remote lock",
		})
		return nil, fmt.Errorf("%w: invalid admin token", ErrAuthorization)
	}
	return c.Trigger(ctx, reason, "remote_admin", expiresIn)
}

// IsActive reports whether the lock is live. A lock past its expiry is
// cleared on read and reported inactive — the same lazy-expiry pattern the
// credential store uses.
func (c *Controller) IsActive(ctx context.Context) (bool, error) {
	lock, err := c.Details(ctx)
	if err != nil {
		return false, err
	}
	return lock != nil && lock.Active, nil
}

// Details returns the current lock record, or nil if no lock is in place.
// Expired records are removed before reporting.
func (c *Controller) Details(ctx context.Context) (*models.EmergencyLock, error) {
	var lock models.EmergencyLock
	if err := c.creds.GetJSON(ctx, lockKey, &lock); err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading emergency lock: %w", err)
	}
	if !lock.IsLive(c.now()) {
		if err := c.creds.Remove(ctx, lockKey); err != nil {
			return nil, fmt.Errorf("clearing expired emergency lock: %w", err)
		}
		c.log.Info().Msg("emergency lock expired, cleared")
		return nil, nil
	}
	return &lock, nil
}

// Clear removes the lock after verifying the owner. Verification is
// mandatory: there is no unauthenticated clear path. Clearing when no lock
// is in place succeeds (idempotent) but still requires a valid owner.
func (c *Controller) Clear(ctx context.Context, ownerID, verificationCode string) error {
	if err := c.owners.VerifyOwner(ctx, ownerID, verificationCode); err != nil {
		c.auditor.Record(ctx, &models.AuditEvent{
			EventType: models.AuditAuthFailure,
			DeviceID:  c.deviceID,
			Reason:    "owner verification failed for lock clear",
			Metadata:  map[string]any{"owner_id": ownerID},
		})
		return fmt.Errorf("%w: owner verification failed", ErrAuthorization)
	}
	if err := c.creds.Remove(ctx, lockKey); err != nil {
		return fmt.Errorf("removing emergency lock: %w", err)
	}
	c.log.Info().Str("owner_id", ownerID).Msg("emergency lock cleared")
	c.auditor.Record(ctx, &models.AuditEvent{
		EventType: models.AuditLockCleared,
		DeviceID:  c.deviceID,
		Metadata:  map[string]any{"owner_id": ownerID},
	})
	return nil
}

// CheckSecurityConditions evaluates auto-trigger rules against a security
// context snapshot and raises the lock (48h default expiry) when any fires.
// Returns true if a lock was triggered. Advisory automation: it shares the
// manual trigger's state and expiry semantics.
func (c *Controller) CheckSecurityConditions(ctx context.Context, sctx *models.SecurityContext) (bool, error) {
	pol := c.policy.Policy()

	var reasons []string
	if sctx.TrustLevel < pol.AutoLockTrustLevel {
		reasons = append(reasons, fmt.Sprintf("Trust level critically low (%d)", sctx.TrustLevel))
	}
	if len(sctx.SuspiciousFindings) > 0 {
		reasons = append(reasons, "Suspicious activity detected: "+strings.Join(sctx.SuspiciousFindings, "; "))
	}
	if sctx.FailedAuthAttempts > pol.MaxFailedAuthAttempts {
		reasons = append(reasons, fmt.Sprintf("Failed authentication attempts exceeded (%d)", sctx.FailedAuthAttempts))
	}
	if len(reasons) == 0 {
		return false, nil
	}

	_, err := c.Trigger(ctx, strings.Join(reasons, "; "), AutoSecuritySystem, pol.AutoLockTTL.Std())
	if err != nil {
		return false, err
	}
	return true, nil
}

// AllowedDuringLock reports whether an action remains permitted while the
// emergency lock is active.
func (c *Controller) AllowedDuringLock(action models.ActionType) bool {
	return lockExemptActions[action]
}
