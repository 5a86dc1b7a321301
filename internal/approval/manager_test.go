package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/org/authguard/internal/audit"
	"github.com/org/authguard/internal/config"
	"github.com/org/authguard/internal/credential"
	"github.com/org/authguard/internal/crypto"
	"github.com/org/authguard/internal/storage"
	"github.com/org/authguard/pkg/models"
	"github.com/rs/zerolog"
)

// fakeContexts returns a canned security context per device.
type fakeContexts struct {
	contexts map[string]*models.SecurityContext
}

func (f *fakeContexts) Context(ctx context.Context, deviceID string) (*models.SecurityContext, error) {
	if sctx, ok := f.contexts[deviceID]; ok {
		cp := *sctx
		cp.DeviceID = deviceID
		return &cp, nil
	}
	return &models.SecurityContext{DeviceID: deviceID}, nil
}

func newTestManager(t *testing.T, contexts ContextSource) *Manager {
	t.Helper()
	rootSecret, _ := crypto.GenerateRootSecret()
	backend := storage.NewMemoryBackend()
	creds, err := credential.NewStore(backend, nil, rootSecret, zerolog.Nop())
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	auditor := audit.NewRecorder(backend, zerolog.Nop())
	policy := config.StaticPolicy{P: config.DefaultGuardPolicy()}
	return NewManager(creds, contexts, auditor, policy, zerolog.Nop())
}

func trustedDevice(trust int, authenticated bool) *fakeContexts {
	sctx := &models.SecurityContext{TrustLevel: trust, IsAuthenticated: authenticated}
	return &fakeContexts{contexts: map[string]*models.SecurityContext{"phone-1": sctx}}
}

func TestCreateAndReadApproval(t *testing.T) {
	m := newTestManager(t, trustedDevice(60, true))
	ctx := context.Background()

	approval, err := m.CreateOwnerApproval(ctx, "payout-42", "weekly payout", models.ActionPayout, "phone-1", "owner-1", 2*time.Hour)
	if err != nil {
		t.Fatalf("CreateOwnerApproval failed: %v", err)
	}
	if !approval.Approved {
		t.Error("new approval should be approved")
	}
	if got := approval.ExpiresAt.Sub(approval.ApprovedAt); got != 2*time.Hour {
		t.Errorf("expected 2h validity, got %v", got)
	}

	read, err := m.GetApproval(ctx, "payout-42")
	if err != nil {
		t.Fatalf("GetApproval failed: %v", err)
	}
	if read.ActionType != models.ActionPayout || read.ApprovedBy != "owner-1" {
		t.Errorf("unexpected approval: %+v", read)
	}

	valid, err := m.IsApprovalValid(ctx, "payout-42")
	if err != nil {
		t.Fatalf("IsApprovalValid failed: %v", err)
	}
	if !valid {
		t.Error("fresh approval should be valid")
	}
}

func TestCreateApprovalRejectsUnknownAction(t *testing.T) {
	m := newTestManager(t, trustedDevice(60, true))
	if _, err := m.CreateOwnerApproval(context.Background(), "x", "", "rm_rf_slash", "phone-1", "owner-1", 0); err == nil {
		t.Error("unknown action type should be rejected")
	}
}

func TestApprovalValidityAroundExpiry(t *testing.T) {
	m := newTestManager(t, trustedDevice(60, true))
	ctx := context.Background()

	base := time.Now()
	m.SetClock(func() time.Time { return base })
	if _, err := m.CreateOwnerApproval(ctx, "payout-42", "", models.ActionPayout, "phone-1", "owner-1", time.Hour); err != nil {
		t.Fatalf("CreateOwnerApproval failed: %v", err)
	}

	m.SetClock(func() time.Time { return base.Add(59 * time.Minute) })
	if valid, _ := m.IsApprovalValid(ctx, "payout-42"); !valid {
		t.Error("approval should be valid before expiry")
	}

	m.SetClock(func() time.Time { return base.Add(61 * time.Minute) })
	if valid, _ := m.IsApprovalValid(ctx, "payout-42"); valid {
		t.Error("approval should be invalid after expiry")
	}
}

func TestIsApprovalValidMissing(t *testing.T) {
	m := newTestManager(t, trustedDevice(60, true))
	valid, err := m.IsApprovalValid(context.Background(), "never-created")
	if err != nil {
		t.Fatalf("missing approval should not be an error, got %v", err)
	}
	if valid {
		t.Error("missing approval should be invalid")
	}
}

func TestExpireApproval(t *testing.T) {
	m := newTestManager(t, trustedDevice(60, true))
	ctx := context.Background()

	if _, err := m.CreateOwnerApproval(ctx, "payout-42", "", models.ActionPayout, "phone-1", "owner-1", time.Hour); err != nil {
		t.Fatalf("CreateOwnerApproval failed: %v", err)
	}
	if err := m.ExpireApproval(ctx, "payout-42"); err != nil {
		t.Fatalf("ExpireApproval failed: %v", err)
	}

	if valid, _ := m.IsApprovalValid(ctx, "payout-42"); valid {
		t.Error("revoked approval should be invalid")
	}
	perms, err := m.ActivePermissions(ctx)
	if err != nil {
		t.Fatalf("ActivePermissions failed: %v", err)
	}
	if len(perms) != 0 {
		t.Errorf("revoked approval should leave the active list, got %d entries", len(perms))
	}

	// The record stays readable; revoked and expired look the same
	read, err := m.GetApproval(ctx, "payout-42")
	if err != nil {
		t.Fatalf("GetApproval failed: %v", err)
	}
	if read.Approved {
		t.Error("revoked approval should have approved=false")
	}
}

func TestHasPermissionLifecycle(t *testing.T) {
	m := newTestManager(t, trustedDevice(60, true))
	ctx := context.Background()

	// No approval yet: deny
	allowed, err := m.HasPermission(ctx, "phone-1", models.ActionPayout, true)
	if err != nil {
		t.Fatalf("HasPermission failed: %v", err)
	}
	if allowed {
		t.Error("expected deny with no approval")
	}

	if _, err := m.CreateOwnerApproval(ctx, "payout-42", "", models.ActionPayout, "phone-1", "owner-1", time.Hour); err != nil {
		t.Fatalf("CreateOwnerApproval failed: %v", err)
	}
	allowed, err = m.HasPermission(ctx, "phone-1", models.ActionPayout, true)
	if err != nil {
		t.Fatalf("HasPermission failed: %v", err)
	}
	if !allowed {
		t.Error("expected allow with active approval")
	}

	// A different action type does not match
	if allowed, _ := m.HasPermission(ctx, "phone-1", models.ActionDataExport, true); allowed {
		t.Error("approval for payout should not grant data_export")
	}
	// A different device does not match
	if allowed, _ := m.HasPermission(ctx, "phone-2", models.ActionPayout, true); allowed {
		t.Error("approval for phone-1 should not grant phone-2")
	}

	if err := m.ExpireApproval(ctx, "payout-42"); err != nil {
		t.Fatalf("ExpireApproval failed: %v", err)
	}
	if allowed, _ := m.HasPermission(ctx, "phone-1", models.ActionPayout, true); allowed {
		t.Error("expected deny after revocation")
	}
}

func TestHasPermissionLockVeto(t *testing.T) {
	contexts := &fakeContexts{contexts: map[string]*models.SecurityContext{
		"phone-1": {TrustLevel: 90, IsAuthenticated: true, EmergencyLockActive: true},
	}}
	m := newTestManager(t, contexts)
	ctx := context.Background()

	// Even a fresh approval cannot beat the lock veto
	if _, err := m.CreateOwnerApproval(ctx, "payout-42", "", models.ActionPayout, "phone-1", "owner-1", time.Hour); err != nil {
		t.Fatalf("CreateOwnerApproval failed: %v", err)
	}
	if allowed, _ := m.HasPermission(ctx, "phone-1", models.ActionPayout, true); allowed {
		t.Error("emergency lock must veto an active approval")
	}
	if allowed, _ := m.HasPermission(ctx, "phone-1", models.ActionPayout, false); allowed {
		t.Error("emergency lock must veto the light path too")
	}
}

func TestHasPermissionTrustFloor(t *testing.T) {
	m := newTestManager(t, trustedDevice(40, true))
	ctx := context.Background()

	if _, err := m.CreateOwnerApproval(ctx, "payout-42", "", models.ActionPayout, "phone-1", "owner-1", time.Hour); err != nil {
		t.Fatalf("CreateOwnerApproval failed: %v", err)
	}
	if allowed, _ := m.HasPermission(ctx, "phone-1", models.ActionPayout, true); allowed {
		t.Error("trust below the floor must deny despite an active approval")
	}
}

func TestHasPermissionLightPath(t *testing.T) {
	cases := []struct {
		name          string
		trust         int
		authenticated bool
		want          bool
	}{
		{"elevated and authenticated", 75, true, true},
		{"exactly elevated threshold", 70, true, true},
		{"elevated but unauthenticated", 75, false, false},
		{"authenticated but below elevated", 60, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestManager(t, trustedDevice(tc.trust, tc.authenticated))
			allowed, err := m.HasPermission(context.Background(), "phone-1", models.ActionConfigChange, false)
			if err != nil {
				t.Fatalf("HasPermission failed: %v", err)
			}
			if allowed != tc.want {
				t.Errorf("expected allowed=%v, got %v", tc.want, allowed)
			}
		})
	}
}

func TestPermissionRequestLifecycle(t *testing.T) {
	m := newTestManager(t, trustedDevice(60, true))
	ctx := context.Background()

	req, err := m.CreatePermissionRequest(ctx, "phone-1", models.ActionDataExport, "export monthly report")
	if err != nil {
		t.Fatalf("CreatePermissionRequest failed: %v", err)
	}
	if req.Status != models.RequestPending {
		t.Errorf("expected pending, got %s", req.Status)
	}

	approval, err := m.ApprovePermissionRequest(ctx, req.ID, "owner-1")
	if err != nil {
		t.Fatalf("ApprovePermissionRequest failed: %v", err)
	}
	// The approval is scoped to the action the request asked for
	if approval.ActionType != models.ActionDataExport {
		t.Errorf("expected action_type data_export, got %s", approval.ActionType)
	}
	if approval.ActionID != "req-"+req.ID {
		t.Errorf("unexpected action ID %q", approval.ActionID)
	}

	read, err := m.GetPermissionRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetPermissionRequest failed: %v", err)
	}
	if read.Status != models.RequestApproved || read.ResolvedBy != "owner-1" || read.ResolvedAt == nil {
		t.Errorf("unexpected resolved request: %+v", read)
	}

	// The granted permission flows through the gate
	if allowed, _ := m.HasPermission(ctx, "phone-1", models.ActionDataExport, true); !allowed {
		t.Error("approved request should grant the permission")
	}

	// Resolving twice fails
	if _, err := m.ApprovePermissionRequest(ctx, req.ID, "owner-1"); !errors.Is(err, ErrRequestResolved) {
		t.Errorf("expected ErrRequestResolved, got %v", err)
	}
	if err := m.RejectPermissionRequest(ctx, req.ID, "owner-1"); !errors.Is(err, ErrRequestResolved) {
		t.Errorf("expected ErrRequestResolved, got %v", err)
	}
}

func TestRejectPermissionRequest(t *testing.T) {
	m := newTestManager(t, trustedDevice(60, true))
	ctx := context.Background()

	req, err := m.CreatePermissionRequest(ctx, "phone-1", models.ActionConfigChange, "")
	if err != nil {
		t.Fatalf("CreatePermissionRequest failed: %v", err)
	}
	if err := m.RejectPermissionRequest(ctx, req.ID, "owner-1"); err != nil {
		t.Fatalf("RejectPermissionRequest failed: %v", err)
	}
	read, _ := m.GetPermissionRequest(ctx, req.ID)
	if read.Status != models.RequestRejected {
		t.Errorf("expected rejected, got %s", read.Status)
	}
	if allowed, _ := m.HasPermission(ctx, "phone-1", models.ActionConfigChange, true); allowed {
		t.Error("rejected request must not grant a permission")
	}
}

func TestApproveExpiredRequest(t *testing.T) {
	m := newTestManager(t, trustedDevice(60, true))
	ctx := context.Background()

	base := time.Now()
	m.SetClock(func() time.Time { return base })
	req, err := m.CreatePermissionRequest(ctx, "phone-1", models.ActionPayout, "")
	if err != nil {
		t.Fatalf("CreatePermissionRequest failed: %v", err)
	}

	// Default request TTL is 1h
	m.SetClock(func() time.Time { return base.Add(2 * time.Hour) })
	if _, err := m.ApprovePermissionRequest(ctx, req.ID, "owner-1"); !errors.Is(err, ErrRequestExpired) {
		t.Errorf("expected ErrRequestExpired, got %v", err)
	}
}

func TestCleanupExpiredPermissions(t *testing.T) {
	m := newTestManager(t, trustedDevice(60, true))
	ctx := context.Background()

	base := time.Now()
	m.SetClock(func() time.Time { return base })
	for _, tc := range []struct {
		id  string
		ttl time.Duration
	}{
		{"long-a", 4 * time.Hour},
		{"long-b", 4 * time.Hour},
		{"short", 10 * time.Minute},
	} {
		if _, err := m.CreateOwnerApproval(ctx, tc.id, "", models.ActionPayout, "phone-1", "owner-1", tc.ttl); err != nil {
			t.Fatalf("CreateOwnerApproval %q failed: %v", tc.id, err)
		}
	}

	m.SetClock(func() time.Time { return base.Add(30 * time.Minute) })
	removed, err := m.CleanupExpiredPermissions(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredPermissions failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	perms, err := m.ActivePermissions(ctx)
	if err != nil {
		t.Fatalf("ActivePermissions failed: %v", err)
	}
	if len(perms) != 2 {
		t.Errorf("expected 2 remaining, got %d", len(perms))
	}

	// Second cleanup finds nothing
	removed, err = m.CleanupExpiredPermissions(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredPermissions failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("expected 0 removed on second pass, got %d", removed)
	}
}

func TestReapprovalReplacesSlot(t *testing.T) {
	m := newTestManager(t, trustedDevice(60, true))
	ctx := context.Background()

	if _, err := m.CreateOwnerApproval(ctx, "payout-42", "", models.ActionPayout, "phone-1", "owner-1", time.Hour); err != nil {
		t.Fatalf("CreateOwnerApproval failed: %v", err)
	}
	if _, err := m.CreateOwnerApproval(ctx, "payout-42", "", models.ActionPayout, "phone-1", "owner-1", 2*time.Hour); err != nil {
		t.Fatalf("re-creating approval failed: %v", err)
	}
	perms, err := m.ActivePermissions(ctx)
	if err != nil {
		t.Fatalf("ActivePermissions failed: %v", err)
	}
	if len(perms) != 1 {
		t.Errorf("re-approval should replace its slot, got %d entries", len(perms))
	}
}
