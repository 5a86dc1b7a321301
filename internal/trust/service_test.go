package trust

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/org/authguard/internal/config"
	"github.com/org/authguard/internal/credential"
	"github.com/org/authguard/internal/crypto"
	"github.com/org/authguard/internal/storage"
	"github.com/rs/zerolog"
)

type fakeLock struct {
	active bool
	err    error
}

func (f *fakeLock) IsActive(ctx context.Context) (bool, error) {
	return f.active, f.err
}

func newTestService(t *testing.T, locks LockChecker) *Service {
	t.Helper()
	rootSecret, _ := crypto.GenerateRootSecret()
	creds, err := credential.NewStore(storage.NewMemoryBackend(), nil, rootSecret, zerolog.Nop())
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	policy := config.StaticPolicy{P: config.DefaultGuardPolicy()}
	return NewService(creds, locks, policy, zerolog.Nop())
}

func TestEnrollStartsAtInitialTrust(t *testing.T) {
	svc := newTestService(t, &fakeLock{})
	ctx := context.Background()

	record, err := svc.EnrollDevice(ctx, "phone-1")
	if err != nil {
		t.Fatalf("EnrollDevice failed: %v", err)
	}
	if record.TrustLevel != initialTrust {
		t.Errorf("expected trust %d, got %d", initialTrust, record.TrustLevel)
	}
	if svc.TrustLevel(ctx, "phone-1") != initialTrust {
		t.Error("TrustLevel should read back the enrolled value")
	}
}

func TestTrustLevelFailsClosed(t *testing.T) {
	svc := newTestService(t, &fakeLock{})
	if got := svc.TrustLevel(context.Background(), "never-enrolled"); got != 0 {
		t.Errorf("unknown device should report zero trust, got %d", got)
	}
}

func TestAuthSuccessAdjustsTrust(t *testing.T) {
	svc := newTestService(t, &fakeLock{})
	ctx := context.Background()

	if _, err := svc.EnrollDevice(ctx, "phone-1"); err != nil {
		t.Fatalf("EnrollDevice failed: %v", err)
	}
	expiry := time.Now().Add(time.Hour)
	if err := svc.RecordAuthSuccess(ctx, "phone-1", expiry); err != nil {
		t.Fatalf("RecordAuthSuccess failed: %v", err)
	}
	record, err := svc.Get(ctx, "phone-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.TrustLevel != initialTrust+successTrustGain {
		t.Errorf("expected trust %d, got %d", initialTrust+successTrustGain, record.TrustLevel)
	}
	if record.LastBiometricAuth == nil {
		t.Error("success should stamp LastBiometricAuth")
	}
	if record.SessionExpiresAt == nil || !record.SessionExpiresAt.Equal(expiry) {
		t.Error("success should stamp SessionExpiresAt")
	}

	// Trust is capped at maxTrust
	for i := 0; i < 20; i++ {
		if err := svc.RecordAuthSuccess(ctx, "phone-1", expiry); err != nil {
			t.Fatalf("RecordAuthSuccess failed: %v", err)
		}
	}
	if got := svc.TrustLevel(ctx, "phone-1"); got != maxTrust {
		t.Errorf("trust should cap at %d, got %d", maxTrust, got)
	}
}

func TestAuthFailureAdjustsTrust(t *testing.T) {
	svc := newTestService(t, &fakeLock{})
	ctx := context.Background()

	if _, err := svc.EnrollDevice(ctx, "phone-1"); err != nil {
		t.Fatalf("EnrollDevice failed: %v", err)
	}
	attempts, err := svc.RecordAuthFailure(ctx, "phone-1")
	if err != nil {
		t.Fatalf("RecordAuthFailure failed: %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 failed attempt, got %d", attempts)
	}
	if got := svc.TrustLevel(ctx, "phone-1"); got != initialTrust-failureTrustLoss {
		t.Errorf("expected trust %d, got %d", initialTrust-failureTrustLoss, got)
	}

	// Trust floors at 0, the counter keeps climbing
	for i := 0; i < 10; i++ {
		attempts, err = svc.RecordAuthFailure(ctx, "phone-1")
		if err != nil {
			t.Fatalf("RecordAuthFailure failed: %v", err)
		}
	}
	if got := svc.TrustLevel(ctx, "phone-1"); got != 0 {
		t.Errorf("trust should floor at 0, got %d", got)
	}
	if attempts != 11 {
		t.Errorf("expected 11 failed attempts, got %d", attempts)
	}

	// A success resets the counter
	if err := svc.RecordAuthSuccess(ctx, "phone-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RecordAuthSuccess failed: %v", err)
	}
	record, _ := svc.Get(ctx, "phone-1")
	if record.FailedAuthAttempts != 0 {
		t.Errorf("success should clear the failure counter, got %d", record.FailedAuthAttempts)
	}
}

func TestContextUnenrolledDevice(t *testing.T) {
	svc := newTestService(t, &fakeLock{active: true})
	sctx, err := svc.Context(context.Background(), "stranger")
	if err != nil {
		t.Fatalf("Context failed: %v", err)
	}
	if sctx.TrustLevel != 0 {
		t.Errorf("unenrolled device should have zero trust, got %d", sctx.TrustLevel)
	}
	if sctx.IsAuthenticated {
		t.Error("unenrolled device should not be authenticated")
	}
	if !sctx.EmergencyLockActive {
		t.Error("lock state should still flow into the context")
	}
}

func TestContextAuthenticationWindow(t *testing.T) {
	svc := newTestService(t, &fakeLock{})
	ctx := context.Background()

	if _, err := svc.EnrollDevice(ctx, "phone-1"); err != nil {
		t.Fatalf("EnrollDevice failed: %v", err)
	}
	base := time.Now()
	svc.SetClock(func() time.Time { return base })
	if err := svc.RecordAuthSuccess(ctx, "phone-1", base.Add(time.Hour)); err != nil {
		t.Fatalf("RecordAuthSuccess failed: %v", err)
	}

	sctx, err := svc.Context(ctx, "phone-1")
	if err != nil {
		t.Fatalf("Context failed: %v", err)
	}
	if !sctx.IsAuthenticated {
		t.Error("device with a live session should be authenticated")
	}

	// Past the session expiry the device is no longer authenticated
	svc.SetClock(func() time.Time { return base.Add(2 * time.Hour) })
	sctx, err = svc.Context(ctx, "phone-1")
	if err != nil {
		t.Fatalf("Context failed: %v", err)
	}
	if sctx.IsAuthenticated {
		t.Error("device with an expired session should not be authenticated")
	}
}

func TestContextLockErrorPropagates(t *testing.T) {
	svc := newTestService(t, &fakeLock{err: errors.New("backend down")})
	if _, err := svc.Context(context.Background(), "phone-1"); err == nil {
		t.Error("lock check failure should propagate, never fail open")
	}
}

func TestSuspiciousFindings(t *testing.T) {
	svc := newTestService(t, &fakeLock{})
	ctx := context.Background()

	if _, err := svc.EnrollDevice(ctx, "phone-1"); err != nil {
		t.Fatalf("EnrollDevice failed: %v", err)
	}
	if err := svc.ReportSuspiciousActivity(ctx, "phone-1", "impossible travel"); err != nil {
		t.Fatalf("ReportSuspiciousActivity failed: %v", err)
	}
	if err := svc.ReportSuspiciousActivity(ctx, "phone-1", "jailbreak detected"); err != nil {
		t.Fatalf("ReportSuspiciousActivity failed: %v", err)
	}
	sctx, err := svc.Context(ctx, "phone-1")
	if err != nil {
		t.Fatalf("Context failed: %v", err)
	}
	if len(sctx.SuspiciousFindings) != 2 {
		t.Errorf("expected 2 findings, got %d", len(sctx.SuspiciousFindings))
	}
}
