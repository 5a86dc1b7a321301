package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/org/authguard/internal/credential"
	"github.com/org/authguard/internal/crypto"
	"github.com/org/authguard/internal/storage"
	"github.com/org/authguard/internal/trust"
	"github.com/rs/zerolog"
)

type ownerHarness struct {
	creds  *credential.Store
	trust  *trust.Service
	owners *OwnerService
	stepup *StepUpAuthenticator
}

// newOwnerHarness wires the step-up gate the way the server does: owner
// digests are require-auth, released only after a recent challenge.
func newOwnerHarness(t *testing.T) *ownerHarness {
	t.Helper()
	rootSecret, _ := crypto.GenerateRootSecret()
	creds, err := credential.NewStore(storage.NewMemoryBackend(), nil, rootSecret, zerolog.Nop())
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	policy := staticPolicy()
	trustSvc := trust.NewService(creds, noLock{}, policy, zerolog.Nop())
	stepup := NewStepUpAuthenticator(trustSvc, policy)
	creds.SetAuthenticator(stepup)
	owners := NewOwnerService(creds, zerolog.Nop())

	if _, err := trustSvc.EnrollDevice(context.Background(), "phone-1"); err != nil {
		t.Fatalf("enrolling device: %v", err)
	}
	return &ownerHarness{creds: creds, trust: trustSvc, owners: owners, stepup: stepup}
}

func TestEnrollRejectsShortCode(t *testing.T) {
	h := newOwnerHarness(t)
	if err := h.owners.Enroll(context.Background(), "owner-1", "short"); err == nil {
		t.Error("codes under 8 characters should be rejected")
	}
}

func TestVerifyOwnerRequiresStepUp(t *testing.T) {
	h := newOwnerHarness(t)
	ctx := context.Background()

	if err := h.owners.Enroll(ctx, "owner-1", "open-sesame"); err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}

	// No requesting device in context: the digest stays sealed
	err := h.owners.VerifyOwner(ctx, "owner-1", "open-sesame")
	if !errors.Is(err, credential.ErrAuthRequired) {
		t.Errorf("expected ErrAuthRequired without a requestor, got %v", err)
	}

	// A device that never authenticated is refused too
	reqCtx := credential.WithRequestor(ctx, "phone-1")
	err = h.owners.VerifyOwner(reqCtx, "owner-1", "open-sesame")
	if !errors.Is(err, credential.ErrAuthRequired) {
		t.Errorf("expected ErrAuthRequired without recent auth, got %v", err)
	}
}

func TestVerifyOwnerAfterRecentAuth(t *testing.T) {
	h := newOwnerHarness(t)
	ctx := context.Background()

	if err := h.owners.Enroll(ctx, "owner-1", "open-sesame"); err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if err := h.trust.RecordAuthSuccess(ctx, "phone-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RecordAuthSuccess failed: %v", err)
	}

	reqCtx := credential.WithRequestor(ctx, "phone-1")
	if err := h.owners.VerifyOwner(reqCtx, "owner-1", "open-sesame"); err != nil {
		t.Fatalf("VerifyOwner failed: %v", err)
	}

	// Wrong code and unknown owner are both refused, indistinguishably
	if err := h.owners.VerifyOwner(reqCtx, "owner-1", "wrong-code!"); !errors.Is(err, ErrAuthorization) {
		t.Errorf("expected ErrAuthorization for wrong code, got %v", err)
	}
	if err := h.owners.VerifyOwner(reqCtx, "nobody", "open-sesame"); !errors.Is(err, ErrAuthorization) {
		t.Errorf("expected ErrAuthorization for unknown owner, got %v", err)
	}
}

func TestStepUpWindowExpires(t *testing.T) {
	h := newOwnerHarness(t)
	ctx := context.Background()

	if err := h.owners.Enroll(ctx, "owner-1", "open-sesame"); err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}

	base := time.Now()
	h.trust.SetClock(func() time.Time { return base })
	if err := h.trust.RecordAuthSuccess(ctx, "phone-1", base.Add(time.Hour)); err != nil {
		t.Fatalf("RecordAuthSuccess failed: %v", err)
	}

	reqCtx := credential.WithRequestor(ctx, "phone-1")

	// Inside the 5m step-up window
	h.stepup.SetClock(func() time.Time { return base.Add(time.Minute) })
	if err := h.owners.VerifyOwner(reqCtx, "owner-1", "open-sesame"); err != nil {
		t.Fatalf("VerifyOwner inside window failed: %v", err)
	}

	// Past the window the device must re-run the challenge flow
	h.stepup.SetClock(func() time.Time { return base.Add(10 * time.Minute) })
	err := h.owners.VerifyOwner(reqCtx, "owner-1", "open-sesame")
	if !errors.Is(err, credential.ErrAuthRequired) {
		t.Errorf("expected ErrAuthRequired past the window, got %v", err)
	}
}
