package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/org/authguard/internal/config"
	"github.com/org/authguard/internal/credential"
	"github.com/org/authguard/internal/crypto"
	"github.com/org/authguard/internal/storage"
	"github.com/rs/zerolog"
)

func newTestCreds(t *testing.T) *credential.Store {
	t.Helper()
	rootSecret, _ := crypto.GenerateRootSecret()
	creds, err := credential.NewStore(storage.NewMemoryBackend(), nil, rootSecret, zerolog.Nop())
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	return creds
}

func staticPolicy() config.StaticPolicy {
	return config.StaticPolicy{P: config.DefaultGuardPolicy()}
}

func TestSessionCreateValidate(t *testing.T) {
	svc := NewSessionService(newTestCreds(t), staticPolicy(), zerolog.Nop())
	ctx := context.Background()

	session, plaintext, err := svc.Create(ctx, "phone-1", "owner-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !strings.HasPrefix(plaintext, "agt_") {
		t.Errorf("token %q missing agt_ prefix", plaintext)
	}

	got, err := svc.Validate(ctx, plaintext)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if got.ID != session.ID || got.DeviceID != "phone-1" || got.OwnerID != "owner-1" {
		t.Errorf("unexpected session: %+v", got)
	}
}

func TestSessionValidateBadToken(t *testing.T) {
	svc := NewSessionService(newTestCreds(t), staticPolicy(), zerolog.Nop())
	if _, err := svc.Validate(context.Background(), "agt_bogus"); !errors.Is(err, ErrAuthorization) {
		t.Errorf("expected ErrAuthorization, got %v", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	svc := NewSessionService(newTestCreds(t), staticPolicy(), zerolog.Nop())
	ctx := context.Background()

	base := time.Now()
	svc.SetClock(func() time.Time { return base })
	_, plaintext, err := svc.Create(ctx, "phone-1", "owner-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Default session TTL is 8h
	svc.SetClock(func() time.Time { return base.Add(9 * time.Hour) })
	if _, err := svc.Validate(ctx, plaintext); !errors.Is(err, ErrAuthorization) {
		t.Errorf("expected ErrAuthorization for expired session, got %v", err)
	}
}

func TestSessionRevoke(t *testing.T) {
	svc := NewSessionService(newTestCreds(t), staticPolicy(), zerolog.Nop())
	ctx := context.Background()

	_, plaintext, err := svc.Create(ctx, "phone-1", "owner-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := svc.Revoke(ctx, plaintext); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, err := svc.Validate(ctx, plaintext); !errors.Is(err, ErrAuthorization) {
		t.Errorf("expected ErrAuthorization after revoke, got %v", err)
	}
	// Revoking again is a no-op
	if err := svc.Revoke(ctx, plaintext); err != nil {
		t.Errorf("second Revoke should succeed, got %v", err)
	}
}
