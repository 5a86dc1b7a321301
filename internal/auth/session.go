package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/org/authguard/internal/config"
	"github.com/org/authguard/internal/credential"
	"github.com/org/authguard/internal/crypto"
	"github.com/org/authguard/pkg/models"
	"github.com/rs/zerolog"
)

const sessionKeyPrefix = "session:"

// SessionService issues and validates owner sessions. Sessions live in the
// credential store keyed by token hash with a matching item expiry, so the
// store's lazy reaping cleans them up on first read past expiry.
type SessionService struct {
	creds  *credential.Store
	policy config.PolicySource
	now    func() time.Time
	log    zerolog.Logger
}

// NewSessionService creates a SessionService.
func NewSessionService(creds *credential.Store, policy config.PolicySource, log zerolog.Logger) *SessionService {
	return &SessionService{creds: creds, policy: policy, now: time.Now, log: log}
}

// SetClock overrides the service's time source. Test hook.
func (s *SessionService) SetClock(now func() time.Time) {
	s.now = now
}

// Create issues a session for an authenticated device/owner pair. Returns
// the session and the plaintext token (shown once).
func (s *SessionService) Create(ctx context.Context, deviceID, ownerID string) (*models.Session, string, error) {
	plaintext, err := crypto.NewSessionToken()
	if err != nil {
		return nil, "", err
	}
	now := s.now().UTC()
	expiresAt := now.Add(s.policy.Policy().SessionTTL.Std())
	session := &models.Session{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		OwnerID:   ownerID,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	key := sessionKeyPrefix + crypto.HashToken(plaintext)
	opts := credential.Options{ExpiresAt: &expiresAt}
	if err := s.creds.PutJSON(ctx, key, session, opts); err != nil {
		return nil, "", fmt.Errorf("persisting session: %w", err)
	}
	return session, plaintext, nil
}

// Validate looks up a session by its plaintext token.
func (s *SessionService) Validate(ctx context.Context, plaintext string) (*models.Session, error) {
	key := sessionKeyPrefix + crypto.HashToken(plaintext)
	var session models.Session
	if err := s.creds.GetJSON(ctx, key, &session); err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid or expired session", ErrAuthorization)
		}
		return nil, err
	}
	// The credential expiry and the session expiry are written together, but
	// check both: the session field is authoritative.
	if session.IsExpired(s.now()) {
		return nil, fmt.Errorf("%w: session expired", ErrAuthorization)
	}
	return &session, nil
}

// Revoke removes a session by its plaintext token. Idempotent.
func (s *SessionService) Revoke(ctx context.Context, plaintext string) error {
	return s.creds.Remove(ctx, sessionKeyPrefix+crypto.HashToken(plaintext))
}
