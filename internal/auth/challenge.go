package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/org/authguard/internal/audit"
	"github.com/org/authguard/internal/config"
	"github.com/org/authguard/internal/credential"
	"github.com/org/authguard/internal/crypto"
	"github.com/org/authguard/internal/trust"
	"github.com/org/authguard/pkg/models"
	"github.com/rs/zerolog"
)

const challengeKeyPrefix = "challenge:"

// ChallengeService runs the device authentication handshake: the daemon
// issues a nonce, the device answers with an HMAC computed from its derived
// key, and a valid answer yields an owner session. This is the in-process
// stand-in for the platform biometric/passcode prompt.
type ChallengeService struct {
	creds      *credential.Store
	trust      *trust.Service
	sessions   *SessionService
	auditor    *audit.Recorder
	rootSecret []byte
	policy     config.PolicySource
	now        func() time.Time
	log        zerolog.Logger
}

// NewChallengeService creates a ChallengeService.
func NewChallengeService(creds *credential.Store, trustSvc *trust.Service, sessions *SessionService, auditor *audit.Recorder, rootSecret []byte, policy config.PolicySource, log zerolog.Logger) *ChallengeService {
	return &ChallengeService{
		creds:      creds,
		trust:      trustSvc,
		sessions:   sessions,
		auditor:    auditor,
		rootSecret: rootSecret,
		policy:     policy,
		now:        time.Now,
		log:        log,
	}
}

// SetClock overrides the service's time source. Test hook.
func (s *ChallengeService) SetClock(now func() time.Time) {
	s.now = now
}

// Create issues a short-lived challenge for a device.
func (s *ChallengeService) Create(ctx context.Context, deviceID string) (*models.AuthChallenge, error) {
	nonce, err := crypto.NewChallengeNonce()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	expiresAt := now.Add(s.policy.Policy().ChallengeTTL.Std())
	challenge := &models.AuthChallenge{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Nonce:     nonce,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	opts := credential.Options{ExpiresAt: &expiresAt}
	if err := s.creds.PutJSON(ctx, challengeKeyPrefix+challenge.ID, challenge, opts); err != nil {
		return nil, fmt.Errorf("persisting challenge: %w", err)
	}
	return challenge, nil
}

// Validate checks a challenge response. On success the challenge is
// consumed, the device's trust record is credited, and a session is issued.
// On failure the device's failure counter is bumped.
func (s *ChallengeService) Validate(ctx context.Context, challengeID string, response []byte, ownerID string) (*models.Session, string, error) {
	var challenge models.AuthChallenge
	key := challengeKeyPrefix + challengeID
	if err := s.creds.GetJSON(ctx, key, &challenge); err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: challenge expired or unknown", ErrAuthorization)
		}
		return nil, "", err
	}

	deviceKey, err := crypto.DeriveDeviceKey(s.rootSecret, challenge.DeviceID)
	if err != nil {
		return nil, "", err
	}

	if !crypto.VerifyChallengeResponse(deviceKey, challenge.Nonce, response) {
		attempts, ferr := s.trust.RecordAuthFailure(ctx, challenge.DeviceID)
		if ferr != nil {
			s.log.Error().Err(ferr).Str("device_id", challenge.DeviceID).Msg("recording auth failure")
		}
		s.auditor.Record(ctx, &models.AuditEvent{
			EventType: models.AuditAuthFailure,
			DeviceID:  challenge.DeviceID,
			Reason:    "challenge response mismatch",
			Metadata:  map[string]any{"failed_attempts": attempts},
		})
		return nil, "", fmt.Errorf("%w: challenge response mismatch", ErrAuthorization)
	}

	// Single use: consume before issuing the session.
	if err := s.creds.Remove(ctx, key); err != nil {
		return nil, "", fmt.Errorf("consuming challenge: %w", err)
	}

	session, plaintext, err := s.sessions.Create(ctx, challenge.DeviceID, ownerID)
	if err != nil {
		return nil, "", err
	}
	if err := s.trust.RecordAuthSuccess(ctx, challenge.DeviceID, session.ExpiresAt); err != nil {
		s.log.Error().Err(err).Str("device_id", challenge.DeviceID).Msg("recording auth success")
	}
	s.auditor.Record(ctx, &models.AuditEvent{
		EventType: models.AuditAuthSuccess,
		DeviceID:  challenge.DeviceID,
		Metadata:  map[string]any{"owner_id": ownerID},
	})
	return session, plaintext, nil
}

// SignFor computes the expected response for a device's challenge nonce.
// Exposed for the CLI, which plays the role of the device.
func SignFor(rootSecret []byte, deviceID string, nonce []byte) ([]byte, error) {
	deviceKey, err := crypto.DeriveDeviceKey(rootSecret, deviceID)
	if err != nil {
		return nil, err
	}
	return crypto.SignChallenge(deviceKey, nonce), nil
}
