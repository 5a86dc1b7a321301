package trust

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/org/authguard/internal/config"
	"github.com/org/authguard/internal/credential"
	"github.com/org/authguard/pkg/models"
	"github.com/rs/zerolog"
)

const (
	trustKeyPrefix = "trust:"

	// Trust accumulates slowly on successful auth and drops sharply on
	// failure. New devices start at the minimum gated level.
	initialTrust     = 50
	successTrustGain = 5
	failureTrustLoss = 10
	maxTrust         = 100
)

// LockChecker is the minimal view of the emergency lock controller the trust
// service needs when assembling a security context.
type LockChecker interface {
	IsActive(ctx context.Context) (bool, error)
}

// Service maintains per-device trust records and assembles on-demand
// SecurityContext snapshots. It holds no state of its own; everything lives
// in the credential store.
type Service struct {
	creds  *credential.Store
	locks  LockChecker
	policy config.PolicySource
	now    func() time.Time
	log    zerolog.Logger
}

// NewService creates a trust Service.
func NewService(creds *credential.Store, locks LockChecker, policy config.PolicySource, log zerolog.Logger) *Service {
	return &Service{
		creds:  creds,
		locks:  locks,
		policy: policy,
		now:    time.Now,
		log:    log,
	}
}

// SetClock overrides the service's time source. Test hook.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func trustKey(deviceID string) string {
	return trustKeyPrefix + deviceID
}

// EnrollDevice registers a device with the initial trust level. Re-enrolling
// an existing device resets its record.
func (s *Service) EnrollDevice(ctx context.Context, deviceID string) (*models.DeviceTrust, error) {
	now := s.now().UTC()
	record := &models.DeviceTrust{
		DeviceID:   deviceID,
		TrustLevel: initialTrust,
		EnrolledAt: now,
		UpdatedAt:  now,
	}
	if err := s.creds.PutJSON(ctx, trustKey(deviceID), record, credential.Options{}); err != nil {
		return nil, fmt.Errorf("enrolling device %q: %w", deviceID, err)
	}
	return record, nil
}

// Get returns the trust record for a device, or ErrNotFound if the device
// was never enrolled.
func (s *Service) Get(ctx context.Context, deviceID string) (*models.DeviceTrust, error) {
	var record models.DeviceTrust
	if err := s.creds.GetJSON(ctx, trustKey(deviceID), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// TrustLevel returns the device's trust level. Any failure — unknown device
// or broken storage — reports 0: least trusted, never fail open.
func (s *Service) TrustLevel(ctx context.Context, deviceID string) int {
	record, err := s.Get(ctx, deviceID)
	if err != nil {
		if !errors.Is(err, credential.ErrNotFound) {
			s.log.Error().Err(err).Str("device_id", deviceID).Msg("reading trust record, reporting zero trust")
		}
		return 0
	}
	return record.TrustLevel
}

// RecordAuthSuccess bumps trust, clears the failure counter, and stamps the
// biometric auth time and session expiry.
func (s *Service) RecordAuthSuccess(ctx context.Context, deviceID string, sessionExpiresAt time.Time) error {
	record, err := s.Get(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("recording auth success for %q: %w", deviceID, err)
	}
	now := s.now().UTC()
	record.TrustLevel = min(record.TrustLevel+successTrustGain, maxTrust)
	record.FailedAuthAttempts = 0
	record.LastBiometricAuth = &now
	record.SessionExpiresAt = &sessionExpiresAt
	record.UpdatedAt = now
	return s.creds.PutJSON(ctx, trustKey(deviceID), record, credential.Options{})
}

// RecordAuthFailure bumps the failure counter and drops trust. Returns the
// new consecutive-failure count so callers can evaluate lock conditions.
func (s *Service) RecordAuthFailure(ctx context.Context, deviceID string) (int, error) {
	record, err := s.Get(ctx, deviceID)
	if err != nil {
		return 0, fmt.Errorf("recording auth failure for %q: %w", deviceID, err)
	}
	record.FailedAuthAttempts++
	record.TrustLevel = max(record.TrustLevel-failureTrustLoss, 0)
	record.UpdatedAt = s.now().UTC()
	if err := s.creds.PutJSON(ctx, trustKey(deviceID), record, credential.Options{}); err != nil {
		return 0, err
	}
	return record.FailedAuthAttempts, nil
}

// ReportSuspiciousActivity appends a detector finding to the device record.
func (s *Service) ReportSuspiciousActivity(ctx context.Context, deviceID, finding string) error {
	record, err := s.Get(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("reporting suspicious activity for %q: %w", deviceID, err)
	}
	record.SuspiciousFindings = append(record.SuspiciousFindings, finding)
	record.UpdatedAt = s.now().UTC()
	return s.creds.PutJSON(ctx, trustKey(deviceID), record, credential.Options{})
}

// Context assembles the read-only security context snapshot for a device.
// An unenrolled device yields a zero-trust context; a storage or lock read
// failure propagates so the caller fails closed.
func (s *Service) Context(ctx context.Context, deviceID string) (*models.SecurityContext, error) {
	lockActive, err := s.locks.IsActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking emergency lock: %w", err)
	}

	sctx := &models.SecurityContext{
		DeviceID:            deviceID,
		EmergencyLockActive: lockActive,
	}

	record, err := s.Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return sctx, nil // unenrolled: zero trust, unauthenticated
		}
		return nil, err
	}

	now := s.now()
	sctx.TrustLevel = record.TrustLevel
	sctx.LastBiometricAuth = record.LastBiometricAuth
	sctx.SessionExpiresAt = record.SessionExpiresAt
	sctx.FailedAuthAttempts = record.FailedAuthAttempts
	sctx.SuspiciousFindings = record.SuspiciousFindings
	sctx.IsAuthenticated = record.SessionExpiresAt != nil && now.Before(*record.SessionExpiresAt)
	return sctx, nil
}
