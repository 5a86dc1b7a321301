package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/org/authguard/internal/config"
	"github.com/org/authguard/internal/credential"
	"github.com/org/authguard/internal/trust"
)

// StepUpAuthenticator satisfies require-auth credential reads by demanding
// that the requesting device completed a challenge recently. It replaces the
// platform biometric prompt in the daemon: a device "re-authenticates" by
// running the challenge flow again shortly before the sensitive read.
type StepUpAuthenticator struct {
	trust  *trust.Service
	policy config.PolicySource
	now    func() time.Time
}

// NewStepUpAuthenticator creates a StepUpAuthenticator.
func NewStepUpAuthenticator(trustSvc *trust.Service, policy config.PolicySource) *StepUpAuthenticator {
	return &StepUpAuthenticator{trust: trustSvc, policy: policy, now: time.Now}
}

// SetClock overrides the authenticator's time source. Test hook.
func (a *StepUpAuthenticator) SetClock(now func() time.Time) {
	a.now = now
}

// Authenticate succeeds iff the requesting device's last successful
// challenge is within the configured step-up window.
func (a *StepUpAuthenticator) Authenticate(ctx context.Context, reason string) error {
	deviceID := credential.RequestorFromContext(ctx)
	if deviceID == "" {
		return errors.New("no requesting device in context")
	}
	record, err := a.trust.Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return fmt.Errorf("device %q is not enrolled", deviceID)
		}
		return err
	}
	window := a.policy.Policy().StepUpWindow.Std()
	if record.LastBiometricAuth == nil || a.now().Sub(*record.LastBiometricAuth) > window {
		return errors.New("recent authentication required")
	}
	return nil
}
