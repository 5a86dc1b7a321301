package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// GuardPolicy holds the tunable thresholds and durations of the permission
// gate. Defaults match the documented gate semantics; deployments override
// them via a YAML policy file.
type GuardPolicy struct {
	MinTrustLevel         int `yaml:"min_trust_level"`      // hard floor for any gated action
	ElevatedTrustLevel    int `yaml:"elevated_trust_level"` // lighter-weight path without owner approval
	AutoLockTrustLevel    int `yaml:"auto_lock_trust_level"`
	MaxFailedAuthAttempts int `yaml:"max_failed_auth_attempts"`

	DefaultApprovalTTL Duration `yaml:"default_approval_ttl"`
	DefaultRequestTTL  Duration `yaml:"default_request_ttl"`
	DefaultLockTTL     Duration `yaml:"default_lock_ttl"`
	AutoLockTTL        Duration `yaml:"auto_lock_ttl"`
	SessionTTL         Duration `yaml:"session_ttl"`
	ChallengeTTL       Duration `yaml:"challenge_ttl"`
	StepUpWindow       Duration `yaml:"step_up_window"` // how recent a biometric auth must be for require-auth reads
}

// DefaultGuardPolicy returns the built-in policy values.
func DefaultGuardPolicy() *GuardPolicy {
	return &GuardPolicy{
		MinTrustLevel:         50,
		ElevatedTrustLevel:    70,
		AutoLockTrustLevel:    20,
		MaxFailedAuthAttempts: 5,
		DefaultApprovalTTL:    Duration(4 * time.Hour),
		DefaultRequestTTL:     Duration(1 * time.Hour),
		DefaultLockTTL:        Duration(24 * time.Hour),
		AutoLockTTL:           Duration(48 * time.Hour),
		SessionTTL:            Duration(8 * time.Hour),
		ChallengeTTL:          Duration(5 * time.Minute),
		StepUpWindow:          Duration(5 * time.Minute),
	}
}

// LoadGuardPolicy reads a policy file, applying defaults for absent fields.
func LoadGuardPolicy(path string) (*GuardPolicy, error) {
	pol := DefaultGuardPolicy()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, pol); err != nil {
		return nil, fmt.Errorf("parsing policy file: %w", err)
	}
	return pol, nil
}

// Duration is a time.Duration that unmarshals from YAML strings like "4h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// PolicySource supplies the current guard policy. The static source wraps a
// fixed policy; the watcher reloads from disk on change.
type PolicySource interface {
	Policy() *GuardPolicy
}

// StaticPolicy is a PolicySource that always returns the same policy.
type StaticPolicy struct {
	P *GuardPolicy
}

func (s StaticPolicy) Policy() *GuardPolicy {
	return s.P
}
