package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/org/authguard/internal/crypto"
	"github.com/org/authguard/internal/storage"
	"github.com/org/authguard/pkg/models"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a key is absent or its value has expired.
var ErrNotFound = storage.ErrNotFound

// ErrAuthRequired is returned when a require-auth item is read without a
// successful reauthentication. Callers must not treat this as "not found".
var ErrAuthRequired = errors.New("reauthentication required")

// Authenticator is the reauthentication gate consulted before require-auth
// items are released. It stands in for the platform biometric/passcode
// prompt; implementations block until the prompt resolves or ctx expires.
type Authenticator interface {
	Authenticate(ctx context.Context, reason string) error
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, reason string) error

func (f AuthenticatorFunc) Authenticate(ctx context.Context, reason string) error {
	return f(ctx, reason)
}

// Options controls how an item is stored. Zero value: no expiry, no
// reauthentication requirement.
type Options struct {
	ExpiresAt   *time.Time
	RequireAuth bool
}

// Store is the credential store: encrypted key/value storage with lazy
// expiry and optional reauthentication gating. Expiry is enforced on read,
// not by a background sweep, so no caller ever observes an expired value.
type Store struct {
	backend       storage.Backend
	auth          Authenticator
	key           []byte
	promptTimeout time.Duration
	now           func() time.Time
	log           zerolog.Logger
}

// NewStore creates a Store sealing values with a key derived from the root
// secret. The authenticator may be nil; require-auth reads then always fail
// with ErrAuthRequired (fail closed).
func NewStore(backend storage.Backend, auth Authenticator, rootSecret []byte, log zerolog.Logger) (*Store, error) {
	key, err := crypto.DeriveStorageKey(rootSecret)
	if err != nil {
		return nil, fmt.Errorf("deriving storage key: %w", err)
	}
	return &Store{
		backend:       backend,
		auth:          auth,
		key:           key,
		promptTimeout: 90 * time.Second,
		now:           time.Now,
		log:           log,
	}, nil
}

// SetAuthenticator installs the reauthentication gate. Used to break the
// construction cycle with components that themselves read through the store.
func (s *Store) SetAuthenticator(auth Authenticator) {
	s.auth = auth
}

// SetClock overrides the store's time source. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Put writes a value under key, sealing it before it reaches the backend.
func (s *Store) Put(ctx context.Context, key string, value []byte, opts Options) error {
	ciphertext, nonce, err := crypto.EncryptValue(value, s.key)
	if err != nil {
		return fmt.Errorf("sealing credential %q: %w", key, err)
	}
	now := s.now().UTC()
	item := &models.CredentialItem{
		Key:         key,
		Ciphertext:  ciphertext,
		Nonce:       nonce,
		ExpiresAt:   opts.ExpiresAt,
		RequireAuth: opts.RequireAuth,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.backend.PutItem(ctx, item); err != nil {
		return fmt.Errorf("storing credential %q: %w", key, err)
	}
	return nil
}

// Get reads a value. An item past its expiry is deleted first and reported
// as ErrNotFound — never returned stale. A require-auth item is released
// only after the authenticator succeeds; on auth failure the result is
// ErrAuthRequired, not the value and not "not found".
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	item, err := s.backend.GetItem(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading credential %q: %w", key, err)
	}

	if item.IsExpired(s.now()) {
		if err := s.backend.DeleteItem(ctx, key); err != nil {
			s.log.Error().Err(err).Str("key", key).Msg("deleting expired credential")
		}
		return nil, ErrNotFound
	}

	if item.RequireAuth {
		if s.auth == nil {
			return nil, ErrAuthRequired
		}
		authCtx, cancel := context.WithTimeout(ctx, s.promptTimeout)
		err := s.auth.Authenticate(authCtx, "read "+key)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrAuthRequired, err)
		}
	}

	value, err := crypto.DecryptValue(item.Ciphertext, item.Nonce, s.key)
	if err != nil {
		return nil, fmt.Errorf("unsealing credential %q: %w", key, err)
	}
	return value, nil
}

// Remove deletes a key. Idempotent: absent keys are not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.backend.DeleteItem(ctx, key); err != nil {
		return fmt.Errorf("removing credential %q: %w", key, err)
	}
	return nil
}

// ListKeys returns stored keys under a prefix, including any whose value has
// expired but not yet been reaped by a read.
func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	return s.backend.ListKeys(ctx, prefix)
}

// PutJSON marshals v and stores it under key.
func (s *Store) PutJSON(ctx context.Context, key string, v any, opts Options) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling credential %q: %w", key, err)
	}
	return s.Put(ctx, key, data, opts)
}

// GetJSON reads key and unmarshals its value into dst.
func (s *Store) GetJSON(ctx context.Context, key string, dst any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshaling credential %q: %w", key, err)
	}
	return nil
}
