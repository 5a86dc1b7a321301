package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/org/authguard/internal/credential"
	"github.com/org/authguard/internal/crypto"
	"github.com/rs/zerolog"
)

const ownerKeyPrefix = "owner:"

// ErrAuthorization is returned when challenge or owner verification fails.
var ErrAuthorization = errors.New("authorization failed")

// OwnerService manages owner verification codes. Codes are stored as
// argon2id digests; the plaintext never reaches the backend.
type OwnerService struct {
	creds *credential.Store
	log   zerolog.Logger
}

// NewOwnerService creates an OwnerService.
func NewOwnerService(creds *credential.Store, log zerolog.Logger) *OwnerService {
	return &OwnerService{creds: creds, log: log}
}

// Enroll registers an owner's verification code. The digest is marked
// require-auth: releasing it demands a recent biometric authentication.
func (s *OwnerService) Enroll(ctx context.Context, ownerID, code string) error {
	if len(code) < 8 {
		return errors.New("verification code must be at least 8 characters")
	}
	digest, err := crypto.HashOwnerCode(code)
	if err != nil {
		return fmt.Errorf("hashing owner code: %w", err)
	}
	opts := credential.Options{RequireAuth: true}
	if err := s.creds.Put(ctx, ownerKeyPrefix+ownerID, []byte(digest), opts); err != nil {
		return fmt.Errorf("enrolling owner %q: %w", ownerID, err)
	}
	s.log.Info().Str("owner_id", ownerID).Msg("owner enrolled")
	return nil
}

// VerifyOwner checks a verification code against the enrolled digest.
// Unknown owners and wrong codes are indistinguishable to the caller.
func (s *OwnerService) VerifyOwner(ctx context.Context, ownerID, code string) error {
	digest, err := s.creds.Get(ctx, ownerKeyPrefix+ownerID)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return fmt.Errorf("%w: unknown owner", ErrAuthorization)
		}
		if errors.Is(err, credential.ErrAuthRequired) {
			return err
		}
		return fmt.Errorf("reading owner digest: %w", err)
	}
	if !crypto.VerifyOwnerCode(code, string(digest)) {
		return fmt.Errorf("%w: verification code mismatch", ErrAuthorization)
	}
	return nil
}
