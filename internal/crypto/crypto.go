package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	sessionTokenPrefix = "agt_"

	storageKeyContext = "authguard-storage-v1"
	deviceKeyContext  = "authguard-device-v1"
	adminKeyContext   = "authguard-admin-v1"
)

// GenerateRootSecret generates a 32-byte cryptographically secure random
// root secret. All derived keys hang off this value.
func GenerateRootSecret() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, fmt.Errorf("generating root secret: %w", err)
	}
	return secret, nil
}

// DeriveStorageKey derives the credential store's at-rest encryption key
// from the root secret using HKDF-SHA256.
func DeriveStorageKey(rootSecret []byte) ([]byte, error) {
	return deriveKey(rootSecret, storageKeyContext)
}

// DeriveDeviceKey derives the per-device challenge-signing key.
func DeriveDeviceKey(rootSecret []byte, deviceID string) ([]byte, error) {
	return deriveKey(rootSecret, deviceKeyContext+":"+deviceID)
}

func deriveKey(rootSecret []byte, context string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, rootSecret, nil, []byte(context))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}

// EncryptValue encrypts a credential value with AES-256-GCM. Returns
// ciphertext and nonce separately.
func EncryptValue(plaintext, key []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("creating GCM: %w", err)
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// DecryptValue decrypts an AES-256-GCM sealed credential value.
func DecryptValue(ciphertext, nonce, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return plaintext, nil
}

// NewSessionToken generates an opaque session token. The plaintext is shown
// once to the caller; only its hash is persisted.
func NewSessionToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return sessionTokenPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashToken returns the SHA-256 hex hash of a plaintext token.
func HashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

// NewChallengeNonce generates a 32-byte random challenge nonce.
func NewChallengeNonce() ([]byte, error) {
	nonce := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating challenge nonce: %w", err)
	}
	return nonce, nil
}

// SignChallenge computes the expected response to a challenge nonce:
// HMAC-SHA256 over the nonce with the device key.
func SignChallenge(deviceKey, nonce []byte) []byte {
	mac := hmac.New(sha256.New, deviceKey)
	mac.Write(nonce)
	return mac.Sum(nil)
}

// VerifyChallengeResponse checks a challenge response in constant time.
func VerifyChallengeResponse(deviceKey, nonce, response []byte) bool {
	return hmac.Equal(SignChallenge(deviceKey, nonce), response)
}

// AdminTokenFor computes the admin token authorizing remote emergency-lock
// operations against a target device. The token binds to the device ID, so
// a token minted for one device cannot lock another.
func AdminTokenFor(rootSecret []byte, deviceID string) (string, error) {
	adminKey, err := deriveKey(rootSecret, adminKeyContext)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, adminKey)
	mac.Write([]byte(deviceID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// VerifyAdminToken checks an admin token against the target device in
// constant time.
func VerifyAdminToken(rootSecret []byte, deviceID, token string) bool {
	expected, err := AdminTokenFor(rootSecret, deviceID)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(token))
}

// Argon2id parameters for owner verification codes.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// HashOwnerCode hashes an owner verification code with argon2id and a random
// salt. The encoded form is self-describing: "argon2id$<salt>$<digest>".
func HashOwnerCode(code string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	digest := argon2.IDKey([]byte(code), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return "argon2id$" +
		base64.RawStdEncoding.EncodeToString(salt) + "$" +
		base64.RawStdEncoding.EncodeToString(digest), nil
}

// VerifyOwnerCode checks a verification code against its encoded hash in
// constant time.
func VerifyOwnerCode(code, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 3 || parts[0] != "argon2id" {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	digest, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	computed := argon2.IDKey([]byte(code), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return hmac.Equal(computed, digest)
}

// ParseRootSecret decodes a hex-encoded root secret and checks its length.
func ParseRootSecret(hexSecret string) ([]byte, error) {
	secret, err := hex.DecodeString(strings.TrimSpace(hexSecret))
	if err != nil {
		return nil, fmt.Errorf("decoding root secret: %w", err)
	}
	if len(secret) != 32 {
		return nil, errors.New("root secret must be 32 bytes")
	}
	return secret, nil
}
