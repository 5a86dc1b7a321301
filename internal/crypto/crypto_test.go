package crypto

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"
)

func TestGenerateRootSecret(t *testing.T) {
	secret, err := GenerateRootSecret()
	if err != nil {
		t.Fatalf("GenerateRootSecret failed: %v", err)
	}
	if len(secret) != 32 {
		t.Errorf("expected 32 bytes, got %d", len(secret))
	}
	// Secrets should be random
	secret2, _ := GenerateRootSecret()
	if bytes.Equal(secret, secret2) {
		t.Error("two root secrets should not be equal")
	}
}

func TestKeyDerivation(t *testing.T) {
	root, _ := GenerateRootSecret()

	key, err := DeriveStorageKey(root)
	if err != nil {
		t.Fatalf("DeriveStorageKey failed: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("expected 32 bytes, got %d", len(key))
	}
	// Same inputs → same key (deterministic)
	key2, _ := DeriveStorageKey(root)
	if !bytes.Equal(key, key2) {
		t.Error("storage key derivation should be deterministic")
	}

	// Different devices → different keys
	devA, _ := DeriveDeviceKey(root, "device-a")
	devB, _ := DeriveDeviceKey(root, "device-b")
	if bytes.Equal(devA, devB) {
		t.Error("different devices should yield different keys")
	}
	if bytes.Equal(key, devA) {
		t.Error("storage and device keys should differ")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, _ := GenerateRootSecret()
	plaintext := []byte(`{"action_id":"payout-123","approved":true}`)

	ciphertext, nonce, err := EncryptValue(plaintext, key)
	if err != nil {
		t.Fatalf("EncryptValue failed: %v", err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Error("ciphertext should differ from plaintext")
	}

	decrypted, err := DecryptValue(ciphertext, nonce, key)
	if err != nil {
		t.Fatalf("DecryptValue failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("decrypted %q != original %q", decrypted, plaintext)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	key, _ := GenerateRootSecret()
	wrongKey, _ := GenerateRootSecret()

	ciphertext, nonce, _ := EncryptValue([]byte("sensitive"), key)
	if _, err := DecryptValue(ciphertext, nonce, wrongKey); err == nil {
		t.Error("expected error decrypting with wrong key")
	}
}

func TestSessionToken(t *testing.T) {
	tok, err := NewSessionToken()
	if err != nil {
		t.Fatalf("NewSessionToken failed: %v", err)
	}
	if !strings.HasPrefix(tok, "agt_") {
		t.Errorf("token %q missing agt_ prefix", tok)
	}
	tok2, _ := NewSessionToken()
	if tok == tok2 {
		t.Error("two session tokens should not be equal")
	}

	h1 := HashToken(tok)
	h2 := HashToken(tok)
	if h1 != h2 {
		t.Error("token hashing should be deterministic")
	}
	if h1 == HashToken(tok2) {
		t.Error("different tokens should hash differently")
	}
}

func TestChallengeSignVerify(t *testing.T) {
	root, _ := GenerateRootSecret()
	deviceKey, _ := DeriveDeviceKey(root, "phone-1")
	nonce, err := NewChallengeNonce()
	if err != nil {
		t.Fatalf("NewChallengeNonce failed: %v", err)
	}

	response := SignChallenge(deviceKey, nonce)
	if !VerifyChallengeResponse(deviceKey, nonce, response) {
		t.Error("valid response should verify")
	}

	otherKey, _ := DeriveDeviceKey(root, "phone-2")
	if VerifyChallengeResponse(otherKey, nonce, response) {
		t.Error("response signed with another device key should not verify")
	}

	otherNonce, _ := NewChallengeNonce()
	if VerifyChallengeResponse(deviceKey, otherNonce, response) {
		t.Error("response for another nonce should not verify")
	}
}

func TestAdminTokenBinding(t *testing.T) {
	root, _ := GenerateRootSecret()
	token, err := AdminTokenFor(root, "phone-1")
	if err != nil {
		t.Fatalf("AdminTokenFor failed: %v", err)
	}
	if !VerifyAdminToken(root, "phone-1", token) {
		t.Error("admin token should verify for its own device")
	}
	// A token minted for one device must not lock another
	if VerifyAdminToken(root, "phone-2", token) {
		t.Error("admin token should not verify for a different device")
	}
	if VerifyAdminToken(root, "phone-1", "bogus") {
		t.Error("garbage token should not verify")
	}
}

func TestOwnerCodeHashVerify(t *testing.T) {
	encoded, err := HashOwnerCode("correct-horse-battery")
	if err != nil {
		t.Fatalf("HashOwnerCode failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "argon2id$") {
		t.Errorf("encoded hash %q missing argon2id prefix", encoded)
	}
	if !VerifyOwnerCode("correct-horse-battery", encoded) {
		t.Error("correct code should verify")
	}
	if VerifyOwnerCode("wrong-code", encoded) {
		t.Error("wrong code should not verify")
	}
	if VerifyOwnerCode("correct-horse-battery", "not$a$hash") {
		t.Error("malformed hash should not verify")
	}

	// Salted: same code hashes differently each time
	encoded2, _ := HashOwnerCode("correct-horse-battery")
	if encoded == encoded2 {
		t.Error("two hashes of the same code should differ")
	}
}

func TestParseRootSecret(t *testing.T) {
	secret, _ := GenerateRootSecret()
	parsed, err := ParseRootSecret(hex.EncodeToString(secret))
	if err != nil {
		t.Fatalf("ParseRootSecret failed: %v", err)
	}
	if !bytes.Equal(parsed, secret) {
		t.Error("parsed secret should match original")
	}

	if _, err := ParseRootSecret("abcd"); err == nil {
		t.Error("short secret should be rejected")
	}
	if _, err := ParseRootSecret("not hex"); err == nil {
		t.Error("non-hex secret should be rejected")
	}
}
