package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// legacyPrefix marks a User.PasswordHash produced by the pre-bcrypt
// salted-SHA-256 scheme this registry's accounts were originally created
// under, stored as "sha256$<salt>$<hex digest of sha256(password+salt)>".
const legacyPrefix = "sha256$"

// HashPassword hashes a plaintext password for storage with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks password against stored, which may be either a
// bcrypt hash or a legacy sha256$salt$digest hash. It returns whether the
// password matched and whether the caller should call HashPassword and
// persist the result, since a legacy hash verified successfully is
// upgraded to bcrypt in place.
func VerifyPassword(password, stored string) (ok bool, shouldUpgrade bool, err error) {
	if strings.HasPrefix(stored, legacyPrefix) {
		matched, err := verifyLegacy(password, stored)
		if err != nil {
			return false, false, err
		}
		return matched, matched, nil
	}

	err = bcrypt.CompareHashAndPassword([]byte(stored), []byte(password))
	if err == bcrypt.ErrMismatchedHashAndPassword {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("comparing password hash: %w", err)
	}
	return true, false, nil
}

func verifyLegacy(password, stored string) (bool, error) {
	parts := strings.SplitN(stored, "$", 3)
	if len(parts) != 3 {
		return false, fmt.Errorf("malformed legacy password hash")
	}
	salt, want := parts[1], parts[2]
	got := hashLegacy(password, salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1, nil
}

func hashLegacy(password, salt string) string {
	sum := sha256.Sum256([]byte(password + salt))
	return hex.EncodeToString(sum[:])
}

// generateSalt produces a random hex salt for use in tests that need to
// construct a legacy-format hash.
func generateSalt(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// NewLegacyHash builds a "sha256$salt$digest" hash, used by tests to
// seed fixtures resembling pre-upgrade accounts.
func NewLegacyHash(password string) (string, error) {
	salt, err := generateSalt(5)
	if err != nil {
		return "", err
	}
	return legacyPrefix + salt + "$" + hashLegacy(password, salt), nil
}
