package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
)

// CookieSigner signs and verifies the session cookie cargohold's web UI
// hands out after login. The cookie value is the session ID with an
// HMAC-SHA256 tag appended, so a tampered or forged session ID is
// rejected before a database lookup is even attempted.
type CookieSigner struct {
	key []byte
}

// NewCookieSigner creates a CookieSigner using key as the HMAC key. The
// key should be at least 32 bytes.
func NewCookieSigner(key []byte) *CookieSigner {
	return &CookieSigner{key: key}
}

// Sign returns the cookie value for sessionID: "<sessionID>.<tag>".
func (s *CookieSigner) Sign(sessionID string) string {
	tag := s.tag(sessionID)
	return sessionID + "." + base64.RawURLEncoding.EncodeToString(tag)
}

// Verify recovers the session ID from a cookie value produced by Sign,
// rejecting it if the tag doesn't match.
func (s *CookieSigner) Verify(cookie string) (string, error) {
	idx := strings.LastIndex(cookie, ".")
	if idx < 0 {
		return "", fmt.Errorf("malformed session cookie")
	}
	sessionID, encTag := cookie[:idx], cookie[idx+1:]

	tag, err := base64.RawURLEncoding.DecodeString(encTag)
	if err != nil {
		return "", fmt.Errorf("malformed session cookie tag: %w", err)
	}

	want := s.tag(sessionID)
	if subtle.ConstantTimeCompare(tag, want) != 1 {
		return "", fmt.Errorf("session cookie signature mismatch")
	}
	return sessionID, nil
}

func (s *CookieSigner) tag(sessionID string) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(sessionID))
	return mac.Sum(nil)
}

// GenerateSessionID returns a random, URL-safe session identifier.
func GenerateSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateAPIToken returns a random API token secret and its sha256 hash
// for storage, matching Token.Hash.
func GenerateAPIToken() (secret, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generating token: %w", err)
	}
	secret = base64.RawURLEncoding.EncodeToString(buf)
	sum := sha256.Sum256([]byte(secret))
	hash = base64.RawURLEncoding.EncodeToString(sum[:])
	return secret, hash, nil
}

// HashToken hashes a presented token secret for lookup against Token.Hash.
func HashToken(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
