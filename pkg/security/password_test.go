package security

import "testing"

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	ok, upgrade, err := VerifyPassword("correct horse battery staple", hash)
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if !ok {
		t.Error("expected password to verify")
	}
	if upgrade {
		t.Error("bcrypt hash should never request an upgrade")
	}
}

func TestVerifyPasswordWrongPassword(t *testing.T) {
	hash, _ := HashPassword("right-password")

	ok, _, err := VerifyPassword("wrong-password", hash)
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if ok {
		t.Error("expected mismatched password to fail verification")
	}
}

func TestVerifyLegacyHashUpgrades(t *testing.T) {
	legacy, err := NewLegacyHash("my-password")
	if err != nil {
		t.Fatalf("NewLegacyHash() error = %v", err)
	}

	ok, upgrade, err := VerifyPassword("my-password", legacy)
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if !ok {
		t.Error("expected legacy password to verify")
	}
	if !upgrade {
		t.Error("expected legacy hash to request an upgrade")
	}
}

func TestVerifyLegacyHashWrongPassword(t *testing.T) {
	legacy, _ := NewLegacyHash("my-password")

	ok, upgrade, err := VerifyPassword("not-my-password", legacy)
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if ok || upgrade {
		t.Error("expected mismatched legacy password to fail without upgrade")
	}
}
