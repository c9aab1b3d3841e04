package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestPasswordHashAndVerify(t *testing.T) {
	hash, err := HashPassword("grain-and-silos")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "grain-and-silos"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if err := VerifyPassword("", "grain-and-silos"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty hash: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestHashPasswordRejectsBadInput(t *testing.T) {
	if _, err := HashPassword(""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty: expected ErrInvalidInput, got %v", err)
	}
	long := strings.Repeat("x", maxPasswordBytes+1)
	if _, err := HashPassword(long); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("oversized: expected ErrInvalidInput, got %v", err)
	}
}
