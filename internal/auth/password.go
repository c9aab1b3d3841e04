package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost stays at the library default; raising it needs a rehash plan
// for stored credentials.
const bcryptCost = bcrypt.DefaultCost

// bcrypt reads at most 72 bytes of input.
const maxPasswordBytes = 72

// HashPassword hashes a plaintext password with bcrypt. Inputs past the
// bcrypt limit are rejected rather than silently truncated.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	if len(password) > maxPasswordBytes {
		return "", fmt.Errorf("%w: password exceeds %d bytes", ErrInvalidInput, maxPasswordBytes)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext candidate with the stored hash. Any
// mismatch, including an empty stored hash, reads as bad credentials.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
