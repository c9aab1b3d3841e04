package auth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrDuplicateRole      = errors.New("role name already exists")
	ErrDefaultRole        = errors.New("default roles cannot be modified or deleted")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDeactivated = errors.New("account is deactivated")
	ErrAccountLocked      = errors.New("account is locked")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrSessionInvalid     = errors.New("session is no longer active")
)

// RoleInUseError blocks role deletion while active users still hold it.
type RoleInUseError struct {
	Count int
}

func (e *RoleInUseError) Error() string {
	return fmt.Sprintf("role is assigned to %d active user(s) and cannot be deleted", e.Count)
}

// InvalidPermissionsError names permission ids that did not resolve to an
// active permission.
type InvalidPermissionsError struct {
	IDs []string
}

func (e *InvalidPermissionsError) Error() string {
	return fmt.Sprintf("invalid or inactive permissions: %s", strings.Join(e.IDs, ", "))
}
