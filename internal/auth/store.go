package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the access-control
// subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	Permissions(ctx context.Context) PermissionStore
	Sessions(ctx context.Context) SessionStore
}

// UserStore manages the identity slice of users this core consumes.
type UserStore interface {
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	// FindWithAccess resolves the user together with its role and the
	// role's active permissions in one composed read.
	FindWithAccess(ctx context.Context, id string) (*User, *Role, error)
	CountActiveByRole(ctx context.Context, roleID string) (int, error)
	RecordLoginFailure(ctx context.Context, id string) (int, error)
	ResetLoginFailures(ctx context.Context, id string) error
	SetLocked(ctx context.Context, id string, locked bool) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// RoleStore manages roles and their permission sets.
type RoleStore interface {
	// Create persists a new role; returns ErrDuplicateRole on a name
	// collision.
	Create(ctx context.Context, role *Role) error
	// Find returns the role with its permission set populated.
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context, filter RoleFilter) ([]Role, int, error)
	Update(ctx context.Context, role *Role) error
	// SetPermissions replaces the role's full permission set.
	SetPermissions(ctx context.Context, roleID string, permissionIDs []string) error
	SetActive(ctx context.Context, roleID string, active bool, updatedBy string) error
}

// PermissionStore manages the permission catalog.
type PermissionStore interface {
	// Ensure idempotently inserts missing catalog entries without
	// overwriting IsActive edits made after a previous seed run.
	Ensure(ctx context.Context, perms []Permission) error
	ListActive(ctx context.Context) ([]Permission, error)
	FindActiveByIDs(ctx context.Context, ids []string) ([]Permission, error)
	FindActiveByNames(ctx context.Context, names []string) ([]Permission, error)
}

// SessionStore manages session lifecycle. Sessions are terminated, never
// removed, except as a cascade when their owning user is hard-deleted.
type SessionStore interface {
	Create(ctx context.Context, session *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	// FindActive matches on owning user, exact token string and the
	// active flag; ErrNotFound means the token has been revoked.
	FindActive(ctx context.Context, userID, token string) (*Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Terminate(ctx context.Context, id string, reason LogoutReason, at time.Time) error
	TerminateAllForUser(ctx context.Context, userID string, reason LogoutReason, at time.Time) (int, error)
	ListStale(ctx context.Context, inactiveSince time.Time) ([]Session, error)
}
