package auth

import "time"

// LogoutReason records why a session was terminated.
type LogoutReason string

const (
	LogoutManual        LogoutReason = "manual"
	LogoutPasswordReset LogoutReason = "password_reset_by_admin"
	LogoutExpired       LogoutReason = "expired"
	LogoutForced        LogoutReason = "forced"
)

// Permission is a fine-grained capability named "module.action".
type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Module      string    `json:"module"`
	Action      string    `json:"action"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Role bundles permissions. Roles with IsDefault set are seeded by the
// system and protected from structural modification and deletion.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
	IsDefault   bool         `json:"is_default"`
	IsActive    bool         `json:"is_active"`
	CreatedBy   string       `json:"created_by,omitempty"`
	UpdatedBy   string       `json:"updated_by,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// User holds the identity fields the access-control core depends on. Each
// user carries exactly one role; effective permissions are recomputed from
// that role on every check.
type User struct {
	ID                  string    `json:"id"`
	Email               string    `json:"email"`
	FullName            string    `json:"full_name,omitempty"`
	RoleID              string    `json:"role_id"`
	IsActive            bool      `json:"is_active"`
	IsLocked            bool      `json:"is_locked"`
	FailedLoginAttempts int       `json:"-"`
	PasswordHash        string    `json:"-"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Session binds one issued bearer token to one user. A session is valid for
// authentication only while IsActive is set; terminating it revokes the
// token regardless of the token's remaining signed lifetime.
type Session struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	Token        string       `json:"-"`
	IsActive     bool         `json:"is_active"`
	LoginTime    time.Time    `json:"login_time"`
	LastActivity time.Time    `json:"last_activity"`
	LogoutTime   *time.Time   `json:"logout_time,omitempty"`
	LogoutReason LogoutReason `json:"logout_reason,omitempty"`
	IPAddress    string       `json:"ip_address,omitempty"`
	UserAgent    string       `json:"user_agent,omitempty"`
}

// RoleFilter narrows role listings.
type RoleFilter struct {
	// Search matches name or description, case-insensitive substring.
	Search string
	// Active filters by activation state when non-nil.
	Active *bool
	Limit  int
	Skip   int
}

// RoleUpdate carries the fields of an update request; nil fields are left
// untouched.
type RoleUpdate struct {
	Name        *string
	Description *string
	Permissions *[]string
}
