package auth

import "sort"

// Principal represents an authenticated user with its role and effective
// permission set resolved for the current request. The set is computed fresh
// on every authentication, so role edits take effect without re-issuing
// tokens.
type Principal struct {
	User        *User
	Role        *Role
	Permissions map[string]struct{}
}

// NewPrincipal constructs a principal with a precomputed permission set.
func NewPrincipal(user *User, role *Role) Principal {
	set := make(map[string]struct{})
	if role != nil {
		for _, p := range role.Permissions {
			if p.IsActive {
				set[p.Name] = struct{}{}
			}
		}
	}
	return Principal{User: user, Role: role, Permissions: set}
}

// HasPermission reports whether the principal holds the named permission.
func (p Principal) HasPermission(name string) bool {
	_, ok := p.Permissions[name]
	return ok
}

// HasAnyPermission reports whether at least one of the names is held.
func (p Principal) HasAnyPermission(names ...string) bool {
	for _, n := range names {
		if p.HasPermission(n) {
			return true
		}
	}
	return false
}

// MissingPermission returns the first name not held, if any.
func (p Principal) MissingPermission(names ...string) (string, bool) {
	for _, n := range names {
		if !p.HasPermission(n) {
			return n, true
		}
	}
	return "", false
}

// RoleName returns the principal's role name, empty when unresolved.
func (p Principal) RoleName() string {
	if p.Role == nil {
		return ""
	}
	return p.Role.Name
}

// PermissionNames returns the sorted effective permission names.
func (p Principal) PermissionNames() []string {
	out := make([]string, 0, len(p.Permissions))
	for name := range p.Permissions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
