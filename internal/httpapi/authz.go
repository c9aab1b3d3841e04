package httpapi

import (
	"net/http"
	"strings"

	"graindesk.io/internal/audit"
	"graindesk.io/internal/auth"
	"graindesk.io/internal/obs"
)

// RequirePermission admits only principals that hold the named permission.
func (a *API) RequirePermission(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.ensurePermission(w, r, name) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyPermission admits principals holding at least one of the names.
func (a *API) RequireAnyPermission(names ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := a.principal(w, r)
			if !ok {
				return
			}
			if !p.HasAnyPermission(names...) {
				a.deny(r, "permission", "Permission", strings.Join(names, ","), nil)
				writeError(w, r, http.StatusForbidden, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAllPermissions admits principals holding every one of the names.
func (a *API) RequireAllPermissions(names ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := a.principal(w, r)
			if !ok {
				return
			}
			if missing, ok := p.MissingPermission(names...); ok {
				a.deny(r, "permission", "Permission", missing, nil)
				writeError(w, r, http.StatusForbidden, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole admits only principals whose role matches one of the names.
func (a *API) RequireRole(names ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := a.principal(w, r)
			if !ok {
				return
			}
			role := p.RoleName()
			for _, n := range names {
				if role == n {
					next.ServeHTTP(w, r)
					return
				}
			}
			a.deny(r, "role", "Role", strings.Join(names, ","), map[string]any{
				"required_roles": names,
				"actual_role":    role,
			})
			writeError(w, r, http.StatusForbidden, "Insufficient permissions")
		})
	}
}

// ensurePermission is the in-handler variant used where one route serves
// multiple methods with different permission requirements. It writes the
// response on failure and reports whether the request may proceed.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, name string) bool {
	p, ok := a.principal(w, r)
	if !ok {
		return false
	}
	if !p.HasPermission(name) {
		a.deny(r, "permission", "Permission", name, nil)
		writeError(w, r, http.StatusForbidden, "Insufficient permissions")
		return false
	}
	return true
}

func (a *API) principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Authentication required")
		return auth.Principal{}, false
	}
	if p.Role == nil {
		// corrupted access state; refuse rather than guess
		writeError(w, r, http.StatusInternalServerError, "Authorization failed")
		return auth.Principal{}, false
	}
	return p, true
}

// deny records exactly one audit entry for a refused authorization check.
// details, when present, lands in NewValues with the check specifics.
func (a *API) deny(r *http.Request, policy, resourceType, resourceID string, details map[string]any) {
	obs.CountAuthDenial(policy)
	if a.audit == nil {
		return
	}
	entry := audit.Entry{
		Action:       audit.ActionRead,
		Module:       "auth",
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Description:  "permission denied",
		NewValues:    details,
		IPAddress:    clientIP(r),
		UserAgent:    r.UserAgent(),
	}
	if p, ok := auth.PrincipalFromContext(r.Context()); ok && p.User != nil {
		entry.UserID = p.User.ID
	}
	if s, ok := auth.SessionFromContext(r.Context()); ok && s != nil {
		entry.SessionID = s.ID
	}
	a.audit.Record(r.Context(), entry)
}
