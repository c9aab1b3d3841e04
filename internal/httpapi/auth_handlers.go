package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"graindesk.io/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	result, err := a.auth.Login(r.Context(), req.Email, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeError(w, r, http.StatusUnauthorized, "Invalid email or password")
		case errors.Is(err, auth.ErrAccountDeactivated):
			writeError(w, r, http.StatusUnauthorized, "Account is deactivated")
		case errors.Is(err, auth.ErrAccountLocked):
			writeError(w, r, http.StatusUnauthorized, "Account is locked")
		default:
			writeError(w, r, http.StatusInternalServerError, "login failed")
		}
		return
	}

	writeMessage(w, http.StatusOK, "Login successful", map[string]any{
		"token":      result.Token,
		"expires_at": result.ExpiresAt.UTC().Format(time.RFC3339),
		"user":       principalView(result.Principal),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	session, ok := auth.SessionFromContext(r.Context())
	if !ok || session == nil {
		writeError(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}
	if err := a.auth.Logout(r.Context(), session); err != nil {
		writeError(w, r, http.StatusInternalServerError, "logout failed")
		return
	}
	writeMessage(w, http.StatusOK, "Logged out", nil)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeData(w, http.StatusOK, principalView(p))
}

// handleSessionResource serves /v1/sessions/{id}/logout and
// /v1/sessions/cleanup. Both are administrative.
func (a *API) handleSessionResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	if rest == "cleanup" {
		a.handleSessionCleanup(w, r)
		return
	}

	parts := strings.Split(rest, "/")
	if len(parts) == 2 && parts[1] == "logout" && parts[0] != "" {
		a.handleForceLogout(w, r, parts[0])
		return
	}
	writeError(w, r, http.StatusNotFound, "resource not found")
}

func (a *API) handleForceLogout(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, auth.PermUsersUpdate) {
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	if err := a.auth.ForceLogout(r.Context(), sessionID, p); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "could not terminate session")
		return
	}
	writeMessage(w, http.StatusOK, "Session terminated", nil)
}

type cleanupRequest struct {
	RetentionHours int `json:"retention_hours"`
}

func (a *API) handleSessionCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, auth.PermUsersUpdate) {
		return
	}

	// the body is optional; absent means the default retention. Branching
	// on the decode result keeps chunked bodies (unknown ContentLength)
	// from being ignored.
	retention := a.defaultRetention
	var req cleanupRequest
	switch err := decodeJSON(w, r, &req); {
	case errors.Is(err, errEmptyBody):
	case err != nil:
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	default:
		if req.RetentionHours < 0 {
			writeError(w, r, http.StatusBadRequest, "retention_hours must not be negative")
			return
		}
		if req.RetentionHours > 0 {
			retention = time.Duration(req.RetentionHours) * time.Hour
		}
	}

	p, _ := auth.PrincipalFromContext(r.Context())
	report, err := a.auth.CleanupStaleSessions(r.Context(), retention, p)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "cleanup failed")
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"terminated": report.Terminated,
		"failed":     report.Failed,
	})
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

// handleUserResource serves /v1/users/{id}/reset-password.
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "reset-password" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, auth.PermUsersUpdate) {
		return
	}

	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.NewPassword) < 8 {
		writeError(w, r, http.StatusBadRequest, "new_password must be at least 8 characters")
		return
	}

	p, _ := auth.PrincipalFromContext(r.Context())
	terminated, err := a.auth.ResetUserPassword(r.Context(), parts[0], req.NewPassword, p)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "User not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "could not reset password")
		return
	}
	writeMessage(w, http.StatusOK, "Password reset", map[string]any{
		"terminated_sessions": terminated,
	})
}

func principalView(p auth.Principal) map[string]any {
	view := map[string]any{
		"permissions": p.PermissionNames(),
	}
	if p.User != nil {
		view["id"] = p.User.ID
		view["email"] = p.User.Email
		view["full_name"] = p.User.FullName
	}
	if p.Role != nil {
		view["role"] = map[string]any{
			"id":   p.Role.ID,
			"name": p.Role.Name,
		}
	}
	return view
}
