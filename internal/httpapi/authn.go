package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"graindesk.io/internal/auth"
)

// publicPaths are reachable without a bearer token.
var publicPaths = map[string]bool{
	"/v1/auth/login": true,
	"/healthz":       true,
	"/readyz":        true,
	"/metrics":       true,
	"/":              true,
}

// withAuth verifies the bearer token, loads the principal and session and
// attaches them to the request context. Session liveness is checked last so
// a forced logout beats an otherwise valid token.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := extractBearerToken(r)
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "Authorization header with bearer token is required")
			return
		}

		principal, session, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, authFailureMessage(err))
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithSession(ctx, session)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func authFailureMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, auth.ErrInvalidToken):
		return "Invalid token"
	case errors.Is(err, auth.ErrNotFound):
		return "User not found"
	case errors.Is(err, auth.ErrAccountDeactivated):
		return "Account is deactivated"
	case errors.Is(err, auth.ErrAccountLocked):
		return "Account is locked"
	case errors.Is(err, auth.ErrSessionInvalid):
		return "Session is no longer active"
	default:
		return "Authentication failed"
	}
}
