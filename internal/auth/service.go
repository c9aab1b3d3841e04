package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"graindesk.io/internal/audit"
	"graindesk.io/internal/ids"
	"graindesk.io/internal/obs"
)

const defaultMaxLoginFailures = 5

// Service provides the access-control operations: catalog seeding, role
// management, session-backed authentication and forced invalidation.
type Service struct {
	store            Store
	tokens           *TokenSource
	audit            *audit.Recorder
	now              func() time.Time
	maxLoginFailures int
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithTokenSource enables bearer token issuance and verification.
func WithTokenSource(ts *TokenSource) ServiceOption {
	return func(s *Service) error {
		if ts == nil {
			return errors.New("token source is required")
		}
		s.tokens = ts
		return nil
	}
}

// WithAudit wires the audit recorder used for login/logout and role
// mutations.
func WithAudit(rec *audit.Recorder) ServiceOption {
	return func(s *Service) error {
		s.audit = rec
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithMaxLoginFailures sets the failed-attempt threshold that locks an
// account.
func WithMaxLoginFailures(n int) ServiceOption {
	return func(s *Service) error {
		if n > 0 {
			s.maxLoginFailures = n
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	svc := &Service{
		store:            store,
		now:              time.Now,
		maxLoginFailures: defaultMaxLoginFailures,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Initialize idempotently seeds the permission catalog and the protected
// default roles. Callers must treat failure as fatal: the process must not
// serve traffic with an incomplete permission set.
func (s *Service) Initialize(ctx context.Context) error {
	if err := s.store.Permissions(ctx).Ensure(ctx, Catalog()); err != nil {
		return fmt.Errorf("seed permissions: %w", err)
	}
	adminNames := make([]string, 0, len(Catalog()))
	for _, p := range Catalog() {
		adminNames = append(adminNames, p.Name)
	}
	if err := s.ensureDefaultRole(ctx, DefaultRoleAdmin, "Full access to every module", adminNames); err != nil {
		return err
	}
	return s.ensureDefaultRole(ctx, DefaultRoleOperator, "Read-only access", operatorPermissionNames())
}

func (s *Service) ensureDefaultRole(ctx context.Context, name, description string, permissionNames []string) error {
	roles := s.store.Roles(ctx)
	_, err := roles.FindByName(ctx, name)
	if err == nil {
		// Already seeded; leave operator edits alone.
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("lookup default role %s: %w", name, err)
	}

	perms, err := s.store.Permissions(ctx).FindActiveByNames(ctx, permissionNames)
	if err != nil {
		return fmt.Errorf("resolve default role permissions: %w", err)
	}
	now := s.now().UTC()
	role := &Role{
		ID:          ids.New(),
		Name:        name,
		Description: description,
		IsDefault:   true,
		IsActive:    true,
		CreatedBy:   "system",
		UpdatedBy:   "system",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := roles.Create(ctx, role); err != nil {
		if errors.Is(err, ErrDuplicateRole) {
			return nil
		}
		return fmt.Errorf("seed default role %s: %w", name, err)
	}
	permIDs := make([]string, 0, len(perms))
	for _, p := range perms {
		permIDs = append(permIDs, p.ID)
	}
	if err := roles.SetPermissions(ctx, role.ID, permIDs); err != nil {
		return fmt.Errorf("seed default role %s permissions: %w", name, err)
	}
	return nil
}

// AvailablePermissions returns active permissions grouped by module for
// administrative UIs.
func (s *Service) AvailablePermissions(ctx context.Context) ([]PermissionGroup, error) {
	perms, err := s.store.Permissions(ctx).ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return GroupByModule(perms), nil
}

// LoginResult carries everything a successful login produces.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Principal Principal
	Session   *Session
}

// Login verifies credentials, enforces lockout, and issues a token bound to
// a fresh session record.
func (s *Service) Login(ctx context.Context, email, password, ipAddress, userAgent string) (LoginResult, error) {
	if s.tokens == nil {
		return LoginResult{}, errors.New("token source is not configured")
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}
	users := s.store.Users(ctx)
	user, err := users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if !user.IsActive {
		return LoginResult{}, ErrAccountDeactivated
	}
	if user.IsLocked {
		return LoginResult{}, ErrAccountLocked
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		failures, ferr := users.RecordLoginFailure(ctx, user.ID)
		if ferr != nil {
			obs.LogError("record login failure", ferr, map[string]any{"user_id": user.ID})
		} else if failures >= s.maxLoginFailures {
			if lerr := users.SetLocked(ctx, user.ID, true); lerr != nil {
				obs.LogError("lock account", lerr, map[string]any{"user_id": user.ID})
			}
		}
		return LoginResult{}, ErrInvalidCredentials
	}
	if err := users.ResetLoginFailures(ctx, user.ID); err != nil {
		obs.LogError("reset login failures", err, map[string]any{"user_id": user.ID})
	}

	full, role, err := users.FindWithAccess(ctx, user.ID)
	if err != nil {
		return LoginResult{}, err
	}
	principal := NewPrincipal(full, role)

	token, expiresAt, err := s.tokens.Issue(user.ID, principal.RoleName())
	if err != nil {
		return LoginResult{}, err
	}
	now := s.now().UTC()
	session := &Session{
		ID:           ids.New(),
		UserID:       user.ID,
		Token:        token,
		IsActive:     true,
		LoginTime:    now,
		LastActivity: now,
		IPAddress:    ipAddress,
		UserAgent:    userAgent,
	}
	if err := s.store.Sessions(ctx).Create(ctx, session); err != nil {
		return LoginResult{}, err
	}
	s.recordAudit(ctx, audit.Entry{
		UserID:       user.ID,
		Action:       audit.ActionLogin,
		Module:       "auth",
		ResourceType: "Session",
		ResourceID:   session.ID,
		Description:  "User logged in",
		IPAddress:    ipAddress,
		UserAgent:    userAgent,
		SessionID:    session.ID,
	})
	return LoginResult{Token: token, ExpiresAt: expiresAt, Principal: principal, Session: session}, nil
}

// Authenticate runs the full authentication gate for a bearer token. The
// ordering is load-bearing: cryptographic verification first (cheap
// rejection before any store read), the session-liveness check last so
// revocation always wins over an otherwise valid token.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, *Session, error) {
	if s.tokens == nil {
		return Principal{}, nil, errors.New("token source is not configured")
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return Principal{}, nil, err
	}
	user, role, err := s.store.Users(ctx).FindWithAccess(ctx, claims.Subject)
	if err != nil {
		return Principal{}, nil, err
	}
	if !user.IsActive {
		return Principal{}, nil, ErrAccountDeactivated
	}
	if user.IsLocked {
		return Principal{}, nil, ErrAccountLocked
	}
	session, err := s.store.Sessions(ctx).FindActive(ctx, user.ID, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, nil, ErrSessionInvalid
		}
		return Principal{}, nil, err
	}
	now := s.now().UTC()
	if err := s.store.Sessions(ctx).Touch(ctx, session.ID, now); err != nil {
		// Activity stamping is best-effort; revocation does not depend on it.
		obs.LogError("touch session", err, map[string]any{"session_id": session.ID})
	}
	session.LastActivity = now
	return NewPrincipal(user, role), session, nil
}

// Logout terminates the caller's own session.
func (s *Service) Logout(ctx context.Context, session *Session) error {
	if session == nil {
		return ErrSessionInvalid
	}
	if err := s.store.Sessions(ctx).Terminate(ctx, session.ID, LogoutManual, s.now().UTC()); err != nil {
		return err
	}
	s.recordAudit(ctx, audit.Entry{
		UserID:       session.UserID,
		Action:       audit.ActionLogout,
		Module:       "auth",
		ResourceType: "Session",
		ResourceID:   session.ID,
		Description:  "User logged out",
		SessionID:    session.ID,
	})
	return nil
}

// ForceLogout terminates another user's session by id. The token bound to
// that session fails authentication immediately, regardless of its remaining
// signed lifetime.
func (s *Service) ForceLogout(ctx context.Context, sessionID string, actor Principal) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	sessions := s.store.Sessions(ctx)
	target, err := sessions.Find(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := sessions.Terminate(ctx, target.ID, LogoutForced, s.now().UTC()); err != nil {
		return err
	}
	s.recordAudit(ctx, audit.Entry{
		UserID:       actor.User.ID,
		Action:       audit.ActionUpdate,
		Module:       "auth",
		ResourceType: "Session",
		ResourceID:   target.ID,
		Description:  fmt.Sprintf("Forced logout of user %s", target.UserID),
	})
	return nil
}

// ResetUserPassword sets a new password and terminates all of the user's
// active sessions so previously issued tokens stop authenticating.
func (s *Service) ResetUserPassword(ctx context.Context, userID, newPassword string, actor Principal) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || strings.TrimSpace(newPassword) == "" {
		return 0, fmt.Errorf("%w: user id and new password are required", ErrInvalidInput)
	}
	users := s.store.Users(ctx)
	user, err := users.Find(ctx, userID)
	if err != nil {
		return 0, err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return 0, err
	}
	if err := users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return 0, err
	}
	if err := users.ResetLoginFailures(ctx, user.ID); err != nil {
		obs.LogError("reset login failures", err, map[string]any{"user_id": user.ID})
	}
	terminated, err := s.store.Sessions(ctx).TerminateAllForUser(ctx, user.ID, LogoutPasswordReset, s.now().UTC())
	if err != nil {
		return 0, err
	}
	s.recordAudit(ctx, audit.Entry{
		UserID:       actor.User.ID,
		Action:       audit.ActionUpdate,
		Module:       "auth",
		ResourceType: "User",
		ResourceID:   user.ID,
		Description:  fmt.Sprintf("Password reset by admin, %d session(s) terminated", terminated),
	})
	return terminated, nil
}

// CleanupReport summarizes a stale-session sweep. Partial failure is a
// normal, reported outcome rather than an error.
type CleanupReport struct {
	Terminated int      `json:"terminated"`
	Failed     []string `json:"failed,omitempty"`
}

// CleanupStaleSessions terminates sessions with no activity since the
// retention threshold, one by one.
func (s *Service) CleanupStaleSessions(ctx context.Context, inactiveFor time.Duration, actor Principal) (CleanupReport, error) {
	if inactiveFor <= 0 {
		return CleanupReport{}, fmt.Errorf("%w: retention must be positive", ErrInvalidInput)
	}
	now := s.now().UTC()
	sessions := s.store.Sessions(ctx)
	stale, err := sessions.ListStale(ctx, now.Add(-inactiveFor))
	if err != nil {
		return CleanupReport{}, err
	}
	var report CleanupReport
	for _, sess := range stale {
		if err := sessions.Terminate(ctx, sess.ID, LogoutExpired, now); err != nil {
			report.Failed = append(report.Failed, sess.ID)
			continue
		}
		report.Terminated++
	}
	s.recordAudit(ctx, audit.Entry{
		UserID:       actor.User.ID,
		Action:       audit.ActionDelete,
		Module:       "auth",
		ResourceType: "Session",
		Description:  fmt.Sprintf("Stale session cleanup terminated %d session(s)", report.Terminated),
	})
	return report, nil
}

// recordAudit writes an entry through the recorder when one is configured,
// enriching it with the caller's session.
func (s *Service) recordAudit(ctx context.Context, entry audit.Entry) {
	if s.audit == nil {
		return
	}
	if entry.SessionID == "" {
		if sess, ok := SessionFromContext(ctx); ok {
			entry.SessionID = sess.ID
		}
	}
	s.audit.Record(ctx, entry)
}
