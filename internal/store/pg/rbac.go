package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"graindesk.io/internal/auth"
	"graindesk.io/internal/ids"
)

// User store ---------------------------------------------------------------

type userStore struct{ db *sql.DB }

const userColumns = `id, email, full_name, role_id, is_active, is_locked, failed_login_attempts, password_hash, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.RoleID, &u.IsActive, &u.IsLocked,
		&u.FailedLoginAttempts, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email)
	return scanUser(row)
}

func (s *userStore) FindWithAccess(ctx context.Context, id string) (*auth.User, *auth.Role, error) {
	row := s.db.QueryRowContext(ctx, `
		select u.id, u.email, u.full_name, u.role_id, u.is_active, u.is_locked,
		       u.failed_login_attempts, u.password_hash, u.created_at, u.updated_at,
		       r.id, r.name, r.description, r.is_default, r.is_active, r.created_by, r.updated_by, r.created_at, r.updated_at
		from users u
		join roles r on r.id = u.role_id
		where u.id=$1
	`, id)
	var (
		u auth.User
		r auth.Role
	)
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.RoleID, &u.IsActive, &u.IsLocked,
		&u.FailedLoginAttempts, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
		&r.ID, &r.Name, &r.Description, &r.IsDefault, &r.IsActive, &r.CreatedBy, &r.UpdatedBy, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	perms, err := rolePermissions(ctx, s.db, r.ID)
	if err != nil {
		return nil, nil, err
	}
	r.Permissions = perms
	return &u, &r, nil
}

func (s *userStore) CountActiveByRole(ctx context.Context, roleID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`select count(*) from users where role_id=$1 and is_active`, roleID).Scan(&count)
	return count, err
}

func (s *userStore) RecordLoginFailure(ctx context.Context, id string) (int, error) {
	var failures int
	err := s.db.QueryRowContext(ctx, `
		update users set failed_login_attempts = failed_login_attempts + 1, updated_at = now()
		where id=$1
		returning failed_login_attempts
	`, id).Scan(&failures)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, auth.ErrNotFound
	}
	return failures, err
}

func (s *userStore) ResetLoginFailures(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`update users set failed_login_attempts = 0, updated_at = now() where id=$1`, id)
	return err
}

func (s *userStore) SetLocked(ctx context.Context, id string, locked bool) error {
	_, err := s.db.ExecContext(ctx,
		`update users set is_locked=$2, updated_at = now() where id=$1`, id, locked)
	return err
}

func (s *userStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at = now() where id=$1`, id, passwordHash)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// Role store ---------------------------------------------------------------

type roleStore struct{ db *sql.DB }

const roleColumns = `id, name, description, is_default, is_active, created_by, updated_by, created_at, updated_at`

func scanRole(row interface{ Scan(...any) error }) (*auth.Role, error) {
	var r auth.Role
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.IsDefault, &r.IsActive,
		&r.CreatedBy, &r.UpdatedBy, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *roleStore) Create(ctx context.Context, role *auth.Role) error {
	_, err := s.db.ExecContext(ctx, `
		insert into roles (id, name, description, is_default, is_active, created_by, updated_by)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, role.ID, role.Name, role.Description, role.IsDefault, role.IsActive, role.CreatedBy, role.UpdatedBy)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrDuplicateRole
		}
		return err
	}
	return nil
}

func (s *roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+roleColumns+` from roles where id=$1`, id)
	role, err := scanRole(row)
	if err != nil {
		return nil, err
	}
	perms, err := rolePermissions(ctx, s.db, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return role, nil
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+roleColumns+` from roles where name=$1`, name)
	role, err := scanRole(row)
	if err != nil {
		return nil, err
	}
	perms, err := rolePermissions(ctx, s.db, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return role, nil
}

func (s *roleStore) List(ctx context.Context, filter auth.RoleFilter) ([]auth.Role, int, error) {
	var (
		where []string
		args  []any
		idx   = 1
	)
	if search := strings.TrimSpace(filter.Search); search != "" {
		where = append(where, fmt.Sprintf("(name ilike $%d or description ilike $%d)", idx, idx))
		args = append(args, "%"+search+"%")
		idx++
	}
	if filter.Active != nil {
		where = append(where, fmt.Sprintf("is_active = $%d", idx))
		args = append(args, *filter.Active)
		idx++
	}
	clause := ""
	if len(where) > 0 {
		clause = " where " + strings.Join(where, " and ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from roles`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`select `+roleColumns+` from roles%s order by created_at desc limit $%d offset $%d`,
		clause, idx, idx+1)
	args = append(args, filter.Limit, filter.Skip)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var roles []auth.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, 0, err
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range roles {
		perms, err := rolePermissions(ctx, s.db, roles[i].ID)
		if err != nil {
			return nil, 0, err
		}
		roles[i].Permissions = perms
	}
	return roles, total, nil
}

func (s *roleStore) Update(ctx context.Context, role *auth.Role) error {
	res, err := s.db.ExecContext(ctx, `
		update roles set name=$2, description=$3, updated_by=$4, updated_at=$5
		where id=$1
	`, role.ID, role.Name, role.Description, role.UpdatedBy, role.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrDuplicateRole
		}
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *roleStore) SetPermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id=$1`, roleID); err != nil {
		return err
	}
	for _, pid := range permissionIDs {
		if _, err := tx.ExecContext(ctx,
			`insert into role_permissions (role_id, permission_id) values ($1,$2)`, roleID, pid); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *roleStore) SetActive(ctx context.Context, roleID string, active bool, updatedBy string) error {
	res, err := s.db.ExecContext(ctx, `
		update roles set is_active=$2, updated_by=$3, updated_at=now() where id=$1
	`, roleID, active, updatedBy)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func rolePermissions(ctx context.Context, db *sql.DB, roleID string) ([]auth.Permission, error) {
	rows, err := db.QueryContext(ctx, `
		select p.id, p.name, p.module, p.action, p.description, p.is_active, p.created_at
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		where rp.role_id=$1
		order by p.module, p.action
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Module, &p.Action, &p.Description, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// Permission store ---------------------------------------------------------

type permissionStore struct{ db *sql.DB }

func (s *permissionStore) Ensure(ctx context.Context, perms []auth.Permission) error {
	for _, p := range perms {
		id := p.ID
		if id == "" {
			id = ids.New()
		}
		// on conflict do nothing keeps manual is_active edits intact
		_, err := s.db.ExecContext(ctx, `
			insert into permissions (id, name, module, action, description, is_active)
			values ($1,$2,$3,$4,$5,$6)
			on conflict (name) do nothing
		`, id, p.Name, p.Module, p.Action, p.Description, p.IsActive)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *permissionStore) ListActive(ctx context.Context) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, module, action, description, is_active, created_at
		from permissions
		where is_active
		order by module, action
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

func (s *permissionStore) FindActiveByIDs(ctx context.Context, ids []string) ([]auth.Permission, error) {
	var perms []auth.Permission
	for _, id := range ids {
		row := s.db.QueryRowContext(ctx, `
			select id, name, module, action, description, is_active, created_at
			from permissions
			where id=$1 and is_active
		`, id)
		var p auth.Permission
		err := row.Scan(&p.ID, &p.Name, &p.Module, &p.Action, &p.Description, &p.IsActive, &p.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, nil
}

func (s *permissionStore) FindActiveByNames(ctx context.Context, names []string) ([]auth.Permission, error) {
	var perms []auth.Permission
	for _, name := range names {
		row := s.db.QueryRowContext(ctx, `
			select id, name, module, action, description, is_active, created_at
			from permissions
			where name=$1 and is_active
		`, name)
		var p auth.Permission
		err := row.Scan(&p.ID, &p.Name, &p.Module, &p.Action, &p.Description, &p.IsActive, &p.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, nil
}

func collectPermissions(rows *sql.Rows) ([]auth.Permission, error) {
	var perms []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Module, &p.Action, &p.Description, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// Session store ------------------------------------------------------------

type sessionStore struct{ db *sql.DB }

const sessionColumns = `id, user_id, token, is_active, login_time, last_activity, logout_time, logout_reason, ip_address, user_agent`

func scanSession(row interface{ Scan(...any) error }) (*auth.Session, error) {
	var (
		sess   auth.Session
		logout sql.NullTime
		reason sql.NullString
	)
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Token, &sess.IsActive, &sess.LoginTime,
		&sess.LastActivity, &logout, &reason, &sess.IPAddress, &sess.UserAgent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if logout.Valid {
		t := logout.Time
		sess.LogoutTime = &t
	}
	if reason.Valid {
		sess.LogoutReason = auth.LogoutReason(reason.String)
	}
	return &sess, nil
}

func (s *sessionStore) Create(ctx context.Context, session *auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_sessions (id, user_id, token, is_active, login_time, last_activity, ip_address, user_agent)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, session.ID, session.UserID, session.Token, session.IsActive,
		session.LoginTime, session.LastActivity, session.IPAddress, session.UserAgent)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *sessionStore) Find(ctx context.Context, id string) (*auth.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from user_sessions where id=$1`, id)
	return scanSession(row)
}

func (s *sessionStore) FindActive(ctx context.Context, userID, token string) (*auth.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from user_sessions where user_id=$1 and token=$2 and is_active`, userID, token)
	return scanSession(row)
}

func (s *sessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update user_sessions set last_activity=$2 where id=$1`, id, at)
	return err
}

func (s *sessionStore) Terminate(ctx context.Context, id string, reason auth.LogoutReason, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		update user_sessions set is_active=false, logout_time=$2, logout_reason=$3
		where id=$1 and is_active
	`, id, at, string(reason))
	return err
}

func (s *sessionStore) TerminateAllForUser(ctx context.Context, userID string, reason auth.LogoutReason, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		update user_sessions set is_active=false, logout_time=$2, logout_reason=$3
		where user_id=$1 and is_active
	`, userID, at, string(reason))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *sessionStore) ListStale(ctx context.Context, inactiveSince time.Time) ([]auth.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+sessionColumns+` from user_sessions where is_active and last_activity < $1`, inactiveSince)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []auth.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}
