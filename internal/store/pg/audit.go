package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"graindesk.io/internal/audit"
)

var _ audit.Store = (*AuditStore)(nil)

// AuditStore persists audit entries. Append-only by contract: no update or
// delete statements exist here.
type AuditStore struct {
	db *sql.DB
}

// Audit returns the audit log store sharing this connection pool.
func (s *Store) Audit() *AuditStore { return &AuditStore{db: s.db} }

// NewAuditStore wraps an existing connection (used by tests with sqlmock).
func NewAuditStore(db *sql.DB) *AuditStore { return &AuditStore{db: db} }

func (s *AuditStore) Append(ctx context.Context, entry *audit.Entry) error {
	oldValues, err := marshalValues(entry.OldValues)
	if err != nil {
		return fmt.Errorf("marshal old values: %w", err)
	}
	newValues, err := marshalValues(entry.NewValues)
	if err != nil {
		return fmt.Errorf("marshal new values: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_log (id, user_id, action, module, resource_type, resource_id,
			description, old_values, new_values, ip_address, user_agent, session_id, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, entry.ID, entry.UserID, string(entry.Action), entry.Module, entry.ResourceType,
		entry.ResourceID, entry.Description, oldValues, newValues,
		entry.IPAddress, entry.UserAgent, nullString(entry.SessionID), entry.CreatedAt)
	return err
}

func (s *AuditStore) List(ctx context.Context, filter audit.Filter) ([]audit.Entry, int, error) {
	var (
		where []string
		args  []any
		idx   = 1
	)
	add := func(clause string, value any) {
		where = append(where, fmt.Sprintf(clause, idx))
		args = append(args, value)
		idx++
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.Module != "" {
		add("module = $%d", filter.Module)
	}
	if filter.Action != "" {
		add("action = $%d", string(filter.Action))
	}
	if filter.ResourceType != "" {
		add("resource_type = $%d", filter.ResourceType)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at <= $%d", filter.To)
	}
	clause := ""
	if len(where) > 0 {
		clause = " where " + strings.Join(where, " and ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from audit_log`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		select id, user_id, action, module, resource_type, resource_id, description,
		       old_values, new_values, ip_address, user_agent, session_id, created_at
		from audit_log%s
		order by created_at desc
		limit $%d offset $%d
	`, clause, idx, idx+1)
	args = append(args, filter.Limit, filter.Skip)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e         audit.Entry
			action    string
			oldValues []byte
			newValues []byte
			sessionID sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.UserID, &action, &e.Module, &e.ResourceType, &e.ResourceID,
			&e.Description, &oldValues, &newValues, &e.IPAddress, &e.UserAgent, &sessionID, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.Action = audit.Action(action)
		if len(oldValues) > 0 {
			_ = json.Unmarshal(oldValues, &e.OldValues)
		}
		if len(newValues) > 0 {
			_ = json.Unmarshal(newValues, &e.NewValues)
		}
		if sessionID.Valid {
			e.SessionID = sessionID.String
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *AuditStore) Filters(ctx context.Context) (audit.Filters, error) {
	var filters audit.Filters
	queries := []struct {
		sql  string
		dest *[]string
	}{
		{`select distinct module from audit_log order by module`, &filters.Modules},
		{`select distinct action from audit_log order by action`, &filters.Actions},
		{`select distinct resource_type from audit_log order by resource_type`, &filters.ResourceTypes},
	}
	for _, q := range queries {
		values, err := collectStrings(ctx, s.db, q.sql)
		if err != nil {
			return audit.Filters{}, err
		}
		*q.dest = values
	}
	return filters, nil
}

func (s *AuditStore) Stats(ctx context.Context, recentSince time.Time) (audit.Stats, error) {
	stats := audit.Stats{
		ByModule: map[string]int{},
		ByAction: map[string]int{},
	}
	if err := s.db.QueryRowContext(ctx, `select count(*) from audit_log`).Scan(&stats.Total); err != nil {
		return audit.Stats{}, err
	}
	if err := s.db.QueryRowContext(ctx,
		`select count(*) from audit_log where created_at >= $1`, recentSince).Scan(&stats.Recent); err != nil {
		return audit.Stats{}, err
	}
	if err := collectCounts(ctx, s.db, `select module, count(*) from audit_log group by module`, stats.ByModule); err != nil {
		return audit.Stats{}, err
	}
	if err := collectCounts(ctx, s.db, `select action, count(*) from audit_log group by action`, stats.ByAction); err != nil {
		return audit.Stats{}, err
	}
	return stats, nil
}

func marshalValues(values map[string]any) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	return json.Marshal(values)
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func collectStrings(ctx context.Context, db *sql.DB, query string) ([]string, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func collectCounts(ctx context.Context, db *sql.DB, query string, dest map[string]int) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		dest[key] = count
	}
	return rows.Err()
}
