package pg

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"graindesk.io/internal/audit"
)

func newAuditMock(t *testing.T) (*AuditStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAuditStore(db), mock
}

func TestAuditAppend(t *testing.T) {
	store, mock := newAuditMock(t)
	at := time.Now().UTC()
	mock.ExpectExec("insert into audit_log").
		WithArgs("a1", "u1", "CREATE", "roles", "Role", "r1", "Created role",
			sqlmock.AnyArg(), sqlmock.AnyArg(), "10.0.0.1", "cli", sqlmock.AnyArg(), at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Append(context.Background(), &audit.Entry{
		ID: "a1", UserID: "u1", Action: audit.ActionCreate, Module: "roles",
		ResourceType: "Role", ResourceID: "r1", Description: "Created role",
		OldValues: map[string]any{"name": "clerk"},
		IPAddress: "10.0.0.1", UserAgent: "cli", SessionID: "s1", CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditListBuildsFilter(t *testing.T) {
	store, mock := newAuditMock(t)
	now := time.Now().UTC()
	from := now.Add(-time.Hour)

	mock.ExpectQuery(`select count\(\*\) from audit_log`).
		WithArgs("u1", "roles", from).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("from audit_log where").
		WithArgs("u1", "roles", from, 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "action", "module", "resource_type", "resource_id",
			"description", "old_values", "new_values", "ip_address", "user_agent", "session_id", "created_at",
		}).
			AddRow("a2", "u1", "UPDATE", "roles", "Role", "r1", "Updated role",
				[]byte(`{"permission_count":1}`), []byte(`{"permission_count":3}`), "", "", "s1", now).
			AddRow("a1", "u1", "CREATE", "roles", "Role", "r1", "Created role",
				nil, nil, "", "", nil, now.Add(-time.Minute)))

	entries, total, err := store.List(context.Background(), audit.Filter{
		UserID: "u1", Module: "roles", From: from, Limit: 50,
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 || len(entries) != 2 {
		t.Fatalf("unexpected page: total=%d len=%d", total, len(entries))
	}
	if entries[0].Action != audit.ActionUpdate {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[0].NewValues["permission_count"] != float64(3) {
		t.Fatalf("new_values not decoded: %+v", entries[0].NewValues)
	}
	if entries[1].SessionID != "" {
		t.Fatalf("null session_id must stay empty, got %q", entries[1].SessionID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditFilters(t *testing.T) {
	store, mock := newAuditMock(t)
	mock.ExpectQuery("select distinct module from audit_log").
		WillReturnRows(sqlmock.NewRows([]string{"module"}).AddRow("auth").AddRow("roles"))
	mock.ExpectQuery("select distinct action from audit_log").
		WillReturnRows(sqlmock.NewRows([]string{"action"}).AddRow("CREATE").AddRow("LOGIN"))
	mock.ExpectQuery("select distinct resource_type from audit_log").
		WillReturnRows(sqlmock.NewRows([]string{"resource_type"}).AddRow("Role").AddRow("Session"))

	filters, err := store.Filters(context.Background())
	if err != nil {
		t.Fatalf("Filters: %v", err)
	}
	if len(filters.Modules) != 2 || len(filters.Actions) != 2 || len(filters.ResourceTypes) != 2 {
		t.Fatalf("unexpected filters: %+v", filters)
	}
}

func TestAuditStats(t *testing.T) {
	store, mock := newAuditMock(t)
	since := time.Now().Add(-24 * time.Hour)
	mock.ExpectQuery(`select count\(\*\) from audit_log$`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))
	mock.ExpectQuery(`select count\(\*\) from audit_log where created_at`).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery("group by module").
		WillReturnRows(sqlmock.NewRows([]string{"module", "count"}).AddRow("auth", 6).AddRow("roles", 4))
	mock.ExpectQuery("group by action").
		WillReturnRows(sqlmock.NewRows([]string{"action", "count"}).AddRow("LOGIN", 5).AddRow("CREATE", 5))

	stats, err := store.Stats(context.Background(), since)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 10 || stats.Recent != 3 {
		t.Fatalf("unexpected totals: %+v", stats)
	}
	if stats.ByModule["auth"] != 6 || stats.ByAction["LOGIN"] != 5 {
		t.Fatalf("unexpected breakdowns: %+v", stats)
	}
}
