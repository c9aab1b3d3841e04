package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"graindesk.io/internal/audit"
	"graindesk.io/internal/auth"
)

// fakeState is a minimal in-memory backing for the persistence contracts so
// handler tests can drive the full middleware and service stack.
type fakeState struct {
	mu        sync.Mutex
	users     map[string]*auth.User
	roles     map[string]*auth.Role
	rolePerms map[string][]string
	perms     []auth.Permission
	sessions  map[string]*auth.Session
}

type fakeStore struct{ st *fakeState }

func newFakeStore() *fakeStore {
	return &fakeStore{st: &fakeState{
		users:     make(map[string]*auth.User),
		roles:     make(map[string]*auth.Role),
		rolePerms: make(map[string][]string),
		sessions:  make(map[string]*auth.Session),
	}}
}

func (f *fakeStore) Users(ctx context.Context) auth.UserStore             { return fakeUsers{f.st} }
func (f *fakeStore) Roles(ctx context.Context) auth.RoleStore             { return fakeRoles{f.st} }
func (f *fakeStore) Permissions(ctx context.Context) auth.PermissionStore { return fakePerms{f.st} }
func (f *fakeStore) Sessions(ctx context.Context) auth.SessionStore       { return fakeSessions{f.st} }

func (st *fakeState) roleCopy(role *auth.Role) *auth.Role {
	cp := *role
	cp.Permissions = nil
	for _, id := range st.rolePerms[role.ID] {
		for _, p := range st.perms {
			if p.ID == id {
				cp.Permissions = append(cp.Permissions, p)
			}
		}
	}
	return &cp
}

type fakeUsers struct{ st *fakeState }

func (f fakeUsers) Find(ctx context.Context, id string) (*auth.User, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	u, ok := f.st.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f fakeUsers) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	for _, u := range f.st.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (f fakeUsers) FindWithAccess(ctx context.Context, id string) (*auth.User, *auth.Role, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	u, ok := f.st.users[id]
	if !ok {
		return nil, nil, auth.ErrNotFound
	}
	role, ok := f.st.roles[u.RoleID]
	if !ok {
		return nil, nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, f.st.roleCopy(role), nil
}

func (f fakeUsers) CountActiveByRole(ctx context.Context, roleID string) (int, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	count := 0
	for _, u := range f.st.users {
		if u.RoleID == roleID && u.IsActive {
			count++
		}
	}
	return count, nil
}

func (f fakeUsers) RecordLoginFailure(ctx context.Context, id string) (int, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	u, ok := f.st.users[id]
	if !ok {
		return 0, auth.ErrNotFound
	}
	u.FailedLoginAttempts++
	return u.FailedLoginAttempts, nil
}

func (f fakeUsers) ResetLoginFailures(ctx context.Context, id string) error { return nil }

func (f fakeUsers) SetLocked(ctx context.Context, id string, locked bool) error {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	if u, ok := f.st.users[id]; ok {
		u.IsLocked = locked
	}
	return nil
}

func (f fakeUsers) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	u, ok := f.st.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

type fakeRoles struct{ st *fakeState }

func (f fakeRoles) Create(ctx context.Context, role *auth.Role) error {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	for _, r := range f.st.roles {
		if r.Name == role.Name {
			return auth.ErrDuplicateRole
		}
	}
	cp := *role
	f.st.roles[role.ID] = &cp
	return nil
}

func (f fakeRoles) Find(ctx context.Context, id string) (*auth.Role, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	r, ok := f.st.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return f.st.roleCopy(r), nil
}

func (f fakeRoles) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	for _, r := range f.st.roles {
		if r.Name == name {
			return f.st.roleCopy(r), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (f fakeRoles) List(ctx context.Context, filter auth.RoleFilter) ([]auth.Role, int, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	var out []auth.Role
	for _, r := range f.st.roles {
		if filter.Search != "" && !strings.Contains(r.Name, filter.Search) {
			continue
		}
		if filter.Active != nil && r.IsActive != *filter.Active {
			continue
		}
		out = append(out, *f.st.roleCopy(r))
	}
	return out, len(out), nil
}

func (f fakeRoles) Update(ctx context.Context, role *auth.Role) error {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	existing, ok := f.st.roles[role.ID]
	if !ok {
		return auth.ErrNotFound
	}
	existing.Name = role.Name
	existing.Description = role.Description
	existing.UpdatedBy = role.UpdatedBy
	existing.UpdatedAt = role.UpdatedAt
	return nil
}

func (f fakeRoles) SetPermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	f.st.rolePerms[roleID] = append([]string(nil), permissionIDs...)
	return nil
}

func (f fakeRoles) SetActive(ctx context.Context, roleID string, active bool, updatedBy string) error {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	r, ok := f.st.roles[roleID]
	if !ok {
		return auth.ErrNotFound
	}
	r.IsActive = active
	return nil
}

type fakePerms struct{ st *fakeState }

func (f fakePerms) Ensure(ctx context.Context, perms []auth.Permission) error {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	known := make(map[string]struct{})
	for _, p := range f.st.perms {
		known[p.Name] = struct{}{}
	}
	for i, p := range perms {
		if _, ok := known[p.Name]; ok {
			continue
		}
		p.ID = fmt.Sprintf("perm-%d-%s", i, p.Name)
		f.st.perms = append(f.st.perms, p)
	}
	return nil
}

func (f fakePerms) ListActive(ctx context.Context) ([]auth.Permission, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	return append([]auth.Permission(nil), f.st.perms...), nil
}

func (f fakePerms) FindActiveByIDs(ctx context.Context, ids []string) ([]auth.Permission, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	var out []auth.Permission
	for _, id := range ids {
		for _, p := range f.st.perms {
			if p.ID == id && p.IsActive {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (f fakePerms) FindActiveByNames(ctx context.Context, names []string) ([]auth.Permission, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	var out []auth.Permission
	for _, name := range names {
		for _, p := range f.st.perms {
			if p.Name == name && p.IsActive {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

type fakeSessions struct{ st *fakeState }

func (f fakeSessions) Create(ctx context.Context, session *auth.Session) error {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	cp := *session
	f.st.sessions[session.ID] = &cp
	return nil
}

func (f fakeSessions) Find(ctx context.Context, id string) (*auth.Session, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	s, ok := f.st.sessions[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f fakeSessions) FindActive(ctx context.Context, userID, token string) (*auth.Session, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	for _, s := range f.st.sessions {
		if s.UserID == userID && s.Token == token && s.IsActive {
			cp := *s
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (f fakeSessions) Touch(ctx context.Context, id string, at time.Time) error { return nil }

func (f fakeSessions) Terminate(ctx context.Context, id string, reason auth.LogoutReason, at time.Time) error {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	s, ok := f.st.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	s.IsActive = false
	s.LogoutReason = reason
	return nil
}

func (f fakeSessions) TerminateAllForUser(ctx context.Context, userID string, reason auth.LogoutReason, at time.Time) (int, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	count := 0
	for _, s := range f.st.sessions {
		if s.UserID == userID && s.IsActive {
			s.IsActive = false
			s.LogoutReason = reason
			count++
		}
	}
	return count, nil
}

func (f fakeSessions) ListStale(ctx context.Context, inactiveSince time.Time) ([]auth.Session, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	var out []auth.Session
	for _, s := range f.st.sessions {
		if s.IsActive && s.LastActivity.Before(inactiveSince) {
			out = append(out, *s)
		}
	}
	return out, nil
}

// captureAudit collects entries written by the gates and services.
type captureAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (c *captureAudit) Append(ctx context.Context, entry *audit.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, *entry)
	return nil
}

func (c *captureAudit) List(ctx context.Context, filter audit.Filter) ([]audit.Entry, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var matched []audit.Entry
	for _, e := range c.entries {
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.Module != "" && e.Module != filter.Module {
			continue
		}
		matched = append(matched, e)
	}
	return matched, len(matched), nil
}

func (c *captureAudit) Filters(ctx context.Context) (audit.Filters, error) {
	return audit.Filters{Modules: []string{"auth", "roles"}}, nil
}

func (c *captureAudit) Stats(ctx context.Context, recentSince time.Time) (audit.Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return audit.Stats{Total: len(c.entries)}, nil
}

func (c *captureAudit) count(module string, action audit.Action) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.Module == module && e.Action == action {
			n++
		}
	}
	return n
}

func (c *captureAudit) denials() []audit.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []audit.Entry
	for _, e := range c.entries {
		if e.Module == "auth" && e.Description == "permission denied" {
			out = append(out, e)
		}
	}
	return out
}

type apiClient struct {
	t       *testing.T
	handler http.Handler
	ip      string
}

func newTestAPI(t *testing.T) (*apiClient, *fakeStore, *captureAudit) {
	t.Helper()
	store := newFakeStore()
	auditStore := &captureAudit{}
	tokens, err := auth.NewTokenSource("handler-test-secret-value", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenSource: %v", err)
	}
	svc, err := auth.NewService(store,
		auth.WithTokenSource(tokens),
		auth.WithAudit(audit.NewRecorder(auditStore)),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	api := New(ReadyProbe{}, "test", svc, audit.NewRecorder(auditStore))
	return &apiClient{t: t, handler: api.Handler(), ip: "203.0.113." + fmt.Sprint(len(t.Name())%200)}, store, auditStore
}

func seedAPIUser(t *testing.T, store *fakeStore, email, password, roleName string) *auth.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	role, err := store.Roles(context.Background()).FindByName(context.Background(), roleName)
	if err != nil {
		t.Fatalf("FindByName(%s): %v", roleName, err)
	}
	user := &auth.User{
		ID:           "user-" + strings.SplitN(email, "@", 2)[0],
		Email:        email,
		FullName:     "Test User",
		RoleID:       role.ID,
		IsActive:     true,
		PasswordHash: hash,
	}
	store.st.mu.Lock()
	store.st.users[user.ID] = user
	store.st.mu.Unlock()
	return user
}

func (c *apiClient) do(method, path, token string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-Forwarded-For", c.ip)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func (c *apiClient) login(email, password string) string {
	c.t.Helper()
	rec := c.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": email, "password": password,
	})
	if rec.Code != http.StatusOK {
		c.t.Fatalf("login returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp envelope
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		c.t.Fatalf("decode login: %v", err)
	}
	data := resp.Data.(map[string]any)
	return data["token"].(string)
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var resp envelope
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return resp
}

func TestHealthzIsPublic(t *testing.T) {
	client, _, _ := newTestAPI(t)
	rec := client.do(http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if !resp.Success {
		t.Fatalf("expected success envelope, got %+v", resp)
	}
}

func TestMissingBearerToken(t *testing.T) {
	client, _, _ := newTestAPI(t)
	rec := client.do(http.MethodGet, "/v1/roles", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Success || resp.Message != "Authorization header with bearer token is required" {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
	if resp.RequestID == "" {
		t.Fatal("error envelope must carry the request id")
	}
}

func TestLoginAndMe(t *testing.T) {
	client, store, _ := newTestAPI(t)
	seedAPIUser(t, store, "keeper@mill.test", "grain-and-silos", auth.DefaultRoleAdmin)

	token := client.login("keeper@mill.test", "grain-and-silos")

	rec := client.do(http.MethodGet, "/v1/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me returned %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	data := resp.Data.(map[string]any)
	if data["email"] != "keeper@mill.test" {
		t.Fatalf("unexpected me payload: %+v", data)
	}
	role := data["role"].(map[string]any)
	if role["name"] != auth.DefaultRoleAdmin {
		t.Fatalf("unexpected role: %+v", role)
	}
	if len(data["permissions"].([]any)) == 0 {
		t.Fatal("expected permissions in payload")
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	client, store, _ := newTestAPI(t)
	seedAPIUser(t, store, "keeper@mill.test", "grain-and-silos", auth.DefaultRoleAdmin)

	rec := client.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "keeper@mill.test", "password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Message != "Invalid email or password" {
		t.Fatalf("unexpected message: %q", resp.Message)
	}
}

func TestLogoutInvalidatesToken(t *testing.T) {
	client, store, _ := newTestAPI(t)
	seedAPIUser(t, store, "keeper@mill.test", "grain-and-silos", auth.DefaultRoleAdmin)
	token := client.login("keeper@mill.test", "grain-and-silos")

	rec := client.do(http.MethodPost, "/v1/auth/logout", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = client.do(http.MethodGet, "/v1/auth/me", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Message != "Session is no longer active" {
		t.Fatalf("unexpected message: %q", resp.Message)
	}
}

func TestDenialWritesExactlyOneAuditEntry(t *testing.T) {
	client, store, auditStore := newTestAPI(t)
	seedAPIUser(t, store, "clerk@mill.test", "grain-and-silos", auth.DefaultRoleOperator)
	token := client.login("clerk@mill.test", "grain-and-silos")

	before := len(auditStore.denials())
	rec := client.do(http.MethodPost, "/v1/roles", token, map[string]any{
		"name": "x", "description": "y",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	if resp.Message != "Insufficient permissions" {
		t.Fatalf("unexpected message: %q", resp.Message)
	}

	denials := auditStore.denials()
	if len(denials)-before != 1 {
		t.Fatalf("expected exactly one denial entry, got %d", len(denials)-before)
	}
	d := denials[len(denials)-1]
	if d.Action != audit.ActionRead || d.ResourceType != "Permission" || d.ResourceID != auth.PermRolesCreate {
		t.Fatalf("unexpected denial entry: %+v", d)
	}
	if d.UserID == "" || d.SessionID == "" {
		t.Fatalf("denial entry must name the requester: %+v", d)
	}

	// a granted check adds nothing
	rec = client.do(http.MethodGet, "/v1/roles", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for granted read, got %d", rec.Code)
	}
	if len(auditStore.denials()) != len(denials) {
		t.Fatal("granted check must not write audit entries")
	}
}

func TestRoleLifecycleStatuses(t *testing.T) {
	client, store, _ := newTestAPI(t)
	admin := seedAPIUser(t, store, "admin@mill.test", "grain-and-silos", auth.DefaultRoleAdmin)
	_ = admin
	token := client.login("admin@mill.test", "grain-and-silos")

	// create
	rec := client.do(http.MethodPost, "/v1/roles", token, map[string]any{
		"name": "clerk", "description": "Front desk clerk",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	created := resp.Data.(map[string]any)
	roleID := created["id"].(string)

	// duplicate name
	rec = client.do(http.MethodPost, "/v1/roles", token, map[string]any{
		"name": "clerk", "description": "Duplicate",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate returned %d", rec.Code)
	}

	// invalid permission ids
	rec = client.do(http.MethodPost, "/v1/roles", token, map[string]any{
		"name": "other", "description": "x", "permissions": []string{"nope"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid permissions returned %d", rec.Code)
	}
	resp = decodeEnvelope(t, rec)
	if !strings.Contains(resp.Message, "nope") {
		t.Fatalf("message must name the bad id: %q", resp.Message)
	}

	// unknown role
	rec = client.do(http.MethodGet, "/v1/roles/not-there", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown role returned %d", rec.Code)
	}

	// delete while a user still holds it
	seedAPIUser(t, store, "holder@mill.test", "grain-and-silos", "clerk")
	rec = client.do(http.MethodDelete, "/v1/roles/"+roleID, token, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("in-use delete returned %d: %s", rec.Code, rec.Body.String())
	}
	resp = decodeEnvelope(t, rec)
	if !strings.Contains(resp.Message, "assigned to 1 active user(s)") {
		t.Fatalf("unexpected message: %q", resp.Message)
	}

	// remove the holder, then delete and reactivate
	store.st.mu.Lock()
	store.st.users["user-holder"].IsActive = false
	store.st.mu.Unlock()
	rec = client.do(http.MethodDelete, "/v1/roles/"+roleID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete returned %d: %s", rec.Code, rec.Body.String())
	}
	rec = client.do(http.MethodPost, "/v1/roles/"+roleID+"/reactivate", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reactivate returned %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDefaultRoleRejectsChanges(t *testing.T) {
	client, store, _ := newTestAPI(t)
	seedAPIUser(t, store, "admin@mill.test", "grain-and-silos", auth.DefaultRoleAdmin)
	token := client.login("admin@mill.test", "grain-and-silos")

	role, err := store.Roles(context.Background()).FindByName(context.Background(), auth.DefaultRoleAdmin)
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}

	rec := client.do(http.MethodPut, "/v1/roles/"+role.ID, token, map[string]any{"name": "renamed"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("update returned %d", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Message != "Default roles cannot be modified" {
		t.Fatalf("unexpected message: %q", resp.Message)
	}
	rec = client.do(http.MethodDelete, "/v1/roles/"+role.ID, token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("delete returned %d", rec.Code)
	}
	rec = client.do(http.MethodPut, "/v1/roles/"+role.ID+"/permissions", token, map[string]any{"permissions": []string{}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("permissions returned %d", rec.Code)
	}
}

func TestForceLogoutEndpoint(t *testing.T) {
	client, store, _ := newTestAPI(t)
	seedAPIUser(t, store, "admin@mill.test", "grain-and-silos", auth.DefaultRoleAdmin)
	seedAPIUser(t, store, "clerk@mill.test", "grain-and-silos", auth.DefaultRoleOperator)
	adminToken := client.login("admin@mill.test", "grain-and-silos")
	clerkToken := client.login("clerk@mill.test", "grain-and-silos")

	var sessionID string
	store.st.mu.Lock()
	for _, s := range store.st.sessions {
		if s.Token == clerkToken {
			sessionID = s.ID
		}
	}
	store.st.mu.Unlock()

	rec := client.do(http.MethodPost, "/v1/sessions/"+sessionID+"/logout", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("force logout returned %d: %s", rec.Code, rec.Body.String())
	}
	rec = client.do(http.MethodGet, "/v1/auth/me", clerkToken, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for revoked session, got %d", rec.Code)
	}
}

func TestResetPasswordEndpoint(t *testing.T) {
	client, store, _ := newTestAPI(t)
	seedAPIUser(t, store, "admin@mill.test", "grain-and-silos", auth.DefaultRoleAdmin)
	clerk := seedAPIUser(t, store, "clerk@mill.test", "old-password-1", auth.DefaultRoleOperator)
	adminToken := client.login("admin@mill.test", "grain-and-silos")
	clerkToken := client.login("clerk@mill.test", "old-password-1")

	rec := client.do(http.MethodPost, "/v1/users/"+clerk.ID+"/reset-password", adminToken, map[string]string{
		"new_password": "new-password-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reset returned %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	data := resp.Data.(map[string]any)
	if data["terminated_sessions"] != float64(1) {
		t.Fatalf("unexpected payload: %+v", data)
	}

	rec = client.do(http.MethodGet, "/v1/auth/me", clerkToken, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("old session must be dead, got %d", rec.Code)
	}
	client.login("clerk@mill.test", "new-password-1")

	// too-short password
	rec = client.do(http.MethodPost, "/v1/users/"+clerk.ID+"/reset-password", adminToken, map[string]string{
		"new_password": "short",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("short password returned %d", rec.Code)
	}
}

func TestSessionCleanupReadsChunkedBody(t *testing.T) {
	client, store, _ := newTestAPI(t)
	seedAPIUser(t, store, "admin@mill.test", "grain-and-silos", auth.DefaultRoleAdmin)
	token := client.login("admin@mill.test", "grain-and-silos")

	// a body with unknown length (ContentLength -1) must still be decoded
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/cleanup",
		io.NopCloser(strings.NewReader(`{"retention_hours":-5}`)))
	req.ContentLength = -1
	req.Header.Set("X-Forwarded-For", client.ip)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	client.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("negative retention must be rejected, got %d: %s", rec.Code, rec.Body.String())
	}

	// no body at all keeps the default retention
	rec2 := client.do(http.MethodPost, "/v1/sessions/cleanup", token, nil)
	if rec2.Code != http.StatusOK {
		t.Fatalf("bodyless cleanup returned %d: %s", rec2.Code, rec2.Body.String())
	}
}

func TestAuditEndpointsRequirePermission(t *testing.T) {
	client, store, _ := newTestAPI(t)
	seedAPIUser(t, store, "admin@mill.test", "grain-and-silos", auth.DefaultRoleAdmin)
	token := client.login("admin@mill.test", "grain-and-silos")

	rec := client.do(http.MethodGet, "/v1/audit?limit=10", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit list returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = client.do(http.MethodGet, "/v1/audit/stats", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit stats returned %d", rec.Code)
	}

	rec = client.do(http.MethodGet, "/v1/audit?from=not-a-time", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad from returned %d", rec.Code)
	}
}
