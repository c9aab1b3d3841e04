package auth

import (
	"fmt"
	"sort"
)

// Well-known permission names referenced from handlers and seeds.
const (
	PermUsersRead    = "users.read"
	PermUsersCreate  = "users.create"
	PermUsersUpdate  = "users.update"
	PermUsersDelete  = "users.delete"
	PermRolesRead    = "roles.read"
	PermRolesCreate  = "roles.create"
	PermRolesUpdate  = "roles.update"
	PermRolesDelete  = "roles.delete"
	PermAuditRead    = "audit.read"
	PermReportsRead  = "reports.read"
	PermReportsQuery = "reports.export"
)

// Seeded default roles. Both are protected from structural changes.
const (
	DefaultRoleAdmin    = "admin"
	DefaultRoleOperator = "operator"
)

// crudModules get the full create/read/update/delete verb set.
var crudModules = []string{
	"users",
	"roles",
	"customers",
	"inventory",
	"transit",
	"transactions",
}

// extraPermissions covers the modules that do not follow plain CRUD.
var extraPermissions = []Permission{
	{Name: PermAuditRead, Module: "audit", Action: "read", Description: "Query the audit trail"},
	{Name: PermReportsRead, Module: "reports", Action: "read", Description: "View reports"},
	{Name: PermReportsQuery, Module: "reports", Action: "export", Description: "Export report data"},
}

// Catalog returns the full built-in permission set, ordered by module then
// action. Seeding is idempotent by name and never touches manual IsActive
// edits.
func Catalog() []Permission {
	verbs := []string{"create", "read", "update", "delete"}
	out := make([]Permission, 0, len(crudModules)*len(verbs)+len(extraPermissions))
	for _, module := range crudModules {
		for _, verb := range verbs {
			out = append(out, Permission{
				Name:        module + "." + verb,
				Module:      module,
				Action:      verb,
				Description: fmt.Sprintf("Allows %s on %s", verb, module),
				IsActive:    true,
			})
		}
	}
	for _, p := range extraPermissions {
		p.IsActive = true
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Action < out[j].Action
	})
	return out
}

// operatorPermissionNames is the read-only slice of the catalog granted to
// the seeded operator role.
func operatorPermissionNames() []string {
	var names []string
	for _, p := range Catalog() {
		if p.Action == "read" {
			names = append(names, p.Name)
		}
	}
	return names
}

// PermissionGroup presents one module's active permissions to administrators.
type PermissionGroup struct {
	Module      string       `json:"module"`
	Permissions []Permission `json:"permissions"`
}

// GroupByModule arranges permissions for presentation, sorted by module then
// action.
func GroupByModule(perms []Permission) []PermissionGroup {
	byModule := make(map[string][]Permission)
	for _, p := range perms {
		byModule[p.Module] = append(byModule[p.Module], p)
	}
	modules := make([]string, 0, len(byModule))
	for m := range byModule {
		modules = append(modules, m)
	}
	sort.Strings(modules)

	groups := make([]PermissionGroup, 0, len(modules))
	for _, m := range modules {
		list := byModule[m]
		sort.Slice(list, func(i, j int) bool { return list[i].Action < list[j].Action })
		groups = append(groups, PermissionGroup{Module: m, Permissions: list})
	}
	return groups
}
