package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"graindesk.io/internal/auth"
)

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermRolesRead) {
			return
		}
		a.listRoles(w, r)
	case http.MethodPost:
		if !a.ensurePermission(w, r, auth.PermRolesCreate) {
			return
		}
		a.createRole(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 50, 1, 200)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "limit "+err.Error())
		return
	}
	skip, err := parsePositiveInt(q.Get("skip"), 0, 0, 1<<30)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "skip "+err.Error())
		return
	}
	filter := auth.RoleFilter{
		Search: strings.TrimSpace(q.Get("search")),
		Limit:  limit,
		Skip:   skip,
	}
	switch q.Get("active") {
	case "":
	case "true":
		t := true
		filter.Active = &t
	case "false":
		f := false
		filter.Active = &f
	default:
		writeError(w, r, http.StatusBadRequest, "active must be true or false")
		return
	}

	roles, total, err := a.auth.ListRoles(r.Context(), filter)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "could not list roles")
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"roles":    roles,
		"total":    total,
		"has_more": skip+len(roles) < total,
	})
}

type roleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	role, err := a.auth.CreateRole(r.Context(), req.Name, req.Description, req.Permissions, p)
	if err != nil {
		a.writeRoleError(w, r, err)
		return
	}
	writeMessage(w, http.StatusCreated, "Role created", role)
}

// handleRoleResource serves /v1/roles/{id}, /v1/roles/{id}/reactivate and
// /v1/roles/{id}/permissions.
func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/roles/")
	parts := strings.Split(rest, "/")
	if parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id := parts[0]

	if len(parts) == 2 {
		switch parts[1] {
		case "reactivate":
			a.reactivateRole(w, r, id)
		case "permissions":
			a.replaceRolePermissions(w, r, id)
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
		return
	}
	if len(parts) != 1 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermRolesRead) {
			return
		}
		a.getRole(w, r, id)
	case http.MethodPut:
		if !a.ensurePermission(w, r, auth.PermRolesUpdate) {
			return
		}
		a.updateRole(w, r, id)
	case http.MethodDelete:
		if !a.ensurePermission(w, r, auth.PermRolesDelete) {
			return
		}
		a.deleteRole(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) getRole(w http.ResponseWriter, r *http.Request, id string) {
	role, activeUsers, err := a.auth.GetRole(r.Context(), id)
	if err != nil {
		a.writeRoleError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"role":         role,
		"active_users": activeUsers,
	})
}

type roleUpdateRequest struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	Permissions *[]string `json:"permissions"`
}

func (a *API) updateRole(w http.ResponseWriter, r *http.Request, id string) {
	var req roleUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	role, err := a.auth.UpdateRole(r.Context(), id, auth.RoleUpdate{
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
	}, p)
	if err != nil {
		a.writeRoleError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Role updated", role)
}

func (a *API) deleteRole(w http.ResponseWriter, r *http.Request, id string) {
	p, _ := auth.PrincipalFromContext(r.Context())
	if err := a.auth.DeleteRole(r.Context(), id, p); err != nil {
		a.writeRoleError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Role deactivated", nil)
}

func (a *API) reactivateRole(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, auth.PermRolesUpdate) {
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	role, err := a.auth.ReactivateRole(r.Context(), id, p)
	if err != nil {
		a.writeRoleError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Role reactivated", role)
}

type rolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (a *API) replaceRolePermissions(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermission(w, r, auth.PermRolesUpdate) {
		return
	}
	var req rolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	role, err := a.auth.UpdateRolePermissions(r.Context(), id, req.Permissions, p)
	if err != nil {
		a.writeRoleError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Role permissions updated", role)
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	groups, err := a.auth.AvailablePermissions(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "could not list permissions")
		return
	}
	writeData(w, http.StatusOK, map[string]any{"modules": groups})
}

// writeRoleError maps role-management failures onto the status taxonomy.
func (a *API) writeRoleError(w http.ResponseWriter, r *http.Request, err error) {
	var inUse *auth.RoleInUseError
	switch {
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "Role not found")
	case errors.Is(err, auth.ErrDefaultRole):
		writeError(w, r, http.StatusBadRequest, "Default roles cannot be modified")
	case errors.Is(err, auth.ErrDuplicateRole):
		writeError(w, r, http.StatusConflict, "A role with this name already exists")
	case errors.As(err, &inUse):
		writeError(w, r, http.StatusConflict, inUse.Error())
	case auth.IsValidationError(err):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "role operation failed")
	}
}
