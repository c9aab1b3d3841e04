package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"graindesk.io/internal/audit"
	"graindesk.io/internal/ids"
)

// CreateRole validates the supplied permission ids against the active
// catalog and persists a new custom role.
func (s *Service) CreateRole(ctx context.Context, name, description string, permissionIDs []string, actor Principal) (Role, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if description == "" {
		return Role{}, fmt.Errorf("%w: role description is required", ErrInvalidInput)
	}
	permissionIDs = dedupeStrings(permissionIDs)
	if err := s.validatePermissionIDs(ctx, permissionIDs); err != nil {
		return Role{}, err
	}

	now := s.now().UTC()
	role := &Role{
		ID:          ids.New(),
		Name:        name,
		Description: description,
		IsDefault:   false,
		IsActive:    true,
		CreatedBy:   actor.User.ID,
		UpdatedBy:   actor.User.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	roles := s.store.Roles(ctx)
	if err := roles.Create(ctx, role); err != nil {
		return Role{}, err
	}
	if err := roles.SetPermissions(ctx, role.ID, permissionIDs); err != nil {
		return Role{}, err
	}
	created, err := roles.Find(ctx, role.ID)
	if err != nil {
		return Role{}, err
	}
	s.recordAudit(ctx, audit.Entry{
		UserID:       actor.User.ID,
		Action:       audit.ActionCreate,
		Module:       "roles",
		ResourceType: "Role",
		ResourceID:   role.ID,
		Description:  fmt.Sprintf("Created role %q", name),
		NewValues: map[string]any{
			"name":             created.Name,
			"description":      created.Description,
			"permission_count": len(created.Permissions),
		},
	})
	return *created, nil
}

// UpdateRole applies a partial update. Default roles are immutable through
// this path. Permission summaries, not full id lists, go into the audit
// record to bound its size.
func (s *Service) UpdateRole(ctx context.Context, id string, upd RoleUpdate, actor Principal) (Role, error) {
	roles := s.store.Roles(ctx)
	role, err := roles.Find(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if role.IsDefault {
		return Role{}, ErrDefaultRole
	}

	before := map[string]any{
		"name":             role.Name,
		"description":      role.Description,
		"permission_count": len(role.Permissions),
	}

	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		role.Name = name
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		if desc == "" {
			return Role{}, fmt.Errorf("%w: role description is required", ErrInvalidInput)
		}
		role.Description = desc
	}
	var newPerms []string
	if upd.Permissions != nil {
		newPerms = dedupeStrings(*upd.Permissions)
		if err := s.validatePermissionIDs(ctx, newPerms); err != nil {
			return Role{}, err
		}
	}

	role.UpdatedBy = actor.User.ID
	role.UpdatedAt = s.now().UTC()
	if err := roles.Update(ctx, role); err != nil {
		return Role{}, err
	}
	if upd.Permissions != nil {
		if err := roles.SetPermissions(ctx, role.ID, newPerms); err != nil {
			return Role{}, err
		}
	}
	updated, err := roles.Find(ctx, role.ID)
	if err != nil {
		return Role{}, err
	}
	s.recordAudit(ctx, audit.Entry{
		UserID:       actor.User.ID,
		Action:       audit.ActionUpdate,
		Module:       "roles",
		ResourceType: "Role",
		ResourceID:   role.ID,
		Description:  fmt.Sprintf("Updated role %q", updated.Name),
		OldValues:    before,
		NewValues: map[string]any{
			"name":             updated.Name,
			"description":      updated.Description,
			"permission_count": len(updated.Permissions),
		},
	})
	return *updated, nil
}

// DeleteRole soft-deletes a role. Deletion is blocked while any active user
// still holds the role; the error carries the blocking count.
func (s *Service) DeleteRole(ctx context.Context, id string, actor Principal) error {
	roles := s.store.Roles(ctx)
	role, err := roles.Find(ctx, id)
	if err != nil {
		return err
	}
	if role.IsDefault {
		return ErrDefaultRole
	}
	count, err := s.store.Users(ctx).CountActiveByRole(ctx, role.ID)
	if err != nil {
		return err
	}
	if count > 0 {
		return &RoleInUseError{Count: count}
	}
	if err := roles.SetActive(ctx, role.ID, false, actor.User.ID); err != nil {
		return err
	}
	s.recordAudit(ctx, audit.Entry{
		UserID:       actor.User.ID,
		Action:       audit.ActionDelete,
		Module:       "roles",
		ResourceType: "Role",
		ResourceID:   role.ID,
		Description:  fmt.Sprintf("Deactivated role %q", role.Name),
	})
	return nil
}

// ReactivateRole re-enables a soft-deleted role. Default roles are allowed
// here: reactivation is not a structural change.
func (s *Service) ReactivateRole(ctx context.Context, id string, actor Principal) (Role, error) {
	roles := s.store.Roles(ctx)
	role, err := roles.Find(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if err := roles.SetActive(ctx, role.ID, true, actor.User.ID); err != nil {
		return Role{}, err
	}
	role.IsActive = true
	role.UpdatedBy = actor.User.ID
	s.recordAudit(ctx, audit.Entry{
		UserID:       actor.User.ID,
		Action:       audit.ActionUpdate,
		Module:       "roles",
		ResourceType: "Role",
		ResourceID:   role.ID,
		Description:  fmt.Sprintf("Reactivated role %q", role.Name),
	})
	return *role, nil
}

// UpdateRolePermissions replaces the role's full permission set.
func (s *Service) UpdateRolePermissions(ctx context.Context, id string, permissionIDs []string, actor Principal) (Role, error) {
	roles := s.store.Roles(ctx)
	role, err := roles.Find(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if role.IsDefault {
		return Role{}, ErrDefaultRole
	}
	permissionIDs = dedupeStrings(permissionIDs)
	if err := s.validatePermissionIDs(ctx, permissionIDs); err != nil {
		return Role{}, err
	}
	beforeCount := len(role.Permissions)
	if err := roles.SetPermissions(ctx, role.ID, permissionIDs); err != nil {
		return Role{}, err
	}
	role.UpdatedBy = actor.User.ID
	role.UpdatedAt = s.now().UTC()
	if err := roles.Update(ctx, role); err != nil {
		return Role{}, err
	}
	updated, err := roles.Find(ctx, role.ID)
	if err != nil {
		return Role{}, err
	}
	s.recordAudit(ctx, audit.Entry{
		UserID:       actor.User.ID,
		Action:       audit.ActionUpdate,
		Module:       "roles",
		ResourceType: "Role",
		ResourceID:   role.ID,
		Description:  fmt.Sprintf("Replaced permissions of role %q", role.Name),
		OldValues:    map[string]any{"permission_count": beforeCount},
		NewValues:    map[string]any{"permission_count": len(updated.Permissions)},
	})
	return *updated, nil
}

// GetRole returns a role along with the count of active users holding it.
func (s *Service) GetRole(ctx context.Context, id string) (Role, int, error) {
	role, err := s.store.Roles(ctx).Find(ctx, id)
	if err != nil {
		return Role{}, 0, err
	}
	count, err := s.store.Users(ctx).CountActiveByRole(ctx, role.ID)
	if err != nil {
		return Role{}, 0, err
	}
	return *role, count, nil
}

// ListRoles returns a filtered page of roles and the total match count.
func (s *Service) ListRoles(ctx context.Context, filter RoleFilter) ([]Role, int, error) {
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 50
	}
	if filter.Skip < 0 {
		filter.Skip = 0
	}
	return s.store.Roles(ctx).List(ctx, filter)
}

// validatePermissionIDs fails with InvalidPermissionsError naming every id
// that does not resolve to an active permission. The validation is re-run on
// every call; a permission deactivated between validation and persistence is
// an accepted narrow race.
func (s *Service) validatePermissionIDs(ctx context.Context, permissionIDs []string) error {
	if len(permissionIDs) == 0 {
		return nil
	}
	found, err := s.store.Permissions(ctx).FindActiveByIDs(ctx, permissionIDs)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(found))
	for _, p := range found {
		known[p.ID] = struct{}{}
	}
	var missing []string
	for _, id := range permissionIDs {
		if _, ok := known[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return &InvalidPermissionsError{IDs: missing}
	}
	return nil
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

// IsValidationError reports whether err belongs to the validation taxonomy
// surfaced as 400 at the HTTP boundary.
func IsValidationError(err error) bool {
	var invalidPerms *InvalidPermissionsError
	return errors.Is(err, ErrInvalidInput) || errors.As(err, &invalidPerms)
}
