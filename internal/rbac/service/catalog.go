package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"orgdesk/internal/rbac/models"
	id "orgdesk/pkg/domain"
	"orgdesk/pkg/platform/sentinel"
)

// defaultPermissions is the built-in capability catalog. Names follow the
// canonical "{action}_{resource}" form the evaluator's CanUser builds.
var defaultPermissions = []string{
	"manage_tenant",
	"manage_invitations",
	"manage_employees",
	"view_employees",
	"manage_projects",
	"view_projects",
	"manage_tasks",
	"view_tasks",
	"view_reports",
}

// defaultRolePermissions maps each catalog role to its permission names.
// super_admin carries no rows; it bypasses evaluation entirely.
var defaultRolePermissions = map[id.RoleName][]string{
	id.RoleTenantAdmin: {
		"manage_tenant", "manage_invitations", "manage_employees", "view_employees",
		"manage_projects", "view_projects", "manage_tasks", "view_tasks", "view_reports",
	},
	id.RoleManagerHR: {
		"manage_invitations", "manage_employees", "view_employees", "view_reports",
	},
	id.RoleProjectManager: {
		"manage_projects", "view_projects", "manage_tasks", "view_tasks", "view_employees",
	},
	id.RoleEmployee: {
		"view_projects", "view_tasks", "manage_tasks",
	},
	id.RoleViewer: {
		"view_projects", "view_tasks",
	},
}

// SeedDefaultCatalog installs the role and permission catalog. Safe to run
// on every startup; existing rows are left alone.
func (s *Service) SeedDefaultCatalog(ctx context.Context) error {
	roleIDs := make(map[id.RoleName]id.RoleID)
	for _, name := range id.KnownRoleNames() {
		role := &models.Role{
			ID:             id.NewRoleID(),
			Name:           name,
			HierarchyLevel: name.HierarchyLevel(),
			IsSystemRole:   name == id.RoleSuperAdmin || name == id.RoleTenantAdmin,
		}
		err := s.store.CreateRole(ctx, role)
		switch {
		case err == nil:
			roleIDs[name] = role.ID
		case errors.Is(err, sentinel.ErrConflict):
			existing, err := s.store.FindRoleByName(ctx, name)
			if err != nil {
				return fmt.Errorf("load existing role %s: %w", name, err)
			}
			roleIDs[name] = existing.ID
		default:
			return fmt.Errorf("seed role %s: %w", name, err)
		}
	}

	permissionIDs := make(map[string]id.PermissionID)
	for _, name := range defaultPermissions {
		action, resource, ok := strings.Cut(name, "_")
		if !ok {
			return fmt.Errorf("malformed permission name %q", name)
		}
		permission := &models.Permission{
			ID:       id.NewPermissionID(),
			Name:     name,
			Resource: resource,
			Action:   action,
		}
		err := s.store.CreatePermission(ctx, permission)
		switch {
		case err == nil:
			permissionIDs[name] = permission.ID
		case errors.Is(err, sentinel.ErrConflict):
			existing, err := s.store.FindPermissionByName(ctx, name)
			if err != nil {
				return fmt.Errorf("load existing permission %s: %w", name, err)
			}
			permissionIDs[name] = existing.ID
		default:
			return fmt.Errorf("seed permission %s: %w", name, err)
		}
	}

	for roleName, permissions := range defaultRolePermissions {
		roleID, ok := roleIDs[roleName]
		if !ok {
			continue
		}
		for _, permissionName := range permissions {
			permissionID, ok := permissionIDs[permissionName]
			if !ok {
				continue
			}
			if err := s.store.LinkRolePermission(ctx, roleID, permissionID); err != nil && !errors.Is(err, sentinel.ErrConflict) {
				return fmt.Errorf("link %s to %s: %w", roleName, permissionName, err)
			}
		}
	}

	s.logger.InfoContext(ctx, "role catalog seeded", "roles", len(roleIDs), "permissions", len(permissionIDs))
	return nil
}
