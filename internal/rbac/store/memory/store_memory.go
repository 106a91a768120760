package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"orgdesk/internal/rbac/models"
	id "orgdesk/pkg/domain"
	"orgdesk/pkg/platform/sentinel"
)

// Store is a mutex-guarded in-memory role/permission store. Like the
// Postgres store it rejects grants whose context id duplicates the tenant
// scope, so the repair policy in models.NewUserRole is the only way such a
// grant gets written.
type Store struct {
	mu              sync.RWMutex
	roles           map[id.RoleID]*models.Role
	rolesByName     map[id.RoleName]*models.Role
	permissions     map[id.PermissionID]*models.Permission
	rolePermissions []models.RolePermission
	userRoles       map[id.UserRoleID]*models.UserRole
}

func NewStore() *Store {
	return &Store{
		roles:       make(map[id.RoleID]*models.Role),
		rolesByName: make(map[id.RoleName]*models.Role),
		permissions: make(map[id.PermissionID]*models.Permission),
		userRoles:   make(map[id.UserRoleID]*models.UserRole),
	}
}

// ---------------------------------------------------------------------------
// Catalog
// ---------------------------------------------------------------------------

func (s *Store) CreateRole(_ context.Context, role *models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rolesByName[role.Name]; exists {
		return sentinel.ErrConflict
	}
	clone := *role
	s.roles[role.ID] = &clone
	s.rolesByName[role.Name] = &clone
	return nil
}

func (s *Store) FindRoleByName(_ context.Context, name id.RoleName) (*models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.rolesByName[name]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *role
	return &clone, nil
}

func (s *Store) ListRoles(_ context.Context) ([]*models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles := make([]*models.Role, 0, len(s.roles))
	for _, role := range s.roles {
		clone := *role
		roles = append(roles, &clone)
	}
	return roles, nil
}

func (s *Store) CreatePermission(_ context.Context, permission *models.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.permissions {
		if existing.Name == permission.Name {
			return sentinel.ErrConflict
		}
	}
	clone := *permission
	s.permissions[permission.ID] = &clone
	return nil
}

func (s *Store) FindPermissionByName(_ context.Context, name string) (*models.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, permission := range s.permissions {
		if permission.Name == name {
			clone := *permission
			return &clone, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *Store) LinkRolePermission(_ context.Context, roleID id.RoleID, permissionID id.PermissionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, link := range s.rolePermissions {
		if link.RoleID == roleID && link.PermissionID == permissionID {
			return sentinel.ErrConflict
		}
	}
	s.rolePermissions = append(s.rolePermissions, models.RolePermission{RoleID: roleID, PermissionID: permissionID})
	return nil
}

// ListPermissionsForRoles resolves the permissions granted to the given role
// ids, one entry per (role, permission) link.
func (s *Store) ListPermissionsForRoles(_ context.Context, roleIDs []id.RoleID) ([]*models.GrantedPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[id.RoleID]bool, len(roleIDs))
	for _, roleID := range roleIDs {
		wanted[roleID] = true
	}

	var granted []*models.GrantedPermission
	for _, link := range s.rolePermissions {
		if !wanted[link.RoleID] {
			continue
		}
		permission, ok := s.permissions[link.PermissionID]
		if !ok {
			continue
		}
		clone := *permission
		granted = append(granted, &models.GrantedPermission{RoleID: link.RoleID, Permission: &clone})
	}
	return granted, nil
}

// ---------------------------------------------------------------------------
// Grants
// ---------------------------------------------------------------------------

func (s *Store) CreateUserRole(_ context.Context, grant *models.UserRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if grant.ContextType == models.ContextGlobal && grant.ContextID != nil {
		return sentinel.ErrInvalidState
	}
	if grant.ContextID != nil && *grant.ContextID == uuid.UUID(grant.TenantID) {
		return sentinel.ErrInvalidState
	}

	for _, existing := range s.userRoles {
		if existing.UserID == grant.UserID &&
			existing.RoleID == grant.RoleID &&
			existing.TenantID == grant.TenantID &&
			existing.ContextType == grant.ContextType &&
			equalContextID(existing.ContextID, grant.ContextID) {
			return sentinel.ErrConflict
		}
	}

	clone := *grant
	s.userRoles[grant.ID] = &clone
	return nil
}

// ListActiveUserRoles returns the subject's live grants within the tenant.
func (s *Store) ListActiveUserRoles(_ context.Context, userID id.UserID, tenantID id.TenantID, now time.Time) ([]*models.UserRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var grants []*models.UserRole
	for _, grant := range s.userRoles {
		if grant.UserID == userID && grant.TenantID == tenantID && grant.Live(now) {
			clone := *grant
			grants = append(grants, &clone)
		}
	}
	return grants, nil
}

// HasActiveGrant reports whether an equivalent active grant already exists.
func (s *Store) HasActiveGrant(_ context.Context, userID id.UserID, roleID id.RoleID, tenantID id.TenantID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, grant := range s.userRoles {
		if grant.UserID == userID && grant.RoleID == roleID && grant.TenantID == tenantID && grant.IsActive {
			return true, nil
		}
	}
	return false, nil
}

// DeactivateUserRole revokes a grant without deleting its history.
func (s *Store) DeactivateUserRole(_ context.Context, grantID id.UserRoleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.userRoles[grantID]
	if !ok {
		return sentinel.ErrNotFound
	}
	grant.IsActive = false
	return nil
}

func equalContextID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
