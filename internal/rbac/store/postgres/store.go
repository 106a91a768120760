package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"orgdesk/internal/rbac/models"
	id "orgdesk/pkg/domain"
	"orgdesk/pkg/platform/sentinel"
	txcontext "orgdesk/pkg/platform/tx"
)

// Store persists the role/permission catalog and per-tenant grants in
// PostgreSQL. A CHECK constraint mirrors the context invariants so redundant
// tenant-scoped context ids and global grants with a context id are rejected
// at the schema level too.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// ---------------------------------------------------------------------------
// Catalog
// ---------------------------------------------------------------------------

func (s *Store) CreateRole(ctx context.Context, role *models.Role) error {
	query := `
		INSERT INTO roles (id, name, hierarchy_level, is_system_role)
		VALUES ($1, $2, $3, $4)
	`
	_, err := txcontext.Q(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(role.ID),
		role.Name.String(),
		role.HierarchyLevel,
		role.IsSystemRole,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) FindRoleByName(ctx context.Context, name id.RoleName) (*models.Role, error) {
	query := `
		SELECT id, name, hierarchy_level, is_system_role
		FROM roles
		WHERE name = $1
	`
	row := txcontext.Q(ctx, s.db).QueryRowContext(ctx, query, name.String())

	var role models.Role
	var roleID uuid.UUID
	var roleName string
	if err := row.Scan(&roleID, &roleName, &role.HierarchyLevel, &role.IsSystemRole); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	role.ID = id.RoleID(roleID)
	role.Name = id.RoleName(roleName)
	return &role, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]*models.Role, error) {
	query := `
		SELECT id, name, hierarchy_level, is_system_role
		FROM roles
		ORDER BY hierarchy_level
	`
	rows, err := txcontext.Q(ctx, s.db).QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*models.Role
	for rows.Next() {
		var role models.Role
		var roleID uuid.UUID
		var roleName string
		if err := rows.Scan(&roleID, &roleName, &role.HierarchyLevel, &role.IsSystemRole); err != nil {
			return nil, err
		}
		role.ID = id.RoleID(roleID)
		role.Name = id.RoleName(roleName)
		roles = append(roles, &role)
	}
	return roles, rows.Err()
}

func (s *Store) CreatePermission(ctx context.Context, permission *models.Permission) error {
	query := `
		INSERT INTO permissions (id, name, resource, action, context)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := txcontext.Q(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(permission.ID),
		permission.Name,
		permission.Resource,
		permission.Action,
		nullString(permission.Context),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) FindPermissionByName(ctx context.Context, name string) (*models.Permission, error) {
	query := `
		SELECT id, name, resource, action, COALESCE(context, '')
		FROM permissions
		WHERE name = $1
	`
	row := txcontext.Q(ctx, s.db).QueryRowContext(ctx, query, name)

	var permission models.Permission
	var permissionID uuid.UUID
	if err := row.Scan(&permissionID, &permission.Name, &permission.Resource, &permission.Action, &permission.Context); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	permission.ID = id.PermissionID(permissionID)
	return &permission, nil
}

func (s *Store) LinkRolePermission(ctx context.Context, roleID id.RoleID, permissionID id.PermissionID) error {
	query := `
		INSERT INTO role_permissions (role_id, permission_id)
		VALUES ($1, $2)
	`
	_, err := txcontext.Q(ctx, s.db).ExecContext(ctx, query, uuid.UUID(roleID), uuid.UUID(permissionID))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return err
	}
	return nil
}

// ListPermissionsForRoles resolves the permissions granted to the given role
// ids in one round trip, one row per (role, permission) link.
func (s *Store) ListPermissionsForRoles(ctx context.Context, roleIDs []id.RoleID) ([]*models.GrantedPermission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(roleIDs))
	for i, roleID := range roleIDs {
		ids[i] = uuid.UUID(roleID)
	}

	query := `
		SELECT rp.role_id, p.id, p.name, p.resource, p.action, COALESCE(p.context, '')
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = ANY($1)
	`
	rows, err := txcontext.Q(ctx, s.db).QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var granted []*models.GrantedPermission
	for rows.Next() {
		var permission models.Permission
		var roleID, permissionID uuid.UUID
		if err := rows.Scan(&roleID, &permissionID, &permission.Name, &permission.Resource, &permission.Action, &permission.Context); err != nil {
			return nil, err
		}
		permission.ID = id.PermissionID(permissionID)
		granted = append(granted, &models.GrantedPermission{RoleID: id.RoleID(roleID), Permission: &permission})
	}
	return granted, rows.Err()
}

// ---------------------------------------------------------------------------
// Grants
// ---------------------------------------------------------------------------

func (s *Store) CreateUserRole(ctx context.Context, grant *models.UserRole) error {
	if grant.ContextType == models.ContextGlobal && grant.ContextID != nil {
		return sentinel.ErrInvalidState
	}
	if grant.ContextID != nil && *grant.ContextID == uuid.UUID(grant.TenantID) {
		return sentinel.ErrInvalidState
	}

	query := `
		INSERT INTO user_roles (id, user_id, role_id, role_name, tenant_id, context_type, context_id, is_active, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := txcontext.Q(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(grant.ID),
		uuid.UUID(grant.UserID),
		uuid.UUID(grant.RoleID),
		grant.RoleName.String(),
		uuid.UUID(grant.TenantID),
		string(grant.ContextType),
		nullUUID(grant.ContextID),
		grant.IsActive,
		grant.ExpiresAt,
		grant.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListActiveUserRoles(ctx context.Context, userID id.UserID, tenantID id.TenantID, now time.Time) ([]*models.UserRole, error) {
	query := `
		SELECT id, user_id, role_id, role_name, tenant_id, context_type, context_id, is_active, expires_at, created_at
		FROM user_roles
		WHERE user_id = $1 AND tenant_id = $2 AND is_active = TRUE
		  AND (expires_at IS NULL OR expires_at > $3)
	`
	rows, err := txcontext.Q(ctx, s.db).QueryContext(ctx, query, uuid.UUID(userID), uuid.UUID(tenantID), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []*models.UserRole
	for rows.Next() {
		var grant models.UserRole
		var grantID, scanUserID, roleID, scanTenantID uuid.UUID
		var roleName, contextType string
		var contextID uuid.NullUUID
		if err := rows.Scan(
			&grantID, &scanUserID, &roleID, &roleName, &scanTenantID,
			&contextType, &contextID, &grant.IsActive, &grant.ExpiresAt, &grant.CreatedAt,
		); err != nil {
			return nil, err
		}
		grant.ID = id.UserRoleID(grantID)
		grant.UserID = id.UserID(scanUserID)
		grant.RoleID = id.RoleID(roleID)
		grant.RoleName = id.RoleName(roleName)
		grant.TenantID = id.TenantID(scanTenantID)
		grant.ContextType = models.ContextType(contextType)
		if contextID.Valid {
			value := contextID.UUID
			grant.ContextID = &value
		}
		grants = append(grants, &grant)
	}
	return grants, rows.Err()
}

func (s *Store) HasActiveGrant(ctx context.Context, userID id.UserID, roleID id.RoleID, tenantID id.TenantID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM user_roles
			WHERE user_id = $1 AND role_id = $2 AND tenant_id = $3 AND is_active = TRUE
		)
	`
	var exists bool
	err := txcontext.Q(ctx, s.db).QueryRowContext(ctx, query,
		uuid.UUID(userID), uuid.UUID(roleID), uuid.UUID(tenantID),
	).Scan(&exists)
	return exists, err
}

func (s *Store) DeactivateUserRole(ctx context.Context, grantID id.UserRoleID) error {
	query := `UPDATE user_roles SET is_active = FALSE WHERE id = $1`
	result, err := txcontext.Q(ctx, s.db).ExecContext(ctx, query, uuid.UUID(grantID))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullUUID(u *uuid.UUID) uuid.NullUUID {
	if u == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *u, Valid: true}
}
