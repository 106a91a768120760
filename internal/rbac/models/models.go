// Package models defines the role and permission catalog entities and the
// per-tenant grants joining subjects to them.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	id "orgdesk/pkg/domain"
	dErrors "orgdesk/pkg/domain-errors"
)

// Role is a catalog entity. The name set is closed; see pkg/domain RoleName.
type Role struct {
	ID             id.RoleID
	Name           id.RoleName
	HierarchyLevel int
	IsSystemRole   bool
}

// Permission names a capability over a resource, e.g. manage_projects.
type Permission struct {
	ID       id.PermissionID
	Name     string
	Resource string
	Action   string
	Context  string
}

// RolePermission joins a role to a permission, unique on the pair.
type RolePermission struct {
	RoleID       id.RoleID
	PermissionID id.PermissionID
}

// GrantedPermission pairs a catalog permission with the role that carries it,
// so evaluation results can name the rule that matched.
type GrantedPermission struct {
	RoleID     id.RoleID
	Permission *Permission
}

// ContextType scopes a grant below the tenant level.
type ContextType string

const (
	ContextGlobal     ContextType = "global"
	ContextTenant     ContextType = "tenant"
	ContextProject    ContextType = "project"
	ContextDepartment ContextType = "department"
)

func ParseContextType(s string) (ContextType, error) {
	switch ct := ContextType(s); ct {
	case ContextGlobal, ContextTenant, ContextProject, ContextDepartment:
		return ct, nil
	default:
		return "", fmt.Errorf("unknown context type %q", s)
	}
}

// UserRole grants a role to a subject within a tenant and optional
// sub-context. Unique on (user_id, role_id, tenant_id, context_type,
// context_id).
type UserRole struct {
	ID          id.UserRoleID
	UserID      id.UserID
	RoleID      id.RoleID
	RoleName    id.RoleName
	TenantID    id.TenantID
	ContextType ContextType
	ContextID   *uuid.UUID
	IsActive    bool
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}

// NewUserRoleParams carries a grant request.
type NewUserRoleParams struct {
	UserID      id.UserID
	RoleID      id.RoleID
	RoleName    id.RoleName
	TenantID    id.TenantID
	ContextType ContextType
	ContextID   *uuid.UUID
	ExpiresAt   *time.Time
}

// NewUserRole validates and normalizes a grant. A context id equal to the
// tenant id carries no information beyond the tenant scope itself, so it is
// repaired to a plain tenant-scoped grant here; the stores reject the
// redundant form outright so it can never be persisted by other paths.
func NewUserRole(params NewUserRoleParams, now time.Time) (*UserRole, error) {
	if params.UserID.IsNil() || params.RoleID.IsNil() || params.TenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "user id, role id and tenant id are required")
	}
	if _, err := id.ParseRoleName(params.RoleName.String()); err != nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, err.Error())
	}
	if _, err := ParseContextType(string(params.ContextType)); err != nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, err.Error())
	}
	if params.ContextType == ContextGlobal && params.ContextID != nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "global grants must not carry a context id")
	}

	contextID := params.ContextID
	if contextID != nil && *contextID == uuid.UUID(params.TenantID) {
		contextID = nil
		if params.ContextType != ContextTenant {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "context id equal to tenant id is only valid for tenant scope")
		}
	}

	return &UserRole{
		ID:          id.NewUserRoleID(),
		UserID:      params.UserID,
		RoleID:      params.RoleID,
		RoleName:    params.RoleName,
		TenantID:    params.TenantID,
		ContextType: params.ContextType,
		ContextID:   contextID,
		IsActive:    true,
		ExpiresAt:   params.ExpiresAt,
		CreatedAt:   now,
	}, nil
}

// Live reports whether the grant is active and unexpired at now.
func (r *UserRole) Live(now time.Time) bool {
	if !r.IsActive {
		return false
	}
	if r.ExpiresAt != nil && !now.Before(*r.ExpiresAt) {
		return false
	}
	return true
}

// PermissionName builds the canonical "{action}_{resource}" form.
func PermissionName(action, resource string) string {
	return action + "_" + resource
}
