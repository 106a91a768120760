package domain

import (
	dErrors "orgdesk/pkg/domain-errors"
)

// RoleName is the closed set of role identifiers known to the platform.
// Invariant: every RoleName flowing through the system is one of the values
// below; construct via ParseRoleName at trust boundaries so an unknown role
// surfaces as an explicit error instead of a silent string mismatch.
type RoleName string

const (
	RoleSuperAdmin     RoleName = "super_admin"
	RoleTenantAdmin    RoleName = "tenant_admin"
	RoleManagerHR      RoleName = "manager_hr"
	RoleProjectManager RoleName = "project_manager"
	RoleEmployee       RoleName = "employee"
	RoleViewer         RoleName = "viewer"
)

// roleCatalog is the single mapping table from role name to hierarchy level
// and bypass behavior. Lower level means more authority.
var roleCatalog = map[RoleName]struct {
	hierarchyLevel int
	bypass         bool
}{
	RoleSuperAdmin:     {hierarchyLevel: 0, bypass: true},
	RoleTenantAdmin:    {hierarchyLevel: 1, bypass: false},
	RoleManagerHR:      {hierarchyLevel: 2, bypass: false},
	RoleProjectManager: {hierarchyLevel: 2, bypass: false},
	RoleEmployee:       {hierarchyLevel: 3, bypass: false},
	RoleViewer:         {hierarchyLevel: 4, bypass: false},
}

// ParseRoleName validates a role name against the catalog.
func ParseRoleName(s string) (RoleName, error) {
	name := RoleName(s)
	if _, ok := roleCatalog[name]; !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown role name: "+s)
	}
	return name, nil
}

func (r RoleName) String() string { return string(r) }

// HierarchyLevel returns the role's position in the authority hierarchy.
// Unknown names sort below every known role.
func (r RoleName) HierarchyLevel() int {
	if entry, ok := roleCatalog[r]; ok {
		return entry.hierarchyLevel
	}
	return int(^uint(0) >> 1)
}

// BypassesPermissionChecks reports whether the role short-circuits
// permission evaluation entirely.
func (r RoleName) BypassesPermissionChecks() bool {
	if entry, ok := roleCatalog[r]; ok {
		return entry.bypass
	}
	return false
}

// KnownRoleNames returns the catalog in hierarchy order, most privileged first.
func KnownRoleNames() []RoleName {
	return []RoleName{
		RoleSuperAdmin,
		RoleTenantAdmin,
		RoleManagerHR,
		RoleProjectManager,
		RoleEmployee,
		RoleViewer,
	}
}
