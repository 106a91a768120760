// Package models defines the directory records materialized by provisioning:
// the tenant itself, one profile per identity per tenant, and one employee
// record per identity per tenant carrying the human-readable sequence id.
package models

import (
	"fmt"
	"strings"
	"time"

	id "orgdesk/pkg/domain"
	dErrors "orgdesk/pkg/domain-errors"
)

// TenantStatus is the tenant lifecycle state.
type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
)

// Tenant is an isolated customer organization.
type Tenant struct {
	ID        id.TenantID
	Name      string
	Status    TenantStatus
	CreatedAt time.Time
}

// NewTenant constructs an active tenant. The id is pre-allocated by the
// invitation so provisioning can be idempotent against a known id.
func NewTenant(tenantID id.TenantID, name string, now time.Time) (*Tenant, error) {
	name = strings.TrimSpace(name)
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant id is required")
	}
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant name is required")
	}
	return &Tenant{ID: tenantID, Name: name, Status: TenantActive, CreatedAt: now}, nil
}

// ProfileStatus is the member lifecycle state within a tenant.
type ProfileStatus string

const (
	ProfileActive   ProfileStatus = "active"
	ProfileDisabled ProfileStatus = "disabled"
)

// Profile carries display attributes and the coarse role label used for
// quick UI checks. Fine-grained access lives in the RBAC tables.
type Profile struct {
	UserID    id.UserID
	TenantID  id.TenantID
	Email     string
	FullName  string
	Role      id.RoleName
	Status    ProfileStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Employee is the HR-facing record with the auto-assigned sequence id.
// Sequence is unique within a tenant; EmployeeID is its display form.
type Employee struct {
	UserID     id.UserID
	TenantID   id.TenantID
	EmployeeID string
	Sequence   int
	Email      string
	FullName   string
	Status     ProfileStatus
	CreatedAt  time.Time
}

// FormatEmployeeID renders a sequence number in its display form, EMP001.
// The width grows naturally past 999.
func FormatEmployeeID(sequence int) string {
	return fmt.Sprintf("EMP%03d", sequence)
}
