package domain

import (
	"fmt"

	"github.com/google/uuid"

	dErrors "orgdesk/pkg/domain-errors"
)

// Typed UUID identifiers. Each entity gets its own type so the compiler
// rejects cross-entity assignment; construct via the Parse helpers at trust
// boundaries to enforce the non-nil invariant.
type (
	TenantID     uuid.UUID
	UserID       uuid.UUID
	RoleID       uuid.UUID
	PermissionID uuid.UUID
	InvitationID uuid.UUID
	UserRoleID   uuid.UUID
)

func parseUUID(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid %s id: %s", kind, s))
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id cannot be the nil UUID")
	}
	return parsed, nil
}

func ParseTenantID(s string) (TenantID, error) {
	parsed, err := parseUUID("tenant", s)
	return TenantID(parsed), err
}

func ParseUserID(s string) (UserID, error) {
	parsed, err := parseUUID("user", s)
	return UserID(parsed), err
}

func ParseRoleID(s string) (RoleID, error) {
	parsed, err := parseUUID("role", s)
	return RoleID(parsed), err
}

func ParsePermissionID(s string) (PermissionID, error) {
	parsed, err := parseUUID("permission", s)
	return PermissionID(parsed), err
}

func ParseInvitationID(s string) (InvitationID, error) {
	parsed, err := parseUUID("invitation", s)
	return InvitationID(parsed), err
}

func (id TenantID) String() string     { return uuid.UUID(id).String() }
func (id UserID) String() string       { return uuid.UUID(id).String() }
func (id RoleID) String() string       { return uuid.UUID(id).String() }
func (id PermissionID) String() string { return uuid.UUID(id).String() }
func (id InvitationID) String() string { return uuid.UUID(id).String() }
func (id UserRoleID) String() string   { return uuid.UUID(id).String() }

func (id TenantID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id RoleID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id PermissionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id InvitationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id UserRoleID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }

// NewTenantID and friends generate fresh identifiers. Kept here so callers
// never import uuid directly for entity ids.
func NewTenantID() TenantID         { return TenantID(uuid.New()) }
func NewUserID() UserID             { return UserID(uuid.New()) }
func NewRoleID() RoleID             { return RoleID(uuid.New()) }
func NewPermissionID() PermissionID { return PermissionID(uuid.New()) }
func NewInvitationID() InvitationID { return InvitationID(uuid.New()) }
func NewUserRoleID() UserRoleID     { return UserRoleID(uuid.New()) }
