// Package models defines the invitation aggregate: a pending grant of initial
// access keyed by email and tenant, carrying a one-time validation snapshot
// that provisioning re-checks before creating any records.
package models

import (
	"strings"
	"time"

	id "orgdesk/pkg/domain"
	dErrors "orgdesk/pkg/domain-errors"
	"orgdesk/pkg/secrets"
)

// Status is the invitation lifecycle state. Transitions only go
// pending -> {accepted | expired | cancelled}; terminal states are final.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusPending, StatusAccepted, StatusExpired, StatusCancelled:
		return Status(raw), nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown invitation status: "+raw)
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusAccepted || s == StatusExpired || s == StatusCancelled
}

// ValidationElements is the ten-field snapshot written once at creation and
// never mutated. It is the source of truth provisioning validates against,
// independent of whatever the identity provider's metadata claims.
//
// TempPassword holds a bcrypt hash; the plaintext is returned to the inviter
// exactly once and never stored.
type ValidationElements struct {
	FullName         string `json:"full_name"`
	TempUser         bool   `json:"temp_user"`
	TenantID         string `json:"tenant_id"`
	CompanyName      string `json:"company_name"`
	InvitationID     string `json:"invitation_id"`
	TempPassword     string `json:"temp_password"`
	InvitationType   string `json:"invitation_type"`
	InvitedByType    string `json:"invited_by_type"`
	ValidationCode   string `json:"validation_code"`
	CreatedTimestamp string `json:"created_timestamp"`
}

// VerifyCritical cross-checks the identity event's metadata against this
// snapshot. Any missing or mismatched critical element (full_name, tenant_id,
// invitation_type, temp_password) fails closed with a validation error.
func (e ValidationElements) VerifyCritical(claimed ValidationElements) error {
	var failed []string

	if claimed.FullName == "" || claimed.FullName != e.FullName {
		failed = append(failed, "full_name")
	}
	if claimed.TenantID == "" || claimed.TenantID != e.TenantID {
		failed = append(failed, "tenant_id")
	}
	if claimed.InvitationType == "" || claimed.InvitationType != e.InvitationType {
		failed = append(failed, "invitation_type")
	}
	// The snapshot stores a hash, the event carries the plaintext.
	if claimed.TempPassword == "" || secrets.Verify(claimed.TempPassword, e.TempPassword) != nil {
		failed = append(failed, "temp_password")
	}

	if len(failed) > 0 {
		return dErrors.New(dErrors.CodeValidation,
			"critical invitation elements missing or mismatched: "+strings.Join(failed, ", "))
	}
	return nil
}

// Invitation is a pending grant of initial access.
type Invitation struct {
	ID             id.InvitationID
	Token          string
	Email          string
	FullName       string
	TenantID       id.TenantID
	InvitationType id.InvitationType
	Status         Status
	InvitedBy      id.UserID
	// RoleToAssign is set for collaborator invitations; tenant_owner
	// invitations always resolve to the tenant admin role.
	RoleToAssign id.RoleName
	ExpiresAt    time.Time
	AcceptedAt   *time.Time
	CreatedAt    time.Time
	Elements     ValidationElements
}

// NewInvitationParams carries validated inputs for constructing an Invitation.
type NewInvitationParams struct {
	Email            string
	FullName         string
	CompanyName      string
	InvitationType   id.InvitationType
	RoleToAssign     id.RoleName
	InvitedBy        id.UserID
	InvitedByType    string
	TenantID         id.TenantID
	TempPasswordHash string
	ValidationCode   string
	Now              time.Time
	TTL              time.Duration
}

// NewInvitation constructs a pending invitation with its immutable snapshot.
func NewInvitation(p NewInvitationParams) (*Invitation, error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))
	fullName := strings.TrimSpace(p.FullName)

	if email == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "email is required")
	}
	if fullName == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "full name is required")
	}
	if p.TenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant id is required")
	}
	if p.InvitationType == id.InvitationTypeCollaborator && p.RoleToAssign == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "collaborator invitations require a role to assign")
	}
	if p.TempPasswordHash == "" || p.ValidationCode == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "validation snapshot secrets are required")
	}
	if p.TTL <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invitation TTL must be positive")
	}

	invitationID := id.NewInvitationID()
	inv := &Invitation{
		ID:             invitationID,
		Email:          email,
		FullName:       fullName,
		TenantID:       p.TenantID,
		InvitationType: p.InvitationType,
		Status:         StatusPending,
		InvitedBy:      p.InvitedBy,
		RoleToAssign:   p.RoleToAssign,
		ExpiresAt:      p.Now.Add(p.TTL),
		CreatedAt:      p.Now,
		Elements: ValidationElements{
			FullName:         fullName,
			TempUser:         true,
			TenantID:         p.TenantID.String(),
			CompanyName:      strings.TrimSpace(p.CompanyName),
			InvitationID:     invitationID.String(),
			TempPassword:     p.TempPasswordHash,
			InvitationType:   string(p.InvitationType),
			InvitedByType:    p.InvitedByType,
			ValidationCode:   p.ValidationCode,
			CreatedTimestamp: p.Now.UTC().Format(time.RFC3339Nano),
		},
	}
	return inv, nil
}

// Redeemable reports whether the invitation can still be accepted at now,
// with a human-readable reason when it cannot.
func (i *Invitation) Redeemable(now time.Time) (bool, string) {
	switch i.Status {
	case StatusAccepted:
		return false, "invitation already accepted"
	case StatusCancelled:
		return false, "invitation was cancelled"
	case StatusExpired:
		return false, "invitation expired"
	}
	if !now.Before(i.ExpiresAt) {
		return false, "invitation expired"
	}
	return true, ""
}
