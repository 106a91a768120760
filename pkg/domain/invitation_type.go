package domain

import (
	dErrors "orgdesk/pkg/domain-errors"
)

// InvitationType distinguishes the two onboarding flows: a tenant_owner
// invitation provisions a brand-new tenant, a collaborator invitation joins
// an existing one.
type InvitationType string

const (
	InvitationTypeTenantOwner  InvitationType = "tenant_owner"
	InvitationTypeCollaborator InvitationType = "collaborator"
)

func ParseInvitationType(s string) (InvitationType, error) {
	switch t := InvitationType(s); t {
	case InvitationTypeTenantOwner, InvitationTypeCollaborator:
		return t, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown invitation type: "+s)
	}
}

func (t InvitationType) String() string { return string(t) }
