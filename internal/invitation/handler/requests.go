package handler

import (
	"strings"

	id "orgdesk/pkg/domain"
	dErrors "orgdesk/pkg/domain-errors"
)

// CreateRequest is the HTTP request body for POST /invitations.
type CreateRequest struct {
	Email          string `json:"email"`
	FullName       string `json:"full_name"`
	CompanyName    string `json:"company_name"`
	InvitationType string `json:"invitation_type"`
	RoleToAssign   string `json:"role_to_assign"`
	TenantID       string `json:"tenant_id"`

	// Parsed values (populated by Validate)
	parsedType     id.InvitationType
	parsedRole     id.RoleName
	parsedTenantID id.TenantID
}

// Validate validates and parses the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *CreateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	r.Email = strings.TrimSpace(r.Email)
	if r.Email == "" {
		return dErrors.New(dErrors.CodeValidation, "email is required")
	}
	if !strings.Contains(r.Email, "@") {
		return dErrors.New(dErrors.CodeValidation, "email is malformed")
	}
	r.FullName = strings.TrimSpace(r.FullName)
	if r.FullName == "" {
		return dErrors.New(dErrors.CodeValidation, "full_name is required")
	}

	invType, err := id.ParseInvitationType(strings.TrimSpace(r.InvitationType))
	if err != nil {
		return err
	}
	r.parsedType = invType

	switch invType {
	case id.InvitationTypeCollaborator:
		if r.RoleToAssign == "" {
			return dErrors.New(dErrors.CodeValidation, "role_to_assign is required for collaborator invitations")
		}
		role, err := id.ParseRoleName(strings.TrimSpace(r.RoleToAssign))
		if err != nil {
			return err
		}
		r.parsedRole = role

		tenantID, err := id.ParseTenantID(strings.TrimSpace(r.TenantID))
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, "tenant_id is required for collaborator invitations")
		}
		r.parsedTenantID = tenantID
	case id.InvitationTypeTenantOwner:
		if strings.TrimSpace(r.CompanyName) == "" {
			return dErrors.New(dErrors.CodeValidation, "company_name is required for tenant_owner invitations")
		}
	}

	return nil
}

// ValidateCodeRequest is the HTTP request body for POST /invitations/validate.
type ValidateCodeRequest struct {
	Code string `json:"code"`
}

func (r *ValidateCodeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Code = strings.TrimSpace(r.Code)
	if r.Code == "" {
		return dErrors.New(dErrors.CodeValidation, "code is required")
	}
	return nil
}
