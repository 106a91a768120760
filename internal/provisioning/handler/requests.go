package handler

import (
	"strings"
	"time"

	invmodels "orgdesk/internal/invitation/models"
	dErrors "orgdesk/pkg/domain-errors"
)

// IdentityConfirmedRequest is the webhook payload delivered when the
// identity provider confirms an email. raw_metadata is the provider's copy
// of the validation snapshot; the orchestrator cross-checks it against the
// stored one.
type IdentityConfirmedRequest struct {
	IdentityID       string                       `json:"identity_id"`
	Email            string                       `json:"email"`
	EmailConfirmedAt time.Time                    `json:"email_confirmed_at"`
	RawMetadata      invmodels.ValidationElements `json:"raw_metadata"`
}

func (r *IdentityConfirmedRequest) Validate() error {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	if r.IdentityID == "" {
		return dErrors.New(dErrors.CodeValidation, "identity_id is required")
	}
	if r.Email == "" {
		return dErrors.New(dErrors.CodeValidation, "email is required")
	}
	return nil
}

// OnboardRequest is the administrative re-run payload.
type OnboardRequest struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	Slug       string `json:"slug"`
	TenantName string `json:"tenant_name"`
	InviteCode string `json:"invite_code"`
}

func (r *OnboardRequest) Validate() error {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	if r.UserID == "" {
		return dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	if r.InviteCode == "" {
		return dErrors.New(dErrors.CodeValidation, "invite_code is required")
	}
	return nil
}
