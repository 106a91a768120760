package handler

import (
	id "orgdesk/pkg/domain"
	dErrors "orgdesk/pkg/domain-errors"

	"orgdesk/internal/rbac/models"
)

// EvaluateRequest asks whether the caller holds a permission. Either the
// canonical permission name or an action/resource pair must be supplied.
type EvaluateRequest struct {
	Permission string                  `json:"permission"`
	Action     string                  `json:"action"`
	Resource   string                  `json:"resource"`
	Context    *ResourceContextRequest `json:"context"`

	permissionName string
	createdBy      id.UserID
	managerID      id.UserID
}

type ResourceContextRequest struct {
	CreatedBy string `json:"created_by"`
	ManagerID string `json:"manager_id"`
}

func (r *EvaluateRequest) Validate() error {
	switch {
	case r.Permission != "":
		r.permissionName = r.Permission
	case r.Action != "" && r.Resource != "":
		r.permissionName = models.PermissionName(r.Action, r.Resource)
	default:
		return dErrors.New(dErrors.CodeValidation, "permission, or action and resource, is required")
	}

	if r.Context != nil {
		if r.Context.CreatedBy != "" {
			createdBy, err := id.ParseUserID(r.Context.CreatedBy)
			if err != nil {
				return dErrors.New(dErrors.CodeValidation, "context.created_by must be a valid user id")
			}
			r.createdBy = createdBy
		}
		if r.Context.ManagerID != "" {
			managerID, err := id.ParseUserID(r.Context.ManagerID)
			if err != nil {
				return dErrors.New(dErrors.CodeValidation, "context.manager_id must be a valid user id")
			}
			r.managerID = managerID
		}
	}
	return nil
}
