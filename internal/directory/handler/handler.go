// Package handler exposes directory reads over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"orgdesk/internal/directory/models"
	id "orgdesk/pkg/domain"
	dErrors "orgdesk/pkg/domain-errors"
	"orgdesk/pkg/platform/httputil"
	"orgdesk/pkg/requestcontext"
)

type DirectoryService interface {
	GetTenant(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
	GetProfile(ctx context.Context, userID id.UserID, tenantID id.TenantID) (*models.Profile, error)
	GetEmployee(ctx context.Context, userID id.UserID, tenantID id.TenantID) (*models.Employee, error)
}

type Handler struct {
	service DirectoryService
	logger  *slog.Logger
}

func New(service DirectoryService, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the directory routes on an authenticated router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/tenants/{tenantID}", h.getTenant)
	r.Get("/tenants/{tenantID}/members/{userID}", h.getMember)
}

type tenantResponse struct {
	ID        id.TenantID         `json:"id"`
	Name      string              `json:"name"`
	Status    models.TenantStatus `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
}

func (h *Handler) getTenant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, err := id.ParseTenantID(chi.URLParam(r, "tenantID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid tenant id"))
		return
	}
	if callerTenant := requestcontext.TenantID(ctx); !callerTenant.IsNil() && callerTenant != tenantID {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "tenant mismatch"))
		return
	}

	tenant, err := h.service.GetTenant(ctx, tenantID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, tenantResponse{
		ID:        tenant.ID,
		Name:      tenant.Name,
		Status:    tenant.Status,
		CreatedAt: tenant.CreatedAt,
	})
}

type memberResponse struct {
	UserID     id.UserID            `json:"user_id"`
	TenantID   id.TenantID          `json:"tenant_id"`
	Email      string               `json:"email"`
	FullName   string               `json:"full_name"`
	Role       id.RoleName          `json:"role"`
	Status     models.ProfileStatus `json:"status"`
	EmployeeID string               `json:"employee_id,omitempty"`
}

func (h *Handler) getMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, err := id.ParseTenantID(chi.URLParam(r, "tenantID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid tenant id"))
		return
	}
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid user id"))
		return
	}
	if callerTenant := requestcontext.TenantID(ctx); !callerTenant.IsNil() && callerTenant != tenantID {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "tenant mismatch"))
		return
	}

	profile, err := h.service.GetProfile(ctx, userID, tenantID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp := memberResponse{
		UserID:   profile.UserID,
		TenantID: profile.TenantID,
		Email:    profile.Email,
		FullName: profile.FullName,
		Role:     profile.Role,
		Status:   profile.Status,
	}
	// The employee record is created after the profile during provisioning,
	// so a missing one is not an error.
	if employee, err := h.service.GetEmployee(ctx, userID, tenantID); err == nil {
		resp.EmployeeID = employee.EmployeeID
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}
