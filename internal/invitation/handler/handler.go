package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"orgdesk/internal/invitation/models"
	"orgdesk/internal/invitation/service"
	id "orgdesk/pkg/domain"
	dErrors "orgdesk/pkg/domain-errors"
	"orgdesk/pkg/platform/httputil"
	"orgdesk/pkg/requestcontext"
)

// Handler exposes the invitation lifecycle over HTTP.
type Handler struct {
	service *service.Service
	logger  *slog.Logger
}

func New(svc *service.Service, logger *slog.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

// Register mounts authenticated invitation endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/invitations", h.HandleCreate)
	r.Post("/invitations/{invitationID}/cancel", h.HandleCancel)
}

// RegisterPublic mounts the pre-auth validation endpoint.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/invitations/validate", h.HandleValidateCode)
}

// RegisterAdmin mounts the sweep endpoint, guarded by the admin token.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/invitations/sweep", h.HandleSweep)
}

// CreateResponse is the HTTP response for POST /invitations.
type CreateResponse struct {
	InvitationID string    `json:"invitation_id"`
	TenantID     string    `json:"tenant_id"`
	InviteCode   string    `json:"invite_code"`
	TempPassword string    `json:"temp_password"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// HandleCreate handles POST /invitations requests.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	userID := requestcontext.UserID(ctx)
	if userID == (id.UserID{}) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[CreateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.Create(ctx, service.CreateParams{
		Email:          req.Email,
		FullName:       req.FullName,
		CompanyName:    req.CompanyName,
		InvitationType: req.parsedType,
		RoleToAssign:   req.parsedRole,
		InvitedBy:      userID,
		InvitedByType:  "user",
		TenantID:       req.parsedTenantID,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "invitation creation failed",
			"request_id", requestID,
			"email", req.Email,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "invitation created",
		"request_id", requestID,
		"invitation_id", result.Invitation.ID,
		"type", result.Invitation.InvitationType,
	)

	httputil.WriteJSON(w, http.StatusCreated, CreateResponse{
		InvitationID: result.Invitation.ID.String(),
		TenantID:     result.Invitation.TenantID.String(),
		InviteCode:   result.InviteCode,
		TempPassword: result.TempPassword,
		ExpiresAt:    result.Invitation.ExpiresAt,
	})
}

// HandleValidateCode handles POST /invitations/validate requests.
func (h *Handler) HandleValidateCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ValidateCodeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.ValidateCode(ctx, req.Code)
	if err != nil {
		h.logger.ErrorContext(ctx, "invitation validation failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleCancel handles POST /invitations/{invitationID}/cancel requests.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	userID := requestcontext.UserID(ctx)
	if userID == (id.UserID{}) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	invitationID, err := id.ParseInvitationID(chi.URLParam(r, "invitationID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.service.Cancel(ctx, invitationID); err != nil {
		h.logger.WarnContext(ctx, "invitation cancel failed",
			"request_id", requestID,
			"invitation_id", invitationID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status": string(models.StatusCancelled),
	})
}

// SweepResponse is the HTTP response for POST /admin/invitations/sweep.
type SweepResponse struct {
	Expired int `json:"expired"`
}

// HandleSweep handles POST /admin/invitations/sweep requests.
func (h *Handler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	count, err := h.service.SweepExpired(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "invitation sweep failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, SweepResponse{Expired: count})
}
