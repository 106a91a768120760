// Package handler exposes the provisioning entry points over HTTP: the
// identity-confirmed webhook and the administrative re-run.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"orgdesk/internal/provisioning/service"
	id "orgdesk/pkg/domain"
	dErrors "orgdesk/pkg/domain-errors"
	"orgdesk/pkg/platform/httputil"
	"orgdesk/pkg/requestcontext"
)

type Handler struct {
	service *service.Service
	logger  *slog.Logger
}

func New(svc *service.Service, logger *slog.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

// RegisterHooks mounts the identity-confirmed webhook. Guarded by the admin
// token; the identity provider is configured with it.
func (h *Handler) RegisterHooks(r chi.Router) {
	r.Post("/hooks/identity-confirmed", h.HandleIdentityConfirmed)
}

// RegisterAdmin mounts the administrative re-run endpoint.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/onboard", h.HandleOnboard)
}

// HandleIdentityConfirmed handles POST /hooks/identity-confirmed. Rejections
// come back as 200 with success=false so the event source does not redeliver
// them; only infrastructure faults get a 5xx and a retry.
func (h *Handler) HandleIdentityConfirmed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[IdentityConfirmedRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.HandleIdentityConfirmed(ctx, service.IdentityConfirmedEvent{
		IdentityID:       req.IdentityID,
		Email:            req.Email,
		EmailConfirmedAt: req.EmailConfirmedAt,
		RawMetadata:      req.RawMetadata,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "provisioning failed",
			"request_id", requestID,
			"identity_id", req.IdentityID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleOnboard handles POST /admin/onboard requests.
func (h *Handler) HandleOnboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[OnboardRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	userID, err := id.ParseUserID(req.UserID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "user_id must be a valid uuid"))
		return
	}

	result, err := h.service.OnboardTenantOwner(ctx, userID, req.Email, req.Slug, req.TenantName, req.InviteCode)
	if err != nil {
		h.logger.ErrorContext(ctx, "onboarding re-run failed",
			"request_id", requestID,
			"user_id", req.UserID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}
