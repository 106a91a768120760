// Package handler exposes permission evaluation over HTTP.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"orgdesk/internal/rbac/service"
	id "orgdesk/pkg/domain"
	dErrors "orgdesk/pkg/domain-errors"
	"orgdesk/pkg/platform/httputil"
	"orgdesk/pkg/requestcontext"
)

type Handler struct {
	evaluator *service.Evaluator
	logger    *slog.Logger
}

func New(evaluator *service.Evaluator, logger *slog.Logger) *Handler {
	return &Handler{evaluator: evaluator, logger: logger}
}

// Register mounts authenticated evaluation endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/permissions/evaluate", h.HandleEvaluate)
}

// RegisterAdmin mounts the stats and audit endpoints, guarded by the admin
// token.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/permissions/stats", h.HandleStats)
	r.Get("/permissions/audit", h.HandleAuditLog)
}

// HandleEvaluate handles POST /permissions/evaluate requests for the
// authenticated caller. A denial is a 200 with granted=false; only malformed
// requests and lookup failures are errors.
func (h *Handler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	userID := requestcontext.UserID(ctx)
	tenantID := requestcontext.TenantID(ctx)
	if userID == (id.UserID{}) || tenantID == (id.TenantID{}) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[EvaluateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	var resource *service.ResourceContext
	if req.Context != nil {
		resource = &service.ResourceContext{CreatedBy: req.createdBy, ManagerID: req.managerID}
	}

	decision, err := h.evaluator.Evaluate(ctx, userID, tenantID, req.permissionName, resource)
	if err != nil {
		h.logger.ErrorContext(ctx, "permission evaluation failed",
			"request_id", requestID,
			"permission", req.permissionName,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, decision)
}

// HandleStats handles GET /permissions/stats requests.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.evaluator.GetPermissionStats())
}

// HandleAuditLog handles GET /permissions/audit requests. The limit query
// parameter caps the number of returned entries, newest first.
func (h *Handler) HandleAuditLog(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	entries := h.evaluator.GetAuditLog(limit)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
