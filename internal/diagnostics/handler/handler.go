// Package handler exposes the diagnostics report to operators.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"orgdesk/internal/diagnostics/service"
	"orgdesk/pkg/platform/httputil"
)

type Handler struct {
	service *service.Service
	logger  *slog.Logger
}

func New(svc *service.Service, logger *slog.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

// RegisterAdmin mounts the diagnostics endpoint. Admin token required.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/diagnostics", h.HandleDiagnostics)
}

// HandleDiagnostics handles GET /admin/diagnostics. The report always comes
// back 200; degraded subsystems show up inside the payload.
func (h *Handler) HandleDiagnostics(w http.ResponseWriter, r *http.Request) {
	report := h.service.DiagnoseOnboardingSystem(r.Context())
	httputil.WriteJSON(w, http.StatusOK, report)
}
