// Package httpapi assembles the HTTP surface: route groups, middleware
// ordering, and the operational endpoints. Handlers stay thin and delegate to
// their feature services.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	diaghandler "orgdesk/internal/diagnostics/handler"
	dirhandler "orgdesk/internal/directory/handler"
	invhandler "orgdesk/internal/invitation/handler"
	platformmetrics "orgdesk/internal/platform/metrics"
	provhandler "orgdesk/internal/provisioning/handler"
	rbachandler "orgdesk/internal/rbac/handler"
	adminmw "orgdesk/pkg/platform/middleware/admin"
	authmw "orgdesk/pkg/platform/middleware/auth"
	metricsmw "orgdesk/pkg/platform/middleware/metrics"
	requestmw "orgdesk/pkg/platform/middleware/request"
	requesttimemw "orgdesk/pkg/platform/middleware/requesttime"
)

// Deps carries everything the router mounts. Main builds one of these after
// wiring services; tests build a smaller one by hand.
type Deps struct {
	Logger  *slog.Logger
	Metrics *platformmetrics.Metrics

	// TokenValidator authenticates bearer tokens on the protected routes.
	TokenValidator authmw.TokenValidator

	// AdminToken guards /admin and /hooks. Empty disables both groups;
	// the admin middleware rejects every request when the token is unset.
	AdminToken string

	Invitations  *invhandler.Handler
	Directory    *dirhandler.Handler
	Permissions  *rbachandler.Handler
	Provisioning *provhandler.Handler
	Diagnostics  *diaghandler.Handler
}

// NewRouter wires the full route tree.
//
//	public:     invitation code validation, health, metrics
//	bearer:     invitations, directory reads, permission evaluation
//	admin:      sweep, onboard re-run, permission stats/audit, diagnostics
//	hooks:      identity-confirmed webhook (admin token, set on the IdP)
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestmw.Middleware)
	r.Use(requesttimemw.Middleware)
	if d.Metrics != nil {
		r.Use(metricsmw.Middleware(d.Metrics.HTTPRequestsTotal, d.Metrics.HTTPRequestDuration))
	}

	r.Get("/healthz", handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	// Unauthenticated: the invited person holds only the signed code.
	r.Group(func(r chi.Router) {
		d.Invitations.RegisterPublic(r)
	})

	// Bearer-token routes.
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(d.TokenValidator, d.Logger))
		d.Invitations.Register(r)
		d.Directory.Register(r)
		d.Permissions.Register(r)
	})

	// Operator routes.
	r.Route("/admin", func(r chi.Router) {
		r.Use(adminmw.RequireAdminToken(d.AdminToken, d.Logger))
		d.Invitations.RegisterAdmin(r)
		d.Permissions.RegisterAdmin(r)
		d.Provisioning.RegisterAdmin(r)
		d.Diagnostics.RegisterAdmin(r)
	})

	// Identity provider webhook, shares the admin token.
	r.Group(func(r chi.Router) {
		r.Use(adminmw.RequireAdminToken(d.AdminToken, d.Logger))
		d.Provisioning.RegisterHooks(r)
	})

	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
