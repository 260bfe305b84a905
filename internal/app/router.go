package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/gatekeeper/internal/authz"
	"github.com/odyssey-erp/gatekeeper/internal/hierarchy"
	"github.com/odyssey-erp/gatekeeper/internal/observability"
	"github.com/odyssey-erp/gatekeeper/internal/teams"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	AuthzHandler     *authz.Handler
	HierarchyHandler *hierarchy.Handler
	TeamsHandler     *teams.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with gatekeeper defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.AuthzHandler != nil {
		r.Route("/authz", params.AuthzHandler.MountRoutes)
	}
	if params.HierarchyHandler != nil {
		r.Route("/hierarchy", params.HierarchyHandler.MountRoutes)
	}
	if params.TeamsHandler != nil {
		r.Route("/teams", params.TeamsHandler.MountTeamRoutes)
		r.Route("/assignments", params.TeamsHandler.MountAssignmentRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
