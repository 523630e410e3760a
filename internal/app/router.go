package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	allocationhttp "github.com/odyssey-erp/hospital-costing/internal/allocation/http"
	"github.com/odyssey-erp/hospital-costing/internal/auth"
	costcenterhttp "github.com/odyssey-erp/hospital-costing/internal/costcenter/http"
	"github.com/odyssey-erp/hospital-costing/internal/masterdata/statistics"
	"github.com/odyssey-erp/hospital-costing/internal/observability"
	"github.com/odyssey-erp/hospital-costing/internal/platform/httpx"
	"github.com/odyssey-erp/hospital-costing/internal/shared"
	"github.com/odyssey-erp/hospital-costing/jobs"
)

// APIPrefix is the mount point of the costing JSON API.
const APIPrefix = "/api/v1/cost-center-management"

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Authenticator     auth.Authenticator
	CostCenterHandler *costcenterhttp.Handler
	StatisticsHandler *statistics.Handler
	AllocationHandler *allocationhttp.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with service defaults.
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

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route(APIPrefix, func(r chi.Router) {
		if params.Authenticator != nil {
			r.Use(auth.RequireToken(params.Authenticator, params.Logger))
		}
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			actor, _ := shared.ActorFromContext(r.Context())
			httpx.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"service": "hospital-costing", "user_id": actor.UserID}})
		})
		if params.CostCenterHandler != nil {
			params.CostCenterHandler.MountRoutes(r)
		}
		if params.StatisticsHandler != nil {
			r.Route("/statistics", params.StatisticsHandler.MountRoutes)
		}
		if params.AllocationHandler != nil {
			params.AllocationHandler.MountRoutes(r)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
