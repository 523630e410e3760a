package statistics

import (
	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermCostCenterView, shared.PermStatisticsManage))
		r.Get("/", h.List)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermStatisticsManage))
		r.Post("/", h.Record)
	})
}
