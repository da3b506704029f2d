// internal/app/features/pages/routes.go
package pages

import (
	"github.com/dalemusser/churchos/internal/app/system/tenant"
	"github.com/go-chi/chi/v5"
)

// ManageRoutes returns the page management API. Mount at /api/pages.
func ManageRoutes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(tenant.Require(h.ErrLog.Respond))
	r.Use(h.requireAdmin)
	r.Get("/", h.ServeList)
	r.Post("/", h.HandleCreate)
	r.Patch("/{id}", h.HandleUpdate)
	r.Delete("/{id}", h.HandleDelete)
	return r
}

// SiteRoutes returns the public page reads. Mount at /api/site.
func SiteRoutes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(tenant.Require(h.ErrLog.Respond))
	r.Get("/", h.ServeHomepage)
	r.Get("/{slug}", h.ServePage)
	return r
}
