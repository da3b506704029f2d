// internal/app/features/tenants/routes.go
package tenants

import "github.com/go-chi/chi/v5"

// Routes serves the tenant picker, mounted under /api/tenants.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ServeList)
	return r
}
