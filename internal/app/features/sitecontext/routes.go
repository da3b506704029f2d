// internal/app/features/sitecontext/routes.go
package sitecontext

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes serves the context endpoints, mounted under /api/context.
// Recheck bypasses the tenant cache, so it runs behind recheckLimit.
func Routes(h *Handler, recheckLimit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ServeContext)
	r.With(recheckLimit).Post("/recheck", h.ServeRecheck)
	return r
}
