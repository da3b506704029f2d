// internal/app/features/pages/handler.go
package pages

import (
	"context"
	"net/http"

	uierrors "github.com/dalemusser/churchos/internal/app/features/errors"
	pagestore "github.com/dalemusser/churchos/internal/app/store/pages"
	"github.com/dalemusser/churchos/internal/app/system/identity"
	"github.com/dalemusser/churchos/internal/app/system/pageguard"
	"github.com/dalemusser/churchos/internal/app/system/roles"
	"github.com/dalemusser/churchos/internal/app/system/tenant"
	"github.com/dalemusser/churchos/internal/app/system/timeouts"
	"github.com/dalemusser/churchos/internal/app/system/viewrouter"
	"go.uber.org/zap"
)

// Handler owns the page management API and the public page reads.
type Handler struct {
	Guard    *pageguard.Guard
	Pages    *pagestore.Store
	Sessions *roles.Registry
	Log      *zap.Logger
	ErrLog   *uierrors.ErrorLogger
}

// NewHandler constructs a Handler. Writes go through guard; reads go
// straight to pages.
func NewHandler(guard *pageguard.Guard, pages *pagestore.Store, sessions *roles.Registry, errLog *uierrors.ErrorLogger, logger *zap.Logger) *Handler {
	return &Handler{
		Guard:    guard,
		Pages:    pages,
		Sessions: sessions,
		Log:      logger,
		ErrLog:   errLog,
	}
}

// requireAdmin lets through requests whose caller may manage the tenant's
// site. Everyone else gets the admin-surface decision rendered as an error.
// tenant.Require must run first.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, _ := tenant.FromRequest(r)

		ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
		snap := h.Sessions.RoleFor(ctx, identity.SessionID(r.Context()), identity.FromContext(r.Context()), res)
		cancel()

		d := viewrouter.Select(viewrouter.Input{
			Resolution: res,
			Role:       snap.Role,
			RoleErr:    snap.Err,
			Surface:    viewrouter.Admin,
		})
		if d.View != viewrouter.TenantAdmin {
			if snap.Err != nil {
				h.ErrLog.Warn(r, "role resolution failed", snap.Err)
			}
			uierrors.RenderDecision(w, d)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// tenantOf returns the resolved tenant. Routes are mounted behind
// tenant.Require, so it is never nil here.
func tenantOf(r *http.Request) *tenant.Context {
	res, _ := tenant.FromRequest(r)
	return res.Tenant
}
