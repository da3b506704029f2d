// internal/app/features/sitecontext/handler.go
package sitecontext

import (
	"context"
	"net/http"

	uierrors "github.com/dalemusser/churchos/internal/app/features/errors"
	"github.com/dalemusser/churchos/internal/app/system/identity"
	"github.com/dalemusser/churchos/internal/app/system/roles"
	"github.com/dalemusser/churchos/internal/app/system/tenant"
	"github.com/dalemusser/churchos/internal/app/system/timeouts"
	"github.com/dalemusser/churchos/internal/app/system/viewrouter"
	"github.com/dalemusser/waffle/pantry/query"
	"github.com/gorilla/csrf"
	"go.uber.org/zap"
)

// Handler reports who is signed in, which tenant the host addresses, the
// effective role and the view to show.
type Handler struct {
	Tenants  *tenant.Resolver
	Sessions *roles.Registry
	ErrLog   *uierrors.ErrorLogger
	Log      *zap.Logger
}

func NewHandler(tenants *tenant.Resolver, sessions *roles.Registry, errLog *uierrors.ErrorLogger, logger *zap.Logger) *Handler {
	return &Handler{Tenants: tenants, Sessions: sessions, ErrLog: errLog, Log: logger}
}

type userJSON struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Response is the body of GET /api/context.
//
//	{ "host":"stpauls.church-os.com", "access_kind":"tenant_subdomain",
//	  "tenant":{...}, "signed_in":true, "user":{...}, "role":"tenant_admin",
//	  "state":"tenant_admin", "view":"tenant_admin", "actions":["sign_out"],
//	  "csrf_token":"..." }
//
// Unsafe requests echo csrf_token in the X-CSRF-Token header.
type Response struct {
	Host       string              `json:"host"`
	AccessKind string              `json:"access_kind,omitempty"`
	Tenant     *tenant.Context     `json:"tenant"`
	SignedIn   bool                `json:"signed_in"`
	User       *userJSON           `json:"user"`
	Role       roles.Role          `json:"role"`
	State      roles.State         `json:"state"`
	View       viewrouter.View     `json:"view"`
	Actions    []viewrouter.Action `json:"actions"`
	Error      string              `json:"error,omitempty"`
	CSRFToken  string              `json:"csrf_token,omitempty"`
}

// ServeContext handles GET /api/context. ?surface=admin asks for the
// tenant admin console instead of the public site.
func (h *Handler) ServeContext(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, false)
}

// ServeRecheck handles POST /api/context/recheck: the retry and
// retry-permission actions. Cached tenant and role state for this session
// is discarded first.
func (h *Handler) ServeRecheck(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, true)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, recheck bool) {
	in := viewrouter.Input{Surface: surface(r)}
	resp := Response{Host: r.Host, CSRFToken: csrf.Token(r)}

	id := identity.FromContext(r.Context())
	sid := identity.SessionID(r.Context())

	var snap roles.Snapshot
	if id == nil || sid == "" {
		if recheck {
			h.Tenants.Invalidate(r.Host)
			in.Resolution, in.ResolutionErr = h.resolve(r, h.Tenants)
		} else {
			in.Resolution, in.ResolutionErr = tenant.FromRequest(r)
		}
		in.Role = roles.Unauthenticated
		snap = roles.Snapshot{State: roles.StateUnauthenticated, Role: roles.Unauthenticated}
	} else {
		sess := h.Sessions.Session(sid)
		if recheck {
			sess.Tenants.Clear(r.Host)
			h.Tenants.Invalidate(r.Host)
		}
		in.Resolution, in.ResolutionErr = h.resolve(r, h.Tenants.WithCache(sess.Tenants))

		sess.Adopt(id)
		if in.ResolutionErr == nil {
			if recheck {
				sess.Recheck(in.Resolution)
			}
			ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
			snap = sess.Settle(ctx, in.Resolution)
			cancel()
		} else {
			// No tenant to evaluate a role on.
			snap = roles.Snapshot{State: roles.StateError, Role: roles.Unknown}
		}
		in.Role, in.RoleErr = snap.Role, snap.Err

		resp.SignedIn = true
		resp.User = &userJSON{ID: id.UserID.Hex(), Name: id.Name, Email: id.Email}
	}

	d := viewrouter.Select(in)
	if in.ResolutionErr == nil {
		resp.AccessKind = in.Resolution.Kind.String()
		resp.Tenant = in.Resolution.Tenant
	} else {
		resp.Error = tenant.KindOf(in.ResolutionErr).String()
		if tenant.KindOf(in.ResolutionErr) == tenant.Transient {
			h.ErrLog.Warn(r, "tenant resolution failed", in.ResolutionErr)
		}
	}
	if in.RoleErr != nil && resp.Error == "" {
		resp.Error = "role_unavailable"
		h.ErrLog.Warn(r, "role resolution failed", in.RoleErr)
	}
	resp.Role = in.Role
	resp.State = snap.State
	resp.View = d.View
	resp.Actions = d.Actions

	uierrors.WriteJSON(w, uierrors.StatusForView(d.View), resp)
}

func (h *Handler) resolve(r *http.Request, res *tenant.Resolver) (tenant.Resolution, error) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()
	out, err := res.Resolve(ctx, r.Host)
	if err != nil && tenant.KindOf(err) == 0 {
		err = &tenant.ResolutionError{Kind: tenant.Transient, Host: r.Host, Err: err}
	}
	return out, err
}

func surface(r *http.Request) viewrouter.Surface {
	if query.Get(r, "surface") == "admin" {
		return viewrouter.Admin
	}
	return viewrouter.Site
}
