// internal/app/features/tenants/handler.go
package tenants

import (
	"context"
	"net/http"
	"strconv"

	uierrors "github.com/dalemusser/churchos/internal/app/features/errors"
	tenantstore "github.com/dalemusser/churchos/internal/app/store/tenants"
	"github.com/dalemusser/churchos/internal/app/system/identity"
	"github.com/dalemusser/churchos/internal/app/system/roles"
	"github.com/dalemusser/churchos/internal/app/system/tenant"
	"github.com/dalemusser/churchos/internal/app/system/timeouts"
	"github.com/dalemusser/churchos/internal/app/system/viewrouter"
	"github.com/dalemusser/waffle/pantry/query"
	"go.uber.org/zap"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Handler serves the super-admin tenant picker on the platform domain.
type Handler struct {
	Store      *tenantstore.Store
	Sessions   *roles.Registry
	RootDomain string
	ErrLog     *uierrors.ErrorLogger
	Log        *zap.Logger
}

func NewHandler(store *tenantstore.Store, sessions *roles.Registry, rootDomain string, errLog *uierrors.ErrorLogger, logger *zap.Logger) *Handler {
	return &Handler{Store: store, Sessions: sessions, RootDomain: rootDomain, ErrLog: errLog, Log: logger}
}

// Item is one row of the picker.
type Item struct {
	ID             string `json:"id"`
	Key            string `json:"key"`
	DisplayName    string `json:"display_name"`
	CustomDomain   string `json:"custom_domain,omitempty"`
	WebsiteEnabled bool   `json:"website_enabled"`
	// URL is where the tenant's site is served.
	URL string `json:"url"`
}

// ServeList handles GET /api/tenants (optional ?q= prefix search and
// ?limit=).
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	res, err := tenant.FromRequest(r)
	if err != nil {
		h.ErrLog.Respond(w, r, err)
		return
	}
	if !res.IsPlatform() {
		uierrors.Write(w, http.StatusNotFound, uierrors.Body{
			Kind:    "platform_only",
			Message: "The church directory is only available on the platform site.",
			Actions: []viewrouter.Action{viewrouter.ReturnToPlatform},
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	snap := h.Sessions.RoleFor(ctx, identity.SessionID(r.Context()), identity.FromContext(r.Context()), res)
	cancel()

	d := viewrouter.Select(viewrouter.Input{Resolution: res, Role: snap.Role, RoleErr: snap.Err})
	switch {
	case snap.Err != nil:
		h.ErrLog.Warn(r, "role resolution failed", snap.Err)
		uierrors.RenderDecision(w, d)
		return
	case snap.Role == roles.Unauthenticated:
		uierrors.RenderDecision(w, viewrouter.Decision{View: viewrouter.SignInRequired, Actions: []viewrouter.Action{viewrouter.SignIn}})
		return
	case d.View != viewrouter.TenantPicker:
		uierrors.RenderDecision(w, viewrouter.Decision{View: viewrouter.AccessDenied, Actions: []viewrouter.Action{viewrouter.SignOut}})
		return
	}

	limit := int64(defaultLimit)
	if v := query.Get(r, "limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = int64(min(n, maxLimit))
		}
	}

	qctx, qcancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer qcancel()
	list, err := h.Store.Search(qctx, query.Get(r, "q"), limit)
	if err != nil {
		h.ErrLog.ServerError(w, r, "list tenants failed", err)
		return
	}

	items := make([]Item, 0, len(list))
	for _, t := range list {
		items = append(items, Item{
			ID:             t.ID.Hex(),
			Key:            t.Key,
			DisplayName:    t.DisplayName,
			CustomDomain:   t.CustomDomain,
			WebsiteEnabled: t.WebsiteEnabled,
			URL:            h.siteURL(r, t.Key, t.CustomDomain),
		})
	}
	uierrors.WriteJSON(w, http.StatusOK, map[string]any{"tenants": items})
}

func (h *Handler) siteURL(r *http.Request, key, customDomain string) string {
	scheme := "https"
	if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") != "https" {
		scheme = "http"
	}
	if customDomain != "" {
		return scheme + "://" + customDomain
	}
	return scheme + "://" + key + "." + h.RootDomain
}
