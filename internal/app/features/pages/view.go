// internal/app/features/pages/view.go
package pages

import (
	"context"
	"errors"
	"net/http"

	uierrors "github.com/dalemusser/churchos/internal/app/features/errors"
	"github.com/dalemusser/churchos/internal/app/system/pageguard"
	"github.com/dalemusser/churchos/internal/app/system/timeouts"
	"github.com/dalemusser/churchos/internal/domain/models"
	"github.com/go-chi/chi/v5"
)

// publicPage is what a site visitor sees.
type publicPage struct {
	Slug       string `json:"slug"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	IsHomepage bool   `json:"is_homepage"`
}

// ServeHomepage handles GET /api/site: the tenant's published homepage.
func (h *Handler) ServeHomepage(w http.ResponseWriter, r *http.Request) {
	tc := tenantOf(r)
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	p, err := h.Pages.GetHomepage(ctx, tc.TenantID)
	h.servePublic(w, r, p, err)
}

// ServePage handles GET /api/site/{slug}: one published page.
func (h *Handler) ServePage(w http.ResponseWriter, r *http.Request) {
	tc := tenantOf(r)
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	p, err := h.Pages.GetBySlug(ctx, tc.TenantID, chi.URLParam(r, "slug"))
	h.servePublic(w, r, p, err)
}

func (h *Handler) servePublic(w http.ResponseWriter, r *http.Request, p models.Page, err error) {
	if err == nil && !p.Published {
		err = pageguard.ErrNotFound
	}
	if errors.Is(err, pageguard.ErrNotFound) {
		h.ErrLog.Respond(w, r, &pageguard.Error{Kind: pageguard.NotFound, Msg: "page not found", Err: err})
		return
	}
	if err != nil {
		h.ErrLog.ServerError(w, r, "load page failed", err)
		return
	}
	uierrors.WriteJSON(w, http.StatusOK, publicPage{
		Slug:       p.Slug,
		Title:      p.Title,
		Content:    p.Content,
		IsHomepage: p.IsHomepage,
	})
}
