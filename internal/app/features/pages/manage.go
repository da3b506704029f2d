// internal/app/features/pages/manage.go
package pages

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	uierrors "github.com/dalemusser/churchos/internal/app/features/errors"
	"github.com/dalemusser/churchos/internal/app/system/identity"
	"github.com/dalemusser/churchos/internal/app/system/pageguard"
	"github.com/dalemusser/churchos/internal/app/system/timeouts"
	"github.com/dalemusser/churchos/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// errNotJSON marks a body sent with a content type other than JSON.
var errNotJSON = errors.New("request body is not application/json")

// Request bodies are capped a little above the content limit so the guard,
// not the decoder, reports oversized content.
const maxBodyBytes = pageguard.MaxContentBytes + 64<<10

type createInput struct {
	Title        string `json:"title"`
	Slug         string `json:"slug"`
	Content      string `json:"content"`
	IsHomepage   bool   `json:"is_homepage"`
	DisplayOrder int    `json:"display_order"`
	Published    bool   `json:"published"`
}

type patchInput struct {
	Title        *string `json:"title"`
	Slug         *string `json:"slug"`
	Content      *string `json:"content"`
	IsHomepage   *bool   `json:"is_homepage"`
	DisplayOrder *int    `json:"display_order"`
	Published    *bool   `json:"published"`
}

// pageJSON is a page as the API returns it. RequestedSlug is set when the
// saved slug differs from the one asked for.
type pageJSON struct {
	models.Page
	RequestedSlug string `json:"requested_slug,omitempty"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		return errNotJSON
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return &pageguard.Error{Kind: pageguard.Validation, Msg: "request body is empty"}
		}
		return &pageguard.Error{Kind: pageguard.Validation, Msg: "request body is not valid JSON: " + err.Error(), Err: err}
	}
	return nil
}

func (h *Handler) rejectBody(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errNotJSON) {
		uierrors.UnsupportedMediaType(w, r)
		return
	}
	h.ErrLog.Respond(w, r, err)
}

func pageID(r *http.Request) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		return primitive.NilObjectID, &pageguard.Error{Kind: pageguard.NotFound, Msg: "page not found"}
	}
	return id, nil
}

func actor(r *http.Request) (*primitive.ObjectID, string) {
	id := identity.FromContext(r.Context())
	if id == nil {
		return nil, ""
	}
	uid := id.UserID
	return &uid, id.Name
}

// ServeList handles GET /api/pages: every live page of the tenant,
// published or not, without content.
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	tc := tenantOf(r)

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	pages, err := h.Pages.List(ctx, tc.TenantID)
	if err != nil {
		h.ErrLog.ServerError(w, r, "list pages failed", err, zap.String("tenant", tc.Key))
		return
	}
	uierrors.WriteJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

// HandleCreate handles POST /api/pages.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	tc := tenantOf(r)

	var in createInput
	if err := decode(w, r, &in); err != nil {
		h.rejectBody(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Long())
	defer cancel()

	actorID, actorName := actor(r)
	saved, err := h.Guard.Create(ctx, models.Page{
		TenantID:      tc.TenantID,
		Title:         in.Title,
		Slug:          in.Slug,
		Content:       in.Content,
		IsHomepage:    in.IsHomepage,
		DisplayOrder:  in.DisplayOrder,
		Published:     in.Published,
		UpdatedByID:   actorID,
		UpdatedByName: actorName,
	})
	if err != nil {
		h.ErrLog.Respond(w, r, err)
		return
	}

	h.Log.Info("page created",
		zap.String("tenant", tc.Key),
		zap.String("page_id", saved.ID.Hex()),
		zap.String("slug", saved.Slug))
	uierrors.WriteJSON(w, http.StatusCreated, withRequested(saved, in.Slug))
}

// HandleUpdate handles PATCH /api/pages/{id}.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	tc := tenantOf(r)
	id, err := pageID(r)
	if err != nil {
		h.ErrLog.Respond(w, r, err)
		return
	}

	var in patchInput
	if err := decode(w, r, &in); err != nil {
		h.rejectBody(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Long())
	defer cancel()

	actorID, actorName := actor(r)
	saved, err := h.Guard.Update(ctx, tc.TenantID, id, pageguard.Patch{
		Title:        in.Title,
		Slug:         in.Slug,
		Content:      in.Content,
		IsHomepage:   in.IsHomepage,
		DisplayOrder: in.DisplayOrder,
		Published:    in.Published,
		ActorID:      actorID,
		ActorName:    actorName,
	})
	if err != nil {
		h.ErrLog.Respond(w, r, err)
		return
	}

	requested := ""
	if in.Slug != nil {
		requested = *in.Slug
	}
	uierrors.WriteJSON(w, http.StatusOK, withRequested(saved, requested))
}

// HandleDelete handles DELETE /api/pages/{id}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	tc := tenantOf(r)
	id, err := pageID(r)
	if err != nil {
		h.ErrLog.Respond(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	if err := h.Guard.Delete(ctx, tc.TenantID, id); err != nil {
		h.ErrLog.Respond(w, r, err)
		return
	}
	h.Log.Info("page deleted",
		zap.String("tenant", tc.Key),
		zap.String("page_id", id.Hex()))
	w.WriteHeader(http.StatusNoContent)
}

func withRequested(p models.Page, requested string) pageJSON {
	out := pageJSON{Page: p}
	requested = strings.ToLower(strings.TrimSpace(requested))
	if requested != "" && requested != p.Slug {
		out.RequestedSlug = requested
	}
	return out
}
