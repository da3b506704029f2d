// internal/app/features/errors/render.go
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/dalemusser/churchos/internal/app/system/pageguard"
	"github.com/dalemusser/churchos/internal/app/system/roles"
	"github.com/dalemusser/churchos/internal/app/system/tenant"
	"github.com/dalemusser/churchos/internal/app/system/viewrouter"
	"github.com/gorilla/csrf"
)

// Body is the JSON shape of every error response.
type Body struct {
	Kind    string              `json:"error"`
	Message string              `json:"message"`
	Field   string              `json:"field,omitempty"`
	View    viewrouter.View     `json:"view,omitempty"`
	Actions []viewrouter.Action `json:"actions,omitempty"`
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Write writes an error body.
func Write(w http.ResponseWriter, status int, b Body) {
	WriteJSON(w, status, b)
}

// StatusForView is the HTTP status a view is served with.
func StatusForView(v viewrouter.View) int {
	switch v {
	case viewrouter.TenantNotFound:
		return http.StatusNotFound
	case viewrouter.TenantDisabled, viewrouter.AccessDenied:
		return http.StatusForbidden
	case viewrouter.SignInRequired:
		return http.StatusUnauthorized
	case viewrouter.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusOK
	}
}

var viewMessages = map[viewrouter.View]string{
	viewrouter.TenantNotFound: "No church website answers at this address. Check the address and try again.",
	viewrouter.TenantDisabled: "This church website is not available right now.",
	viewrouter.AccessDenied:   "You don't have permission to manage this site.",
	viewrouter.SignInRequired: "Please sign in to continue.",
	viewrouter.Unavailable:    "We couldn't finish checking your access. Please try again.",
}

// RenderDecision writes an error body for a non-success view.
func RenderDecision(w http.ResponseWriter, d viewrouter.Decision) {
	Write(w, StatusForView(d.View), Body{
		Kind:    string(d.View),
		Message: viewMessages[d.View],
		View:    d.View,
		Actions: d.Actions,
	})
}

// Respond maps err to a status and body. Unrecognized errors are logged
// and rendered as 500.
func (e *ErrorLogger) Respond(w http.ResponseWriter, r *http.Request, err error) {
	var re *tenant.ResolutionError
	if stderrors.As(err, &re) {
		d := viewrouter.Select(viewrouter.Input{ResolutionErr: err})
		if re.Kind == tenant.Transient {
			e.Warn(r, "tenant resolution failed", err)
		}
		RenderDecision(w, d)
		return
	}
	if stderrors.Is(err, tenant.ErrNoTenant) {
		Write(w, http.StatusNotFound, Body{
			Kind:    "no_tenant",
			Message: "This endpoint is only available on a church website.",
			Actions: []viewrouter.Action{viewrouter.ReturnToPlatform},
		})
		return
	}
	if roles.IsTransient(err) {
		e.Warn(r, "role resolution failed", err)
		RenderDecision(w, viewrouter.Select(viewrouter.Input{RoleErr: err}))
		return
	}
	if kind, ok := pageguard.KindOf(err); ok {
		e.respondPage(w, r, kind, err)
		return
	}
	e.ServerError(w, r, "unhandled error", err)
}

func (e *ErrorLogger) respondPage(w http.ResponseWriter, r *http.Request, kind pageguard.Kind, err error) {
	var ge *pageguard.Error
	stderrors.As(err, &ge)

	b := Body{Kind: kind.String()}
	status := http.StatusInternalServerError
	switch kind {
	case pageguard.Validation:
		status = http.StatusBadRequest
		b.Message = ge.Msg
		b.Field = ge.Field
	case pageguard.NotFound:
		status = http.StatusNotFound
		b.Message = "Page not found."
	case pageguard.InvalidReference:
		status = http.StatusUnprocessableEntity
		b.Message = "The church this page belongs to does not exist."
	case pageguard.DuplicateSlug:
		status = http.StatusConflict
		b.Message = "Could not find a free address for this page."
		e.Log(r, "slug negotiation exhausted", err)
	case pageguard.DuplicateHomepage:
		status = http.StatusConflict
		b.Message = "Another page became the homepage at the same time. Please try again."
		e.Warn(r, "homepage race", err)
	case pageguard.Transient:
		status = http.StatusServiceUnavailable
		b.Message = "The page could not be saved. Please try again."
		e.Warn(r, "page store failed", err)
	}
	if ge.Retryable() {
		b.Actions = []viewrouter.Action{viewrouter.Retry}
	}
	Write(w, status, b)
}

// RateLimited rejects a request that exceeded its per-client budget.
func RateLimited(w http.ResponseWriter, _ *http.Request) {
	Write(w, http.StatusTooManyRequests, Body{
		Kind:    "rate_limited",
		Message: "Too many requests. Try again shortly.",
		Actions: []viewrouter.Action{viewrouter.Retry},
	})
}

// CSRFFailed rejects an unsafe request without a valid CSRF token or from a
// foreign origin.
func (e *ErrorLogger) CSRFFailed(w http.ResponseWriter, r *http.Request) {
	e.Warn(r, "csrf check failed", csrf.FailureReason(r))
	Write(w, http.StatusForbidden, Body{
		Kind:    "csrf_failed",
		Message: "Your session could not be verified. Reload the page and try again.",
	})
}

// UnsupportedMediaType rejects a request body that is not JSON.
func UnsupportedMediaType(w http.ResponseWriter, _ *http.Request) {
	Write(w, http.StatusUnsupportedMediaType, Body{
		Kind:    "unsupported_media_type",
		Message: "Send the request body as application/json.",
	})
}
