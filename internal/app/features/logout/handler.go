// internal/app/features/logout/handler.go
package logout

import (
	"net/http"

	"github.com/dalemusser/churchos/internal/app/system/auditlog"
	"github.com/dalemusser/churchos/internal/app/system/identity"
	"go.uber.org/zap"
)

type Handler struct {
	Log      *zap.Logger
	Gateway  *identity.Gateway
	AuditLog *auditlog.Logger
}

func NewHandler(gateway *identity.Gateway, audit *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{
		Log:      logger,
		Gateway:  gateway,
		AuditLog: audit,
	}
}

// ServeLogout handles POST /logout.
func (h *Handler) ServeLogout(w http.ResponseWriter, r *http.Request) {
	id, _ := h.Gateway.Current(r)

	if err := h.Gateway.SignOut(w, r); err != nil {
		// Still send the user home; the cookie may be unusable anyway.
		h.Log.Error("logout: clear session", zap.Error(err))
	}
	if id != nil {
		h.AuditLog.Logout(r.Context(), r, id.UserID.Hex())
	}

	// HTMX handling: use HX-Redirect to force a client-side navigation to "/".
	if r.Header.Get("HX-Request") != "" {
		w.Header().Set("HX-Redirect", "/")
		w.WriteHeader(http.StatusOK)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}
