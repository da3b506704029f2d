// internal/app/bootstrap/csrf.go
package bootstrap

import (
	"crypto/sha256"
	"net/http"

	"github.com/gorilla/csrf"
)

// csrfHeader carries the token on unsafe requests. GET /api/context hands
// the token out as csrf_token.
const csrfHeader = "X-CSRF-Token"

// csrfProtect guards every unsafe method with a double-submit token and,
// over TLS, a same-origin Origin/Referer check. The token cookie carries no
// Domain, so each tenant host keeps its own.
func csrfProtect(sessionKey string, secure bool, reject http.HandlerFunc) func(http.Handler) http.Handler {
	key := sha256.Sum256([]byte("churchos-csrf:" + sessionKey))
	protect := csrf.Protect(key[:],
		csrf.Secure(secure),
		csrf.Path("/"),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.RequestHeader(csrfHeader),
		csrf.ErrorHandler(reject),
	)
	return func(next http.Handler) http.Handler {
		h := protect(next)
		if secure {
			return h
		}
		// Local dev serves plain http; skip the TLS-only Referer check.
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
		})
	}
}
