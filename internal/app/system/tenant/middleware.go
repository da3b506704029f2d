package tenant

import (
	"context"
	"errors"
	"net/http"

	"github.com/dalemusser/churchos/internal/app/system/timeouts"
	"go.uber.org/zap"
)

type ctxKey string

const outcomeKey ctxKey = "tenant_outcome"

type outcome struct {
	res Resolution
	err error
}

var errNotResolved = errors.New("tenant middleware did not run")

// Middleware resolves r.Host once per request and stores the outcome in the
// request context. Failures do not stop the request; downstream handlers
// decide what to render from FromContext.
func Middleware(resolver *Resolver, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
			res, err := resolver.Resolve(ctx, r.Host)
			cancel()

			if err != nil && KindOf(err) == 0 {
				// Cancelled or timed out before the directory answered.
				logger.Debug("tenant resolution abandoned",
					zap.String("host", r.Host),
					zap.Error(err))
				err = &ResolutionError{Kind: Transient, Host: r.Host, Err: err}
			}
			next.ServeHTTP(w, r.WithContext(WithResolution(r.Context(), res, err)))
		})
	}
}

// WithResolution returns ctx carrying a resolution outcome. Handler tests use
// it in place of Middleware.
func WithResolution(ctx context.Context, res Resolution, err error) context.Context {
	return context.WithValue(ctx, outcomeKey, outcome{res: res, err: err})
}

// FromContext returns the outcome Middleware stored.
func FromContext(ctx context.Context) (Resolution, error) {
	if o, ok := ctx.Value(outcomeKey).(outcome); ok {
		return o.res, o.err
	}
	return Resolution{}, errNotResolved
}

// FromRequest is FromContext(r.Context()).
func FromRequest(r *http.Request) (Resolution, error) {
	return FromContext(r.Context())
}

// Require rejects requests that did not resolve to an enabled tenant.
// onErr renders the response; err is a *ResolutionError or ErrNoTenant.
func Require(onErr func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := FromRequest(r)
			if err == nil && res.IsPlatform() {
				err = ErrNoTenant
			}
			if err != nil {
				onErr(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
