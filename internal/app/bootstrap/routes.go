// internal/app/bootstrap/routes.go
package bootstrap

import (
	"errors"
	"net/http"
	"time"

	authgooglefeature "github.com/dalemusser/churchos/internal/app/features/authgoogle"
	errorsfeature "github.com/dalemusser/churchos/internal/app/features/errors"
	healthfeature "github.com/dalemusser/churchos/internal/app/features/health"
	logoutfeature "github.com/dalemusser/churchos/internal/app/features/logout"
	pagesfeature "github.com/dalemusser/churchos/internal/app/features/pages"
	sitecontextfeature "github.com/dalemusser/churchos/internal/app/features/sitecontext"
	tenantsfeature "github.com/dalemusser/churchos/internal/app/features/tenants"
	"github.com/dalemusser/churchos/internal/app/store/audit"
	membershipstore "github.com/dalemusser/churchos/internal/app/store/memberships"
	"github.com/dalemusser/churchos/internal/app/store/oauthstate"
	pagestore "github.com/dalemusser/churchos/internal/app/store/pages"
	tenantstore "github.com/dalemusser/churchos/internal/app/store/tenants"
	userstore "github.com/dalemusser/churchos/internal/app/store/users"
	"github.com/dalemusser/churchos/internal/app/system/auditlog"
	"github.com/dalemusser/churchos/internal/app/system/hostclass"
	"github.com/dalemusser/churchos/internal/app/system/identity"
	"github.com/dalemusser/churchos/internal/app/system/pageguard"
	"github.com/dalemusser/churchos/internal/app/system/ratelimit"
	"github.com/dalemusser/churchos/internal/app/system/roles"
	"github.com/dalemusser/churchos/internal/app/system/tenant"
	"github.com/dalemusser/churchos/internal/app/system/timeouts"
	"github.com/dalemusser/churchos/internal/app/system/txn"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// any Startup hooks have completed.
//
// Every request is classified and resolved to a tenant (tenant.Middleware)
// and carries the signed-in identity, if any (Gateway.LoadIdentity). Unsafe
// methods need the CSRF token GET /api/context hands out. The role registry
// follows sign-in, refresh and sign-out through the gateway.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	db := deps.MongoDatabase

	// Secure cookies are enabled in production mode.
	secure := coreCfg.Env == "prod"
	cookieStore, err := identity.NewCookieStore(appCfg.SessionKey, appCfg.SessionDomain, secure, logger)
	if err != nil {
		logger.Error("session store init failed", zap.Error(err))
		return nil, err
	}
	gateway := identity.NewGateway(cookieStore, appCfg.SessionName, logger)

	// Stores
	tenants := tenantstore.New(db)
	users := userstore.New(db)
	memberships := membershipstore.New(db)
	pages := pagestore.New(db)

	auditLog := auditlog.New(audit.New(db), logger, auditlog.Config{
		Auth:    appCfg.AuditLogAuth,
		Access:  appCfg.AuditLogAccess,
		Content: appCfg.AuditLogContent,
	})

	// Tenant resolution
	classifier := hostclass.NewMemo(hostclass.New(hostclass.Config{
		RootDomain:    appCfg.PlatformDomain,
		PlatformHosts: appCfg.PlatformHosts,
		DevRoots:      appCfg.DevDomains,
	}), 0)
	var cache tenant.Cache
	if deps.ResolveCache != nil {
		cache = deps.ResolveCache
	}
	resolver := tenant.NewResolver(classifier, tenants, cache, logger)

	// Roles
	roleResolver := roles.NewResolver(users, memberships, roles.Policy{AutoProvisionAdmin: appCfg.AutoProvisionAdmin}, auditLog, logger)
	if deps.RoleSessions == nil {
		return nil, errors.New("role session cache is not initialized")
	}
	registry := roles.NewRegistry(roleResolver, deps.RoleSessions, logger)
	registry.Attach(gateway)

	// Pages
	guard := pageguard.New(pages, tenants, txn.New(deps.MongoClient, logger), logger, pageguard.Config{
		MaxSlugAttempts: appCfg.SlugMaxAttempts,
		WriteTimeout:    timeouts.Long(),
		Events:          auditLog,
	})

	errLog := errorsfeature.NewErrorLogger(logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(csrfProtect(appCfg.SessionKey, secure, errLog.CSRFFailed))
	r.Use(tenant.Middleware(resolver, logger))
	r.Use(gateway.LoadIdentity)

	// Health check endpoint for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(deps.MongoClient, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	// Request context: tenant, identity, role and view
	contextHandler := sitecontextfeature.NewHandler(resolver, registry, errLog, logger)
	recheckLimit := ratelimit.Middleware(ratelimit.New(appCfg.RecheckRateLimit, time.Minute), errorsfeature.RateLimited)
	r.Mount("/api/context", sitecontextfeature.Routes(contextHandler, recheckLimit))

	// Super-admin tenant picker
	tenantsHandler := tenantsfeature.NewHandler(tenants, registry, appCfg.PlatformDomain, errLog, logger)
	r.Mount("/api/tenants", tenantsfeature.Routes(tenantsHandler))

	// Pages: management API and public reads
	pagesHandler := pagesfeature.NewHandler(guard, pages, registry, errLog, logger)
	r.Mount("/api/pages", pagesfeature.ManageRoutes(pagesHandler))
	r.Mount("/api/site", pagesfeature.SiteRoutes(pagesHandler))

	// Authentication
	googleHandler := authgooglefeature.NewHandler(gateway, errLog, auditLog, oauthstate.New(db), users,
		appCfg.GoogleClientID, appCfg.GoogleClientSecret, appCfg.BaseURL, logger)
	if !googleHandler.IsConfigured() {
		logger.Warn("google sign-in is not configured; /auth/google will report it")
	}
	authLimit := ratelimit.Middleware(ratelimit.New(appCfg.AuthRateLimit, time.Minute), errorsfeature.RateLimited)
	r.Mount("/auth/google", authLimit(authgooglefeature.Routes(googleHandler)))

	logoutHandler := logoutfeature.NewHandler(gateway, auditLog, logger)
	r.Mount("/logout", logoutfeature.Routes(logoutHandler))

	return r, nil
}
