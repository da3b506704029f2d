// internal/app/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/churchos/internal/app/system/hostclass"
	"github.com/dalemusser/churchos/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// appConfigKeys defines the configuration keys for ChurchOS.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, platform_domain, etc.
//   - Environment variables: CHURCHOS_MONGO_URI, CHURCHOS_PLATFORM_DOMAIN, etc.
//   - Command-line flags: --mongo_uri, --platform_domain, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "churchos", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},
	{Name: "session_key", Default: "dev-only-change-me-please-0123456789ABCDEF", Desc: "Session signing key (must be strong in production)"},
	{Name: "session_name", Default: "churchos-session", Desc: "Session cookie name"},
	{Name: "session_domain", Default: "", Desc: "Session cookie domain (blank means current host)"},

	// Hostname classification
	{Name: "platform_domain", Default: "church-os.com", Desc: "Platform root domain; tenants live at <key>.<platform_domain>"},
	{Name: "platform_hosts", Default: "", Desc: "Comma-separated extra hostnames served as the platform"},
	{Name: "dev_domains", Default: "localhost", Desc: "Comma-separated loopback roots whose subdomains are tenant keys"},

	// Tenant resolution cache
	{Name: "resolve_cache_ttl", Default: "60s", Desc: "How long a resolved hostname is remembered (0 disables the cache)"},
	{Name: "resolve_cache_size", Default: 10000, Desc: "Maximum hostnames held in the resolution cache"},

	// Roles and pages
	{Name: "auto_provision_admin", Default: false, Desc: "Make signed-in users without a membership tenant admins"},
	{Name: "slug_max_attempts", Default: 20, Desc: "Numbered slug suffixes tried before a random one"},
	{Name: "role_sessions_max", Default: 100000, Desc: "Signed-in sessions whose role state is kept in memory"},
	{Name: "rate_limit_recheck", Default: 30, Desc: "Context rechecks allowed per client IP per minute"},
	{Name: "rate_limit_auth", Default: 20, Desc: "Google sign-in requests allowed per client IP per minute"},

	// Google OAuth configuration
	{Name: "google_client_id", Default: "", Desc: "Google OAuth2 client ID"},
	{Name: "google_client_secret", Default: "", Desc: "Google OAuth2 client secret"},
	{Name: "base_url", Default: "http://localhost:3000", Desc: "Public base URL of the platform site (OAuth callback)"},

	// Audit logging settings
	{Name: "audit_log_auth", Default: "all", Desc: "Auth event logging: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_log_access", Default: "all", Desc: "Membership auto-provisioning logging: 'all', 'db', 'log', or 'off'"},
	{Name: "audit_log_content", Default: "all", Desc: "Page slug/homepage event logging: 'all', 'db', 'log', or 'off'"},

	// I/O budgets
	{Name: "timeout_ping", Default: "2s", Desc: "Health check budget"},
	{Name: "timeout_short", Default: "5s", Desc: "Single-document lookup budget"},
	{Name: "timeout_medium", Default: "10s", Desc: "List and single-write budget"},
	{Name: "timeout_long", Default: "30s", Desc: "Multi-step write budget"},

	// SuperAdmin bootstrap
	{Name: "superadmin_email", Default: "", Desc: "Email of the superadmin user (promotes/creates on startup)"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig merges .env files, config files,
// environment variables (WAFFLE_* for core, CHURCHOS_* for app) and flags,
// with precedence flags > env > files > defaults.
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "CHURCHOS", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),
		SessionKey:       appValues.String("session_key"),
		SessionName:      appValues.String("session_name"),
		SessionDomain:    appValues.String("session_domain"),

		PlatformDomain: hostclass.Normalize(appValues.String("platform_domain")),
		PlatformHosts:  splitList(appValues.String("platform_hosts")),
		DevDomains:     splitList(appValues.String("dev_domains")),

		ResolveCacheTTL:  appValues.Duration("resolve_cache_ttl", time.Minute),
		ResolveCacheSize: int64(appValues.Int("resolve_cache_size")),

		AutoProvisionAdmin: appValues.Bool("auto_provision_admin"),
		SlugMaxAttempts:    appValues.Int("slug_max_attempts"),
		RoleSessionsMax:    int64(appValues.Int("role_sessions_max")),
		RecheckRateLimit:   appValues.Int("rate_limit_recheck"),
		AuthRateLimit:      appValues.Int("rate_limit_auth"),

		GoogleClientID:     appValues.String("google_client_id"),
		GoogleClientSecret: appValues.String("google_client_secret"),
		BaseURL:            strings.TrimRight(appValues.String("base_url"), "/"),

		AuditLogAuth:    appValues.String("audit_log_auth"),
		AuditLogAccess:  appValues.String("audit_log_access"),
		AuditLogContent: appValues.String("audit_log_content"),

		Timeouts: timeouts.Config{
			Ping:   appValues.Duration("timeout_ping", timeouts.DefaultPing),
			Short:  appValues.Duration("timeout_short", timeouts.DefaultShort),
			Medium: appValues.Duration("timeout_medium", timeouts.DefaultMedium),
			Long:   appValues.Duration("timeout_long", timeouts.DefaultLong),
		},

		SuperAdminEmail: appValues.String("superadmin_email"),
	}

	// Share the sign-in cookie across tenant subdomains unless told otherwise.
	if appCfg.SessionDomain == "" && appCfg.PlatformDomain != "" && !isDevDomain(appCfg) {
		appCfg.SessionDomain = "." + appCfg.PlatformDomain
		logger.Info("derived session domain from platform domain",
			zap.String("session_domain", appCfg.SessionDomain))
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
// The MongoDB URI format and platform domain are checked here so mistakes
// surface before any connection is attempted.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}
	return validateApp(appCfg)
}

func validateApp(appCfg AppConfig) error {
	if appCfg.PlatformDomain == "" || !strings.Contains(appCfg.PlatformDomain, ".") {
		return fmt.Errorf("platform_domain must be a dotted hostname, got %q", appCfg.PlatformDomain)
	}
	if appCfg.ResolveCacheTTL < 0 {
		return fmt.Errorf("resolve_cache_ttl must not be negative")
	}
	if appCfg.ResolveCacheTTL > 0 && appCfg.ResolveCacheSize <= 0 {
		return fmt.Errorf("resolve_cache_size must be positive when the cache is enabled")
	}
	if appCfg.SlugMaxAttempts < 0 {
		return fmt.Errorf("slug_max_attempts must not be negative")
	}
	if appCfg.RoleSessionsMax <= 0 {
		return fmt.Errorf("role_sessions_max must be positive")
	}
	if appCfg.RecheckRateLimit <= 0 || appCfg.AuthRateLimit <= 0 {
		return fmt.Errorf("rate_limit_recheck and rate_limit_auth must be positive")
	}
	if (appCfg.GoogleClientID == "") != (appCfg.GoogleClientSecret == "") {
		return fmt.Errorf("google_client_id and google_client_secret must be set together")
	}
	for _, mode := range []string{appCfg.AuditLogAuth, appCfg.AuditLogAccess, appCfg.AuditLogContent} {
		switch mode {
		case "", "all", "db", "log", "off":
		default:
			return fmt.Errorf("audit log mode %q is not one of all, db, log, off", mode)
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// isDevDomain reports whether the platform runs on a loopback root, where
// a cookie domain would be rejected by browsers.
func isDevDomain(appCfg AppConfig) bool {
	for _, d := range appCfg.DevDomains {
		if hostclass.Normalize(d) == appCfg.PlatformDomain {
			return true
		}
	}
	return false
}
