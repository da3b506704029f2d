// internal/app/bootstrap/appconfig.go
package bootstrap

import (
	"time"

	"github.com/dalemusser/churchos/internal/app/system/timeouts"
)

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). WAFFLE's CoreConfig covers the
// framework-level settings (ports, TLS, logging, CORS, body limits).
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Session management configuration
	SessionKey    string // Secret key for signing session cookies (must be strong in production)
	SessionName   string // Cookie name for sessions (default: churchos-session)
	SessionDomain string // Cookie domain; ".church-os.com" shares sign-in across tenant subdomains

	// Hostname classification
	PlatformDomain string   // Root domain, e.g. church-os.com
	PlatformHosts  []string // Extra hostnames that mean the platform itself
	DevDomains     []string // Loopback roots whose children are tenant keys (stpauls.localhost)

	// Tenant resolution cache
	ResolveCacheTTL  time.Duration
	ResolveCacheSize int64

	// Roles and pages
	AutoProvisionAdmin bool  // Signed-in users with no membership become tenant admins
	SlugMaxAttempts    int   // Numbered slug suffixes tried before the random fallback
	RoleSessionsMax    int64 // Signed-in sessions whose role state is held in memory

	// Per-client-IP request budgets, per minute
	RecheckRateLimit int
	AuthRateLimit    int

	// Google OAuth
	GoogleClientID     string
	GoogleClientSecret string
	BaseURL            string // e.g. "https://church-os.com"; the OAuth callback lives here

	// Audit logging: "all", "db", "log" or "off" per category
	AuditLogAuth    string
	AuditLogAccess  string
	AuditLogContent string

	// I/O budgets for store and identity-provider calls
	Timeouts timeouts.Config

	// SuperAdmin bootstrap
	SuperAdminEmail string
}
