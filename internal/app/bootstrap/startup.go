// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"

	userstore "github.com/dalemusser/churchos/internal/app/store/users"
	"github.com/dalemusser/churchos/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Startup runs one-time initialization after DB connections and schema
// setup, before the HTTP handler is built.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if appCfg.SuperAdminEmail != "" {
		if err := ensureSuperAdmin(ctx, deps, appCfg.SuperAdminEmail, logger); err != nil {
			return err
		}
	}
	return nil
}

// ensureSuperAdmin creates the configured super-admin or promotes the
// existing account with that email.
func ensureSuperAdmin(ctx context.Context, deps DBDeps, email string, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, timeouts.Medium())
	defer cancel()

	u, changed, err := userstore.New(deps.MongoDatabase).EnsureSuperAdmin(ctx, email, "")
	if err != nil {
		logger.Error("superadmin bootstrap failed", zap.String("email", email), zap.Error(err))
		return err
	}
	if changed {
		logger.Info("superadmin ensured", zap.String("email", u.Email), zap.String("user_id", u.ID.Hex()))
	}
	return nil
}
