// internal/app/bootstrap/db.go
package bootstrap

import (
	"context"
	"fmt"

	"github.com/dalemusser/churchos/internal/app/system/identity"
	"github.com/dalemusser/churchos/internal/app/system/indexes"
	"github.com/dalemusser/churchos/internal/app/system/l1cache"
	"github.com/dalemusser/churchos/internal/app/system/roles"
	"github.com/dalemusser/churchos/internal/app/system/tenant"
	"github.com/dalemusser/churchos/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// ConnectDB applies the I/O budgets, connects to MongoDB and builds the
// resolution and role session caches.
func ConnectDB(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) (DBDeps, error) {
	timeouts.Configure(appCfg.Timeouts)

	opts := options.Client().ApplyURI(appCfg.MongoURI)
	if appCfg.MongoMaxPoolSize > 0 {
		opts.SetMaxPoolSize(appCfg.MongoMaxPoolSize)
	}
	if appCfg.MongoMinPoolSize > 0 {
		opts.SetMinPoolSize(appCfg.MongoMinPoolSize)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return DBDeps{}, fmt.Errorf("connect MongoDB: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeouts.Medium())
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return DBDeps{}, fmt.Errorf("ping MongoDB: %w", err)
	}
	logger.Info("connected to MongoDB", zap.String("database", appCfg.MongoDatabase))

	deps := DBDeps{
		MongoClient:   client,
		MongoDatabase: client.Database(appCfg.MongoDatabase),
	}

	if appCfg.ResolveCacheTTL > 0 {
		deps.ResolveCache, err = l1cache.New[tenant.Resolution](appCfg.ResolveCacheSize, appCfg.ResolveCacheTTL)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return DBDeps{}, fmt.Errorf("resolution cache: %w", err)
		}
	}
	deps.RoleSessions, err = l1cache.New[*roles.Session](appCfg.RoleSessionsMax, identity.SessionMaxAge)
	if err != nil {
		if deps.ResolveCache != nil {
			deps.ResolveCache.Close()
		}
		_ = client.Disconnect(context.Background())
		return DBDeps{}, fmt.Errorf("role session cache: %w", err)
	}
	return deps, nil
}

// EnsureSchema reconciles every collection's indexes. The page slug and
// homepage rules depend on them, so a failure aborts startup.
func EnsureSchema(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	ictx, cancel := context.WithTimeout(ctx, timeouts.Long())
	defer cancel()
	if err := indexes.EnsureAll(ictx, deps.MongoDatabase); err != nil {
		logger.Error("index reconciliation failed", zap.Error(err))
		return err
	}
	return nil
}
