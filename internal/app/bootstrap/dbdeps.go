// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"github.com/dalemusser/churchos/internal/app/system/l1cache"
	"github.com/dalemusser/churchos/internal/app/system/roles"
	"github.com/dalemusser/churchos/internal/app/system/tenant"
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds database/back-end dependencies for the app.
type DBDeps struct {
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database

	// ResolveCache is the process-wide tenant resolution cache. Nil when
	// resolve_cache_ttl is 0.
	ResolveCache *l1cache.Cache[tenant.Resolution]

	// RoleSessions holds the role registry's per-session state. Entries
	// expire with the session cookie.
	RoleSessions *l1cache.Cache[*roles.Session]
}
