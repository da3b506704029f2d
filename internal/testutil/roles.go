package testutil

import (
	"testing"
	"time"

	"github.com/dalemusser/churchos/internal/app/system/l1cache"
	"github.com/dalemusser/churchos/internal/app/system/roles"
	"go.uber.org/zap"
)

// NewRegistry returns a role registry over r whose session cache is closed
// when the test ends.
func NewRegistry(t *testing.T, r *roles.Resolver, logger *zap.Logger) *roles.Registry {
	t.Helper()
	sessions, err := l1cache.New[*roles.Session](1000, time.Hour)
	if err != nil {
		t.Fatalf("role session cache: %v", err)
	}
	t.Cleanup(sessions.Close)
	return roles.NewRegistry(r, sessions, logger)
}
