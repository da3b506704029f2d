package testutil

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/dalemusser/churchos/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// WithChiURLParam adds a chi URL parameter to the request context.
// Use this in handler tests that need to access chi.URLParam values.
func WithChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *mongo.Database {
	return f.db
}

// CreateTenant creates a tenant reachable at key.<platform domain>.
func (f *Fixtures) CreateTenant(ctx context.Context, key, displayName string, enabled bool) models.Tenant {
	f.t.Helper()
	return f.CreateTenantWithDomain(ctx, key, "", displayName, enabled)
}

// CreateTenantWithDomain creates a tenant that also owns a custom domain.
func (f *Fixtures) CreateTenantWithDomain(ctx context.Context, key, customDomain, displayName string, enabled bool) models.Tenant {
	f.t.Helper()

	now := time.Now().UTC()
	tenant := models.Tenant{
		ID:             primitive.NewObjectID(),
		Key:            key,
		CustomDomain:   strings.ToLower(customDomain),
		DisplayName:    displayName,
		DisplayNameCI:  text.Fold(displayName),
		WebsiteEnabled: enabled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if _, err := f.db.Collection("tenants").InsertOne(ctx, tenant); err != nil {
		f.t.Fatalf("failed to create test tenant: %v", err)
	}
	return tenant
}

// CreateUser creates an active user with the regular platform role.
func (f *Fixtures) CreateUser(ctx context.Context, fullName, email string) models.User {
	f.t.Helper()
	return f.createUser(ctx, fullName, email, models.UserRoleUser)
}

// CreateSuperAdmin creates an active user with the global super-admin role.
func (f *Fixtures) CreateSuperAdmin(ctx context.Context, fullName, email string) models.User {
	f.t.Helper()
	return f.createUser(ctx, fullName, email, models.UserRoleSuperAdmin)
}

func (f *Fixtures) createUser(ctx context.Context, fullName, email, role string) models.User {
	f.t.Helper()

	now := time.Now().UTC()
	user := models.User{
		ID:         primitive.NewObjectID(),
		FullName:   fullName,
		FullNameCI: text.Fold(fullName),
		Email:      email,
		EmailCI:    text.Fold(email),
		AuthMethod: "google",
		Role:       role,
		Status:     "active",
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if _, err := f.db.Collection("users").InsertOne(ctx, user); err != nil {
		f.t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// CreateMembership grants userID role within tenantID.
func (f *Fixtures) CreateMembership(ctx context.Context, tenantID, userID primitive.ObjectID, role string) models.Membership {
	f.t.Helper()

	m := models.Membership{
		ID:        primitive.NewObjectID(),
		TenantID:  tenantID,
		UserID:    userID,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}

	if _, err := f.db.Collection("memberships").InsertOne(ctx, m); err != nil {
		f.t.Fatalf("failed to create test membership: %v", err)
	}
	return m
}

// CreatePage inserts a live page directly, bypassing slug negotiation.
func (f *Fixtures) CreatePage(ctx context.Context, tenantID primitive.ObjectID, slug string, isHomepage bool) models.Page {
	f.t.Helper()

	now := time.Now().UTC()
	p := models.Page{
		ID:         primitive.NewObjectID(),
		TenantID:   tenantID,
		Slug:       slug,
		Title:      strings.ToUpper(slug[:1]) + slug[1:],
		Content:    "<p>" + slug + "</p>",
		IsHomepage: isHomepage,
		Published:  true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if _, err := f.db.Collection("pages").InsertOne(ctx, p); err != nil {
		f.t.Fatalf("failed to create test page: %v", err)
	}
	return p
}
