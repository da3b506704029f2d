// internal/app/store/tenants/tenantstore.go
package tenantstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dalemusser/churchos/internal/app/system/hostclass"
	"github.com/dalemusser/churchos/internal/app/system/tenant"
	"github.com/dalemusser/churchos/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Index names. The duplicate-key message names the index that fired.
const (
	IndexKey          = "uniq_tenant_key"
	IndexCustomDomain = "uniq_tenant_custom_domain"
)

type Store struct {
	c *mongo.Collection
}

var (
	ErrDuplicateKey          = errors.New("a tenant with this key already exists")
	ErrDuplicateCustomDomain = errors.New("a tenant with this custom domain already exists")
	// ErrNotFound is tenant.ErrNotFound so the resolver can tell a miss
	// from a failed lookup.
	ErrNotFound = tenant.ErrNotFound
)

var _ tenant.Directory = (*Store)(nil)

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("tenants")}
}

// Create inserts a new tenant. Key and CustomDomain are normalized to
// lowercase hostnames so lookups by classified host match verbatim.
func (s *Store) Create(ctx context.Context, t models.Tenant) (models.Tenant, error) {
	now := time.Now().UTC()
	t.ID = primitive.NewObjectID()
	t.Key = strings.ToLower(strings.TrimSpace(t.Key))
	t.CustomDomain = hostclass.Normalize(t.CustomDomain)
	t.DisplayNameCI = text.Fold(t.DisplayName)
	t.CreatedAt = now
	t.UpdatedAt = now
	if _, err := s.c.InsertOne(ctx, t); err != nil {
		if wafflemongo.IsDup(err) {
			if strings.Contains(err.Error(), IndexCustomDomain) {
				return models.Tenant{}, ErrDuplicateCustomDomain
			}
			return models.Tenant{}, ErrDuplicateKey
		}
		return models.Tenant{}, err
	}
	return t, nil
}

// GetByID retrieves a tenant by its ID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.Tenant, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

// GetByKey retrieves a tenant by its subdomain key.
func (s *Store) GetByKey(ctx context.Context, key string) (models.Tenant, error) {
	return s.findOne(ctx, bson.M{"key": key})
}

// GetByCustomDomain retrieves a tenant by its full external hostname.
func (s *Store) GetByCustomDomain(ctx context.Context, host string) (models.Tenant, error) {
	if host == "" {
		return models.Tenant{}, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"custom_domain": host})
}

func (s *Store) findOne(ctx context.Context, filter bson.M) (models.Tenant, error) {
	var t models.Tenant
	if err := s.c.FindOne(ctx, filter).Decode(&t); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Tenant{}, ErrNotFound
		}
		return models.Tenant{}, err
	}
	return t, nil
}

// Exists reports whether a tenant with id exists.
func (s *Store) Exists(ctx context.Context, id primitive.ObjectID) (bool, error) {
	err := s.c.FindOne(ctx, bson.M{"_id": id}, options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns tenants sorted by display name. A limit of 0 means no limit.
func (s *Store) List(ctx context.Context, limit int64) ([]models.Tenant, error) {
	opts := options.Find().SetSort(bson.D{{Key: "display_name_ci", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := s.c.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var tenants []models.Tenant
	if err := cur.All(ctx, &tenants); err != nil {
		return nil, err
	}
	return tenants, nil
}

// Search returns tenants whose display name starts with prefix, compared
// case- and accent-insensitively, sorted by display name.
func (s *Store) Search(ctx context.Context, prefix string, limit int64) ([]models.Tenant, error) {
	fq := text.Fold(prefix)
	if fq == "" {
		return s.List(ctx, limit)
	}
	filter := bson.M{"display_name_ci": bson.M{"$gte": fq, "$lt": fq + "\uffff"}}
	opts := options.Find().SetSort(bson.D{{Key: "display_name_ci", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	tenants := []models.Tenant{}
	if err := cur.All(ctx, &tenants); err != nil {
		return nil, err
	}
	return tenants, nil
}

// SetWebsiteEnabled toggles whether the tenant's site is served.
func (s *Store) SetWebsiteEnabled(ctx context.Context, id primitive.ObjectID, enabled bool) error {
	res, err := s.c.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"website_enabled": enabled,
		"updated_at":      time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// IndexModels describes the tenants collection indexes.
func IndexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(IndexKey),
		},
		// Only tenants with a custom domain take part in uniqueness.
		{
			Keys: bson.D{{Key: "custom_domain", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(IndexCustomDomain).
				SetPartialFilterExpression(bson.M{"custom_domain": bson.M{"$type": "string"}}),
		},
		{
			Keys:    bson.D{{Key: "display_name_ci", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("idx_tenant_display_name_ci__id"),
		},
	}
}
