// internal/app/store/pages/pagestore.go
package pagestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dalemusser/churchos/internal/app/system/pageguard"
	"github.com/dalemusser/churchos/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Index names. A duplicate-key error names the index that fired, which is
// how the slug and homepage constraints are told apart.
const (
	IndexSlug     = "uniq_pages_tenant_slug"
	IndexHomepage = "uniq_pages_tenant_homepage"
)

// Store persists tenant pages. It implements pageguard.Store.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("pages")}
}

var _ pageguard.Store = (*Store)(nil)

func live(tenantID primitive.ObjectID) bson.M {
	return bson.M{"tenant_id": tenantID, "deleted": false}
}

// SlugTaken reports whether a live page other than exclude uses slug.
func (s *Store) SlugTaken(ctx context.Context, tenantID primitive.ObjectID, slug string, exclude primitive.ObjectID) (bool, error) {
	filter := live(tenantID)
	filter["slug"] = slug
	if !exclude.IsZero() {
		filter["_id"] = bson.M{"$ne": exclude}
	}
	err := s.c.FindOne(ctx, filter, options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Get returns a live page of tenantID.
func (s *Store) Get(ctx context.Context, tenantID, id primitive.ObjectID) (models.Page, error) {
	filter := live(tenantID)
	filter["_id"] = id
	var p models.Page
	if err := s.c.FindOne(ctx, filter).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Page{}, pageguard.ErrNotFound
		}
		return models.Page{}, err
	}
	return p, nil
}

// GetBySlug returns the live page of tenantID served at slug.
func (s *Store) GetBySlug(ctx context.Context, tenantID primitive.ObjectID, slug string) (models.Page, error) {
	filter := live(tenantID)
	filter["slug"] = slug
	var p models.Page
	if err := s.c.FindOne(ctx, filter).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Page{}, pageguard.ErrNotFound
		}
		return models.Page{}, err
	}
	return p, nil
}

// GetHomepage returns the tenant's live homepage.
func (s *Store) GetHomepage(ctx context.Context, tenantID primitive.ObjectID) (models.Page, error) {
	filter := live(tenantID)
	filter["is_homepage"] = true
	var p models.Page
	if err := s.c.FindOne(ctx, filter).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Page{}, pageguard.ErrNotFound
		}
		return models.Page{}, err
	}
	return p, nil
}

// List returns the tenant's live pages in display order.
func (s *Store) List(ctx context.Context, tenantID primitive.ObjectID) ([]models.Page, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "display_order", Value: 1}, {Key: "slug", Value: 1}}).
		SetProjection(bson.M{"content": 0})
	cur, err := s.c.Find(ctx, live(tenantID), opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	pages := []models.Page{}
	if err := cur.All(ctx, &pages); err != nil {
		return nil, err
	}
	return pages, nil
}

// Insert stores a new live page. p.ID must be set.
func (s *Store) Insert(ctx context.Context, p models.Page) (models.Page, error) {
	now := time.Now().UTC()
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	p.Deleted = false
	p.DeletedAt = nil
	p.CreatedAt = now
	p.UpdatedAt = now
	if _, err := s.c.InsertOne(ctx, p); err != nil {
		return models.Page{}, translateDup(err)
	}
	return p, nil
}

// Replace overwrites the mutable fields of a live page.
func (s *Store) Replace(ctx context.Context, p models.Page) (models.Page, error) {
	filter := live(p.TenantID)
	filter["_id"] = p.ID
	set := bson.M{
		"slug":            p.Slug,
		"title":           p.Title,
		"content":         p.Content,
		"is_homepage":     p.IsHomepage,
		"display_order":   p.DisplayOrder,
		"published":       p.Published,
		"updated_at":      time.Now().UTC(),
		"updated_by_name": p.UpdatedByName,
	}
	if p.UpdatedByID != nil {
		set["updated_by_id"] = *p.UpdatedByID
	}

	var out models.Page
	err := s.c.FindOneAndUpdate(ctx, filter, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&out)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Page{}, pageguard.ErrNotFound
		}
		return models.Page{}, translateDup(err)
	}
	return out, nil
}

// ClearHomepage unsets the homepage flag on live pages other than except.
func (s *Store) ClearHomepage(ctx context.Context, tenantID, except primitive.ObjectID) (int64, error) {
	filter := live(tenantID)
	filter["is_homepage"] = true
	if !except.IsZero() {
		filter["_id"] = bson.M{"$ne": except}
	}
	res, err := s.c.UpdateMany(ctx, filter, bson.M{"$set": bson.M{
		"is_homepage": false,
		"updated_at":  time.Now().UTC(),
	}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// SoftDelete marks a live page deleted. The slug and homepage flag leave the
// partial unique indexes with it.
func (s *Store) SoftDelete(ctx context.Context, tenantID, id primitive.ObjectID) error {
	filter := live(tenantID)
	filter["_id"] = id
	now := time.Now().UTC()
	res, err := s.c.UpdateOne(ctx, filter, bson.M{"$set": bson.M{
		"deleted":     true,
		"deleted_at":  now,
		"is_homepage": false,
		"updated_at":  now,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return pageguard.ErrNotFound
	}
	return nil
}

// translateDup turns a duplicate-key error into a *pageguard.UniqueViolation
// naming the constraint. Other errors pass through.
func translateDup(err error) error {
	if !wafflemongo.IsDup(err) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, IndexHomepage):
		return &pageguard.UniqueViolation{Constraint: pageguard.ConstraintHomepage, Err: err}
	case strings.Contains(msg, IndexSlug):
		return &pageguard.UniqueViolation{Constraint: pageguard.ConstraintSlug, Err: err}
	default:
		// Only two unique indexes exist besides _id; an _id clash is a slug
		// retry with a fresh id from the caller's point of view.
		return &pageguard.UniqueViolation{Constraint: pageguard.ConstraintSlug, Err: err}
	}
}

// IndexModels describes the pages collection indexes.
func IndexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "slug", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(IndexSlug).
				SetPartialFilterExpression(bson.D{{Key: "deleted", Value: false}}),
		},
		{
			Keys: bson.D{{Key: "tenant_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(IndexHomepage).
				SetPartialFilterExpression(bson.D{
					{Key: "is_homepage", Value: true},
					{Key: "deleted", Value: false},
				}),
		},
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "deleted", Value: 1}, {Key: "display_order", Value: 1}},
			Options: options.Index().SetName("idx_pages_tenant_deleted_order"),
		},
	}
}
