package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Page is a content document on a tenant's website.
//
// For any tenant, among pages with Deleted == false:
//   - no two share a Slug
//   - at most one has IsHomepage == true
//
// Both are backed by partial unique indexes (see pagestore.IndexModels).
type Page struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TenantID primitive.ObjectID `bson:"tenant_id" json:"tenant_id"`

	Slug    string `bson:"slug" json:"slug"`       // URL path segment, unique per tenant
	Title   string `bson:"title" json:"title"`     // Display title
	Content string `bson:"content" json:"content"` // Sanitized HTML from the page editor

	IsHomepage   bool `bson:"is_homepage" json:"is_homepage"`
	DisplayOrder int  `bson:"display_order" json:"display_order"`
	Published    bool `bson:"published" json:"published"`

	// Soft delete. Deleted pages release their slug and homepage flag.
	Deleted   bool       `bson:"deleted" json:"-"`
	DeletedAt *time.Time `bson:"deleted_at,omitempty" json:"-"`

	// Audit fields
	CreatedAt     time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time           `bson:"updated_at" json:"updated_at"`
	UpdatedByID   *primitive.ObjectID `bson:"updated_by_id,omitempty" json:"updated_by_id,omitempty"`
	UpdatedByName string              `bson:"updated_by_name,omitempty" json:"updated_by_name,omitempty"`
}
