package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Tenant is one church (organization) hosted on the platform.
// It is reached either through its subdomain key (e.g. stpauls.church-os.com)
// or through an optional custom domain (e.g. www.stpauls.org).
//
// Tenants are created by the signup flow; this service only reads them.
type Tenant struct {
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id"`

	// Key is the subdomain label. Lowercase [a-z0-9-], globally unique and
	// immutable once published in DNS.
	Key string `bson:"key" json:"key"`

	// CustomDomain is the full external hostname, matched verbatim.
	CustomDomain string `bson:"custom_domain,omitempty" json:"custom_domain,omitempty"`

	DisplayName   string `bson:"display_name" json:"display_name"`
	DisplayNameCI string `bson:"display_name_ci" json:"display_name_ci"` // Case-insensitive for sorting

	// WebsiteEnabled gates every request for this tenant. A disabled tenant
	// still exists but is not served.
	WebsiteEnabled bool `bson:"website_enabled" json:"website_enabled"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
