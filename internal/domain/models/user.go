// internal/domain/models/user.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Platform-level user roles. Tenant-scoped roles live on Membership.
const (
	UserRoleSuperAdmin = "superadmin"
	UserRoleUser       = "user"
)

// User is a person who can sign in. Tenant access is granted through the
// memberships collection, never embedded here.
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FullName     string             `bson:"full_name" json:"full_name"`
	FullNameCI   string             `bson:"full_name_ci" json:"full_name_ci"` // lowercase, diacritics-stripped
	Email        string             `bson:"email" json:"email"`
	EmailCI      string             `bson:"email_ci" json:"email_ci"`
	AuthMethod   string             `bson:"auth_method,omitempty" json:"auth_method,omitempty"`
	AuthReturnID string             `bson:"auth_return_id,omitempty" json:"-"` // provider subject id
	Role         string             `bson:"role" json:"role"`                  // superadmin | user
	Status       string             `bson:"status,omitempty" json:"status,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// IsSuperAdmin reports whether the user holds the global super-admin role.
func (u User) IsSuperAdmin() bool {
	return u.Role == UserRoleSuperAdmin
}
