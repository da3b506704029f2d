package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Membership roles.
const (
	MembershipAdmin  = "admin"
	MembershipEditor = "editor"
	MembershipMember = "member"
)

// Membership grants a user a role within one tenant.
// Exactly one document per (tenant_id, user_id).
type Membership struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TenantID primitive.ObjectID `bson:"tenant_id" json:"tenant_id"`
	UserID   primitive.ObjectID `bson:"user_id" json:"user_id"`
	Role     string             `bson:"role" json:"role"` // "admin" | "editor" | "member"

	// AutoProvisioned marks rows created by role resolution rather than by an
	// invite or signup flow.
	AutoProvisioned bool `bson:"auto_provisioned,omitempty" json:"auto_provisioned,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// IsValidMembershipRole reports whether role is one of the known membership roles.
func IsValidMembershipRole(role string) bool {
	switch role {
	case MembershipAdmin, MembershipEditor, MembershipMember:
		return true
	}
	return false
}

// GrantsAdminSurface reports whether the role may use the tenant admin console.
func (m Membership) GrantsAdminSurface() bool {
	return m.Role == MembershipAdmin || m.Role == MembershipEditor
}
