package roles

import (
	"context"
	"errors"

	"github.com/dalemusser/churchos/internal/app/system/identity"
	"github.com/dalemusser/churchos/internal/app/system/tenant"
	"github.com/dalemusser/churchos/internal/app/system/timeouts"
	"github.com/dalemusser/churchos/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// SuperAdmins is the global super-admin predicate.
type SuperAdmins interface {
	IsSuperAdmin(ctx context.Context, userID primitive.ObjectID) (bool, error)
}

// Memberships reads and creates tenant memberships. Find returns an error
// matching ErrNoMembership when there is no row; Add returns one matching
// ErrMembershipExists when the row already exists.
type Memberships interface {
	Find(ctx context.Context, tenantID, userID primitive.ObjectID) (models.Membership, error)
	ListByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Membership, error)
	Add(ctx context.Context, m models.Membership) (models.Membership, error)
}

// Audit records auto-provisioned memberships.
type Audit interface {
	MembershipAutoProvisioned(ctx context.Context, tenantID, userID primitive.ObjectID, role string)
}

// Policy holds the resolution choices that are deployment decisions.
type Policy struct {
	// AutoProvisionAdmin grants an admin membership to a signed-in user who
	// has none on the tenant they are visiting. Off, such users are regular
	// users.
	AutoProvisionAdmin bool
}

// Resolver computes effective roles.
type Resolver struct {
	super   SuperAdmins
	members Memberships
	policy  Policy
	audit   Audit
	log     *zap.Logger
}

// NewResolver builds a Resolver. audit may be nil.
func NewResolver(super SuperAdmins, members Memberships, policy Policy, audit Audit, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{super: super, members: members, policy: policy, audit: audit, log: logger}
}

// Policy returns the resolver's policy.
func (r *Resolver) Policy() Policy { return r.policy }

// Resolve returns the effective role of id on the host described by res.
// A nil id is Unauthenticated. Store failures return *Error{Transient} and
// Unknown; they never fall back to a lesser role.
func (r *Resolver) Resolve(ctx context.Context, id *identity.Identity, res tenant.Resolution) (Role, error) {
	if id == nil {
		return Unauthenticated, nil
	}
	super, err := r.isSuperAdmin(ctx, id)
	if err != nil {
		return Unknown, err
	}
	if super {
		return SuperAdmin, nil
	}
	return r.tenantRole(ctx, id, res)
}

func (r *Resolver) isSuperAdmin(ctx context.Context, id *identity.Identity) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeouts.Short())
	defer cancel()

	ok, err := r.super.IsSuperAdmin(ctx, id.UserID)
	if err != nil {
		r.log.Warn("super-admin check failed",
			zap.String("user_id", id.UserID.Hex()),
			zap.Error(err))
		return false, &Error{Kind: Transient, Op: "super-admin check", Err: err}
	}
	return ok, nil
}

// tenantRole is the membership half of Resolve, for a user already known
// not to be a super-admin.
func (r *Resolver) tenantRole(ctx context.Context, id *identity.Identity, res tenant.Resolution) (Role, error) {
	if res.IsPlatform() || res.Tenant == nil {
		return r.platformRole(ctx, id)
	}

	tenantID := res.Tenant.TenantID
	lookupCtx, cancel := context.WithTimeout(ctx, timeouts.Short())
	m, err := r.members.Find(lookupCtx, tenantID, id.UserID)
	cancel()

	switch {
	case err == nil:
		if m.GrantsAdminSurface() {
			return TenantAdmin, nil
		}
		return RegularUser, nil
	case errors.Is(err, ErrNoMembership):
		return r.noMembership(ctx, id, res.Tenant)
	default:
		r.log.Warn("membership lookup failed",
			zap.String("tenant", res.Tenant.Key),
			zap.String("user_id", id.UserID.Hex()),
			zap.Error(err))
		return Unknown, &Error{Kind: Transient, Op: "membership lookup", Err: err}
	}
}

// platformRole reports TenantAdmin when the user administers any tenant.
func (r *Resolver) platformRole(ctx context.Context, id *identity.Identity) (Role, error) {
	ctx, cancel := context.WithTimeout(ctx, timeouts.Short())
	defer cancel()

	ms, err := r.members.ListByUser(ctx, id.UserID)
	if err != nil {
		r.log.Warn("membership list failed",
			zap.String("user_id", id.UserID.Hex()),
			zap.Error(err))
		return Unknown, &Error{Kind: Transient, Op: "membership list", Err: err}
	}
	for _, m := range ms {
		if m.GrantsAdminSurface() {
			return TenantAdmin, nil
		}
	}
	return RegularUser, nil
}

func (r *Resolver) noMembership(ctx context.Context, id *identity.Identity, tc *tenant.Context) (Role, error) {
	if !r.policy.AutoProvisionAdmin {
		return RegularUser, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.Medium())
	defer cancel()

	_, err := r.members.Add(ctx, models.Membership{
		TenantID:        tc.TenantID,
		UserID:          id.UserID,
		Role:            models.MembershipAdmin,
		AutoProvisioned: true,
	})
	switch {
	case err == nil:
		r.log.Warn("auto-provisioned tenant admin membership",
			zap.String("tenant", tc.Key),
			zap.String("user_id", id.UserID.Hex()),
			zap.String("email", id.Email))
		if r.audit != nil {
			r.audit.MembershipAutoProvisioned(ctx, tc.TenantID, id.UserID, models.MembershipAdmin)
		}
		return TenantAdmin, nil
	case errors.Is(err, ErrMembershipExists):
		// Someone else inserted the row first; it decides the role.
		m, err := r.members.Find(ctx, tc.TenantID, id.UserID)
		if err != nil {
			r.log.Warn("membership re-read after duplicate failed",
				zap.String("tenant", tc.Key),
				zap.String("user_id", id.UserID.Hex()),
				zap.Error(err))
			return Unknown, &Error{Kind: Transient, Op: "membership lookup", Err: err}
		}
		if m.GrantsAdminSurface() {
			return TenantAdmin, nil
		}
		return RegularUser, nil
	default:
		r.log.Warn("auto-provision failed",
			zap.String("tenant", tc.Key),
			zap.String("user_id", id.UserID.Hex()),
			zap.Error(err))
		return Unknown, &Error{Kind: Transient, Op: "auto-provision", Err: err}
	}
}
