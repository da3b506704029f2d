package roles_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dalemusser/churchos/internal/app/system/hostclass"
	"github.com/dalemusser/churchos/internal/app/system/identity"
	"github.com/dalemusser/churchos/internal/app/system/roles"
	"github.com/dalemusser/churchos/internal/app/system/tenant"
	"github.com/dalemusser/churchos/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var (
	tenantA = &tenant.Context{TenantID: primitive.NewObjectID(), Key: "stpauls", DisplayName: "St. Paul's", AccessKind: hostclass.TenantSubdomain}
	tenantB = &tenant.Context{TenantID: primitive.NewObjectID(), Key: "grace", DisplayName: "Grace", AccessKind: hostclass.TenantSubdomain}

	onA      = tenant.Resolution{Kind: hostclass.TenantSubdomain, Host: "stpauls.church-os.com", Tenant: tenantA}
	onB      = tenant.Resolution{Kind: hostclass.TenantSubdomain, Host: "grace.church-os.com", Tenant: tenantB}
	platform = tenant.Resolution{Kind: hostclass.PlatformDomain, Host: "church-os.com"}
)

func person() *identity.Identity {
	return &identity.Identity{UserID: primitive.NewObjectID(), Email: "someone@example.org", Name: "Someone"}
}

func membership(tc *tenant.Context, id *identity.Identity, role string) models.Membership {
	return models.Membership{ID: primitive.NewObjectID(), TenantID: tc.TenantID, UserID: id.UserID, Role: role}
}

func TestResolve_Table(t *testing.T) {
	admin := person()
	editor := person()
	member := person()
	super := person()
	stranger := person()

	members := newFakeMembers(
		membership(tenantA, admin, models.MembershipAdmin),
		membership(tenantA, editor, models.MembershipEditor),
		membership(tenantA, member, models.MembershipMember),
	)
	supers := &fakeSuper{admins: map[primitive.ObjectID]bool{super.UserID: true}}
	r := roles.NewResolver(supers, members, roles.Policy{}, nil, zap.NewNop())

	tests := []struct {
		name string
		id   *identity.Identity
		res  tenant.Resolution
		want roles.Role
	}{
		{"anonymous on tenant", nil, onA, roles.Unauthenticated},
		{"anonymous on platform", nil, platform, roles.Unauthenticated},
		{"super-admin on tenant", super, onA, roles.SuperAdmin},
		{"super-admin on platform", super, platform, roles.SuperAdmin},
		{"admin member", admin, onA, roles.TenantAdmin},
		{"editor member", editor, onA, roles.TenantAdmin},
		{"plain member", member, onA, roles.RegularUser},
		{"admin on another tenant", admin, onB, roles.RegularUser},
		{"admin on platform", admin, platform, roles.TenantAdmin},
		{"member on platform", member, platform, roles.RegularUser},
		{"no memberships on platform", stranger, platform, roles.RegularUser},
		{"no membership, auto-provision off", stranger, onA, roles.RegularUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tt.id, tt.res)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got != tt.want {
				t.Errorf("role = %v, want %v", got, tt.want)
			}
		})
	}
	if n := members.addCount(); n != 0 {
		t.Errorf("Add called %d times with auto-provisioning off", n)
	}
}

func TestResolve_TransientNeverDowngrades(t *testing.T) {
	id := person()
	tests := []struct {
		name    string
		super   *fakeSuper
		members *fakeMembers
		res     tenant.Resolution
	}{
		{"super-admin check fails", &fakeSuper{err: errBoom}, newFakeMembers(), onA},
		{"membership lookup fails", &fakeSuper{}, &fakeMembers{rows: map[memberKey]models.Membership{}, findErr: errBoom}, onA},
		{"membership list fails", &fakeSuper{}, &fakeMembers{rows: map[memberKey]models.Membership{}, listErr: errBoom}, platform},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := roles.NewResolver(tt.super, tt.members, roles.Policy{AutoProvisionAdmin: true}, nil, zap.NewNop())
			got, err := r.Resolve(context.Background(), id, tt.res)
			if !roles.IsTransient(err) {
				t.Fatalf("err = %v, want transient", err)
			}
			if !errors.Is(err, errBoom) {
				t.Errorf("err = %v, want it to wrap the store error", err)
			}
			if got != roles.Unknown {
				t.Errorf("role = %v, want Unknown", got)
			}
			if n := tt.members.addCount(); n != 0 {
				t.Errorf("failure led to %d provisioning attempts", n)
			}
		})
	}
}

func TestResolve_AutoProvision(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	members := newFakeMembers()
	audit := &fakeAudit{}
	r := roles.NewResolver(&fakeSuper{}, members, roles.Policy{AutoProvisionAdmin: true}, audit, zap.New(core))
	id := person()

	got, err := r.Resolve(context.Background(), id, onA)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != roles.TenantAdmin {
		t.Fatalf("role = %v, want TenantAdmin", got)
	}

	m, err := members.Find(context.Background(), tenantA.TenantID, id.UserID)
	if err != nil {
		t.Fatalf("membership not created: %v", err)
	}
	if m.Role != models.MembershipAdmin || !m.AutoProvisioned {
		t.Errorf("membership = %+v, want auto-provisioned admin", m)
	}
	if len(audit.calls) != 1 || audit.calls[0].tenantID != tenantA.TenantID || audit.calls[0].role != models.MembershipAdmin {
		t.Errorf("audit calls = %+v", audit.calls)
	}
	if logs.FilterMessage("auto-provisioned tenant admin membership").Len() != 1 {
		t.Error("expected a warning log for auto-provisioning")
	}

	// Second resolution finds the row; nothing new is provisioned.
	if got, err := r.Resolve(context.Background(), id, onA); err != nil || got != roles.TenantAdmin {
		t.Fatalf("second Resolve = %v, %v", got, err)
	}
	if n := members.addCount(); n != 1 {
		t.Errorf("Add called %d times, want 1", n)
	}
}

func TestResolve_AutoProvisionRaceUsesStoredRow(t *testing.T) {
	tests := []struct {
		name     string
		raceRole string
		want     roles.Role
	}{
		{"concurrent auto-provision", "", roles.TenantAdmin},
		{"concurrent editor invite", models.MembershipEditor, roles.TenantAdmin},
		{"concurrent member invite", models.MembershipMember, roles.RegularUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			members := newFakeMembers()
			members.raceOnAdd = true
			members.raceRole = tt.raceRole
			audit := &fakeAudit{}
			r := roles.NewResolver(&fakeSuper{}, members, roles.Policy{AutoProvisionAdmin: true}, audit, zap.NewNop())

			got, err := r.Resolve(context.Background(), person(), onA)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got != tt.want {
				t.Errorf("role = %v, want %v", got, tt.want)
			}
			if len(audit.calls) != 0 {
				t.Error("the losing request must not record a second audit event")
			}
		})
	}
}

func TestResolve_AutoProvisionFailureIsTransient(t *testing.T) {
	members := newFakeMembers()
	members.addErr = errBoom
	r := roles.NewResolver(&fakeSuper{}, members, roles.Policy{AutoProvisionAdmin: true}, nil, zap.NewNop())

	got, err := r.Resolve(context.Background(), person(), onA)
	if !roles.IsTransient(err) || got != roles.Unknown {
		t.Errorf("Resolve = %v, %v; want Unknown, transient", got, err)
	}
}

func TestRole_MarshalText(t *testing.T) {
	tests := []struct {
		role roles.Role
		want string
	}{
		{roles.Unknown, "unknown"},
		{roles.Unauthenticated, "unauthenticated"},
		{roles.RegularUser, "regular_user"},
		{roles.TenantAdmin, "tenant_admin"},
		{roles.SuperAdmin, "super_admin"},
	}
	for _, tt := range tests {
		b, _ := tt.role.MarshalText()
		if string(b) != tt.want {
			t.Errorf("%d: got %q, want %q", tt.role, b, tt.want)
		}
	}
}
