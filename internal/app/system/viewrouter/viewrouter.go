// Package viewrouter picks the top-level view for a request from its tenant
// resolution and effective role. It never redirects; every outcome is a
// view plus the actions that view offers.
package viewrouter

import (
	"github.com/dalemusser/churchos/internal/app/system/roles"
	"github.com/dalemusser/churchos/internal/app/system/tenant"
)

// View is a top-level screen.
type View string

const (
	PlatformLanding View = "platform_landing"
	TenantPicker    View = "tenant_picker"
	AccountHome     View = "account_home"
	TenantSite      View = "tenant_site"
	TenantAdmin     View = "tenant_admin"
	TenantNotFound  View = "tenant_not_found"
	TenantDisabled  View = "tenant_disabled"
	AccessDenied    View = "access_denied"
	SignInRequired  View = "sign_in_required"
	Unavailable     View = "unavailable"
)

// Action is something the user can do from a view.
type Action string

const (
	Retry            Action = "retry"
	ReturnToPlatform Action = "return_to_platform"
	RetryPermission  Action = "retry_permission"
	SignOut          Action = "sign_out"
	SignIn           Action = "sign_in"
)

// Surface is the part of the product a request asks for.
type Surface int

const (
	Site Surface = iota
	Admin
)

// Input is everything Select looks at.
type Input struct {
	Resolution    tenant.Resolution
	ResolutionErr error
	Role          roles.Role
	RoleErr       error
	Surface       Surface
}

// Decision is the chosen view and its actions.
type Decision struct {
	View    View     `json:"view"`
	Actions []Action `json:"actions"`
}

// Select maps in to a Decision. Tenant failures win over role failures;
// a failed role check is never read as a lesser role.
func Select(in Input) Decision {
	if in.ResolutionErr != nil {
		switch tenant.KindOf(in.ResolutionErr) {
		case tenant.TenantNotFound:
			return decide(TenantNotFound, Retry, ReturnToPlatform)
		case tenant.TenantDisabled:
			return decide(TenantDisabled, Retry, ReturnToPlatform)
		default:
			return decide(Unavailable, Retry)
		}
	}

	if in.RoleErr != nil {
		return decide(Unavailable, RetryPermission, SignOut)
	}

	if in.Resolution.IsPlatform() {
		return platform(in.Role)
	}
	if in.Surface == Admin {
		return tenantAdmin(in.Role)
	}
	return tenantSite(in.Role)
}

func platform(r roles.Role) Decision {
	switch r {
	case roles.Unauthenticated:
		return decide(PlatformLanding, SignIn)
	case roles.SuperAdmin:
		return decide(TenantPicker, SignOut)
	case roles.TenantAdmin, roles.RegularUser:
		return decide(AccountHome, SignOut)
	default:
		return decide(Unavailable, RetryPermission, SignOut)
	}
}

func tenantSite(r roles.Role) Decision {
	switch r {
	case roles.Unauthenticated:
		return decide(TenantSite, SignIn)
	case roles.Unknown:
		// The public site does not depend on the role.
		return decide(TenantSite, RetryPermission)
	default:
		return decide(TenantSite, SignOut)
	}
}

func tenantAdmin(r roles.Role) Decision {
	switch r {
	case roles.Unauthenticated:
		return decide(SignInRequired, SignIn)
	case roles.SuperAdmin, roles.TenantAdmin:
		return decide(TenantAdmin, SignOut)
	case roles.RegularUser:
		return decide(AccessDenied, RetryPermission, SignOut)
	default:
		return decide(Unavailable, RetryPermission, SignOut)
	}
}

func decide(v View, actions ...Action) Decision {
	return Decision{View: v, Actions: actions}
}
