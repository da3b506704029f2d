// Package tenant turns a request hostname into the tenant it addresses.
//
// A hostname is classified (hostclass), then subdomain and custom-domain
// hosts are looked up in a Directory. The outcome is a Resolution, or a
// *ResolutionError telling the caller which user-facing state to render.
package tenant

import (
	"errors"
	"fmt"

	"github.com/dalemusser/churchos/internal/app/system/hostclass"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrNotFound is returned by a Directory when no tenant matches.
var ErrNotFound = errors.New("tenant not found")

// ErrNoTenant means the request reached the platform domain where a tenant
// was required.
var ErrNoTenant = errors.New("request is not addressed to a tenant")

// Context is the resolved tenant for one request. It is never persisted.
type Context struct {
	TenantID    primitive.ObjectID `json:"tenant_id"`
	Key         string             `json:"key"`
	DisplayName string             `json:"display_name"`
	AccessKind  hostclass.Kind     `json:"-"`
}

// Resolution is a successful resolution. Tenant is nil on the platform
// domain.
type Resolution struct {
	Kind   hostclass.Kind
	Host   string
	Tenant *Context
}

// IsPlatform reports whether the request addressed the platform itself.
func (r Resolution) IsPlatform() bool { return r.Tenant == nil }

// ErrorKind classifies a failed resolution.
type ErrorKind int

const (
	// TenantNotFound: nothing answers to this host. Worth retrying after
	// DNS propagation or a typo fix.
	TenantNotFound ErrorKind = iota + 1
	// TenantDisabled: the tenant exists but its website is switched off.
	TenantDisabled
	// Transient: the directory could not be reached. Never a not-found.
	Transient
)

func (k ErrorKind) String() string {
	switch k {
	case TenantNotFound:
		return "tenant_not_found"
	case TenantDisabled:
		return "tenant_disabled"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

// ResolutionError is a typed resolution failure.
type ResolutionError struct {
	Kind ErrorKind
	Host string
	Key  string
	Err  error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("resolve %q: %s", e.Host, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// KindOf returns the ErrorKind of err, or 0 when err is not a
// *ResolutionError.
func KindOf(err error) ErrorKind {
	var re *ResolutionError
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}
