// Package roles decides what a signed-in person may do on the current host.
package roles

import (
	"errors"
	"fmt"
)

// Role is the effective role for one identity on one host.
type Role int

const (
	Unknown Role = iota
	Unauthenticated
	RegularUser
	TenantAdmin
	SuperAdmin
)

func (r Role) String() string {
	switch r {
	case Unauthenticated:
		return "unauthenticated"
	case RegularUser:
		return "regular_user"
	case TenantAdmin:
		return "tenant_admin"
	case SuperAdmin:
		return "super_admin"
	default:
		return "unknown"
	}
}

// MarshalText renders the role as its name in JSON.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Membership sentinels. Membership stores return these so the resolver can
// tell "no row" and "row already exists" from real failures.
var (
	ErrNoMembership     = errors.New("membership not found")
	ErrMembershipExists = errors.New("user is already a member of this tenant")
)

// ErrorKind classifies role resolution failures.
type ErrorKind int

const (
	// Transient means a store call failed. The role is undetermined, not
	// downgraded; the caller may retry.
	Transient ErrorKind = iota + 1
)

func (k ErrorKind) String() string {
	if k == Transient {
		return "transient"
	}
	return "unknown"
}

// Error is returned when the role cannot be determined.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("role resolution: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable role resolution failure.
func IsTransient(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == Transient
}
