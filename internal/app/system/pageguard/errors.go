package pageguard

import (
	"errors"
	"fmt"
)

// Constraint names a store-level uniqueness rule on live pages.
type Constraint int

const (
	// ConstraintSlug is "one live page per (tenant, slug)".
	ConstraintSlug Constraint = iota
	// ConstraintHomepage is "one live homepage per tenant".
	ConstraintHomepage
)

func (c Constraint) String() string {
	if c == ConstraintHomepage {
		return "homepage"
	}
	return "slug"
}

// UniqueViolation is returned by a Store when a write hit a unique
// constraint. Stores must say which one fired.
type UniqueViolation struct {
	Constraint Constraint
	Err        error
}

func (e *UniqueViolation) Error() string {
	return fmt.Sprintf("unique %s constraint violated: %v", e.Constraint, e.Err)
}

func (e *UniqueViolation) Unwrap() error { return e.Err }

// ErrNotFound is returned by a Store when no live page matches.
var ErrNotFound = errors.New("page not found")

// Kind classifies Guard failures.
type Kind int

const (
	// DuplicateSlug means every slug candidate collided. Effectively unreachable.
	DuplicateSlug Kind = iota + 1
	// DuplicateHomepage means the homepage constraint fired despite clearing.
	// The caller should retry.
	DuplicateHomepage
	// InvalidReference means the tenant does not exist.
	InvalidReference
	// Validation means the input is malformed or oversized.
	Validation
	// NotFound means the page does not exist, is deleted, or belongs to
	// another tenant.
	NotFound
	// Transient means the store failed. Retryable.
	Transient
)

func (k Kind) String() string {
	switch k {
	case DuplicateSlug:
		return "duplicate_slug"
	case DuplicateHomepage:
		return "duplicate_homepage"
	case InvalidReference:
		return "invalid_reference"
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error is the error type returned by Guard operations.
type Error struct {
	Kind Kind
	// Field is set for Validation errors.
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Msg)
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether repeating the same call may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == DuplicateHomepage || e.Kind == Transient
}

// KindOf returns the Kind of err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return 0, false
}

func validationErr(field, msg string) *Error {
	return &Error{Kind: Validation, Field: field, Msg: msg}
}

func transientErr(msg string, err error) *Error {
	return &Error{Kind: Transient, Msg: msg, Err: err}
}
