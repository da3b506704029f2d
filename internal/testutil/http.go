package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/dalemusser/churchos/internal/app/system/hostclass"
	"github.com/dalemusser/churchos/internal/app/system/identity"
	"github.com/dalemusser/churchos/internal/app/system/tenant"
	"github.com/dalemusser/churchos/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TestIdentity returns a signed-in identity for a new user id.
func TestIdentity(name, email string) *identity.Identity {
	return &identity.Identity{
		UserID:     primitive.NewObjectID(),
		Email:      email,
		Name:       name,
		AuthMethod: "google",
	}
}

// IdentityOf returns the identity a signed-in u would carry.
func IdentityOf(u models.User) *identity.Identity {
	return &identity.Identity{UserID: u.ID, Email: u.Email, Name: u.FullName, AuthMethod: u.AuthMethod}
}

// WithIdentity injects id into the request context, bypassing the session
// cookie. sessionID may be empty.
func WithIdentity(r *http.Request, id *identity.Identity, sessionID string) *http.Request {
	return r.WithContext(identity.WithIdentity(r.Context(), id, sessionID))
}

// OnTenant injects a successful resolution for t, as tenant.Middleware
// would for its subdomain.
func OnTenant(r *http.Request, t models.Tenant) *http.Request {
	res := tenant.Resolution{
		Kind: hostclass.TenantSubdomain,
		Host: r.Host,
		Tenant: &tenant.Context{
			TenantID:    t.ID,
			Key:         t.Key,
			DisplayName: t.DisplayName,
			AccessKind:  hostclass.TenantSubdomain,
		},
	}
	return r.WithContext(tenant.WithResolution(r.Context(), res, nil))
}

// OnPlatform injects a platform-domain resolution.
func OnPlatform(r *http.Request) *http.Request {
	res := tenant.Resolution{Kind: hostclass.PlatformDomain, Host: r.Host}
	return r.WithContext(tenant.WithResolution(r.Context(), res, nil))
}

// WithResolutionError injects a failed resolution of kind k.
func WithResolutionError(r *http.Request, k tenant.ErrorKind) *http.Request {
	err := &tenant.ResolutionError{Kind: k, Host: r.Host}
	return r.WithContext(tenant.WithResolution(r.Context(), tenant.Resolution{}, err))
}

// NewRequest creates an HTTP request for testing.
func NewRequest(method, target string) *http.Request {
	return httptest.NewRequest(method, target, nil)
}

// NewJSONRequest creates a request with body encoded as JSON.
func NewJSONRequest(method, target string, body any) *http.Request {
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			panic(err)
		}
		rd = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// ResponseRecorder wraps httptest.ResponseRecorder with helper methods.
type ResponseRecorder struct {
	*httptest.ResponseRecorder
}

// NewRecorder creates a new ResponseRecorder.
func NewRecorder() *ResponseRecorder {
	return &ResponseRecorder{httptest.NewRecorder()}
}

type errorfer interface {
	Helper()
	Errorf(string, ...any)
	Fatalf(string, ...any)
}

// AssertStatus checks the response status code.
func (r *ResponseRecorder) AssertStatus(t errorfer, expected int) {
	t.Helper()
	if r.Code != expected {
		t.Errorf("status code: got %d, want %d (body: %s)", r.Code, expected, r.Body.String())
	}
}

// AssertRedirect checks for a redirect to the expected location.
func (r *ResponseRecorder) AssertRedirect(t errorfer, expectedLocation string) {
	t.Helper()
	if r.Code != http.StatusSeeOther && r.Code != http.StatusFound && r.Code != http.StatusMovedPermanently {
		t.Errorf("expected redirect status, got %d", r.Code)
	}
	location := r.Header().Get("Location")
	if location != expectedLocation {
		t.Errorf("redirect location: got %q, want %q", location, expectedLocation)
	}
}

// AssertContains checks if the response body contains the expected string.
func (r *ResponseRecorder) AssertContains(t errorfer, expected string) {
	t.Helper()
	if !strings.Contains(r.Body.String(), expected) {
		t.Errorf("response body does not contain %q", expected)
	}
}

// DecodeJSON decodes the response body into v.
func (r *ResponseRecorder) DecodeJSON(t errorfer, v any) {
	t.Helper()
	if ct := r.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if err := json.Unmarshal(r.Body.Bytes(), v); err != nil {
		t.Fatalf("decode body %q: %v", r.Body.String(), err)
	}
}
