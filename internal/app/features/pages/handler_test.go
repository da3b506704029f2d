package pages_test

import (
	"net/http"
	"testing"

	uierrors "github.com/dalemusser/churchos/internal/app/features/errors"
	"github.com/dalemusser/churchos/internal/app/features/pages"
	membershipstore "github.com/dalemusser/churchos/internal/app/store/memberships"
	pagestore "github.com/dalemusser/churchos/internal/app/store/pages"
	tenantstore "github.com/dalemusser/churchos/internal/app/store/tenants"
	userstore "github.com/dalemusser/churchos/internal/app/store/users"
	"github.com/dalemusser/churchos/internal/app/system/identity"
	"github.com/dalemusser/churchos/internal/app/system/pageguard"
	"github.com/dalemusser/churchos/internal/app/system/roles"
	"github.com/dalemusser/churchos/internal/app/system/txn"
	"github.com/dalemusser/churchos/internal/domain/models"
	"github.com/dalemusser/churchos/internal/testutil"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type pageBody struct {
	models.Page
	RequestedSlug string `json:"requested_slug"`
}

type site struct {
	router http.Handler
	church models.Tenant
	admin  *identity.Identity
	member *identity.Identity
	fx     *testutil.Fixtures
}

func newSite(t *testing.T) *site {
	t.Helper()
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()
	fx := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	church := fx.CreateTenant(ctx, "stpauls", "St Paul's", true)
	admin := fx.CreateUser(ctx, "Ann Admin", "ann@example.com")
	member := fx.CreateUser(ctx, "Mo Member", "mo@example.com")
	fx.CreateMembership(ctx, church.ID, admin.ID, models.MembershipAdmin)
	fx.CreateMembership(ctx, church.ID, member.ID, models.MembershipMember)

	store := pagestore.New(db)
	guard := pageguard.New(store, tenantstore.New(db), txn.Sequence{}, logger, pageguard.Config{})
	rr := roles.NewResolver(userstore.New(db), membershipstore.New(db), roles.Policy{}, nil, logger)
	h := pages.NewHandler(guard, store, testutil.NewRegistry(t, rr, logger), uierrors.NewErrorLogger(logger), logger)

	r := chi.NewRouter()
	r.Mount("/api/pages", pages.ManageRoutes(h))
	r.Mount("/api/site", pages.SiteRoutes(h))

	return &site{
		router: r,
		church: church,
		admin:  testutil.IdentityOf(admin),
		member: testutil.IdentityOf(member),
		fx:     fx,
	}
}

// as sends req on the church's host, signed in as id when id is non-nil.
func (s *site) as(id *identity.Identity, req *http.Request) *testutil.ResponseRecorder {
	req = testutil.OnTenant(req, s.church)
	if id != nil {
		req = testutil.WithIdentity(req, id, "sid-"+id.UserID.Hex())
	}
	rec := testutil.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *site) create(t *testing.T, body map[string]any) pageBody {
	t.Helper()
	rec := s.as(s.admin, testutil.NewJSONRequest(http.MethodPost, "/api/pages", body))
	rec.AssertStatus(t, http.StatusCreated)
	var p pageBody
	rec.DecodeJSON(t, &p)
	return p
}

func (s *site) list(t *testing.T) []models.Page {
	t.Helper()
	rec := s.as(s.admin, testutil.NewRequest(http.MethodGet, "/api/pages"))
	rec.AssertStatus(t, http.StatusOK)
	var out struct {
		Pages []models.Page `json:"pages"`
	}
	rec.DecodeJSON(t, &out)
	return out.Pages
}

func TestManage_Access(t *testing.T) {
	s := newSite(t)

	tests := []struct {
		name       string
		id         *identity.Identity
		platform   bool
		wantStatus int
		wantKind   string
	}{
		{"anonymous", nil, false, http.StatusUnauthorized, "sign_in_required"},
		{"member", s.member, false, http.StatusForbidden, "access_denied"},
		{"platform host", s.admin, true, http.StatusNotFound, "no_tenant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.NewRequest(http.MethodGet, "/api/pages")
			var rec *testutil.ResponseRecorder
			if tt.platform {
				req = testutil.WithIdentity(testutil.OnPlatform(req), tt.id, "sid-x")
				rec = testutil.NewRecorder()
				s.router.ServeHTTP(rec, req)
			} else {
				rec = s.as(tt.id, req)
			}
			rec.AssertStatus(t, tt.wantStatus)
			var body uierrors.Body
			rec.DecodeJSON(t, &body)
			if body.Kind != tt.wantKind {
				t.Errorf("error = %q, want %q", body.Kind, tt.wantKind)
			}
		})
	}
}

func TestCreate_SlugConflictResolvesAutomatically(t *testing.T) {
	s := newSite(t)

	first := s.create(t, map[string]any{"title": "Welcome", "slug": "welcome", "published": true})
	if first.Slug != "welcome" || first.RequestedSlug != "" {
		t.Errorf("first = %q (requested %q)", first.Slug, first.RequestedSlug)
	}
	if first.UpdatedByName != "Ann Admin" {
		t.Errorf("UpdatedByName = %q", first.UpdatedByName)
	}

	second := s.create(t, map[string]any{"title": "Welcome again", "slug": "welcome"})
	if second.Slug != "welcome-1" || second.RequestedSlug != "welcome" {
		t.Errorf("second = %q (requested %q), want welcome-1", second.Slug, second.RequestedSlug)
	}

	derived := s.create(t, map[string]any{"title": "Our Ministries"})
	if derived.Slug != "our-ministries" {
		t.Errorf("derived slug = %q", derived.Slug)
	}
}

func TestCreate_HomepageMoves(t *testing.T) {
	s := newSite(t)

	a := s.create(t, map[string]any{"title": "Home", "is_homepage": true})
	b := s.create(t, map[string]any{"title": "New Home", "is_homepage": true})

	homepages := 0
	for _, p := range s.list(t) {
		if p.IsHomepage {
			homepages++
			if p.ID != b.ID {
				t.Errorf("homepage is %s, want %s", p.Slug, b.Slug)
			}
		}
		if p.ID == a.ID && p.IsHomepage {
			t.Error("old homepage kept its flag")
		}
	}
	if homepages != 1 {
		t.Errorf("homepages = %d, want 1", homepages)
	}
}

func TestCreate_Rejected(t *testing.T) {
	s := newSite(t)

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantField  string
	}{
		{"empty body", nil, http.StatusBadRequest, ""},
		{"not json", "{title", http.StatusBadRequest, ""},
		{"unknown field", map[string]any{"title": "A", "colour": "red"}, http.StatusBadRequest, ""},
		{"missing title", map[string]any{"slug": "a"}, http.StatusBadRequest, "title"},
		{"bad slug", map[string]any{"title": "A", "slug": "a--b"}, http.StatusBadRequest, "slug"},
		{"negative order", map[string]any{"title": "A", "display_order": -1}, http.StatusBadRequest, "display_order"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.as(s.admin, testutil.NewJSONRequest(http.MethodPost, "/api/pages", tt.body))
			rec.AssertStatus(t, tt.wantStatus)
			var body uierrors.Body
			rec.DecodeJSON(t, &body)
			if body.Kind != "validation" || body.Field != tt.wantField {
				t.Errorf("body = %+v, want validation on %q", body, tt.wantField)
			}
		})
	}
}

func TestCreate_RequiresJSONContentType(t *testing.T) {
	s := newSite(t)

	for _, ct := range []string{"text/plain", "application/x-www-form-urlencoded", ""} {
		t.Run(ct, func(t *testing.T) {
			req := testutil.NewJSONRequest(http.MethodPost, "/api/pages", map[string]any{"title": "A"})
			req.Header.Set("Content-Type", ct)
			rec := s.as(s.admin, req)
			rec.AssertStatus(t, http.StatusUnsupportedMediaType)
			rec.AssertContains(t, `"unsupported_media_type"`)
		})
	}
	if pages := s.list(t); len(pages) != 0 {
		t.Errorf("pages = %d, want none created", len(pages))
	}

	req := testutil.NewJSONRequest(http.MethodPost, "/api/pages", map[string]any{"title": "A"})
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	s.as(s.admin, req).AssertStatus(t, http.StatusCreated)
}

func TestUpdate(t *testing.T) {
	s := newSite(t)
	about := s.create(t, map[string]any{"title": "About", "slug": "about"})
	s.create(t, map[string]any{"title": "Events", "slug": "events"})

	rec := s.as(s.admin, testutil.NewJSONRequest(http.MethodPatch, "/api/pages/"+about.ID.Hex(),
		map[string]any{"title": "About Us", "slug": "events", "published": true}))
	rec.AssertStatus(t, http.StatusOK)
	var got pageBody
	rec.DecodeJSON(t, &got)
	if got.Title != "About Us" || !got.Published {
		t.Errorf("updated = %+v", got.Page)
	}
	if got.Slug != "events-1" || got.RequestedSlug != "events" {
		t.Errorf("slug = %q (requested %q), want events-1", got.Slug, got.RequestedSlug)
	}

	// Unchanged slug keeps itself.
	rec = s.as(s.admin, testutil.NewJSONRequest(http.MethodPatch, "/api/pages/"+about.ID.Hex(),
		map[string]any{"slug": "events-1"}))
	rec.AssertStatus(t, http.StatusOK)
	rec.DecodeJSON(t, &got)
	if got.Slug != "events-1" {
		t.Errorf("slug = %q, want events-1", got.Slug)
	}

	for _, target := range []string{"/api/pages/not-an-id", "/api/pages/" + primitive.NewObjectID().Hex()} {
		rec := s.as(s.admin, testutil.NewJSONRequest(http.MethodPatch, target, map[string]any{"title": "X"}))
		rec.AssertStatus(t, http.StatusNotFound)
	}
}

func TestDelete_ReleasesSlug(t *testing.T) {
	s := newSite(t)
	p := s.create(t, map[string]any{"title": "Events", "slug": "events", "published": true, "is_homepage": true})

	rec := s.as(nil, testutil.NewRequest(http.MethodGet, "/api/site/events"))
	rec.AssertStatus(t, http.StatusOK)

	rec = s.as(s.admin, testutil.NewRequest(http.MethodDelete, "/api/pages/"+p.ID.Hex()))
	rec.AssertStatus(t, http.StatusNoContent)

	rec = s.as(nil, testutil.NewRequest(http.MethodGet, "/api/site/events"))
	rec.AssertStatus(t, http.StatusNotFound)
	rec = s.as(nil, testutil.NewRequest(http.MethodGet, "/api/site"))
	rec.AssertStatus(t, http.StatusNotFound)

	again := s.create(t, map[string]any{"title": "Events", "slug": "events", "is_homepage": true})
	if again.Slug != "events" || !again.IsHomepage {
		t.Errorf("recreated = %q homepage=%v, want events homepage", again.Slug, again.IsHomepage)
	}

	rec = s.as(s.admin, testutil.NewRequest(http.MethodDelete, "/api/pages/"+p.ID.Hex()))
	rec.AssertStatus(t, http.StatusNotFound)
}

func TestSite_PublishedOnly(t *testing.T) {
	s := newSite(t)
	s.create(t, map[string]any{"title": "Home", "is_homepage": true, "published": true, "content": "<p>Hi</p><script>x()</script>"})
	s.create(t, map[string]any{"title": "Draft", "slug": "draft"})

	rec := s.as(nil, testutil.NewRequest(http.MethodGet, "/api/site"))
	rec.AssertStatus(t, http.StatusOK)
	var home struct {
		Slug       string `json:"slug"`
		Content    string `json:"content"`
		IsHomepage bool   `json:"is_homepage"`
	}
	rec.DecodeJSON(t, &home)
	if home.Slug != "home" || !home.IsHomepage {
		t.Errorf("homepage = %+v", home)
	}
	if home.Content != "<p>Hi</p>" {
		t.Errorf("content = %q, want sanitized", home.Content)
	}

	rec = s.as(nil, testutil.NewRequest(http.MethodGet, "/api/site/draft"))
	rec.AssertStatus(t, http.StatusNotFound)
}
