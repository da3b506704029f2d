package pagestore_test

import (
	"errors"
	"testing"

	pagestore "github.com/dalemusser/churchos/internal/app/store/pages"
	"github.com/dalemusser/churchos/internal/app/system/pageguard"
	"github.com/dalemusser/churchos/internal/domain/models"
	"github.com/dalemusser/churchos/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func violation(t *testing.T, err error) pageguard.Constraint {
	t.Helper()
	var uv *pageguard.UniqueViolation
	if !errors.As(err, &uv) {
		t.Fatalf("err = %v, want *pageguard.UniqueViolation", err)
	}
	return uv.Constraint
}

func TestStore_InsertAndGet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := pagestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	tenantID := primitive.NewObjectID()
	p, err := store.Insert(ctx, models.Page{TenantID: tenantID, Slug: "about", Title: "About", Content: "<p>hi</p>"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.Get(ctx, tenantID, p.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Slug != "about" || got.Content != "<p>hi</p>" {
		t.Errorf("Get = %+v", got)
	}

	bySlug, err := store.GetBySlug(ctx, tenantID, "about")
	if err != nil || bySlug.ID != p.ID {
		t.Errorf("GetBySlug = %v, %v", bySlug.ID, err)
	}

	// Pages are tenant-scoped.
	if _, err := store.Get(ctx, primitive.NewObjectID(), p.ID); !errors.Is(err, pageguard.ErrNotFound) {
		t.Errorf("Get(other tenant) err = %v, want ErrNotFound", err)
	}
}

func TestStore_SlugViolation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := pagestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	tenantID := primitive.NewObjectID()
	if _, err := store.Insert(ctx, models.Page{TenantID: tenantID, Slug: "about"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	_, err := store.Insert(ctx, models.Page{TenantID: tenantID, Slug: "about"})
	if c := violation(t, err); c != pageguard.ConstraintSlug {
		t.Errorf("constraint = %v, want slug", c)
	}

	// Same slug in another tenant is fine.
	if _, err := store.Insert(ctx, models.Page{TenantID: primitive.NewObjectID(), Slug: "about"}); err != nil {
		t.Errorf("other tenant Insert failed: %v", err)
	}
}

func TestStore_HomepageViolation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := pagestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	tenantID := primitive.NewObjectID()
	if _, err := store.Insert(ctx, models.Page{TenantID: tenantID, Slug: "home", IsHomepage: true}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	_, err := store.Insert(ctx, models.Page{TenantID: tenantID, Slug: "welcome", IsHomepage: true})
	if c := violation(t, err); c != pageguard.ConstraintHomepage {
		t.Errorf("constraint = %v, want homepage", c)
	}
}

func TestStore_Replace(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := pagestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	tenantID := primitive.NewObjectID()
	a, _ := store.Insert(ctx, models.Page{TenantID: tenantID, Slug: "a"})
	b, _ := store.Insert(ctx, models.Page{TenantID: tenantID, Slug: "b"})

	a.Title = "Renamed"
	a.Slug = "a-2"
	out, err := store.Replace(ctx, a)
	if err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if out.Title != "Renamed" || out.Slug != "a-2" {
		t.Errorf("Replace = %+v", out)
	}

	b.Slug = "a-2"
	_, err = store.Replace(ctx, b)
	if c := violation(t, err); c != pageguard.ConstraintSlug {
		t.Errorf("constraint = %v, want slug", c)
	}

	missing := models.Page{ID: primitive.NewObjectID(), TenantID: tenantID, Slug: "x"}
	if _, err := store.Replace(ctx, missing); !errors.Is(err, pageguard.ErrNotFound) {
		t.Errorf("Replace(missing) err = %v, want ErrNotFound", err)
	}
}

func TestStore_ClearHomepage(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := pagestore.New(db)
	fixtures := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	tenantID := primitive.NewObjectID()
	home := fixtures.CreatePage(ctx, tenantID, "home", true)
	other := fixtures.CreatePage(ctx, tenantID, "other", false)

	n, err := store.ClearHomepage(ctx, tenantID, home.ID)
	if err != nil || n != 0 {
		t.Errorf("ClearHomepage(except home) = %d, %v; want 0", n, err)
	}

	n, err = store.ClearHomepage(ctx, tenantID, other.ID)
	if err != nil || n != 1 {
		t.Errorf("ClearHomepage = %d, %v; want 1", n, err)
	}
	if _, err := store.GetHomepage(ctx, tenantID); !errors.Is(err, pageguard.ErrNotFound) {
		t.Errorf("GetHomepage after clear err = %v, want ErrNotFound", err)
	}
}

func TestStore_SoftDeleteReleasesSlugAndHomepage(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := pagestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	tenantID := primitive.NewObjectID()
	home, err := store.Insert(ctx, models.Page{TenantID: tenantID, Slug: "home", IsHomepage: true})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.SoftDelete(ctx, tenantID, home.ID); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}
	if err := store.SoftDelete(ctx, tenantID, home.ID); !errors.Is(err, pageguard.ErrNotFound) {
		t.Errorf("second SoftDelete err = %v, want ErrNotFound", err)
	}

	taken, err := store.SlugTaken(ctx, tenantID, "home", primitive.NilObjectID)
	if err != nil || taken {
		t.Errorf("SlugTaken after delete = %v, %v; want false", taken, err)
	}
	if _, err := store.Insert(ctx, models.Page{TenantID: tenantID, Slug: "home", IsHomepage: true}); err != nil {
		t.Errorf("reusing slug and homepage failed: %v", err)
	}
}

func TestStore_SlugTakenExcludesSelf(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := pagestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	tenantID := primitive.NewObjectID()
	p, _ := store.Insert(ctx, models.Page{TenantID: tenantID, Slug: "events"})

	taken, err := store.SlugTaken(ctx, tenantID, "events", primitive.NilObjectID)
	if err != nil || !taken {
		t.Errorf("SlugTaken = %v, %v; want true", taken, err)
	}
	taken, err = store.SlugTaken(ctx, tenantID, "events", p.ID)
	if err != nil || taken {
		t.Errorf("SlugTaken(exclude self) = %v, %v; want false", taken, err)
	}
}

func TestStore_ListOrder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := pagestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	tenantID := primitive.NewObjectID()
	store.Insert(ctx, models.Page{TenantID: tenantID, Slug: "b", DisplayOrder: 2})
	store.Insert(ctx, models.Page{TenantID: tenantID, Slug: "a", DisplayOrder: 1, Content: "<p>x</p>"})
	c, _ := store.Insert(ctx, models.Page{TenantID: tenantID, Slug: "c", DisplayOrder: 0})
	store.SoftDelete(ctx, tenantID, c.ID)

	list, err := store.List(ctx, tenantID)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 || list[0].Slug != "a" || list[1].Slug != "b" {
		t.Fatalf("List = %+v", list)
	}
	if list[0].Content != "" {
		t.Error("List should not load content")
	}
}
