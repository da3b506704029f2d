// Package pageguard enforces the identity rules of tenant pages at write time.
//
// For each tenant, among pages that are not deleted:
//   - no two pages share a slug
//   - at most one page is the homepage
//
// Slug conflicts are resolved by picking the next free slug rather than
// failing. The store's partial unique indexes are the final backstop; the
// Guard turns their violations into a single retry or a typed error.
package pageguard

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dalemusser/churchos/internal/app/system/htmlsanitize"
	"github.com/dalemusser/churchos/internal/app/system/timeouts"
	"github.com/dalemusser/churchos/internal/app/system/txn"
	"github.com/dalemusser/churchos/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Limits on page fields.
const (
	MaxTitleLen     = 200       // runes
	MaxContentBytes = 512 << 10 // before sanitizing

	DefaultSlugAttempts = 20
)

// Store is the page persistence the Guard writes through. Insert, Replace
// and ClearHomepage must honor ctx so they join a transaction when one is
// open. Insert and Replace report constraint hits as *UniqueViolation.
type Store interface {
	// SlugTaken reports whether a live page other than exclude uses slug.
	SlugTaken(ctx context.Context, tenantID primitive.ObjectID, slug string, exclude primitive.ObjectID) (bool, error)
	// Get returns a live page or ErrNotFound.
	Get(ctx context.Context, tenantID, id primitive.ObjectID) (models.Page, error)
	Insert(ctx context.Context, p models.Page) (models.Page, error)
	// Replace overwrites the mutable fields of a live page or returns ErrNotFound.
	Replace(ctx context.Context, p models.Page) (models.Page, error)
	// ClearHomepage unsets the homepage flag on live pages other than except.
	ClearHomepage(ctx context.Context, tenantID, except primitive.ObjectID) (int64, error)
	// SoftDelete marks a live page deleted and clears its homepage flag.
	SoftDelete(ctx context.Context, tenantID, id primitive.ObjectID) error
}

// Tenants answers whether a tenant exists.
type Tenants interface {
	Exists(ctx context.Context, id primitive.ObjectID) (bool, error)
}

// Events receives notable outcomes. Implementations must not block.
type Events interface {
	// SlugRenegotiated fires when a page was saved under a slug other than
	// the one requested.
	SlugRenegotiated(ctx context.Context, tenantID, pageID primitive.ObjectID, requested, final string)
	// HomepageChanged fires when making pageID the homepage took the flag
	// away from other pages.
	HomepageChanged(ctx context.Context, tenantID, pageID primitive.ObjectID, cleared int64)
}

// Config tunes a Guard. Zero values select defaults.
type Config struct {
	// MaxSlugAttempts is how many numbered suffixes are tried before the
	// random fallback.
	MaxSlugAttempts int
	// WriteTimeout bounds a homepage write once it has started.
	WriteTimeout time.Duration
	Events       Events
}

// Guard validates and writes pages.
type Guard struct {
	pages        Store
	tenants      Tenants
	txn          txn.Runner
	events       Events
	log          *zap.Logger
	maxAttempts  int
	writeTimeout time.Duration
}

// New builds a Guard. runner decides whether the homepage swap is atomic.
func New(pages Store, tenants Tenants, runner txn.Runner, logger *zap.Logger, cfg Config) *Guard {
	if runner == nil {
		runner = txn.Sequence{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxSlugAttempts <= 0 {
		cfg.MaxSlugAttempts = DefaultSlugAttempts
	}
	return &Guard{
		pages:        pages,
		tenants:      tenants,
		txn:          runner,
		events:       cfg.Events,
		log:          logger,
		maxAttempts:  cfg.MaxSlugAttempts,
		writeTimeout: cfg.WriteTimeout,
	}
}

// Patch lists the fields an update changes. Nil fields are left alone.
// A Slug pointing at "" re-derives the slug from the title.
type Patch struct {
	Title        *string
	Slug         *string
	Content      *string
	IsHomepage   *bool
	DisplayOrder *int
	Published    *bool

	ActorID   *primitive.ObjectID
	ActorName string
}

/*─────────────────────────────────────────────────────────────────────────────*
| Operations                                                                   |
*─────────────────────────────────────────────────────────────────────────────*/

// Create validates p and inserts it. The returned page carries the final
// slug, which differs from the requested one when that slug was taken.
func (g *Guard) Create(ctx context.Context, p models.Page) (models.Page, error) {
	if p.TenantID.IsZero() {
		return models.Page{}, &Error{Kind: InvalidReference, Msg: "tenant id is required"}
	}

	p.Title = strings.TrimSpace(p.Title)
	if err := checkTitle(p.Title); err != nil {
		return models.Page{}, err
	}
	requested, err := requestedSlug(p.Slug, p.Title)
	if err != nil {
		return models.Page{}, err
	}
	if p.Content, err = cleanContent(p.Content); err != nil {
		return models.Page{}, err
	}
	if p.DisplayOrder < 0 {
		return models.Page{}, validationErr("display_order", "must not be negative")
	}

	ok, err := g.tenants.Exists(ctx, p.TenantID)
	if err != nil {
		return models.Page{}, transientErr("looking up tenant", err)
	}
	if !ok {
		return models.Page{}, &Error{Kind: InvalidReference, Msg: "tenant does not exist"}
	}

	p.ID = primitive.NewObjectID()
	p.Deleted = false
	p.DeletedAt = nil
	return g.save(ctx, p, requested, true, g.pages.Insert)
}

// Update applies patch to a live page of tenantID. Slug and homepage rules
// are the same as Create, with the page's own id excluded from conflicts.
func (g *Guard) Update(ctx context.Context, tenantID, id primitive.ObjectID, patch Patch) (models.Page, error) {
	cur, err := g.pages.Get(ctx, tenantID, id)
	if err != nil {
		return models.Page{}, storeErr("loading page", err)
	}

	next := cur
	if patch.Title != nil {
		next.Title = strings.TrimSpace(*patch.Title)
		if err := checkTitle(next.Title); err != nil {
			return models.Page{}, err
		}
	}

	requested := cur.Slug
	if patch.Slug != nil {
		if requested, err = requestedSlug(*patch.Slug, next.Title); err != nil {
			return models.Page{}, err
		}
	}
	slugChanged := requested != cur.Slug

	if patch.Content != nil {
		if next.Content, err = cleanContent(*patch.Content); err != nil {
			return models.Page{}, err
		}
	}
	if patch.DisplayOrder != nil {
		if *patch.DisplayOrder < 0 {
			return models.Page{}, validationErr("display_order", "must not be negative")
		}
		next.DisplayOrder = *patch.DisplayOrder
	}
	if patch.IsHomepage != nil {
		next.IsHomepage = *patch.IsHomepage
	}
	if patch.Published != nil {
		next.Published = *patch.Published
	}
	if patch.ActorID != nil {
		next.UpdatedByID = patch.ActorID
		next.UpdatedByName = patch.ActorName
	}

	return g.save(ctx, next, requested, slugChanged, g.pages.Replace)
}

// Delete soft-deletes a page, releasing its slug and homepage flag.
func (g *Guard) Delete(ctx context.Context, tenantID, id primitive.ObjectID) error {
	if err := g.pages.SoftDelete(ctx, tenantID, id); err != nil {
		return storeErr("deleting page", err)
	}
	return nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| Write path                                                                   |
*─────────────────────────────────────────────────────────────────────────────*/

type putFunc func(context.Context, models.Page) (models.Page, error)

// save negotiates the slug (when it changes) and writes p. A slug violation
// at write time means another writer won the race after negotiation; the
// slug is negotiated again once.
func (g *Guard) save(ctx context.Context, p models.Page, requested string, negotiate bool, put putFunc) (models.Page, error) {
	for attempt := 0; ; attempt++ {
		if negotiate {
			slug, err := g.negotiateSlug(ctx, p.TenantID, requested, p.ID)
			if err != nil {
				return models.Page{}, err
			}
			p.Slug = slug
		}

		saved, cleared, mode, err := g.commit(ctx, p, put)
		if err == nil {
			g.afterSave(ctx, saved, requested, cleared)
			return saved, nil
		}

		var uv *UniqueViolation
		if !errors.As(err, &uv) {
			return models.Page{}, storeErr("saving page", err)
		}
		if uv.Constraint == ConstraintHomepage {
			if mode == txn.Transactional {
				g.log.Error("homepage constraint fired inside a transaction",
					zap.String("tenant_id", p.TenantID.Hex()),
					zap.String("page_id", p.ID.Hex()),
					zap.Error(err))
			}
			return models.Page{}, &Error{Kind: DuplicateHomepage, Msg: "another page became the homepage concurrently; retry", Err: err}
		}
		if attempt > 0 {
			return models.Page{}, &Error{Kind: DuplicateSlug, Msg: "no free slug for " + requested, Err: err}
		}
		g.log.Info("slug taken at write time; renegotiating",
			zap.String("tenant_id", p.TenantID.Hex()),
			zap.String("slug", p.Slug))
		negotiate = true
	}
}

// commit performs the write. A homepage write first clears the flag on every
// other live page; both steps run through the txn runner and are detached
// from caller cancellation once started.
func (g *Guard) commit(ctx context.Context, p models.Page, put putFunc) (saved models.Page, cleared int64, mode txn.Mode, err error) {
	if !p.IsHomepage {
		saved, err = put(ctx, p)
		return saved, 0, txn.Sequential, err
	}

	if err := ctx.Err(); err != nil {
		return models.Page{}, 0, txn.Sequential, err
	}
	timeout := g.writeTimeout
	if timeout <= 0 {
		timeout = timeouts.Long()
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	err = g.txn.Do(wctx, func(ctx context.Context, m txn.Mode) error {
		mode = m
		n, err := g.pages.ClearHomepage(ctx, p.TenantID, p.ID)
		if err != nil {
			if m == txn.Transactional {
				return err
			}
			g.log.Warn("clearing previous homepage failed; continuing",
				zap.String("tenant_id", p.TenantID.Hex()),
				zap.String("page_id", p.ID.Hex()),
				zap.Error(err))
			n = 0
		}
		s, err := put(ctx, p)
		if err != nil {
			return err
		}
		saved, cleared = s, n
		return nil
	})
	return saved, cleared, mode, err
}

func (g *Guard) afterSave(ctx context.Context, saved models.Page, requested string, cleared int64) {
	if saved.Slug != requested {
		g.log.Info("page slug renegotiated",
			zap.String("tenant_id", saved.TenantID.Hex()),
			zap.String("page_id", saved.ID.Hex()),
			zap.String("requested", requested),
			zap.String("slug", saved.Slug))
		if g.events != nil {
			g.events.SlugRenegotiated(ctx, saved.TenantID, saved.ID, requested, saved.Slug)
		}
	}
	if saved.IsHomepage && cleared > 0 && g.events != nil {
		g.events.HomepageChanged(ctx, saved.TenantID, saved.ID, cleared)
	}
}

// negotiateSlug returns the first free candidate for base.
func (g *Guard) negotiateSlug(ctx context.Context, tenantID primitive.ObjectID, base string, exclude primitive.ObjectID) (string, error) {
	for _, c := range candidates(base, g.maxAttempts) {
		taken, err := g.pages.SlugTaken(ctx, tenantID, c, exclude)
		if err != nil {
			return "", transientErr("checking slug availability", err)
		}
		if !taken {
			return c, nil
		}
	}
	slug := fallbackSlug(base)
	g.log.Warn("numbered slugs exhausted; using random suffix",
		zap.String("tenant_id", tenantID.Hex()),
		zap.String("base", base),
		zap.Int("attempts", g.maxAttempts),
		zap.String("slug", slug))
	return slug, nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| Validation                                                                   |
*─────────────────────────────────────────────────────────────────────────────*/

func checkTitle(title string) error {
	if title == "" {
		return validationErr("title", "is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return validationErr("title", "is too long")
	}
	return nil
}

// requestedSlug normalizes a caller-supplied slug, deriving one from title
// when it is blank.
func requestedSlug(raw, title string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return Slugify(title), nil
	}
	if len(s) > MaxSlugLen {
		return "", validationErr("slug", "is too long")
	}
	if !ValidSlug(s) {
		return "", validationErr("slug", "may contain only lowercase letters, digits and single hyphens")
	}
	return s, nil
}

func cleanContent(content string) (string, error) {
	if len(content) > MaxContentBytes {
		return "", validationErr("content", "is too large")
	}
	return htmlsanitize.Sanitize(content), nil
}

// storeErr maps a store failure to a Guard error.
func storeErr(msg string, err error) error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	if errors.Is(err, ErrNotFound) {
		return &Error{Kind: NotFound, Msg: "page not found", Err: err}
	}
	return transientErr(msg, err)
}
