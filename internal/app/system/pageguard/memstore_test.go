package pageguard_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dalemusser/churchos/internal/app/system/pageguard"
	"github.com/dalemusser/churchos/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// memStore is an in-memory pageguard.Store that enforces the same two
// partial unique constraints as the Mongo indexes.
type memStore struct {
	mu    sync.Mutex
	pages map[primitive.ObjectID]models.Page

	// hooks run before the named operation; a non-nil return aborts it.
	beforeInsert func(ctx context.Context, p models.Page) error
	beforeClear  func(ctx context.Context) error
	slugTakenErr error

	inserts int
	clears  int
}

func newMemStore() *memStore {
	return &memStore{pages: make(map[primitive.ObjectID]models.Page)}
}

func (s *memStore) conflict(p models.Page) error {
	for id, o := range s.pages {
		if id == p.ID || o.Deleted || o.TenantID != p.TenantID {
			continue
		}
		if o.Slug == p.Slug {
			return &pageguard.UniqueViolation{Constraint: pageguard.ConstraintSlug, Err: errors.New("E11000 uniq_pages_tenant_slug")}
		}
		if p.IsHomepage && o.IsHomepage {
			return &pageguard.UniqueViolation{Constraint: pageguard.ConstraintHomepage, Err: errors.New("E11000 uniq_pages_tenant_homepage")}
		}
	}
	return nil
}

func (s *memStore) SlugTaken(ctx context.Context, tenantID primitive.ObjectID, slug string, exclude primitive.ObjectID) (bool, error) {
	if s.slugTakenErr != nil {
		return false, s.slugTakenErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, o := range s.pages {
		if id != exclude && !o.Deleted && o.TenantID == tenantID && o.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) Get(ctx context.Context, tenantID, id primitive.ObjectID) (models.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[id]
	if !ok || p.Deleted || p.TenantID != tenantID {
		return models.Page{}, pageguard.ErrNotFound
	}
	return p, nil
}

func (s *memStore) Insert(ctx context.Context, p models.Page) (models.Page, error) {
	if err := ctx.Err(); err != nil {
		return models.Page{}, err
	}
	if s.beforeInsert != nil {
		if err := s.beforeInsert(ctx, p); err != nil {
			return models.Page{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conflict(p); err != nil {
		return models.Page{}, err
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	s.pages[p.ID] = p
	s.inserts++
	return p, nil
}

func (s *memStore) Replace(ctx context.Context, p models.Page) (models.Page, error) {
	if err := ctx.Err(); err != nil {
		return models.Page{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.pages[p.ID]
	if !ok || cur.Deleted || cur.TenantID != p.TenantID {
		return models.Page{}, pageguard.ErrNotFound
	}
	if err := s.conflict(p); err != nil {
		return models.Page{}, err
	}
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	s.pages[p.ID] = p
	return p, nil
}

func (s *memStore) ClearHomepage(ctx context.Context, tenantID, except primitive.ObjectID) (int64, error) {
	if s.beforeClear != nil {
		if err := s.beforeClear(ctx); err != nil {
			return 0, err
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	var n int64
	for id, o := range s.pages {
		if id != except && o.TenantID == tenantID && !o.Deleted && o.IsHomepage {
			o.IsHomepage = false
			s.pages[id] = o
			n++
		}
	}
	return n, nil
}

func (s *memStore) SoftDelete(ctx context.Context, tenantID, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[id]
	if !ok || p.Deleted || p.TenantID != tenantID {
		return pageguard.ErrNotFound
	}
	now := time.Now().UTC()
	p.Deleted = true
	p.DeletedAt = &now
	p.IsHomepage = false
	s.pages[id] = p
	return nil
}

// live returns the non-deleted pages of tenantID.
func (s *memStore) live(tenantID primitive.ObjectID) []models.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Page
	for _, p := range s.pages {
		if p.TenantID == tenantID && !p.Deleted {
			out = append(out, p)
		}
	}
	return out
}

// put stores p directly, bypassing constraints. Simulates a concurrent writer.
func (s *memStore) put(p models.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	s.pages[p.ID] = p
}

type memTenants map[primitive.ObjectID]bool

func (m memTenants) Exists(ctx context.Context, id primitive.ObjectID) (bool, error) {
	return m[id], nil
}

type recordedEvents struct {
	mu          sync.Mutex
	renegotiate []string
	homepages   []primitive.ObjectID
}

func (r *recordedEvents) SlugRenegotiated(ctx context.Context, tenantID, pageID primitive.ObjectID, requested, final string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renegotiate = append(r.renegotiate, requested+"->"+final)
}

func (r *recordedEvents) HomepageChanged(ctx context.Context, tenantID, pageID primitive.ObjectID, cleared int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.homepages = append(r.homepages, pageID)
}
