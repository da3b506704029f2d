package roles_test

import (
	"context"
	"errors"
	"sync"

	"github.com/dalemusser/churchos/internal/app/system/roles"
	"github.com/dalemusser/churchos/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var errBoom = errors.New("store unavailable")

type fakeSuper struct {
	mu     sync.Mutex
	admins map[primitive.ObjectID]bool
	err    error
	// gate, when set, blocks each call until it receives or ctx ends.
	gate chan struct{}
}

func (f *fakeSuper) IsSuperAdmin(ctx context.Context, userID primitive.ObjectID) (bool, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.admins[userID], nil
}

type memberKey struct{ tenant, user primitive.ObjectID }

type fakeMembers struct {
	mu      sync.Mutex
	rows    map[memberKey]models.Membership
	findErr error
	listErr error
	addErr  error
	adds    int
	// raceOnAdd makes Add behave as if another request inserted first.
	raceOnAdd bool
	// raceRole is the role of the row the other request inserted; empty
	// means the same admin row.
	raceRole string
}

func newFakeMembers(ms ...models.Membership) *fakeMembers {
	f := &fakeMembers{rows: make(map[memberKey]models.Membership)}
	for _, m := range ms {
		f.rows[memberKey{m.TenantID, m.UserID}] = m
	}
	return f
}

func (f *fakeMembers) Find(ctx context.Context, tenantID, userID primitive.ObjectID) (models.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return models.Membership{}, f.findErr
	}
	m, ok := f.rows[memberKey{tenantID, userID}]
	if !ok {
		return models.Membership{}, roles.ErrNoMembership
	}
	return m, nil
}

func (f *fakeMembers) ListByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.Membership
	for k, m := range f.rows {
		if k.user == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMembers) Add(ctx context.Context, m models.Membership) (models.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds++
	if f.addErr != nil {
		return models.Membership{}, f.addErr
	}
	k := memberKey{m.TenantID, m.UserID}
	if _, ok := f.rows[k]; ok {
		return models.Membership{}, roles.ErrMembershipExists
	}
	if f.raceOnAdd {
		if f.raceRole != "" {
			m.Role = f.raceRole
		}
		m.ID = primitive.NewObjectID()
		f.rows[k] = m
		return models.Membership{}, roles.ErrMembershipExists
	}
	m.ID = primitive.NewObjectID()
	f.rows[k] = m
	return m, nil
}

func (f *fakeMembers) addCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adds
}

type auditCall struct {
	tenantID, userID primitive.ObjectID
	role             string
}

type fakeAudit struct {
	mu    sync.Mutex
	calls []auditCall
}

func (f *fakeAudit) MembershipAutoProvisioned(ctx context.Context, tenantID, userID primitive.ObjectID, role string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, auditCall{tenantID, userID, role})
}
