package roles

import (
	"context"
	"sync"

	"github.com/dalemusser/churchos/internal/app/system/identity"
	"github.com/dalemusser/churchos/internal/app/system/l1cache"
	"github.com/dalemusser/churchos/internal/app/system/tenant"
	"go.uber.org/zap"
)

// platformKey names the machine for hosts without a tenant.
const platformKey = "platform"

// Session is the per-session state the registry keeps: one role machine per
// tenant the session has visited and a one-host tenant resolution cache.
// The session cookie is shared across tenant subdomains, so a role computed
// on one tenant is never reused on another.
type Session struct {
	Tenants *tenant.SessionCache

	resolver *Resolver
	log      *zap.Logger

	mu       sync.Mutex
	id       *identity.Identity
	machines map[string]*Machine
}

func newSession(resolver *Resolver, logger *zap.Logger) *Session {
	return &Session{
		Tenants:  tenant.NewSessionCache(),
		resolver: resolver,
		log:      logger,
		machines: make(map[string]*Machine),
	}
}

func machineKey(res tenant.Resolution) string {
	if res.Tenant == nil {
		return platformKey
	}
	return res.Tenant.TenantID.Hex()
}

// Identity returns the identity the session evaluates roles for.
func (s *Session) Identity() *identity.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// SetIdentity replaces the identity on every machine of the session.
func (s *Session) SetIdentity(id *identity.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setIdentityLocked(id)
}

func (s *Session) setIdentityLocked(id *identity.Identity) {
	s.id = id
	for _, m := range s.machines {
		m.SetIdentity(id)
	}
}

// Adopt hands id to the session unless it already evaluates that user. A
// session cookie outlives the in-memory registry across restarts.
func (s *Session) Adopt(id *identity.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == nil || id == nil || s.id.UserID != id.UserID {
		s.setIdentityLocked(id)
	}
}

// Machine returns the machine for the tenant res addresses, creating it if
// needed.
func (s *Session) Machine(res tenant.Resolution) *Machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := machineKey(res)
	m, ok := s.machines[key]
	if !ok {
		m = NewMachine(s.resolver, s.log)
		m.seed(s.id, res)
		s.machines[key] = m
	}
	return m
}

// Recheck restarts evaluation on res's machine, abandoning any in flight.
func (s *Session) Recheck(res tenant.Resolution) {
	s.Machine(res).Recheck()
}

// Settle re-evaluates the role on res and waits for the result. Running out
// of time is a transient error, never a lesser role.
func (s *Session) Settle(ctx context.Context, res tenant.Resolution) Snapshot {
	m := s.Machine(res)
	gen := m.Refresh()
	snap, err := m.WaitFor(ctx, gen)
	if err != nil {
		snap.Role = Unknown
		snap.Err = &Error{Kind: Transient, Op: "waiting for role", Err: err}
	}
	return snap
}

// close signs every machine out and abandons their evaluations.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setIdentityLocked(nil)
	for _, m := range s.machines {
		m.Close()
	}
}

// Registry keeps one Session per identity session id and feeds identity
// changes into it. Sessions live in a bounded TTL cache, so sessions whose
// cookies expire without a sign-out age out.
type Registry struct {
	resolver *Resolver
	log      *zap.Logger

	mu       sync.Mutex // serializes get-or-create
	sessions *l1cache.Cache[*Session]
}

// NewRegistry returns a registry holding its sessions in sessions. The
// cache's TTL should match the identity cookie lifetime.
func NewRegistry(resolver *Resolver, sessions *l1cache.Cache[*Session], logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{resolver: resolver, log: logger, sessions: sessions}
}

// Attach subscribes the registry to g. Sign-in and refresh re-run the
// session's identity check; sign-out resets it and drops the session.
func (reg *Registry) Attach(g *identity.Gateway) (detach func()) {
	return g.Subscribe(reg.handle)
}

func (reg *Registry) handle(ev identity.Event) {
	if ev.SessionID == "" {
		return
	}
	switch ev.Kind {
	case identity.SignedIn, identity.Refreshed:
		reg.Session(ev.SessionID).SetIdentity(ev.Identity)
	case identity.SignedOut:
		reg.mu.Lock()
		s, ok := reg.sessions.Get(ev.SessionID)
		reg.sessions.Clear(ev.SessionID)
		reg.mu.Unlock()
		if ok {
			s.close()
		}
	}
	reg.log.Debug("role session updated",
		zap.String("session_id", ev.SessionID),
		zap.String("event", ev.Kind.String()))
}

// Session returns the session for sessionID, creating it if needed.
func (reg *Registry) Session(sessionID string) *Session {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	s, ok := reg.sessions.Get(sessionID)
	if !ok {
		s = newSession(reg.resolver, reg.log)
		reg.sessions.Set(sessionID, s)
	}
	return s
}

// RoleFor settles the role of id on res within sessionID. A nil id or an
// empty session id is unauthenticated.
func (reg *Registry) RoleFor(ctx context.Context, sessionID string, id *identity.Identity, res tenant.Resolution) Snapshot {
	if id == nil || sessionID == "" {
		return Snapshot{State: StateUnauthenticated, Role: Unauthenticated}
	}
	s := reg.Session(sessionID)
	s.Adopt(id)
	return s.Settle(ctx, res)
}
