package roles

import (
	"context"
	"sync"

	"github.com/dalemusser/churchos/internal/app/system/identity"
	"github.com/dalemusser/churchos/internal/app/system/tenant"
	"go.uber.org/zap"
)

// State is a step of role resolution for one session.
type State int

const (
	StateUnauthenticated State = iota
	StateCheckingIdentity
	StateCheckingRole
	StateSuperAdmin
	StateTenantAdmin
	StateRegularUser
	StateError
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateCheckingIdentity:
		return "checking_identity"
	case StateCheckingRole:
		return "checking_role"
	case StateSuperAdmin:
		return "super_admin"
	case StateTenantAdmin:
		return "tenant_admin"
	case StateRegularUser:
		return "regular_user"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the state as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether evaluation has finished in s.
func (s State) Terminal() bool {
	return s != StateCheckingIdentity && s != StateCheckingRole
}

// Role is the role a terminal state stands for.
func (s State) Role() Role {
	switch s {
	case StateUnauthenticated:
		return Unauthenticated
	case StateSuperAdmin:
		return SuperAdmin
	case StateTenantAdmin:
		return TenantAdmin
	case StateRegularUser:
		return RegularUser
	default:
		return Unknown
	}
}

func stateFor(r Role) State {
	switch r {
	case SuperAdmin:
		return StateSuperAdmin
	case TenantAdmin:
		return StateTenantAdmin
	case RegularUser:
		return StateRegularUser
	case Unauthenticated:
		return StateUnauthenticated
	default:
		return StateError
	}
}

// Snapshot is the machine's state at one moment. Generation increases each
// time an input changes.
type Snapshot struct {
	State      State  `json:"state"`
	Role       Role   `json:"role"`
	Err        error  `json:"-"`
	Generation uint64 `json:"generation"`
}

// Machine tracks the effective role of one session as its identity and
// tenant change. Each input change starts a new generation evaluated on its
// own goroutine; results from superseded generations are dropped.
type Machine struct {
	resolver *Resolver
	log      *zap.Logger

	mu         sync.Mutex
	id         *identity.Identity
	res        tenant.Resolution
	superKnown bool // super-admin check done for id
	super      bool
	snap       Snapshot
	cancel     context.CancelFunc
	done       chan struct{}
	subs       map[int]func(Snapshot)
	nextSub    int
}

// NewMachine returns a machine in StateUnauthenticated. done stays open
// until the first generation ends; Wait returns at once on the terminal
// initial state.
func NewMachine(resolver *Resolver, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		resolver: resolver,
		log:      logger,
		snap:     Snapshot{State: StateUnauthenticated, Role: Unauthenticated},
		done:     make(chan struct{}),
		subs:     make(map[int]func(Snapshot)),
	}
}

// seed sets the inputs of a fresh machine without evaluating them.
func (m *Machine) seed(id *identity.Identity, res tenant.Resolution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id, m.res = id, res
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// SetIdentity replaces the identity and re-runs evaluation from the
// identity check. nil signs the session out.
func (m *Machine) SetIdentity(id *identity.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.id = id
	m.superKnown = false
	m.super = false
	if id == nil {
		m.finishLocked(m.beginLocked(), Unauthenticated, nil)
		return
	}
	m.startLocked(StateCheckingIdentity)
}

// SetTenant replaces the tenant and re-runs evaluation from the role check.
// Setting the tenant already in place is a no-op unless the last
// evaluation failed.
func (m *Machine) SetTenant(res tenant.Resolution) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.snap.Generation > 0 && sameTenant(m.res, res) && m.snap.State != StateError {
		return
	}
	m.res = res
	switch {
	case m.id == nil:
		m.finishLocked(m.beginLocked(), Unauthenticated, nil)
	case !m.superKnown:
		m.startLocked(StateCheckingIdentity)
	case m.super:
		m.finishLocked(m.beginLocked(), SuperAdmin, nil)
	default:
		m.startLocked(StateCheckingRole)
	}
}

func sameTenant(a, b tenant.Resolution) bool {
	if a.Tenant == nil || b.Tenant == nil {
		return a.Tenant == nil && b.Tenant == nil
	}
	return a.Tenant.TenantID == b.Tenant.TenantID
}

// Recheck re-runs evaluation for the current inputs.
func (m *Machine) Recheck() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.id == nil {
		m.finishLocked(m.beginLocked(), Unauthenticated, nil)
		return
	}
	m.superKnown = false
	m.startLocked(StateCheckingIdentity)
}

// Refresh re-runs evaluation for the current inputs from the identity
// check, so role changes in the stores take effect on the next request. An
// evaluation already in flight is joined rather than restarted. It returns
// the generation to wait for.
func (m *Machine) Refresh() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case !m.snap.State.Terminal():
		return m.snap.Generation
	case m.id == nil:
		gen := m.beginLocked()
		m.finishLocked(gen, Unauthenticated, nil)
		return gen
	}
	m.superKnown = false
	m.startLocked(StateCheckingIdentity)
	return m.snap.Generation
}

// Wait blocks until the machine reaches a terminal state or ctx ends.
func (m *Machine) Wait(ctx context.Context) (Snapshot, error) {
	return m.WaitFor(ctx, 0)
}

// WaitFor blocks until generation gen, or a later one, reaches a terminal
// state or ctx ends.
func (m *Machine) WaitFor(ctx context.Context, gen uint64) (Snapshot, error) {
	for {
		m.mu.Lock()
		snap, done := m.snap, m.done
		m.mu.Unlock()
		if snap.Generation >= gen && snap.State.Terminal() {
			return snap, nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

// Subscribe registers fn for every state transition. fn runs with the
// machine locked and must not call back into it.
func (m *Machine) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Close abandons any evaluation in flight.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// beginLocked supersedes the current generation and returns the new one.
func (m *Machine) beginLocked() uint64 {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	close(m.done)
	m.done = make(chan struct{})
	m.snap.Generation++
	return m.snap.Generation
}

func (m *Machine) startLocked(from State) {
	gen := m.beginLocked()
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.setLocked(Snapshot{State: from, Role: Unknown, Generation: gen})

	id, res := m.id, m.res
	go m.evaluate(ctx, gen, from, id, res)
}

func (m *Machine) evaluate(ctx context.Context, gen uint64, from State, id *identity.Identity, res tenant.Resolution) {
	if from == StateCheckingIdentity {
		super, err := m.resolver.isSuperAdmin(ctx, id)
		m.mu.Lock()
		if m.snap.Generation != gen {
			m.mu.Unlock()
			return
		}
		if err != nil {
			m.finishLocked(gen, Unknown, err)
			m.mu.Unlock()
			return
		}
		m.superKnown, m.super = true, super
		if super {
			m.finishLocked(gen, SuperAdmin, nil)
			m.mu.Unlock()
			return
		}
		m.setLocked(Snapshot{State: StateCheckingRole, Role: Unknown, Generation: gen})
		m.mu.Unlock()
	}

	role, err := m.resolver.tenantRole(ctx, id, res)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.Generation != gen {
		return
	}
	m.finishLocked(gen, role, err)
}

// finishLocked moves generation gen to the terminal state for role or err.
func (m *Machine) finishLocked(gen uint64, role Role, err error) {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	snap := Snapshot{State: stateFor(role), Role: role, Generation: gen}
	if err != nil {
		snap = Snapshot{State: StateError, Role: Unknown, Err: err, Generation: gen}
		m.log.Debug("role evaluation failed",
			zap.Uint64("generation", gen),
			zap.Error(err))
	}
	m.setLocked(snap)
	close(m.done)
	m.done = make(chan struct{})
}

func (m *Machine) setLocked(s Snapshot) {
	m.snap = s
	for _, fn := range m.subs {
		fn(s)
	}
}
