package tenant

import "sync"

// Cache stores successful resolutions keyed by the literal hostname the
// caller passed to Resolve. Implementations must be safe for concurrent use
// and must never answer one hostname with another's entry.
//
// l1cache.Cache[Resolution] satisfies Cache for a process-wide cache.
type Cache interface {
	Get(host string) (Resolution, bool)
	Set(host string, r Resolution)
	Clear(host string)
}

// SessionCache holds a single resolution for one client session. Asking it
// about a different hostname discards the held entry, so navigating to
// another host always resolves afresh.
type SessionCache struct {
	mu   sync.Mutex
	host string
	res  Resolution
	ok   bool
}

func NewSessionCache() *SessionCache { return &SessionCache{} }

func (s *SessionCache) Get(host string) (Resolution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ok || s.host != host {
		s.reset()
		return Resolution{}, false
	}
	return s.res, true
}

func (s *SessionCache) Set(host string, r Resolution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.host, s.res, s.ok = host, r, true
}

func (s *SessionCache) Clear(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.host == host {
		s.reset()
	}
}

func (s *SessionCache) reset() {
	s.host, s.res, s.ok = "", Resolution{}, false
}
