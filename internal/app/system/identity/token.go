package identity

import (
	"sync"

	"golang.org/x/oauth2"
)

// refreshingSource reports a Refreshed event whenever the wrapped source
// hands out a new access token.
type refreshingSource struct {
	g         *Gateway
	sessionID string
	id        Identity
	base      oauth2.TokenSource

	mu   sync.Mutex
	last string
}

// TokenSource wraps base so that each token refresh for sessionID is
// published to subscribers as a Refreshed event. The first token handed out
// is not a refresh.
func (g *Gateway) TokenSource(sessionID string, id Identity, initial *oauth2.Token, base oauth2.TokenSource) oauth2.TokenSource {
	rs := &refreshingSource{g: g, sessionID: sessionID, id: id, base: base}
	if initial != nil {
		rs.last = initial.AccessToken
	}
	return oauth2.ReuseTokenSource(initial, rs)
}

func (s *refreshingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	changed := s.last != "" && tok.AccessToken != s.last
	s.last = tok.AccessToken
	s.mu.Unlock()

	if changed {
		id := s.id
		s.g.publish(Event{Kind: Refreshed, SessionID: s.sessionID, Identity: &id})
	}
	return tok, nil
}
