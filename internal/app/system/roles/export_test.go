package roles

// Lookup returns the session for sessionID without creating one.
func (reg *Registry) Lookup(sessionID string) (*Session, bool) {
	return reg.sessions.Get(sessionID)
}
