package hostclass

// Len returns the number of memoized hostnames.
func (m *Memo) Len() int { return int(m.size.Load()) }
