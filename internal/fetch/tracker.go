// Package fetch guards views against stale responses. Every fetch takes a
// generation; only a response carrying the latest generation for its view
// may update state.
package fetch

import "sync"

// View names a screen whose data is fetched independently.
type View string

// Ticket identifies one issued fetch.
type Ticket struct {
	View       View
	Generation uint64
}

// Tracker issues monotonically increasing generations per view.
type Tracker struct {
	mu     sync.Mutex
	latest map[View]uint64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{latest: make(map[View]uint64)}
}

// Begin issues the next generation for a view. Earlier tickets for the same
// view become stale.
func (t *Tracker) Begin(v View) Ticket {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.latest[v]++
	return Ticket{View: v, Generation: t.latest[v]}
}

// Current reports whether the ticket is still the latest for its view.
func (t *Tracker) Current(tk Ticket) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest[tk.View] == tk.Generation
}

// Apply runs fn only if the ticket is current, holding the tracker lock so
// no newer fetch can begin in between. It reports whether fn ran.
func (t *Tracker) Apply(tk Ticket, fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.latest[tk.View] != tk.Generation {
		return false
	}
	fn()
	return true
}

// Invalidate makes every outstanding ticket stale, for example after the
// session is torn down.
func (t *Tracker) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for v := range t.latest {
		t.latest[v]++
	}
}
