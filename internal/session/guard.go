package session

import "sync"

// Guard trips once when the backend or the hub rejects the session (401/403).
// Handlers registered with OnTrip perform the teardown.
type Guard struct {
	mu       sync.Mutex
	tripped  bool
	handlers []func()
}

// NewGuard creates an untripped guard.
func NewGuard() *Guard {
	return &Guard{}
}

// OnTrip registers a teardown handler. If the guard already tripped the
// handler runs immediately.
func (g *Guard) OnTrip(fn func()) {
	g.mu.Lock()
	if g.tripped {
		g.mu.Unlock()
		fn()
		return
	}
	g.handlers = append(g.handlers, fn)
	g.mu.Unlock()
}

// Trip runs the registered handlers. Only the first call has an effect.
func (g *Guard) Trip() {
	g.mu.Lock()
	if g.tripped {
		g.mu.Unlock()
		return
	}
	g.tripped = true
	handlers := g.handlers
	g.handlers = nil
	g.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

// Tripped reports whether the session was rejected.
func (g *Guard) Tripped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tripped
}
