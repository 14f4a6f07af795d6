package capture

import "sync"

// guard tracks calls into the driver. Release waits until no call is in
// flight, and calls attempted after release are refused.
type guard struct {
	mu       sync.Mutex
	idle     *sync.Cond
	inflight int
	closed   bool
	poisoned bool
}

func newGuard() *guard {
	g := &guard{}
	g.idle = sync.NewCond(&g.mu)
	return g
}

func (g *guard) enter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.poisoned {
		return false
	}
	g.inflight++
	return true
}

func (g *guard) leave() {
	g.mu.Lock()
	g.inflight--
	if g.inflight == 0 {
		g.idle.Broadcast()
	}
	g.mu.Unlock()
}

// close refuses new calls and waits for in-flight ones. It returns false if
// the guard was already closed or poisoned, in which case nothing is released.
func (g *guard) close() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.poisoned {
		return false
	}
	g.closed = true
	for g.inflight > 0 {
		g.idle.Wait()
	}
	return true
}

// poison refuses new calls without waiting. The resource is never released.
func (g *guard) poison() {
	g.mu.Lock()
	g.poisoned = true
	g.mu.Unlock()
}

func (g *guard) open() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.closed && !g.poisoned
}

func (g *guard) isPoisoned() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.poisoned
}
