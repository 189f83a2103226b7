// Package background tracks fire-and-forget goroutines so owners can wait for them
// and refuse new ones once shut down.
package background

import "sync"

// Group counts running tasks. Unlike a bare sync.WaitGroup, Go may be called at any
// time, including while another goroutine is blocked in Wait or Close.
type Group struct {
	mu      sync.Mutex
	idle    *sync.Cond
	running int
	closed  bool
}

func (g *Group) init() {
	if g.idle == nil {
		g.idle = sync.NewCond(&g.mu)
	}
}

// Go runs fn on a new goroutine. It reports false, without running fn, after Close.
func (g *Group) Go(fn func()) bool {
	g.mu.Lock()
	g.init()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	g.running++
	g.mu.Unlock()

	go func() {
		defer g.done()
		fn()
	}()
	return true
}

func (g *Group) done() {
	g.mu.Lock()
	g.running--
	if g.running == 0 {
		g.idle.Broadcast()
	}
	g.mu.Unlock()
}

// Wait blocks until no task is running. Tasks started meanwhile are waited for too.
func (g *Group) Wait() {
	g.mu.Lock()
	g.init()
	for g.running > 0 {
		g.idle.Wait()
	}
	g.mu.Unlock()
}

// Close stops accepting tasks and waits for the running ones.
func (g *Group) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.Wait()
}

// Closed reports whether Close has been called.
func (g *Group) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}
