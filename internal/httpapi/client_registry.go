package httpapi

import (
	"sync"
	"sync/atomic"
)

// ClientRegistry tracks connected assist clients and supports graceful
// draining. When draining is enabled, new websocket connections are rejected
// while connected clients finish naturally.
//
// The mu mutex makes the draining check and wg.Add atomic in Add(), preventing
// a TOCTOU race where StartDraining+Wait could be called between the draining
// check and wg.Add.
type ClientRegistry struct {
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
	count    atomic.Int64
}

// NewClientRegistry creates a new ClientRegistry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{}
}

// Add registers a new connected client. Returns false if the registry is
// draining, meaning no new connections should be accepted. The draining check
// and WaitGroup increment are performed atomically under a mutex.
func (cr *ClientRegistry) Add() bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.draining {
		return false
	}
	cr.wg.Add(1)
	cr.count.Add(1)
	return true
}

// Done marks a client as disconnected. Must be called exactly once per
// successful Add.
func (cr *ClientRegistry) Done() {
	cr.count.Add(-1)
	cr.wg.Done()
}

// StartDraining sets the draining flag so that future Add calls return false.
// Safe to call concurrently with Add; the mutex ensures no Add can slip
// through after StartDraining returns.
func (cr *ClientRegistry) StartDraining() {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.draining = true
}

// IsDraining reports whether the registry is in draining mode.
func (cr *ClientRegistry) IsDraining() bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.draining
}

// ActiveCount returns the number of currently connected clients.
func (cr *ClientRegistry) ActiveCount() int64 {
	return cr.count.Load()
}

// Wait blocks until all connected clients have disconnected (all Done calls
// matched Add calls).
func (cr *ClientRegistry) Wait() {
	cr.wg.Wait()
}
