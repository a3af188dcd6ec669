// Package registry tracks which sessions currently have a live agent run
// attached. A session that is not registered is simply not busy; absence is
// the normal terminal state, so nothing here persists.
package registry

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"sessiond/internal/broker"
	"sessiond/internal/claude"
)

// ErrBusy is returned when a session already has an active run.
var ErrBusy = errors.New("session already active")

// Session is the registry's view of one in-flight run: the handle that
// cancels it and the live event feed observers can attach to.
type Session struct {
	Cancel    context.CancelFunc
	Events    *broker.Broker[claude.LogEntry]
	StartedAt time.Time
}

// Registry is a concurrency-safe map from session id to active run state.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register claims id for s. It fails with ErrBusy if another run already
// holds the id.
func (r *Registry) Register(id string, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return ErrBusy
	}
	r.sessions[id] = s
	return nil
}

// Rekey moves a registration from the provisional id minted at start to the
// id the agent announced. It reports whether the move happened; it does not
// displace an existing registration under newID.
func (r *Registry) Rekey(oldID, newID string) bool {
	if oldID == newID {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[oldID]
	if !ok {
		return false
	}
	if _, exists := r.sessions[newID]; exists {
		return false
	}
	delete(r.sessions, oldID)
	r.sessions[newID] = s
	return true
}

// Lookup returns the active session for id, if any.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Busy reports whether id has an active run.
func (r *Registry) Busy(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// Cancel removes id and fires its cancel handle. It reports whether a run
// was actually cancelled. The entry is gone before the handle fires, so the
// session reads as not busy from the moment Cancel returns, regardless of
// how long the run takes to wind down.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.Cancel()
	return true
}

// Remove drops id without cancelling. Removing an absent id is a no-op, so
// run cleanup stays idempotent with Cancel and Rekey.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Active returns the registered session ids in sorted order.
func (r *Registry) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
