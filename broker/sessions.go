package broker

import (
	"sync"
)

// Sessions is the ordered registry of broker sessions, live and dormant.
// Order is insertion order, which fixes both lookup precedence and publish
// fan-out order.
type Sessions struct {
	mu       sync.RWMutex
	internal []*Session
}

// NewSessions returns an empty session registry.
func NewSessions() *Sessions {
	return &Sessions{}
}

// Add appends a session to the registry.
func (r *Sessions) Add(s *Session) {
	r.mu.Lock()
	r.internal = append(r.internal, s)
	r.mu.Unlock()
}

// Find returns the first session with a matching non-empty client id, or
// nil. Sessions still awaiting their Connect have an empty id and are never
// returned.
func (r *Sessions) Find(id string) *Session {
	if id == "" {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.internal {
		if s.ClientID() == id {
			return s
		}
	}
	return nil
}

// Erase removes a session from the registry by pointer.
func (r *Sessions) Erase(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.internal {
		if r.internal[i] == s {
			r.internal = append(r.internal[:i], r.internal[i+1:]...)
			return
		}
	}
}

// EraseID removes every session with a matching non-empty client id.
func (r *Sessions) EraseID(id string) bool {
	if id == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var erased bool
	for i := 0; i < len(r.internal); {
		if r.internal[i].ClientID() == id {
			r.internal = append(r.internal[:i], r.internal[i+1:]...)
			erased = true
		} else {
			i++
		}
	}
	return erased
}

// All returns a snapshot of the registry in insertion order.
func (r *Sessions) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, len(r.internal))
	copy(out, r.internal)
	return out
}

// Len returns the number of registered sessions.
func (r *Sessions) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.internal)
}
