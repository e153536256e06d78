package flow

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/intake/internal/photo"
)

// Registry holds the live sessions of a server.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	caps     photo.Caps
	previews photo.Previews
}

// NewRegistry creates a registry whose sessions use caps and previews.
func NewRegistry(caps photo.Caps, previews photo.Previews) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		caps:     caps,
		previews: previews,
	}
}

// Create starts a session with a fresh ID.
func (r *Registry) Create() *Session {
	return r.Adopt(r.Detached(ulid.Make().String()))
}

// Detached builds an empty session for id without registering it.
func (r *Registry) Detached(id string) *Session {
	return NewSession(id, photo.NewSet(r.caps, r.previews))
}

// Adopt registers s. When a session with the same id is already live, that
// one is returned and s is closed.
func (r *Registry) Adopt(s *Session) *Session {
	r.mu.Lock()
	live, ok := r.sessions[s.ID]
	if !ok {
		r.sessions[s.ID] = s
	}
	r.mu.Unlock()
	if ok {
		s.Close()
		return live
	}
	return s
}

// Get returns a live session.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove closes and forgets a session.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Sweep closes sessions idle for longer than maxIdle and returns how many
// were removed. Sessions with a submission in flight are kept.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.Lock()
	var stale []*Session
	for id, s := range r.sessions {
		if s.idleSince().Before(cutoff) && !s.View().InFlight {
			stale = append(stale, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	return len(stale)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
