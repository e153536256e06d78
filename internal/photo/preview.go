package photo

import (
	"sync"

	"github.com/oklog/ulid/v2"
)

// Previews issues short-lived handles used to show thumbnails of selected
// photos. Every handle that is acquired must be released once its photo is
// removed or the session ends.
type Previews interface {
	Acquire(p *Photo) string
	Release(handle string)
}

// PreviewRegistry is an in-memory Previews shared by all sessions of a server.
// It is safe for concurrent use.
type PreviewRegistry struct {
	mu    sync.RWMutex
	items map[string]*Photo
}

// NewPreviewRegistry creates an empty registry.
func NewPreviewRegistry() *PreviewRegistry {
	return &PreviewRegistry{items: make(map[string]*Photo)}
}

// Acquire registers p and returns its handle.
func (r *PreviewRegistry) Acquire(p *Photo) string {
	handle := ulid.Make().String()
	r.mu.Lock()
	r.items[handle] = p
	r.mu.Unlock()
	return handle
}

// Release forgets handle. Releasing an unknown handle is a no-op.
func (r *PreviewRegistry) Release(handle string) {
	r.mu.Lock()
	delete(r.items, handle)
	r.mu.Unlock()
}

// Get returns the photo behind handle.
func (r *PreviewRegistry) Get(handle string) (*Photo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.items[handle]
	return p, ok
}

// Len returns the number of live handles.
func (r *PreviewRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
