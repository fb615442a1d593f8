package engine

import (
	"sync"

	"github.com/rendis/actionkit/pkg/schema"
)

// Pending is the part of a promise the in-flight registry needs.
type Pending interface {
	ID() string
	Surface() string
	Cancel(reason error) bool
}

// Inflight tracks running passes. A pass registered for a surface
// supersedes the pass previously registered for it.
type Inflight struct {
	mu        sync.Mutex
	byID      map[string]Pending
	bySurface map[string]Pending
}

// NewInflight creates an empty registry.
func NewInflight() *Inflight {
	return &Inflight{
		byID:      make(map[string]Pending),
		bySurface: make(map[string]Pending),
	}
}

// Register records p. An older pass for the same surface is cancelled with
// ErrSuperseded; its callbacks still fire.
func (r *Inflight) Register(p Pending) {
	r.mu.Lock()
	r.byID[p.ID()] = p
	var old Pending
	if s := p.Surface(); s != "" {
		old = r.bySurface[s]
		r.bySurface[s] = p
	}
	if old != nil && old.ID() == p.ID() {
		old = nil
	}
	if old != nil {
		delete(r.byID, old.ID())
	}
	r.mu.Unlock()

	if old != nil {
		old.Cancel(schema.ErrSuperseded)
	}
}

// Unregister forgets p once it settled.
func (r *Inflight) Unregister(p Pending) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, p.ID())
	if s := p.Surface(); s != "" {
		if cur, ok := r.bySurface[s]; ok && cur.ID() == p.ID() {
			delete(r.bySurface, s)
		}
	}
}

// Current returns the pass registered for surface.
func (r *Inflight) Current(surface string) (Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.bySurface[surface]
	return p, ok
}

// CancelAll cancels every registered pass with reason and returns how many
// were still pending.
func (r *Inflight) CancelAll(reason error) int {
	r.mu.Lock()
	all := make([]Pending, 0, len(r.byID))
	for _, p := range r.byID {
		all = append(all, p)
	}
	r.byID = make(map[string]Pending)
	r.bySurface = make(map[string]Pending)
	r.mu.Unlock()

	n := 0
	for _, p := range all {
		if p.Cancel(reason) {
			n++
		}
	}
	return n
}

// Len returns the number of registered passes.
func (r *Inflight) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
