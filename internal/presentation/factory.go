// Package presentation caches the display state of actions across update
// passes.
package presentation

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rendis/actionkit/internal/streaming"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/schema"
)

// entry holds the published presentation of one node. The pointed-to value
// is immutable; publishing swaps the pointer and bumps the version.
type entry struct {
	cur     atomic.Pointer[action.Presentation]
	version atomic.Uint64
	// gen is the factory generation the value was last refreshed at.
	gen atomic.Uint64
}

// Factory is a presentation cache keyed by node handle.
type Factory struct {
	name    string
	entries sync.Map // action.Handle -> *entry
	gen     atomic.Uint64
	// commitMu serializes batch publication so a reader of Version never
	// observes half a pass.
	commitMu sync.Mutex
}

// NewFactory creates an empty cache. The name identifies it in events.
func NewFactory(name string) *Factory {
	return &Factory{name: name}
}

// Name returns the factory name.
func (f *Factory) Name() string { return f.name }

// Get returns the published presentation for n, creating it from the node
// template on first use. After MarkDirty the first Get refreshes the
// template-owned fields. The result is shared: clone before mutating.
func (f *Factory) Get(n *action.Node) *action.Presentation {
	e := f.entry(n)
	gen := f.gen.Load()
	for {
		cur := e.cur.Load()
		if e.gen.Load() == gen {
			return cur
		}
		fresh := cur.Clone()
		fresh.RefreshFromTemplate(n.Template())
		if e.cur.CompareAndSwap(cur, fresh) {
			e.gen.Store(gen)
			e.version.Add(1)
			return fresh
		}
	}
}

// Publish swaps p in as the node's presentation. p must not be mutated
// afterwards.
func (f *Factory) Publish(n *action.Node, p *action.Presentation) {
	if p == nil {
		return
	}
	e := f.entry(n)
	e.cur.Store(p)
	e.version.Add(1)
}

// Apply merges every updated presentation of a pass into the cache, field
// by field, in one batch.
func (f *Factory) Apply(nodes []*action.Node, updated func(*action.Node) *action.Presentation) int {
	f.commitMu.Lock()
	defer f.commitMu.Unlock()

	applied := 0
	for _, n := range nodes {
		p := updated(n)
		if p == nil {
			continue
		}
		merged := f.Get(n).Clone()
		merged.CopyFrom(p)
		f.Publish(n, merged)
		applied++
	}
	return applied
}

// Version returns how many times the node's presentation was replaced.
func (f *Factory) Version(n *action.Node) uint64 {
	v, ok := f.entries.Load(n.Handle())
	if !ok {
		return 0
	}
	return v.(*entry).version.Load()
}

// MarkDirty forces the next Get of every node to refresh from its template.
func (f *Factory) MarkDirty() {
	f.gen.Add(1)
}

// Reset drops every cached presentation.
func (f *Factory) Reset() {
	f.entries.Range(func(k, _ any) bool {
		f.entries.Delete(k)
		return true
	})
}

// Len returns the number of cached presentations.
func (f *Factory) Len() int {
	n := 0
	f.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (f *Factory) entry(n *action.Node) *entry {
	if v, ok := f.entries.Load(n.Handle()); ok {
		return v.(*entry)
	}
	e := &entry{}
	e.cur.Store(n.Template())
	e.gen.Store(f.gen.Load())
	v, _ := f.entries.LoadOrStore(n.Handle(), e)
	return v.(*entry)
}

// Registry owns the live factories of a process and broadcasts
// invalidation to them. It is created by the composition root.
type Registry struct {
	mu        sync.Mutex
	factories map[*Factory]struct{}
	hub       streaming.EventHub
}

// NewRegistry creates a registry publishing invalidation events on hub
// (nil discards them).
func NewRegistry(hub streaming.EventHub) *Registry {
	if hub == nil {
		hub = streaming.Discard
	}
	return &Registry{factories: make(map[*Factory]struct{}), hub: hub}
}

// Register adds f to the broadcast set. The returned func removes it.
func (r *Registry) Register(f *Factory) func() {
	r.mu.Lock()
	r.factories[f] = struct{}{}
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.factories, f)
		r.mu.Unlock()
	}
}

// InvalidateAll marks every registered factory dirty.
func (r *Registry) InvalidateAll(ctx context.Context) {
	r.mu.Lock()
	live := make([]*Factory, 0, len(r.factories))
	for f := range r.factories {
		live = append(live, f)
	}
	r.mu.Unlock()

	for _, f := range live {
		f.MarkDirty()
		_ = r.hub.Publish(ctx, streaming.StreamEvent{
			Surface:   f.Name(),
			EventType: schema.EventPresentationsInvalidated,
		})
	}
}

// Len returns the number of registered factories.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.factories)
}
