// Package datactx holds the ambient values an update pass reads: the
// current selection, focused component, project and so on.
package datactx

import (
	"context"
	"sort"
	"sync"
)

// Key names one contextual value.
type Key string

// Well-known keys.
const (
	KeyProject          Key = "project"
	KeySelection        Key = "selection"
	KeyFocusedComponent Key = "focused_component"
	KeyEditor           Key = "editor"
	KeyVirtualFile      Key = "virtual_file"
	KeyNavigatable      Key = "navigatable"
)

// DataContext resolves contextual values by key.
type DataContext interface {
	Get(ctx context.Context, key Key) (any, bool)
}

// FastKeyer is implemented by contexts that know which of their keys are
// cheap to resolve.
type FastKeyer interface {
	FastKeys() []Key
}

// AsyncCapable is implemented by contexts safe to read off the
// coordinating goroutine.
type AsyncCapable interface {
	AsyncCapable() bool
}

// IsAsyncCapable reports whether dc may be read from a worker.
func IsAsyncCapable(dc DataContext) bool {
	ac, ok := dc.(AsyncCapable)
	return ok && ac.AsyncCapable()
}

// Empty is a data context without values.
var Empty DataContext = Map(nil)

// Map is a static data context. Every key is cheap.
type Map map[Key]any

func (m Map) Get(_ context.Context, key Key) (any, bool) {
	v, ok := m[key]
	return v, ok
}

func (m Map) FastKeys() []Key {
	keys := make([]Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// AsyncCapable is true: a Map never changes under a reader.
func (m Map) AsyncCapable() bool { return true }

// Provider resolves one key. Fast providers are pre-resolved when a
// context is frozen for a fast-track pass.
type Provider struct {
	Fast    bool
	Resolve func(ctx context.Context) (any, bool)
}

// Live resolves keys lazily through providers, falling through to an
// optional parent. Resolution may be slow and is not safe off the
// coordinating goroutine; freeze it before handing it to a pass.
type Live struct {
	mu        sync.RWMutex
	providers map[Key]Provider
	parent    DataContext
}

// NewLive creates a live context over parent (which may be nil).
func NewLive(parent DataContext) *Live {
	return &Live{providers: make(map[Key]Provider), parent: parent}
}

// Provide registers the provider for key.
func (l *Live) Provide(key Key, p Provider) *Live {
	l.mu.Lock()
	l.providers[key] = p
	l.mu.Unlock()
	return l
}

// Value registers a constant, fast value for key.
func (l *Live) Value(key Key, v any) *Live {
	return l.Provide(key, Provider{Fast: true, Resolve: func(context.Context) (any, bool) { return v, true }})
}

func (l *Live) Get(ctx context.Context, key Key) (any, bool) {
	l.mu.RLock()
	p, ok := l.providers[key]
	l.mu.RUnlock()
	if ok && p.Resolve != nil {
		return p.Resolve(ctx)
	}
	if l.parent != nil {
		return l.parent.Get(ctx, key)
	}
	return nil, false
}

func (l *Live) FastKeys() []Key {
	l.mu.RLock()
	var keys []Key
	for k, p := range l.providers {
		if p.Fast {
			keys = append(keys, k)
		}
	}
	l.mu.RUnlock()
	if fk, ok := l.parent.(FastKeyer); ok {
		keys = append(keys, fk.FastKeys()...)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
