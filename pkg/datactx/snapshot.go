package datactx

import (
	"context"
	"sort"
	"sync"
)

// Mode selects how a snapshot resolves keys it has not seen yet.
type Mode uint8

const (
	// ModeCheap pre-resolves fast keys only. Any other lookup returns
	// absent and is recorded as missed.
	ModeCheap Mode = iota
	// ModeFull resolves keys on first request and memoizes the result.
	ModeFull
)

func (m Mode) String() string {
	if m == ModeCheap {
		return "cheap"
	}
	return "full"
}

type resolved struct {
	value any
	ok    bool
}

// Snapshot is a frozen view of a data context for one pass. A key returns
// the same value for the snapshot's whole lifetime.
type Snapshot struct {
	source DataContext
	mode   Mode

	mu     sync.Mutex
	values map[Key]resolved
	missed map[Key]struct{}
	absent map[Key]struct{}
}

// Freeze snapshots dc. In ModeCheap every fast key of dc is resolved now;
// in ModeFull nothing is resolved until asked for. Freezing a snapshot
// shares the source of the original but starts with its resolved values.
func Freeze(ctx context.Context, dc DataContext, mode Mode) *Snapshot {
	if dc == nil {
		dc = Empty
	}
	s := &Snapshot{
		source: dc,
		mode:   mode,
		values: make(map[Key]resolved),
		missed: make(map[Key]struct{}),
		absent: make(map[Key]struct{}),
	}
	if prev, ok := dc.(*Snapshot); ok {
		s.source = prev.source
		prev.mu.Lock()
		for k, v := range prev.values {
			s.values[k] = v
		}
		prev.mu.Unlock()
	}
	if mode == ModeCheap {
		if fk, ok := s.source.(FastKeyer); ok {
			for _, k := range fk.FastKeys() {
				if _, done := s.values[k]; done {
					continue
				}
				v, found := s.source.Get(ctx, k)
				s.values[k] = resolved{value: v, ok: found}
			}
		}
	}
	return s
}

func (s *Snapshot) Get(ctx context.Context, key Key) (any, bool) {
	s.mu.Lock()
	if r, ok := s.values[key]; ok {
		if !r.ok {
			s.absent[key] = struct{}{}
		}
		s.mu.Unlock()
		return r.value, r.ok
	}
	if s.mode == ModeCheap {
		s.missed[key] = struct{}{}
		s.mu.Unlock()
		return nil, false
	}
	s.mu.Unlock()

	// Resolve outside the lock; a slow provider must not stall other keys.
	v, found := s.source.Get(ctx, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.values[key]; ok {
		// Another reader won the race; keep its value.
		return r.value, r.ok
	}
	s.values[key] = resolved{value: v, ok: found}
	if !found {
		s.absent[key] = struct{}{}
	}
	return v, found
}

// Mode returns the snapshot's resolution mode.
func (s *Snapshot) Mode() Mode { return s.mode }

// AsyncCapable is true: a snapshot is safe to read from any goroutine.
func (s *Snapshot) AsyncCapable() bool { return true }

// FastKeys returns the keys resolved so far.
func (s *Snapshot) FastKeys() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.values)
}

// Missed returns the keys a cheap snapshot could not answer.
func (s *Snapshot) Missed() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.missed)
}

// HasMissed reports whether any lookup needed a slow resolution.
func (s *Snapshot) HasMissed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.missed) > 0
}

// Absent returns the keys that were requested and resolved to nothing.
func (s *Snapshot) Absent() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.absent)
}

func sortedKeys[V any](m map[Key]V) []Key {
	keys := make([]Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
