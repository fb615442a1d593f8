package streaming

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
)

const defaultChannelBuffer = 64

type subscriber struct {
	ch      chan StreamEvent
	filter  EventFilter
	dropped atomic.Int64
}

// MemoryHub is an in-memory EventHub implementation using channels.
type MemoryHub struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  atomic.Uint64
}

// NewMemoryHub creates a new MemoryHub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		subs: make(map[uint64]*subscriber),
	}
}

// Publish sends an event to all matching subscribers.
// Non-blocking: a pass must never wait on a slow listener, so events for a
// full subscriber channel are dropped and counted.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !matchFilter(sub.filter, event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe creates a new subscription filtered by the given EventFilter.
// The returned cancel function unsubscribes and closes the channel.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	id := h.seq.Add(1)
	ch := make(chan StreamEvent, defaultChannelBuffer)

	h.mu.Lock()
	h.subs[id] = &subscriber{ch: ch, filter: filter}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}

	return ch, cancel, nil
}

// Dropped returns the number of events dropped across all live subscribers.
func (h *MemoryHub) Dropped() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var n int64
	for _, sub := range h.subs {
		n += sub.dropped.Load()
	}
	return n
}

func matchFilter(f EventFilter, e StreamEvent) bool {
	if f.Surface != "" && f.Surface != e.Surface {
		return false
	}
	if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.EventType) {
		return false
	}
	return true
}

// Discard is an EventHub that drops everything.
var Discard EventHub = discardHub{}

type discardHub struct{}

func (discardHub) Publish(context.Context, StreamEvent) error { return nil }

func (discardHub) Subscribe(context.Context, EventFilter) (<-chan StreamEvent, func(), error) {
	ch := make(chan StreamEvent)
	close(ch)
	return ch, func() {}, nil
}
