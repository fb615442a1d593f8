package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/rendis/actionkit/pkg/schema"
)

// PromiseState is the lifecycle state of a Promise.
type PromiseState string

const (
	PromisePending   PromiseState = "pending"
	PromiseSucceeded PromiseState = "succeeded"
	PromiseFailed    PromiseState = "failed"
	PromiseCancelled PromiseState = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s PromiseState) IsTerminal() bool {
	return s != PromisePending
}

// ValidPromiseTransitions lists the allowed transitions. Terminal states
// have no entry and are therefore sticky.
var ValidPromiseTransitions = map[PromiseState][]PromiseState{
	PromisePending: {PromiseSucceeded, PromiseFailed, PromiseCancelled},
}

func isValidPromiseTransition(from, to PromiseState) bool {
	return slices.Contains(ValidPromiseTransitions[from], to)
}

// ErrCancelled is the reason used when Cancel is called without one.
var ErrCancelled = schema.NewError(schema.ErrCodeCancelled, "cancelled")

type promiseCallback[T any] func(state PromiseState, value T, err error)

// Promise is the handle of one in-flight expansion. It settles exactly once;
// callbacks fire exactly once, immediately when registered after settling.
type Promise[T any] struct {
	id      string
	surface string

	mu        sync.Mutex
	state     PromiseState
	value     T
	err       error
	done      chan struct{}
	callbacks []promiseCallback[T]
	onCancel  context.CancelCauseFunc
}

// NewPromise creates a pending promise for surface ("" when the request
// belongs to no surface).
func NewPromise[T any](surface string) *Promise[T] {
	return &Promise[T]{
		id:      uuid.New().String(),
		surface: surface,
		state:   PromisePending,
		done:    make(chan struct{}),
	}
}

// ID returns the promise id; it doubles as the pass id in logs and events.
func (p *Promise[T]) ID() string { return p.id }

// Surface returns the surface the promise was created for.
func (p *Promise[T]) Surface() string { return p.surface }

// bindCancel ties the running task's context to the promise: cancelling the
// promise cancels the task with the same reason.
func (p *Promise[T]) bindCancel(cancel context.CancelCauseFunc) {
	p.mu.Lock()
	if p.state == PromiseCancelled {
		err := p.err
		p.mu.Unlock()
		cancel(err)
		return
	}
	p.onCancel = cancel
	p.mu.Unlock()
}

// Resolve settles the promise with v. It reports false when the promise
// already settled.
func (p *Promise[T]) Resolve(v T) bool {
	return p.transition(PromiseSucceeded, v, nil)
}

// Reject settles the promise with err.
func (p *Promise[T]) Reject(err error) bool {
	var zero T
	return p.transition(PromiseFailed, zero, err)
}

// Cancel settles the promise as cancelled with reason. It is idempotent and
// only has effect while pending.
func (p *Promise[T]) Cancel(reason error) bool {
	if reason == nil {
		reason = ErrCancelled
	}
	var zero T
	return p.transition(PromiseCancelled, zero, reason)
}

func (p *Promise[T]) transition(to PromiseState, v T, err error) bool {
	p.mu.Lock()
	if !isValidPromiseTransition(p.state, to) {
		p.mu.Unlock()
		return false
	}
	p.state = to
	p.value = v
	p.err = err
	callbacks := p.callbacks
	p.callbacks = nil
	cancel := p.onCancel
	p.onCancel = nil
	p.mu.Unlock()

	// Waiters wake only after every callback has run.
	defer close(p.done)
	if to == PromiseCancelled && cancel != nil {
		cancel(err)
	}
	for _, cb := range callbacks {
		cb(to, v, err)
	}
	return true
}

func (p *Promise[T]) register(cb promiseCallback[T]) *Promise[T] {
	p.mu.Lock()
	if p.state == PromisePending {
		p.callbacks = append(p.callbacks, cb)
		p.mu.Unlock()
		return p
	}
	state, v, err := p.state, p.value, p.err
	p.mu.Unlock()
	cb(state, v, err)
	return p
}

// OnSuccess registers fn for a successful result.
func (p *Promise[T]) OnSuccess(fn func(T)) *Promise[T] {
	return p.register(func(s PromiseState, v T, _ error) {
		if s == PromiseSucceeded {
			fn(v)
		}
	})
}

// OnError registers fn for a failure.
func (p *Promise[T]) OnError(fn func(error)) *Promise[T] {
	return p.register(func(s PromiseState, _ T, err error) {
		if s == PromiseFailed {
			fn(err)
		}
	})
}

// OnCancel registers fn for a cancellation; it receives the reason.
func (p *Promise[T]) OnCancel(fn func(error)) *Promise[T] {
	return p.register(func(s PromiseState, _ T, err error) {
		if s == PromiseCancelled {
			fn(err)
		}
	})
}

// OnDone registers fn for any terminal state.
func (p *Promise[T]) OnDone(fn func(PromiseState, T, error)) *Promise[T] {
	return p.register(fn)
}

// Done is closed once the promise settles.
func (p *Promise[T]) Done() <-chan struct{} { return p.done }

// Await blocks until the promise settles or ctx ends. A cancelled promise
// returns its reason as the error.
func (p *Promise[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		var zero T
		return zero, context.Cause(ctx)
	}
	return p.Result()
}

// Result returns the settled value and error. On a pending promise it
// returns the zero value and nil.
func (p *Promise[T]) Result() (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.err
}

// State returns the current state.
func (p *Promise[T]) State() PromiseState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the failure or cancellation reason.
func (p *Promise[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
