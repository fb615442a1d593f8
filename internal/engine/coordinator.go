package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rendis/actionkit/pkg/schema"
)

// CoordinatorConfig tunes the coordinating goroutine.
type CoordinatorConfig struct {
	QueueSize       int           // buffered hop tasks and external events
	HopPollInterval time.Duration // how often a blocked hop re-checks for a pending write
	MaxNesting      int           // nested pumps allowed before the pass is treated as a deadlock
}

// DefaultCoordinatorConfig returns the defaults.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		QueueSize:       256,
		HopPollInterval: 10 * time.Millisecond,
		MaxNesting:      3,
	}
}

type coordinatorKey struct{}

// OnCoordinator reports whether ctx belongs to code running on the
// coordinating goroutine. Goroutines have no identity, so the coordinator
// marks the contexts it runs code with and workers get the mark stripped.
func OnCoordinator(ctx context.Context) bool {
	c, _ := ctx.Value(coordinatorKey{}).(*Coordinator)
	return c != nil
}

// offCoordinator strips the coordinator mark before ctx crosses to a worker.
func offCoordinator(ctx context.Context) context.Context {
	if !OnCoordinator(ctx) {
		return ctx
	}
	return context.WithValue(ctx, coordinatorKey{}, (*Coordinator)(nil))
}

const (
	taskQueued int32 = iota
	taskRunning
	taskAbandoned
	taskDone
)

// hopTask is one unit of work a worker hands to the coordinator. release
// is a one-slot semaphore signalled on completion; the worker is its only
// waiter.
type hopTask struct {
	ctx     context.Context
	fn      func(ctx context.Context)
	what    string
	state   atomic.Int32
	release chan struct{}
	err     error
}

func (t *hopTask) abandon() bool {
	return t.state.CompareAndSwap(taskQueued, taskAbandoned)
}

// Coordinator models the single goroutine that owns UI-visible state. Code
// reaches it either through Run's event loop or, while a caller on the
// coordinator waits for a pass, through PumpUntil.
type Coordinator struct {
	cfg    CoordinatorConfig
	logger *slog.Logger

	tasks  chan *hopTask
	events chan func(ctx context.Context)

	nesting  atomic.Int32
	suppress atomic.Int32

	writeMu        sync.Mutex
	writes         int
	writeIdle      chan struct{}
	writeSeq       uint64
	writeListeners map[uint64]func()
}

// NewCoordinator creates a coordinator; call Run on the goroutine that
// should own UI state.
func NewCoordinator(cfg CoordinatorConfig, logger *slog.Logger) *Coordinator {
	def := DefaultCoordinatorConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.HopPollInterval <= 0 {
		cfg.HopPollInterval = def.HopPollInterval
	}
	if cfg.MaxNesting <= 0 {
		cfg.MaxNesting = def.MaxNesting
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:            cfg,
		logger:         logger,
		tasks:          make(chan *hopTask, cfg.QueueSize),
		events:         make(chan func(ctx context.Context), cfg.QueueSize),
		writeListeners: make(map[uint64]func()),
	}
}

// Run is the coordinator's event loop. It returns when ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	rctx := context.WithValue(ctx, coordinatorKey{}, c)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-c.tasks:
			c.runTask(t)
		case ev := <-c.events:
			c.deliver(rctx, ev)
		}
	}
}

// Post queues an external event (input, timer) for the coordinator.
func (c *Coordinator) Post(ctx context.Context, ev func(ctx context.Context)) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Do runs fn on the coordinator and waits for its result. Called on the
// coordinator it runs fn in place.
func (c *Coordinator) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if OnCoordinator(ctx) {
		return fn(ctx)
	}
	result := make(chan error, 1)
	err := c.Post(ctx, func(cctx context.Context) {
		// Keep the caller's values (pass id, cancellation) on the coordinator.
		result <- fn(context.WithValue(ctx, coordinatorKey{}, c))
	})
	if err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Invoke runs fn on the coordinator. On the coordinator it runs in place;
// elsewhere the caller hops: the task is queued and the caller blocks until
// it completes, polling for cancellation and for a pending write so that it
// never waits behind a write the coordinator is about to perform. A task
// abandoned before it started is skipped.
func (c *Coordinator) Invoke(ctx context.Context, what string, fn func(ctx context.Context)) error {
	return c.hop(ctx, what, fn, true)
}

// Exec is Invoke for work that must run even while a write is pending,
// such as publishing the result of a finished pass.
func (c *Coordinator) Exec(ctx context.Context, what string, fn func(ctx context.Context)) error {
	return c.hop(ctx, what, fn, false)
}

func (c *Coordinator) hop(ctx context.Context, what string, fn func(ctx context.Context), yieldToWrites bool) error {
	if OnCoordinator(ctx) {
		return c.guarded(ctx, what, fn)
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if yieldToWrites && c.WritePending() {
		return schema.ErrWriteActionPending
	}

	t := &hopTask{ctx: ctx, fn: fn, what: what, release: make(chan struct{}, 1)}
	select {
	case c.tasks <- t:
	case <-ctx.Done():
		return context.Cause(ctx)
	}

	ticker := time.NewTicker(c.cfg.HopPollInterval)
	defer ticker.Stop()
	cancelled := ctx.Done()
	for {
		select {
		case <-t.release:
			return t.err
		case <-cancelled:
			if t.abandon() {
				return context.Cause(ctx)
			}
			// Already running; it touches pass state, so wait it out.
			cancelled = nil
		case <-ticker.C:
			if yieldToWrites && c.WritePending() && t.abandon() {
				return schema.ErrWriteActionPending
			}
		}
	}
}

// PumpUntil runs queued hop tasks and, unless a dispatched call is in
// progress, external events, until done is closed, the deadline fires or
// ctx ends. Only the coordinator pumps; elsewhere it simply waits.
func (c *Coordinator) PumpUntil(ctx context.Context, done <-chan struct{}, deadline <-chan time.Time) error {
	if !OnCoordinator(ctx) {
		select {
		case <-done:
			return nil
		case <-deadline:
			return schema.ErrPassTimeout
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}

	depth := c.nesting.Add(1)
	defer c.nesting.Add(-1)
	if int(depth) > c.cfg.MaxNesting {
		c.logger.ErrorContext(ctx, "coordinator re-entered beyond nesting cap; cancelling pass",
			"depth", depth, "max_nesting", c.cfg.MaxNesting)
		return schema.NewErrorf(schema.ErrCodeDeadlockRisk, "coordinator re-entered at depth %d", depth).
			WithDetails(map[string]any{"depth": depth, "max_nesting": c.cfg.MaxNesting})
	}

	for {
		var events chan func(ctx context.Context)
		if c.suppress.Load() == 0 {
			events = c.events
		}
		select {
		case <-done:
			return nil
		case <-deadline:
			return schema.ErrPassTimeout
		case <-ctx.Done():
			return context.Cause(ctx)
		case t := <-c.tasks:
			c.runTask(t)
		case ev := <-events:
			c.deliver(ctx, ev)
		}
	}
}

// Nesting returns the current pump depth.
func (c *Coordinator) Nesting() int { return int(c.nesting.Load()) }

// EventsSuppressed reports whether external event delivery is paused.
func (c *Coordinator) EventsSuppressed() bool { return c.suppress.Load() > 0 }

// BeginWrite announces a write that must not wait behind update passes.
// Every write listener fires; hops waiting on the coordinator bail out.
func (c *Coordinator) BeginWrite() {
	c.writeMu.Lock()
	c.writes++
	if c.writes == 1 {
		c.writeIdle = make(chan struct{})
	}
	listeners := make([]func(), 0, len(c.writeListeners))
	for _, l := range c.writeListeners {
		listeners = append(listeners, l)
	}
	c.writeMu.Unlock()

	for _, l := range listeners {
		l()
	}
}

// EndWrite marks the end of a write started with BeginWrite.
func (c *Coordinator) EndWrite() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writes == 0 {
		return
	}
	c.writes--
	if c.writes == 0 {
		close(c.writeIdle)
		c.writeIdle = nil
	}
}

// WritePending reports whether a write is in progress.
func (c *Coordinator) WritePending() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writes > 0
}

// WaitWriteIdle blocks until no write is pending.
func (c *Coordinator) WaitWriteIdle(ctx context.Context) error {
	c.writeMu.Lock()
	idle := c.writeIdle
	c.writeMu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// OnWriteIntent registers fn to run whenever a write begins.
func (c *Coordinator) OnWriteIntent(fn func()) (unregister func()) {
	c.writeMu.Lock()
	c.writeSeq++
	id := c.writeSeq
	c.writeListeners[id] = fn
	c.writeMu.Unlock()
	return func() {
		c.writeMu.Lock()
		delete(c.writeListeners, id)
		c.writeMu.Unlock()
	}
}

func (c *Coordinator) runTask(t *hopTask) {
	if !t.state.CompareAndSwap(taskQueued, taskRunning) {
		return
	}
	defer func() {
		t.state.Store(taskDone)
		t.release <- struct{}{}
	}()
	t.err = c.guarded(context.WithValue(t.ctx, coordinatorKey{}, c), t.what, t.fn)
}

// guarded runs fn with external event delivery suppressed, so re-entrant
// input cannot be processed in the middle of an update.
func (c *Coordinator) guarded(ctx context.Context, what string, fn func(ctx context.Context)) (err error) {
	c.suppress.Add(1)
	defer func() {
		c.suppress.Add(-1)
		if r := recover(); r != nil {
			c.logger.ErrorContext(ctx, "panic on coordinator", "call", what, "panic", fmt.Sprint(r))
			err = schema.NewErrorf(schema.ErrCodeNodeFailed, "%s: panic: %v", what, r)
		}
	}()
	fn(ctx)
	return nil
}

func (c *Coordinator) deliver(ctx context.Context, ev func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorContext(ctx, "panic in coordinator event", "panic", fmt.Sprint(r))
		}
	}()
	ev(ctx)
}
