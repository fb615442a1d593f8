package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rendis/actionkit/internal/logging"
	"github.com/rendis/actionkit/internal/presentation"
	"github.com/rendis/actionkit/internal/streaming"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/datactx"
	"github.com/rendis/actionkit/pkg/schema"
)

// Config holds the driver's tunables.
type Config struct {
	// PassTimeout is the hard wall-clock limit of a pass; past it the cheap
	// strategy answers instead. Zero disables it.
	PassTimeout time.Duration `json:"pass_timeout"`
	// FastTrackTimeout bounds the in-place fast-track attempt. Zero
	// disables fast track.
	FastTrackTimeout  time.Duration `json:"fast_track_timeout"`
	Retry             RetryPolicy   `json:"retry"`
	SlowCallThreshold time.Duration `json:"slow_call_threshold"`
	SoftTimeout       time.Duration `json:"soft_timeout"`
	HopPollInterval   time.Duration `json:"hop_poll_interval"`
	MaxNesting        int           `json:"max_nesting"`
	Workers           int           `json:"workers"`
	ProbeCap          int           `json:"probe_cap"`
	// AsyncUpdates lets Expand on the coordinator hand the pass to a worker
	// and pump; without it the pass runs in place.
	AsyncUpdates bool `json:"async_updates"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		PassTimeout:       3 * time.Second,
		FastTrackTimeout:  30 * time.Millisecond,
		Retry:             DefaultRetryPolicy(),
		SlowCallThreshold: 10 * time.Millisecond,
		SoftTimeout:       500 * time.Millisecond,
		HopPollInterval:   10 * time.Millisecond,
		MaxNesting:        3,
		Workers:           2,
		ProbeCap:          DefaultProbeCap,
		AsyncUpdates:      true,
	}
}

// CoordinatorConfig derives the coordinator settings from c.
func (c Config) CoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{HopPollInterval: c.HopPollInterval, MaxNesting: c.MaxNesting}
}

// Request describes one expansion.
type Request struct {
	Root         *action.Node
	Context      datactx.DataContext
	Place        schema.Place
	HideDisabled bool
	// Surface identifies the toolbar or menu the pass is for; a newer pass
	// for the same surface cancels this one.
	Surface string
	// FastTrack asks for an in-place attempt on the cheap snapshot first.
	FastTrack bool
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the driver's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithMetrics sets the metric collectors.
func WithMetrics(m *Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithHub sets the hub pass events are published on.
func WithHub(h streaming.EventHub) Option {
	return func(d *Driver) { d.hub = h }
}

// WithInflight shares an in-flight registry between drivers.
func WithInflight(r *Inflight) Option {
	return func(d *Driver) { d.inflight = r }
}

// Driver runs update passes end to end: fast track, worker hand-off,
// retries, timeout fallback and commit on the coordinator.
type Driver struct {
	cfg          Config
	coord        *Coordinator
	factory      *presentation.Factory
	logger       *slog.Logger
	metrics      *Metrics
	hub          streaming.EventHub
	inflight     *Inflight
	updates      *WorkerPool
	beforeInvoke *WorkerPool
	closed       atomic.Bool
}

// NewDriver creates a driver publishing into factory.
func NewDriver(cfg Config, coord *Coordinator, factory *presentation.Factory, opts ...Option) *Driver {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	d := &Driver{
		cfg:          cfg,
		coord:        coord,
		factory:      factory,
		logger:       slog.Default(),
		hub:          streaming.Discard,
		updates:      NewWorkerPool("update", cfg.Workers),
		beforeInvoke: NewWorkerPool("before-invoke", 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.inflight == nil {
		d.inflight = NewInflight()
	}
	return d
}

// Inflight returns the driver's in-flight registry.
func (d *Driver) Inflight() *Inflight { return d.inflight }

// Factory returns the presentation cache the driver commits to.
func (d *Driver) Factory() *presentation.Factory { return d.factory }

type passResult struct {
	list    []*action.Node
	session *Session
	err     error
}

// pass is the driver-side state of one ExpandAsync call.
type pass struct {
	req     Request
	start   time.Time
	promise *Promise[[]*action.Node]
	// outcome overrides the metric label of a successful pass.
	outcome atomic.Pointer[string]
}

func (ps *pass) resolveAs(outcome string, list []*action.Node) bool {
	ps.outcome.Store(&outcome)
	return ps.promise.Resolve(list)
}

// ExpandAsync starts a pass and returns its promise. It never blocks the
// coordinator beyond the bounded fast-track attempt.
func (d *Driver) ExpandAsync(ctx context.Context, req Request) *Promise[[]*action.Node] {
	p := NewPromise[[]*action.Node](req.Surface)
	if d.closed.Load() {
		p.Cancel(schema.ErrShutdown)
		return p
	}

	ps := &pass{req: req, start: time.Now(), promise: p}
	ctx = logging.WithIDs(ctx, p.ID(), req.Surface, string(req.Place))
	passCtx, cancel := context.WithCancelCause(ctx)
	p.bindCancel(cancel)
	d.inflight.Register(p)
	p.OnDone(func(state PromiseState, list []*action.Node, err error) {
		d.inflight.Unregister(p)
		cancel(context.Canceled)
		d.observe(ctx, ps, state, list, err)
	})
	d.publish(ctx, req, p.ID(), schema.EventPassStarted, nil)

	if req.FastTrack && d.cfg.FastTrackTimeout > 0 {
		if list, ok := d.fastTrack(passCtx, req); ok {
			ps.resolveAs(schema.OutcomeFastTrack, list)
			return p
		}
	}

	// The pass settles off the coordinator; its commit hops back.
	go d.supervise(offCoordinator(passCtx), ps)
	return p
}

// Expand runs a pass and waits for its result. On the coordinator it pumps
// hop tasks and events while waiting, or runs the pass in place when async
// updates are off.
func (d *Driver) Expand(ctx context.Context, req Request) ([]*action.Node, error) {
	if OnCoordinator(ctx) && !d.cfg.AsyncUpdates {
		return d.expandInPlace(ctx, req)
	}
	p := d.ExpandAsync(ctx, req)
	if OnCoordinator(ctx) {
		if err := d.coord.PumpUntil(ctx, p.Done(), nil); err != nil {
			p.Cancel(err)
			return nil, err
		}
	}
	return p.Await(ctx)
}

func (d *Driver) expandInPlace(ctx context.Context, req Request) ([]*action.Node, error) {
	snap := datactx.Freeze(ctx, req.Context, datactx.ModeFull)
	up := d.newUpdater(snap, req.Place)
	list, err := up.Expand(ctx, req.Root, req.HideDisabled)
	if err != nil {
		return nil, err
	}
	d.factory.Apply(up.Session().Nodes(), up.Session().Updated)
	return list, nil
}

// fastTrack tries the pass in place on the cheap snapshot, bounded by
// FastTrackTimeout. The result is usable only if the pass finished without
// asking for a key the snapshot did not hold.
func (d *Driver) fastTrack(ctx context.Context, req Request) ([]*action.Node, bool) {
	ftCtx, cancel := context.WithTimeoutCause(ctx, d.cfg.FastTrackTimeout, schema.ErrFastTrackTimeout)
	defer cancel()

	snap := datactx.Freeze(ftCtx, req.Context, datactx.ModeCheap)
	up := d.newUpdater(snap, req.Place)
	list, err := up.Expand(ftCtx, req.Root, req.HideDisabled)
	switch {
	case err != nil:
		d.logger.DebugContext(ctx, "fast track abandoned", "reason", err)
		return nil, false
	case snap.HasMissed():
		d.logger.DebugContext(ctx, "fast track missed data keys", "keys", snap.Missed())
		return nil, false
	}
	if err := d.commit(ctx, up.Session()); err != nil {
		return nil, false
	}
	return list, true
}

// supervise hands the pass to the update lane and settles the promise,
// substituting the cheap strategy when the hard timeout fires first.
func (d *Driver) supervise(ctx context.Context, ps *pass) {
	results := make(chan passResult, 1)
	go func() {
		err := d.updates.Submit(offCoordinator(ctx), func(wctx context.Context) error {
			list, sess, err := d.runPass(wctx, ps)
			results <- passResult{list: list, session: sess, err: err}
			return err
		})
		if err != nil {
			results <- passResult{err: err}
		}
	}()

	var timeout <-chan time.Time
	if d.cfg.PassTimeout > 0 {
		t := time.NewTimer(d.cfg.PassTimeout - time.Since(ps.start))
		defer t.Stop()
		timeout = t.C
	}

	select {
	case r := <-results:
		d.settle(ctx, ps, r)
	case <-timeout:
		d.fallback(ctx, ps)
	case <-ps.promise.Done():
	}
}

// runPass runs full passes on the worker until one succeeds or the failure
// is final.
func (d *Driver) runPass(ctx context.Context, ps *pass) ([]*action.Node, *Session, error) {
	req := ps.req
	for attempt := 0; ; attempt++ {
		if err := d.coord.WaitWriteIdle(ctx); err != nil {
			return nil, nil, err
		}

		actx, cancel := context.WithCancelCause(ctx)
		unregister := d.coord.OnWriteIntent(func() { cancel(schema.ErrWriteActionPending) })
		snap := datactx.Freeze(actx, req.Context, datactx.ModeFull)
		up := d.newUpdater(snap, req.Place)
		list, err := up.Expand(actx, req.Root, req.HideDisabled)
		unregister()
		cancel(context.Canceled)

		if err == nil {
			return list, up.Session(), nil
		}
		if !d.cfg.Retry.ShouldRetry(err, attempt) {
			if IsRecoverable(err) {
				err = schema.NewErrorf(schema.ErrCodeRetryExhausted, "gave up after %d attempts", attempt+1).
					WithCause(err).
					WithDetails(map[string]any{"attempts": attempt + 1})
			}
			return nil, nil, err
		}

		d.logger.InfoContext(ctx, "retrying update pass", "attempt", attempt+1, "reason", err)
		d.metrics.retry(err)
		d.publish(ctx, req, ps.promise.ID(), schema.EventPassRetried, map[string]any{
			"attempt": attempt + 1,
			"reason":  schema.CodeOf(err),
		})
		if err := WaitForBackoff(ctx, ComputeBackoff(d.cfg.Retry, attempt)); err != nil {
			return nil, nil, err
		}
	}
}

func (d *Driver) settle(ctx context.Context, ps *pass, r passResult) {
	switch {
	case r.err == nil:
		if err := d.commit(ctx, r.session); err != nil {
			ps.promise.Cancel(err)
			return
		}
		ps.promise.Resolve(r.list)
	case schema.IsCancellation(r.err):
		ps.promise.Cancel(r.err)
	default:
		ps.promise.Reject(r.err)
	}
}

// fallback answers a timed-out pass from cached state. The stale result is
// delivered but not committed; settling the promise cancels the stuck pass.
func (d *Driver) fallback(ctx context.Context, ps *pass) {
	if ps.promise.State().IsTerminal() {
		return
	}
	req := ps.req
	elapsed := time.Since(ps.start)
	d.logger.WarnContext(ctx, "update pass timed out; answering from cache",
		"root", req.Root.Describe(), "elapsed", elapsed, "timeout", d.cfg.PassTimeout)

	up := NewUpdater(NewCheapStrategy(d.factory), req.Place, UpdaterOptions{ProbeCap: d.cfg.ProbeCap, Logger: d.logger})
	list, err := up.Expand(context.WithoutCancel(ctx), req.Root, req.HideDisabled)
	if err != nil {
		ps.promise.Cancel(err)
		return
	}
	if ps.resolveAs(schema.OutcomeFallback, list) {
		d.metrics.fallback(req.Place)
		d.publish(ctx, req, ps.promise.ID(), schema.EventPassFellBack, map[string]any{"elapsed_ms": elapsed.Milliseconds()})
	}
}

// commit publishes a pass's presentations on the coordinator in one batch.
func (d *Driver) commit(ctx context.Context, sess *Session) error {
	if sess == nil {
		return nil
	}
	return d.coord.Exec(ctx, "commit", func(cctx context.Context) {
		n := d.factory.Apply(sess.Nodes(), sess.Updated)
		d.logger.DebugContext(cctx, "committed presentations", "count", n)
	})
}

// UpdateBeforePerform refreshes a single node right before it is invoked.
// These updates run one at a time on their own lane.
func (d *Driver) UpdateBeforePerform(ctx context.Context, n *action.Node, dc datactx.DataContext, place schema.Place) (*action.Presentation, error) {
	if d.closed.Load() {
		return nil, schema.ErrShutdown
	}

	var p *action.Presentation
	run := func() error {
		return d.beforeInvoke.Do(offCoordinator(ctx), func(wctx context.Context) error {
			snap := datactx.Freeze(wctx, dc, datactx.ModeFull)
			up := d.newUpdater(snap, place)
			var err error
			if p, err = up.presentation(wctx, n); err != nil {
				return err
			}
			return d.commit(wctx, up.Session())
		})
	}

	if !OnCoordinator(ctx) {
		if err := run(); err != nil {
			return nil, err
		}
		return p, nil
	}

	done := make(chan struct{})
	var runErr error
	go func() {
		defer close(done)
		runErr = run()
	}()
	if err := d.coord.PumpUntil(ctx, done, nil); err != nil {
		return nil, err
	}
	if runErr != nil {
		return nil, runErr
	}
	return p, nil
}

// Shutdown cancels every in-flight pass and drains the worker lanes.
func (d *Driver) Shutdown() {
	if d.closed.Swap(true) {
		return
	}
	n := d.inflight.CancelAll(schema.ErrShutdown)
	d.updates.Shutdown()
	d.beforeInvoke.Shutdown()
	d.logger.Info("driver stopped", "cancelled_passes", n)
}

func (d *Driver) newUpdater(dc datactx.DataContext, place schema.Place) *Updater {
	strategy := NewRealStrategy(d.coord, d.factory, dc, place, d.cfg, d.logger, d.metrics)
	return NewUpdater(strategy, place, UpdaterOptions{ProbeCap: d.cfg.ProbeCap, Logger: d.logger})
}

func (d *Driver) observe(ctx context.Context, ps *pass, state PromiseState, list []*action.Node, err error) {
	elapsed := time.Since(ps.start)
	id := ps.promise.ID()
	switch state {
	case PromiseSucceeded:
		outcome := schema.OutcomeSucceeded
		if o := ps.outcome.Load(); o != nil {
			outcome = *o
		}
		d.metrics.pass(ps.req.Place, outcome, elapsed)
		d.publish(ctx, ps.req, id, schema.EventPassSucceeded, map[string]any{"count": len(list), "outcome": outcome})
	case PromiseFailed:
		d.logger.ErrorContext(ctx, "update pass failed", "error", err)
		d.metrics.pass(ps.req.Place, schema.OutcomeFailed, elapsed)
		d.publish(ctx, ps.req, id, schema.EventPassFailed, map[string]any{"error": err.Error()})
	case PromiseCancelled:
		d.logger.DebugContext(ctx, "update pass cancelled", "reason", err)
		d.metrics.pass(ps.req.Place, schema.OutcomeCancelled, elapsed)
		d.publish(ctx, ps.req, id, schema.EventPassCancelled, map[string]any{"reason": schema.CodeOf(err)})
	}
}

func (d *Driver) publish(ctx context.Context, req Request, passID, eventType string, payload map[string]any) {
	_ = d.hub.Publish(ctx, streaming.StreamEvent{
		PassID:    passID,
		Surface:   req.Surface,
		Place:     string(req.Place),
		EventType: eventType,
		Payload:   payload,
	})
}
