package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/actionkit/internal/engine"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/schema"
)

// DefaultTick is how often the refresher looks for due surfaces.
const DefaultTick = 250 * time.Millisecond

// Expander starts expansions. Satisfied by *engine.Driver.
type Expander interface {
	ExpandAsync(ctx context.Context, req engine.Request) *engine.Promise[[]*action.Node]
}

// Result is the outcome of one refresh of a surface.
type Result struct {
	Surface   string
	PassID    string
	State     engine.PromiseState
	Nodes     []*action.Node
	Err       error
	FastTrack bool
}

// Options tunes a Refresher.
type Options struct {
	Tick   time.Duration
	Logger *slog.Logger
}

type target struct {
	req      engine.Request
	spec     string
	schedule cron.Schedule // nil: refreshed once
	nextRun  time.Time
	updated  bool
}

// Refresher re-expands surfaces on their cron schedules and hands every
// settled pass to a callback.
type Refresher struct {
	expander Expander
	onResult func(Result)
	parser   cron.Parser
	tick     time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	targetsMu sync.Mutex
	targets   map[string]*target
	inflight  map[string]struct{} // surfaces with a scheduled pass running
}

// NewRefresher creates a Refresher. onResult may be nil.
func NewRefresher(exp Expander, onResult func(Result), opts Options) *Refresher {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Refresher{
		expander: exp,
		onResult: onResult,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		tick:     opts.Tick,
		logger:   opts.Logger,
		now:      time.Now,
		targets:  make(map[string]*target),
		inflight: make(map[string]struct{}),
	}
}

// Add schedules req.Surface with a cron spec ("@every 2s", "*/5 * * * *").
// An empty spec refreshes the surface once, on the first tick.
func (r *Refresher) Add(req engine.Request, spec string) error {
	if req.Surface == "" {
		return schema.NewError(schema.ErrCodeValidation, "refresh target needs a surface name")
	}
	if req.Root == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "surface %q has no root group", req.Surface)
	}
	t := &target{req: req, spec: spec}
	if spec != "" {
		sched, err := r.parser.Parse(spec)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "parse refresh schedule %q: %v", spec, err)
		}
		t.schedule = sched
	}

	r.targetsMu.Lock()
	defer r.targetsMu.Unlock()
	if _, dup := r.targets[req.Surface]; dup {
		return schema.NewErrorf(schema.ErrCodeValidation, "surface %q already scheduled", req.Surface)
	}
	r.targets[req.Surface] = t
	return nil
}

// NextRun reports when surface is next due. The zero time means it is due
// on the next tick.
func (r *Refresher) NextRun(surface string) (time.Time, bool) {
	r.targetsMu.Lock()
	defer r.targetsMu.Unlock()
	t, ok := r.targets[surface]
	if !ok {
		return time.Time{}, false
	}
	return t.nextRun, true
}

// Start launches the background loop. The first tick runs immediately.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.done != nil {
		r.mu.Unlock()
		return fmt.Errorf("refresher already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.loop(loopCtx)
	r.logger.Info("refresher started", slog.Duration("tick", r.tick))
	return nil
}

func (r *Refresher) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	r.runDue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runDue(ctx)
		}
	}
}

// Stop halts the loop. Passes still running are cancelled with the loop
// context.
func (r *Refresher) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel == nil {
		return nil
	}
	r.cancel()
	<-r.done
	r.cancel = nil
	r.done = nil

	r.logger.Info("refresher stopped")
	return nil
}

// Refresh expands surface now, outside its schedule. A scheduled pass still
// running for the surface is superseded by this one.
func (r *Refresher) Refresh(ctx context.Context, surface string) (*engine.Promise[[]*action.Node], error) {
	r.targetsMu.Lock()
	t, ok := r.targets[surface]
	var req engine.Request
	if ok {
		req = t.req
		req.FastTrack = !t.updated
		t.updated = true
	}
	r.targetsMu.Unlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "surface %q is not scheduled", surface)
	}
	return r.start(ctx, req, false), nil
}

// runDue starts a pass for every surface whose schedule has come up and
// that has no scheduled pass running.
func (r *Refresher) runDue(ctx context.Context) {
	now := r.now()
	var due []engine.Request

	r.targetsMu.Lock()
	for name, t := range r.targets {
		if _, busy := r.inflight[name]; busy {
			continue
		}
		if t.updated && (t.schedule == nil || t.nextRun.After(now)) {
			continue
		}
		req := t.req
		req.FastTrack = !t.updated
		t.updated = true
		if t.schedule != nil {
			t.nextRun = t.schedule.Next(now)
		}
		r.inflight[name] = struct{}{}
		due = append(due, req)
	}
	r.targetsMu.Unlock()

	for _, req := range due {
		r.start(ctx, req, true)
	}
}

func (r *Refresher) start(ctx context.Context, req engine.Request, scheduled bool) *engine.Promise[[]*action.Node] {
	p := r.expander.ExpandAsync(ctx, req)
	p.OnDone(func(state engine.PromiseState, list []*action.Node, err error) {
		if scheduled {
			r.release(req.Surface)
		}
		r.deliver(Result{
			Surface:   req.Surface,
			PassID:    p.ID(),
			State:     state,
			Nodes:     list,
			Err:       err,
			FastTrack: req.FastTrack,
		})
	})
	return p
}

func (r *Refresher) release(surface string) {
	r.targetsMu.Lock()
	defer r.targetsMu.Unlock()
	delete(r.inflight, surface)
}

func (r *Refresher) deliver(res Result) {
	switch res.State {
	case engine.PromiseFailed:
		r.logger.Warn("surface refresh failed",
			slog.String("surface", res.Surface),
			slog.String("pass_id", res.PassID),
			slog.String("error", res.Err.Error()),
		)
	case engine.PromiseCancelled:
		r.logger.Debug("surface refresh cancelled",
			slog.String("surface", res.Surface),
			slog.String("pass_id", res.PassID),
		)
	}
	if r.onResult != nil {
		r.onResult(res)
	}
}
