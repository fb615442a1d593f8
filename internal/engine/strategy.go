package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rendis/actionkit/internal/presentation"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/datactx"
	"github.com/rendis/actionkit/pkg/schema"
)

// Hook operations, as used in logs and metric labels.
const (
	OpUpdate      = "update"
	OpChildren    = "children"
	OpCanPerform  = "can_perform"
	OpPostProcess = "post_process"
)

// Strategy computes node state for the updater. Returned errors are always
// cancellations; a failing node yields a nil presentation, no children or
// false.
type Strategy interface {
	Update(ctx context.Context, n *action.Node, s action.Session) (*action.Presentation, error)
	Children(ctx context.Context, g *action.Node, s action.Session) ([]*action.Node, error)
	CanBePerformed(ctx context.Context, g *action.Node, s action.Session) (bool, error)
}

// errNodeFailed marks a hook failure that was already logged.
var errNodeFailed = errors.New("node hook failed")

// RealStrategy invokes node hooks, running each on the goroutine the
// dispatch rule picks.
type RealStrategy struct {
	coord   *Coordinator
	factory *presentation.Factory
	dc      datactx.DataContext
	place   schema.Place
	slow    time.Duration
	soft    time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

// NewRealStrategy creates a strategy reading dc at place.
func NewRealStrategy(coord *Coordinator, factory *presentation.Factory, dc datactx.DataContext, place schema.Place, cfg Config, logger *slog.Logger, metrics *Metrics) *RealStrategy {
	if dc == nil {
		dc = datactx.Empty
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RealStrategy{
		coord:   coord,
		factory: factory,
		dc:      dc,
		place:   place,
		slow:    cfg.SlowCallThreshold,
		soft:    cfg.SoftTimeout,
		logger:  logger,
		metrics: metrics,
	}
}

func (s *RealStrategy) Update(ctx context.Context, n *action.Node, sess action.Session) (*action.Presentation, error) {
	p := s.factory.Get(n).Clone()
	p.ResetFlags(n.Template())
	err := s.dispatch(ctx, n, OpUpdate, func(cctx context.Context) error {
		return n.RunUpdate(action.NewEvent(cctx, p, s.dc, s.place, sess))
	})
	if errors.Is(err, errNodeFailed) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *RealStrategy) Children(ctx context.Context, g *action.Node, sess action.Session) ([]*action.Node, error) {
	var kids []*action.Node
	err := s.dispatch(ctx, g, OpChildren, func(cctx context.Context) error {
		var err error
		kids, err = g.RunChildren(action.NewEvent(cctx, s.factory.Get(g).Clone(), s.dc, s.place, sess))
		return err
	})
	if errors.Is(err, errNodeFailed) {
		return nil, nil
	}
	return kids, err
}

func (s *RealStrategy) CanBePerformed(ctx context.Context, g *action.Node, sess action.Session) (bool, error) {
	var ok bool
	err := s.dispatch(ctx, g, OpCanPerform, func(cctx context.Context) error {
		var err error
		ok, err = g.RunPerform(action.NewEvent(cctx, s.factory.Get(g).Clone(), s.dc, s.place, sess))
		return err
	})
	if errors.Is(err, errNodeFailed) {
		return false, nil
	}
	return ok, err
}

// dispatch runs fn in place when already on the coordinator or when the
// data context allows off-coordinator reads and the node opted in; it hops
// to the coordinator otherwise.
func (s *RealStrategy) dispatch(ctx context.Context, n *action.Node, op string, fn func(ctx context.Context) error) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}

	start := time.Now()
	if s.soft > 0 {
		t := time.AfterFunc(s.soft, func() {
			s.logger.WarnContext(ctx, "hook still running past soft timeout",
				"node", n.Describe(), "op", op, "elapsed", time.Since(start))
		})
		defer t.Stop()
	}

	var hookErr error
	call := func(cctx context.Context) {
		hookErr = safeCall(cctx, fn)
	}
	if !OnCoordinator(ctx) && n.Thread() == action.ThreadBackground && datactx.IsAsyncCapable(s.dc) {
		call(ctx)
	} else if err := s.coord.Invoke(ctx, n.Describe()+"."+op, call); err != nil {
		hookErr = err
	}

	if elapsed := time.Since(start); s.slow > 0 && elapsed > s.slow {
		s.logger.WarnContext(ctx, "slow hook call",
			"node", n.Describe(), "op", op, "elapsed", elapsed, "threshold", s.slow)
		s.metrics.slowCall(op)
	}

	switch {
	case hookErr == nil:
		return nil
	case schema.IsCancellation(hookErr):
		return hookErr
	default:
		s.logger.WarnContext(ctx, "node hook failed; node contributes nothing",
			"node", n.Describe(), "op", op, "error", hookErr)
		return errNodeFailed
	}
}

func safeCall(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeNodeFailed, "panic: %v", r)
		}
	}()
	return fn(ctx)
}

// CheapStrategy answers from cached state only. It never runs a hook, never
// blocks and never hops.
type CheapStrategy struct {
	factory *presentation.Factory
}

// NewCheapStrategy creates a strategy over factory.
func NewCheapStrategy(factory *presentation.Factory) *CheapStrategy {
	return &CheapStrategy{factory: factory}
}

func (s *CheapStrategy) Update(_ context.Context, n *action.Node, _ action.Session) (*action.Presentation, error) {
	return s.factory.Get(n).Clone(), nil
}

func (s *CheapStrategy) Children(_ context.Context, g *action.Node, _ action.Session) ([]*action.Node, error) {
	return g.StaticChildren(), nil
}

func (s *CheapStrategy) CanBePerformed(context.Context, *action.Node, action.Session) (bool, error) {
	return true, nil
}

var (
	_ Strategy = (*RealStrategy)(nil)
	_ Strategy = (*CheapStrategy)(nil)
)
