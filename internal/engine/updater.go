package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/schema"
)

// DefaultProbeCap bounds how many descendants of a popup group are
// inspected to decide whether the group is empty.
const DefaultProbeCap = 100

// UpdaterOptions tunes an Updater.
type UpdaterOptions struct {
	ProbeCap int
	Logger   *slog.Logger
}

// Updater walks a group tree with a strategy and produces the flat list of
// nodes to show. One Updater serves exactly one pass.
type Updater struct {
	strategy     Strategy
	place        schema.Place
	probeCap     int
	logger       *slog.Logger
	session      *Session
	updating     map[action.Handle]bool
	hideDisabled bool
}

// NewUpdater creates an updater for one pass at place.
func NewUpdater(strategy Strategy, place schema.Place, opts UpdaterOptions) *Updater {
	if opts.ProbeCap <= 0 {
		opts.ProbeCap = DefaultProbeCap
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Updater{
		strategy: strategy,
		place:    place,
		probeCap: opts.ProbeCap,
		logger:   opts.Logger,
		session:  newSession(),
		updating: make(map[action.Handle]bool),
	}
}

// Session returns the pass memo, used to commit the result.
func (u *Updater) Session() *Session { return u.session }

// Expand computes the visible nodes under root. The only errors are
// cancellations; node failures are logged and skipped.
func (u *Updater) Expand(ctx context.Context, root *action.Node, hideDisabled bool) ([]*action.Node, error) {
	u.hideDisabled = hideDisabled
	p, err := u.presentation(ctx, root)
	if err != nil {
		return nil, err
	}
	if p == nil || !p.Visible {
		return []*action.Node{}, nil
	}

	list, err := u.expandGroup(ctx, root, hideDisabled, make(map[action.Handle]bool))
	if err != nil {
		return nil, err
	}
	if root.HasPostProcess() {
		list = u.postProcess(ctx, root, list)
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
	}
	return collapseSeparators(list), nil
}

func (u *Updater) postProcess(ctx context.Context, root *action.Node, list []*action.Node) (out []*action.Node) {
	defer func() {
		if r := recover(); r != nil {
			u.logger.ErrorContext(ctx, "post-process hook panicked; keeping unprocessed list",
				"node", root.Describe(), "panic", fmt.Sprint(r))
			out = list
		}
	}()
	return root.RunPostProcess(ctx, list, &sessionView{u: u, ctx: ctx})
}

func (u *Updater) expandGroup(ctx context.Context, g *action.Node, hideDisabled bool, path map[action.Handle]bool) ([]*action.Node, error) {
	if path[g.Handle()] {
		u.logger.ErrorContext(ctx, "group contains itself; skipping", "group", g.Describe())
		return nil, nil
	}
	path[g.Handle()] = true
	defer delete(path, g.Handle())

	kids, err := u.children(ctx, g)
	if err != nil {
		return nil, err
	}

	out := make([]*action.Node, 0, len(kids))
	for _, child := range kids {
		if child.IsSeparator() {
			out = append(out, child)
			continue
		}
		p, err := u.presentation(ctx, child)
		if err != nil {
			return nil, err
		}
		if !shown(child, p, hideDisabled) {
			continue
		}
		if !child.IsGroup() {
			out = append(out, child)
			continue
		}
		if p.PopupGroup {
			keep, err := u.resolvePopup(ctx, child, p, hideDisabled)
			if err != nil {
				return nil, err
			}
			if keep {
				out = append(out, child)
			}
			continue
		}
		sub, err := u.expandGroup(ctx, child, hideDisabled || child.Compact(), path)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	u.session.putExpanded(g, out)
	return out, nil
}

// shown reports whether a node with presentation p is listed.
func shown(n *action.Node, p *action.Presentation, hideDisabled bool) bool {
	if p == nil {
		return false
	}
	if n.AlwaysVisible() {
		return true
	}
	return p.Visible && (p.Enabled || !hideDisabled)
}

// resolvePopup decides whether a popup group is listed, probing its
// descendants only when an empty group would be treated differently. A
// compact popup judges emptiness by its enabled children; an always-visible
// one is never dropped.
func (u *Updater) resolvePopup(ctx context.Context, g *action.Node, p *action.Presentation, hideDisabled bool) (bool, error) {
	hideDisabled = hideDisabled || g.Compact()
	if !p.HideGroupIfEmpty && !p.DisableGroupIfEmpty && !hideDisabled {
		return true, nil
	}
	hasVisible, hasEnabled, err := u.probe(ctx, g, hideDisabled)
	if err != nil {
		return false, err
	}
	if hasVisible && (hasEnabled || !hideDisabled) {
		return true, nil
	}

	if p.PerformGroup {
		ok, err := u.canBePerformed(ctx, g)
		if err != nil {
			return false, err
		}
		if ok {
			p.PutClientProperty(action.PropPerformOnly, true)
			return true, nil
		}
	}
	if p.DisableGroupIfEmpty {
		p.Enabled = false
		return true, nil
	}
	return g.AlwaysVisible(), nil
}

// probe learns whether g has a visible and an enabled descendant, looking
// through inline groups. It stops as soon as the answer is decided for the
// current policy or after probeCap nodes; hitting the cap counts as
// non-empty.
func (u *Updater) probe(ctx context.Context, g *action.Node, hideDisabled bool) (hasVisible, hasEnabled bool, err error) {
	budget := u.probeCap
	decided := func() bool {
		if hideDisabled {
			return hasEnabled
		}
		return hasVisible
	}
	path := make(map[action.Handle]bool)

	var walk func(g *action.Node) (stop bool, err error)
	walk = func(g *action.Node) (bool, error) {
		if path[g.Handle()] {
			return false, nil
		}
		path[g.Handle()] = true
		defer delete(path, g.Handle())

		kids, err := u.children(ctx, g)
		if err != nil {
			return true, err
		}
		for _, child := range kids {
			if child.IsSeparator() {
				continue
			}
			if budget == 0 {
				hasVisible, hasEnabled = true, true
				return true, nil
			}
			budget--

			p, err := u.presentation(ctx, child)
			if err != nil {
				return true, err
			}
			if p == nil || !p.Visible {
				continue
			}
			if child.IsGroup() && !p.PopupGroup {
				stop, err := walk(child)
				if stop || err != nil {
					return true, err
				}
				continue
			}
			hasVisible = true
			hasEnabled = hasEnabled || p.Enabled
			if decided() {
				return true, nil
			}
		}
		return false, nil
	}

	_, err = walk(g)
	return hasVisible, hasEnabled, err
}

func (u *Updater) presentation(ctx context.Context, n *action.Node) (*action.Presentation, error) {
	if p, ok := u.session.Presentation(n); ok {
		return p, nil
	}
	if u.updating[n.Handle()] {
		u.logger.ErrorContext(ctx, "node asked for its own presentation while updating", "node", n.Describe())
		return nil, nil
	}
	u.updating[n.Handle()] = true
	defer delete(u.updating, n.Handle())

	p, err := u.strategy.Update(ctx, n, &sessionView{u: u, ctx: ctx})
	if err != nil {
		return nil, err
	}
	u.session.putPresentation(n, p)
	return p, nil
}

func (u *Updater) children(ctx context.Context, g *action.Node) ([]*action.Node, error) {
	if kids, ok := u.session.cachedChildren(g); ok {
		return kids, nil
	}
	raw, err := u.strategy.Children(ctx, g, &sessionView{u: u, ctx: ctx})
	if err != nil {
		return nil, err
	}
	kids := make([]*action.Node, 0, len(raw))
	for i, c := range raw {
		if c == nil {
			u.logger.ErrorContext(ctx, "group returned a nil child; dropping it",
				"group", g.Describe(), "index", i)
			continue
		}
		kids = append(kids, c)
	}
	u.session.putChildren(g, kids)
	return kids, nil
}

func (u *Updater) canBePerformed(ctx context.Context, g *action.Node) (bool, error) {
	if v, ok := u.session.cachedCanPerform(g); ok {
		return v, nil
	}
	v, err := u.strategy.CanBePerformed(ctx, g, &sessionView{u: u, ctx: ctx})
	if err != nil {
		return false, err
	}
	u.session.putCanPerform(g, v)
	return v, nil
}

// collapseSeparators drops empty-text separators that lead the list, follow
// another separator, or trail it.
func collapseSeparators(list []*action.Node) []*action.Node {
	out := make([]*action.Node, 0, len(list))
	for _, n := range list {
		if n.IsSeparator() && n.SeparatorText() == "" {
			if len(out) == 0 || out[len(out)-1].IsSeparator() {
				continue
			}
		}
		out = append(out, n)
	}
	for len(out) > 0 {
		last := out[len(out)-1]
		if !last.IsSeparator() || last.SeparatorText() != "" {
			break
		}
		out = out[:len(out)-1]
	}
	return out
}

// sessionView is the read-only view of the memo offered to hooks. Lookups
// that miss the memo compute through the pass's strategy.
type sessionView struct {
	u   *Updater
	ctx context.Context
}

func (v *sessionView) PresentationOf(n *action.Node) *action.Presentation {
	p, err := v.u.presentation(v.ctx, n)
	if err != nil {
		return nil
	}
	return p
}

func (v *sessionView) ChildrenOf(g *action.Node) []*action.Node {
	kids, err := v.u.children(v.ctx, g)
	if err != nil {
		return nil
	}
	return kids
}

func (v *sessionView) ExpandedDescendantsOf(g *action.Node) []*action.Node {
	if list, ok := v.u.session.cachedExpanded(g); ok {
		return list
	}
	list, err := v.u.expandGroup(v.ctx, g, v.u.hideDisabled || g.Compact(), make(map[action.Handle]bool))
	if err != nil {
		return nil
	}
	return list
}

var _ action.Session = (*sessionView)(nil)
