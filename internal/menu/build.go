package menu

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/rendis/actionkit/internal/expressions"
	"github.com/rendis/actionkit/internal/validation"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/datactx"
	"github.com/rendis/actionkit/pkg/schema"
)

// Surface is a toolbar or menu of a built menu.
type Surface struct {
	Name         string
	Root         *action.Node
	Place        schema.Place
	HideDisabled bool
	Refresh      string
}

// Menu is a built menu definition.
type Menu struct {
	Arena    *action.Arena
	Surfaces map[string]Surface
}

// Surface returns the named surface.
func (m *Menu) Surface(name string) (Surface, bool) {
	s, ok := m.Surfaces[name]
	return s, ok
}

// Names returns the surface names, sorted.
func (m *Menu) Names() []string {
	return slices.Sorted(maps.Keys(m.Surfaces))
}

// Build turns a validated definition into nodes. Conditions and text
// templates become update hooks, perform_if becomes a perform hook.
func Build(def *schema.MenuDefinition, engines *expressions.Engines, logger *slog.Logger) (*Menu, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &builder{engines: engines, logger: logger, arena: action.NewArena(), nodes: make(map[string]*action.Node)}

	for i := range def.Actions {
		a := &def.Actions[i]
		if _, dup := b.nodes[a.ID]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate action id %q", a.ID)
		}
		n, err := b.node(a)
		if err != nil {
			return nil, err
		}
		b.nodes[a.ID] = n
	}

	for i := range def.Actions {
		a := &def.Actions[i]
		if !a.Group {
			continue
		}
		g := b.nodes[a.ID]
		for _, ref := range a.Children {
			if validation.IsSeparatorRef(ref) {
				g.Add(b.arena.NewSeparator(strings.TrimSpace(strings.TrimPrefix(ref, schema.SeparatorRef))))
				continue
			}
			child, ok := b.nodes[ref]
			if !ok {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "group %q references unknown action %q", a.ID, ref).
					WithNode(a.ID)
			}
			g.Add(child)
		}
	}

	m := &Menu{Arena: b.arena, Surfaces: make(map[string]Surface, len(def.Surfaces))}
	for name, s := range def.Surfaces {
		root, ok := b.nodes[s.Root]
		if !ok || !root.IsGroup() {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "surface %q: root %q is not a group", name, s.Root)
		}
		place := schema.Place(s.Place)
		if place == "" {
			place = schema.PlaceUnknown
		}
		m.Surfaces[name] = Surface{Name: name, Root: root, Place: place, HideDisabled: s.HideDisabled, Refresh: s.Refresh}
	}
	return m, nil
}

type builder struct {
	engines *expressions.Engines
	logger  *slog.Logger
	arena   *action.Arena
	nodes   map[string]*action.Node
}

func (b *builder) node(a *schema.ActionDefinition) (*action.Node, error) {
	opts := []action.Option{action.WithText(a.Text)}
	if a.Text == "" {
		opts[0] = action.WithText(a.ID)
	}
	if a.Description != "" {
		opts = append(opts, action.WithDescription(a.Description))
	}
	if a.Icon != "" {
		opts = append(opts, action.WithIcons(action.Icons{Default: a.Icon}))
	}
	if a.Background {
		opts = append(opts, action.OnBackground())
	}
	if a.AlwaysVisible {
		opts = append(opts, action.AlwaysVisible())
	}

	scope := expressions.NewScope(toKeys(a.Uses)...)
	update, err := b.updateHook(a, scope)
	if err != nil {
		return nil, err
	}
	if update != nil {
		opts = append(opts, action.WithUpdate(update))
	}

	if !a.Group {
		return b.arena.NewAction(a.ID, opts...), nil
	}
	if a.Popup {
		opts = append(opts, action.Popup())
	}
	if a.Compact {
		opts = append(opts, action.Compact())
	}
	switch {
	case a.DisableIfEmpty:
		opts = append(opts, action.DisableIfEmpty())
	case a.HideIfEmpty:
		opts = append(opts, action.HideIfEmpty())
	}
	if a.PerformIf != "" {
		guard := a.PerformIf
		opts = append(opts, action.WithPerform(func(e *action.Event) (bool, error) {
			data := scope.Bind(e.Context(), e.DataContext, string(e.Place))
			return expressions.EvaluateBool(e.Context(), b.engines.CEL, guard, data)
		}))
	}
	return b.arena.NewGroup(a.ID, opts...), nil
}

// updateHook compiles the node's conditions into one update hook, or nil
// when the node has nothing to compute.
func (b *builder) updateHook(a *schema.ActionDefinition, scope expressions.Scope) (action.UpdateFunc, error) {
	var cost time.Duration
	if a.Cost != "" {
		d, err := time.ParseDuration(a.Cost)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "action %q: invalid cost %q", a.ID, a.Cost).WithCause(err)
		}
		cost = d
	}
	text := a.Text
	templated := expressions.HasInterpolation(text)
	if cost == 0 && !templated && a.Visible == "" && a.Enabled == "" && a.Selected == "" {
		return nil, nil
	}

	eng := b.engines.Expr
	conditions := []struct {
		expr string
		set  func(p *action.Presentation, v bool)
	}{
		{a.Visible, func(p *action.Presentation, v bool) { p.Visible = v }},
		{a.Enabled, func(p *action.Presentation, v bool) { p.Enabled = v }},
		{a.Selected, func(p *action.Presentation, v bool) { p.Selected = v }},
	}
	id := a.ID

	return func(e *action.Event) error {
		ctx := e.Context()
		if cost > 0 {
			if err := simulateCost(ctx, cost); err != nil {
				return err
			}
		}
		data := scope.Bind(ctx, e.DataContext, string(e.Place))
		for _, c := range conditions {
			if c.expr == "" {
				continue
			}
			v, err := expressions.EvaluateBool(ctx, eng, c.expr, data)
			if err != nil {
				return fmt.Errorf("action %s: %w", id, err)
			}
			c.set(e.Presentation, v)
		}
		if templated {
			rendered, err := expressions.Interpolate(text, data)
			if err != nil {
				return fmt.Errorf("action %s: %w", id, err)
			}
			e.Presentation.Text = rendered
		}
		return nil
	}, nil
}

// simulateCost waits d or until ctx ends, returning the cancellation cause.
func simulateCost(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func toKeys(uses []string) []datactx.Key {
	keys := make([]datactx.Key, len(uses))
	for i, u := range uses {
		keys[i] = datactx.Key(u)
	}
	return keys
}
