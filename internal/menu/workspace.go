package menu

import (
	"log/slog"
	"strings"

	"github.com/rendis/actionkit/internal/engine"
	"github.com/rendis/actionkit/internal/expressions"
	"github.com/rendis/actionkit/internal/validation"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/datactx"
	"github.com/rendis/actionkit/pkg/schema"
)

// Workspace is a built menu bound to the live data context of its state
// document.
type Workspace struct {
	Menu  *Menu
	State *State
	Data  *datactx.Live
}

// Open loads, validates and builds the menu at menuPath and binds it to the
// state document at statePath. An empty statePath starts from an empty
// document. Validation warnings are returned alongside the workspace.
func Open(menuPath, statePath string, engines *expressions.Engines, logger *slog.Logger) (*Workspace, []schema.ValidationIssue, error) {
	v, err := validation.NewMenuValidator(validation.EngineCompilers(engines))
	if err != nil {
		return nil, nil, err
	}
	def, warnings, err := Load(menuPath, v)
	if err != nil {
		return nil, nil, err
	}
	m, err := Build(def, engines, logger)
	if err != nil {
		return nil, warnings, err
	}

	state := NewState(map[string]any{})
	if statePath != "" {
		if state, err = OpenState(statePath, logger); err != nil {
			return nil, warnings, err
		}
	}
	live, err := state.Context(def, engines.JQ, logger)
	if err != nil {
		return nil, warnings, err
	}
	return &Workspace{Menu: m, State: state, Data: live}, warnings, nil
}

// Surfaces returns the surface names, sorted.
func (w *Workspace) Surfaces() []string { return w.Menu.Names() }

// Action looks an action up by id.
func (w *Workspace) Action(id string) (*action.Node, bool) { return w.Menu.Arena.ByID(id) }

// DataContext returns the live data context.
func (w *Workspace) DataContext() datactx.DataContext { return w.Data }

// Request builds the expansion request for a surface. place overrides the
// surface's own place when set; hideDisabled can only tighten the surface
// setting.
func (w *Workspace) Request(surface, place string, hideDisabled bool) (engine.Request, error) {
	s, ok := w.Menu.Surface(surface)
	if !ok {
		return engine.Request{}, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown surface %q (have %s)", surface, strings.Join(w.Menu.Names(), ", "))
	}
	req := engine.Request{
		Root:         s.Root,
		Context:      w.Data,
		Place:        s.Place,
		HideDisabled: s.HideDisabled || hideDisabled,
		Surface:      s.Name,
	}
	if place != "" {
		req.Place = schema.Place(place)
	}
	return req, nil
}
