package menu

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rendis/actionkit/internal/engine"
	"github.com/rendis/actionkit/internal/expressions"
	"github.com/rendis/actionkit/internal/logging"
	"github.com/rendis/actionkit/internal/presentation"
	"github.com/rendis/actionkit/internal/validation"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/datactx"
	"github.com/rendis/actionkit/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	exampleMenu  = "../../examples/menus/ide.yaml"
	exampleState = "../../examples/state/ide.json"
)

type fixture struct {
	engines *expressions.Engines
	menu    *Menu
	state   *State
	data    *datactx.Live
	driver  *engine.Driver
	factory *presentation.Factory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	engines, err := expressions.NewEngines()
	require.NoError(t, err)
	v, err := validation.NewMenuValidator(validation.EngineCompilers(engines))
	require.NoError(t, err)

	def, warnings, err := Load(exampleMenu, v)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	m, err := Build(def, engines, nil)
	require.NoError(t, err)
	state, err := OpenState(exampleState, nil)
	require.NoError(t, err)
	live, err := state.Context(def, engines.JQ, nil)
	require.NoError(t, err)

	cfg := engine.DefaultConfig()
	coord := engine.NewCoordinator(cfg.CoordinatorConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = coord.Run(ctx)
	}()
	factory := presentation.NewFactory("menu-test")
	d := engine.NewDriver(cfg, coord, factory)
	t.Cleanup(func() {
		d.Shutdown()
		cancel()
		<-done
	})
	return &fixture{engines: engines, menu: m, state: state, data: live, driver: d, factory: factory}
}

func (f *fixture) expand(t *testing.T, surface string) []*action.Node {
	t.Helper()
	s, ok := f.menu.Surface(surface)
	require.True(t, ok, surface)
	list, err := f.driver.Expand(context.Background(), engine.Request{
		Root:         s.Root,
		Context:      f.data,
		Place:        s.Place,
		HideDisabled: s.HideDisabled,
		Surface:      surface,
	})
	require.NoError(t, err)
	return list
}

// names renders separators as "-".
func names(list []*action.Node) []string {
	out := make([]string, len(list))
	for i, n := range list {
		if n.IsSeparator() {
			out[i] = "-"
			continue
		}
		out[i] = n.ID()
	}
	return out
}

func TestBuild_Surfaces(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{"EditorPopup", "MainMenu", "MainToolbar"}, f.menu.Names())

	s, ok := f.menu.Surface("MainToolbar")
	require.True(t, ok)
	assert.Equal(t, schema.PlaceMainToolbar, s.Place)
	assert.Equal(t, "@every 2s", s.Refresh)
	assert.Equal(t, "MainToolbarGroup", s.Root.ID())

	vcs, ok := f.menu.Arena.ByID("VcsGroup")
	require.True(t, ok)
	assert.True(t, vcs.Template().PopupGroup)
	assert.True(t, vcs.Template().HideGroupIfEmpty)

	gen, _ := f.menu.Arena.ByID("GenerateGroup")
	assert.True(t, gen.Template().PerformGroup)
}

func TestExpand_MainToolbar(t *testing.T) {
	f := newFixture(t)
	list := f.expand(t, "MainToolbar")
	assert.Equal(t, []string{"Build", "Run", "Debug", "-", "VcsGroup"}, names(list))

	build, _ := f.menu.Arena.ByID("Build")
	assert.Equal(t, "Build actionkit", f.factory.Get(build).Text)
	run, _ := f.menu.Arena.ByID("Run")
	assert.Equal(t, "Run driver.go", f.factory.Get(run).Text)
	assert.True(t, f.factory.Get(run).Enabled)
}

func TestExpand_EditorPopup(t *testing.T) {
	f := newFixture(t)
	list := f.expand(t, "EditorPopup")
	assert.Equal(t, []string{"Paste", "-", "RefactorGroup", "-", "GenerateGroup"}, names(list))

	refactor, _ := f.menu.Arena.ByID("RefactorGroup")
	assert.False(t, f.factory.Get(refactor).Enabled, "no enabled refactoring: shown disabled")
	gen, _ := f.menu.Arena.ByID("GenerateGroup")
	assert.True(t, f.factory.Get(gen).BoolProperty(action.PropPerformOnly))
}

func TestExpand_FollowsStateChanges(t *testing.T) {
	f := newFixture(t)
	f.state.path = ""
	f.state.Set(map[string]any{
		"project":   map[string]any{"name": "demo"},
		"editor":    map[string]any{"file": "main.go", "dirty": false},
		"selection": []any{map[string]any{"path": "main.go"}},
		"debugger":  map[string]any{"state": "running"},
	})

	toolbar := f.expand(t, "MainToolbar")
	assert.Equal(t, []string{"Build", "Run", "Debug", "-", "Stop"}, names(toolbar))
	run, _ := f.menu.Arena.ByID("Run")
	assert.False(t, f.factory.Get(run).Enabled, "debugger running")

	popup := f.expand(t, "EditorPopup")
	assert.Equal(t, []string{"Cut", "Copy", "Paste", "-", "RefactorGroup", "-", "GenerateGroup"}, names(popup))
	rename, _ := f.menu.Arena.ByID("Rename")
	assert.Equal(t, "Rename main.go", f.factory.Get(rename).Text)
	gen, _ := f.menu.Arena.ByID("GenerateGroup")
	assert.False(t, f.factory.Get(gen).BoolProperty(action.PropPerformOnly))
}

func TestParse_RejectsInvalidMenu(t *testing.T) {
	engines, err := expressions.NewEngines()
	require.NoError(t, err)
	v, err := validation.NewMenuValidator(validation.EngineCompilers(engines))
	require.NoError(t, err)

	_, _, err = Parse([]byte("surfaces: [1, 2]\nactions: {}\n"), v)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	_, _, err = Parse([]byte("surfaces: {A: {root: G}}\nactions: [{id: G, group: true, children: [Nope]}]\n"), v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Nope")

	_, _, err = Parse([]byte(":\n  - ["), v)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestParse_ReturnsWarnings(t *testing.T) {
	engines, err := expressions.NewEngines()
	require.NoError(t, err)
	v, err := validation.NewMenuValidator(validation.EngineCompilers(engines))
	require.NoError(t, err)

	def, warnings, err := Parse([]byte("surfaces: {A: {root: G}}\nactions: [{id: G, group: true}, {id: Lonely}]\n"), v)
	require.NoError(t, err)
	assert.Equal(t, 1, def.Version)
	require.Len(t, warnings, 2)
}

func TestState_ReloadsChangedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"project": {"name": "one"}}`), 0o600))

	s, err := OpenState(path, nil)
	require.NoError(t, err)
	jq := expressions.NewGoJQEngine()
	def := &schema.MenuDefinition{Data: map[string]schema.DataKeyDefinition{
		"project": {Query: ".project.name", Fast: true},
	}}
	live, err := s.Context(def, jq, nil)
	require.NoError(t, err)

	v, ok := live.Get(context.Background(), "project")
	require.True(t, ok)
	assert.Equal(t, "one", v)

	require.NoError(t, os.WriteFile(path, []byte(`{"project": {"name": "two"}}`), 0o600))
	later := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(path, later, later))

	v, ok = live.Get(context.Background(), "project")
	require.True(t, ok)
	assert.Equal(t, "two", v)

	require.NoError(t, os.WriteFile(path, []byte(`{broken`), 0o600))
	evenLater := later.Add(time.Second)
	require.NoError(t, os.Chtimes(path, evenLater, evenLater))
	v, ok = live.Get(context.Background(), "project")
	require.True(t, ok, "a broken file keeps the previous document")
	assert.Equal(t, "two", v)
}

func TestState_ReloadFailureLogsWithPassContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"project": {"name": "one"}}`), 0o600))

	var buf bytes.Buffer
	logger := slog.New(logging.NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))
	s, err := OpenState(path, logger)
	require.NoError(t, err)
	def := &schema.MenuDefinition{Data: map[string]schema.DataKeyDefinition{
		"project": {Query: ".project.name", Fast: true},
	}}
	live, err := s.Context(def, expressions.NewGoJQEngine(), logger)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{broken`), 0o600))
	later := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(path, later, later))

	ctx := logging.WithPassID(context.Background(), "pass-7")
	v, ok := live.Get(ctx, "project")
	require.True(t, ok)
	assert.Equal(t, "one", v)

	out := buf.String()
	assert.Contains(t, out, "state reload failed")
	assert.Contains(t, out, "pass_id=pass-7")
}

func TestState_SlowKeyHonorsContext(t *testing.T) {
	jq := expressions.NewGoJQEngine()
	def := &schema.MenuDefinition{Data: map[string]schema.DataKeyDefinition{
		"selection": {Query: ".selection", Delay: "1h"},
	}}
	live, err := NewState(map[string]any{"selection": []any{"a"}}).Context(def, jq, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, ok := live.Get(ctx, "selection")
	assert.False(t, ok)
}

func TestWorkspace_Request(t *testing.T) {
	engines, err := expressions.NewEngines()
	require.NoError(t, err)
	ws, warnings, err := Open(exampleMenu, "", engines, nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, []string{"EditorPopup", "MainMenu", "MainToolbar"}, ws.Surfaces())

	req, err := ws.Request("EditorPopup", "", false)
	require.NoError(t, err)
	assert.Equal(t, "EditorPopupMenu", req.Root.ID())
	assert.Equal(t, schema.PlaceEditorPopup, req.Place)
	assert.True(t, req.HideDisabled, "surface setting wins")

	req, err = ws.Request("MainToolbar", string(schema.PlaceNavBarToolbar), true)
	require.NoError(t, err)
	assert.Equal(t, schema.PlaceNavBarToolbar, req.Place)
	assert.True(t, req.HideDisabled)
	assert.Same(t, ws.Data, req.Context)

	_, err = ws.Request("Nope", "", false)
	assert.ErrorContains(t, err, "unknown surface")

	n, ok := ws.Action("Build")
	require.True(t, ok)
	assert.Equal(t, "Build", n.ID())
	v, ok := ws.DataContext().Get(context.Background(), "project")
	assert.False(t, ok, "empty state document: %v", v)
}
