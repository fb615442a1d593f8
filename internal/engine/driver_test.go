package engine

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rendis/actionkit/internal/presentation"
	"github.com/rendis/actionkit/internal/streaming"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/datactx"
	"github.com/rendis/actionkit/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockedBuffer is a log sink safe to read while loggers write to it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type driverFixture struct {
	coord   *Coordinator
	factory *presentation.Factory
	metrics *Metrics
	hub     *streaming.MemoryHub
	driver  *Driver
}

func newDriverFixture(t *testing.T, mutate func(*Config)) *driverFixture {
	t.Helper()
	cfg := DefaultConfig()
	cfg.FastTrackTimeout = 0
	cfg.Retry.Backoff = BackoffNone
	if mutate != nil {
		mutate(&cfg)
	}
	fx := &driverFixture{
		coord:   startCoordinator(t, cfg.CoordinatorConfig()),
		factory: presentation.NewFactory("test"),
		metrics: NewMetrics(prometheus.NewRegistry()),
		hub:     streaming.NewMemoryHub(),
	}
	fx.driver = NewDriver(cfg, fx.coord, fx.factory, WithMetrics(fx.metrics), WithHub(fx.hub))
	t.Cleanup(fx.driver.Shutdown)
	return fx
}

func (fx *driverFixture) request(root *action.Node) Request {
	return Request{Root: root, Context: datactx.Map{}, Place: schema.PlaceMainToolbar, Surface: "MainToolbar"}
}

func TestDriver_ExpandCommitsPresentations(t *testing.T) {
	fx := newDriverFixture(t, nil)
	a := action.NewArena()
	build := a.NewAction("Build", action.OnBackground(), action.WithUpdate(func(e *action.Event) error {
		project, _ := e.Data(datactx.KeyProject)
		e.Presentation.Text = "Build " + project.(string)
		return nil
	}))
	root := a.NewGroup("Root", action.Children(build))

	req := fx.request(root)
	req.Context = datactx.Map{datactx.KeyProject: "demo"}
	before := fx.factory.Get(build)

	list, err := fx.driver.Expand(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"Build"}, ids(list))
	assert.Equal(t, "Build demo", fx.factory.Get(build).Text)
	assert.Equal(t, "Build", before.Text, "published values are never mutated")
	assert.EqualValues(t, 1, testutil.ToFloat64(fx.metrics.Passes.WithLabelValues(string(schema.PlaceMainToolbar), schema.OutcomeSucceeded)))
}

func TestDriver_Idempotence(t *testing.T) {
	fx := newDriverFixture(t, nil)
	a, root := scenario(true)
	req := fx.request(root)
	req.HideDisabled = true

	first, err := fx.driver.Expand(context.Background(), req)
	require.NoError(t, err)
	snapshot := make(map[action.Handle]*action.Presentation)
	for _, n := range first {
		snapshot[n.Handle()] = fx.factory.Get(n)
	}

	second, err := fx.driver.Expand(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ids(first), ids(second))
	for _, n := range second {
		assert.True(t, snapshot[n.Handle()].Equal(fx.factory.Get(n)), "presentation of %s changed", n.Describe())
	}

	y, _ := a.ByID("GroupY")
	assert.False(t, fx.factory.Get(y).Enabled)
}

func TestDriver_ScenarioBothConfigurations(t *testing.T) {
	for _, tc := range []struct {
		name    string
		disable bool
		want    []string
	}{
		{"hide", false, []string{"X"}},
		{"disable", true, []string{"X", "GroupY"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fx := newDriverFixture(t, nil)
			_, root := scenario(tc.disable)
			req := fx.request(root)
			req.HideDisabled = true
			list, err := fx.driver.Expand(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ids(list))
		})
	}
}

func TestDriver_RetryCeiling(t *testing.T) {
	fx := newDriverFixture(t, func(c *Config) { c.Retry.MaxRetries = 2 })
	a := action.NewArena()
	var attempts atomic.Int32
	root := a.NewGroup("Root", action.OnBackground(), action.WithUpdate(func(*action.Event) error {
		attempts.Add(1)
		return schema.ErrWriteActionPending
	}))

	p := fx.driver.ExpandAsync(context.Background(), fx.request(root))
	_, err := p.Await(context.Background())

	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeRetryExhausted, schema.CodeOf(err))
	assert.ErrorIs(t, err, schema.ErrWriteActionPending)
	assert.EqualValues(t, 3, attempts.Load())
	assert.Equal(t, PromiseCancelled, p.State())
	assert.EqualValues(t, 2, testutil.ToFloat64(fx.metrics.Retries.WithLabelValues(schema.ErrCodeWriteActionPending)))
}

func TestDriver_TimeoutFallsBackToCache(t *testing.T) {
	fx := newDriverFixture(t, func(c *Config) { c.PassTimeout = 50 * time.Millisecond })
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	a := action.NewArena()
	slow := a.NewAction("Slow", action.OnBackground(), action.WithUpdate(func(*action.Event) error {
		<-release
		return nil
	}))
	root := a.NewGroup("Root", action.Children(slow, a.NewAction("Quick")))

	start := time.Now()
	list, err := fx.driver.Expand(context.Background(), fx.request(root))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.NotNil(t, list)
	assert.Equal(t, []string{"Slow", "Quick"}, ids(list))
	assert.EqualValues(t, 1, testutil.ToFloat64(fx.metrics.Fallbacks.WithLabelValues(string(schema.PlaceMainToolbar))))
	assert.Zero(t, fx.factory.Version(slow), "fallback results are not committed")
}

func TestDriver_NewerPassSupersedesOlder(t *testing.T) {
	fx := newDriverFixture(t, nil)
	a := action.NewArena()
	entered := make(chan struct{})
	stuck := a.NewGroup("Stuck", action.OnBackground(), action.WithUpdate(func(e *action.Event) error {
		close(entered)
		<-e.Context().Done()
		return context.Cause(e.Context())
	}))
	fresh := a.NewGroup("Fresh", action.Children(a.NewAction("A")))

	var cancelled atomic.Int32
	older := fx.driver.ExpandAsync(context.Background(), fx.request(stuck))
	older.OnCancel(func(error) { cancelled.Add(1) })
	<-entered

	newer := fx.driver.ExpandAsync(context.Background(), fx.request(fresh))

	_, err := older.Await(context.Background())
	assert.ErrorIs(t, err, schema.ErrSuperseded)
	list, err := newer.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, ids(list))
	assert.EqualValues(t, 1, cancelled.Load())
	assert.Eventually(t, func() bool { return fx.driver.Inflight().Len() == 0 }, time.Second, time.Millisecond)
}

func TestDriver_PendingWriteRetriesPass(t *testing.T) {
	fx := newDriverFixture(t, nil)
	a := action.NewArena()
	entered := make(chan struct{})
	var calls atomic.Int32
	root := a.NewGroup("Root", action.OnBackground(), action.WithUpdate(func(e *action.Event) error {
		if calls.Add(1) == 1 {
			close(entered)
			<-e.Context().Done()
			return context.Cause(e.Context())
		}
		return nil
	}), action.Children(a.NewAction("A", action.OnBackground())))

	p := fx.driver.ExpandAsync(context.Background(), fx.request(root))
	<-entered
	fx.coord.BeginWrite()
	time.Sleep(5 * time.Millisecond)
	fx.coord.EndWrite()

	list, err := p.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, ids(list))
	assert.EqualValues(t, 2, calls.Load())
	assert.EqualValues(t, 1, testutil.ToFloat64(fx.metrics.Retries.WithLabelValues(schema.ErrCodeWriteActionPending)))
}

func TestDriver_FastTrack(t *testing.T) {
	fx := newDriverFixture(t, func(c *Config) { c.FastTrackTimeout = 500 * time.Millisecond })
	a := action.NewArena()
	root := a.NewGroup("Root", action.Children(a.NewAction("A", action.OnBackground(), action.WithUpdate(func(e *action.Event) error {
		_, ok := e.Data(datactx.KeyProject)
		e.Presentation.Enabled = ok
		return nil
	}))))
	place := string(schema.PlaceMainToolbar)

	req := fx.request(root)
	req.FastTrack = true
	req.Context = datactx.Map{datactx.KeyProject: "demo"}
	list, err := fx.driver.Expand(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, ids(list))
	assert.EqualValues(t, 1, testutil.ToFloat64(fx.metrics.Passes.WithLabelValues(place, schema.OutcomeFastTrack)))

	// A slow key is not in the cheap snapshot: the full pass answers.
	req.Context = datactx.NewLive(nil).Provide(datactx.KeyProject, datactx.Provider{
		Resolve: func(context.Context) (any, bool) { return "demo", true },
	})
	list, err = fx.driver.Expand(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, ids(list))
	assert.EqualValues(t, 1, testutil.ToFloat64(fx.metrics.Passes.WithLabelValues(place, schema.OutcomeFastTrack)))
	assert.EqualValues(t, 1, testutil.ToFloat64(fx.metrics.Passes.WithLabelValues(place, schema.OutcomeSucceeded)))
}

func TestDriver_ExpandOnCoordinatorPumps(t *testing.T) {
	fx := newDriverFixture(t, nil)
	a := action.NewArena()
	var hopped atomic.Bool
	root := a.NewGroup("Root", action.Children(a.NewAction("A", action.WithUpdate(func(e *action.Event) error {
		hopped.Store(OnCoordinator(e.Context()))
		return nil
	}))))

	var list []*action.Node
	err := fx.coord.Do(context.Background(), func(ctx context.Context) error {
		var err error
		list, err = fx.driver.Expand(ctx, fx.request(root))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, ids(list))
	assert.True(t, hopped.Load())
}

func TestDriver_AsyncPassFromCoordinatorCommitsOnCoordinator(t *testing.T) {
	fx := newDriverFixture(t, nil)
	busy := make(chan struct{})
	release := make(chan struct{})
	a := action.NewArena()
	build := a.NewAction("Build", action.OnBackground(), action.WithUpdate(func(e *action.Event) error {
		<-busy
		e.Presentation.Text = "committed"
		return nil
	}))
	root := a.NewGroup("Root", action.OnBackground(), action.Children(build))

	var p *Promise[[]*action.Node]
	err := fx.coord.Do(context.Background(), func(ctx context.Context) error {
		p = fx.driver.ExpandAsync(ctx, fx.request(root))
		return fx.coord.Post(ctx, func(context.Context) {
			close(busy)
			<-release
		})
	})
	require.NoError(t, err)

	assert.Never(t, func() bool { return p.State().IsTerminal() }, 100*time.Millisecond, 5*time.Millisecond,
		"pass settled while the coordinator was busy")
	assert.Equal(t, "Build", fx.factory.Get(build).Text)

	close(release)
	list, err := p.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Build"}, ids(list))
	assert.Equal(t, "committed", fx.factory.Get(build).Text)
}

func TestDriver_SlowHookWarnsWithoutAbortingPass(t *testing.T) {
	logs := &lockedBuffer{}
	cfg := DefaultConfig()
	cfg.FastTrackTimeout = 0
	cfg.SlowCallThreshold = 20 * time.Millisecond
	cfg.SoftTimeout = 30 * time.Millisecond
	metrics := NewMetrics(prometheus.NewRegistry())
	factory := presentation.NewFactory("test")
	d := NewDriver(cfg, startCoordinator(t, cfg.CoordinatorConfig()), factory,
		WithMetrics(metrics), WithLogger(slog.New(slog.NewTextHandler(logs, nil))))
	t.Cleanup(d.Shutdown)

	a := action.NewArena()
	slow := a.NewAction("Slow", action.OnBackground(), action.WithUpdate(func(e *action.Event) error {
		time.Sleep(80 * time.Millisecond)
		e.Presentation.Text = "done"
		return nil
	}))
	root := a.NewGroup("Root", action.OnBackground(), action.Children(slow))

	list, err := d.Expand(context.Background(), Request{Root: root, Context: datactx.Map{}, Place: schema.PlaceMainToolbar, Surface: "MainToolbar"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Slow"}, ids(list))
	assert.Equal(t, "done", factory.Get(slow).Text)
	assert.EqualValues(t, 1, testutil.ToFloat64(metrics.SlowCalls.WithLabelValues(OpUpdate)))
	assert.EqualValues(t, 1, testutil.ToFloat64(metrics.Passes.WithLabelValues(string(schema.PlaceMainToolbar), schema.OutcomeSucceeded)))
	assert.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "hook still running past soft timeout")
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, logs.String(), "slow hook call")
}

func TestDriver_SyncModeRunsInPlace(t *testing.T) {
	fx := newDriverFixture(t, func(c *Config) { c.AsyncUpdates = false })
	a := action.NewArena()
	var on atomic.Bool
	root := a.NewGroup("Root", action.Children(a.NewAction("A", action.OnBackground(), action.WithUpdate(func(e *action.Event) error {
		on.Store(OnCoordinator(e.Context()))
		e.Presentation.Text = "synced"
		return nil
	}))))

	err := fx.coord.Do(context.Background(), func(ctx context.Context) error {
		_, err := fx.driver.Expand(ctx, fx.request(root))
		return err
	})
	require.NoError(t, err)
	assert.True(t, on.Load())
	n, _ := a.ByID("A")
	assert.Equal(t, "synced", fx.factory.Get(n).Text)
}

func TestDriver_DeadlockRiskCancelsNestedPass(t *testing.T) {
	fx := newDriverFixture(t, func(c *Config) { c.MaxNesting = 1 })
	a := action.NewArena()
	inner := a.NewGroup("Inner", action.Children(a.NewAction("I")))

	var nestedErr atomic.Pointer[error]
	outer := a.NewGroup("Outer", action.WithUpdate(func(e *action.Event) error {
		req := fx.request(inner)
		req.Surface = "nested"
		_, err := fx.driver.Expand(e.Context(), req)
		nestedErr.Store(&err)
		return nil
	}), action.Children(a.NewAction("O")))

	var list []*action.Node
	err := fx.coord.Do(context.Background(), func(ctx context.Context) error {
		var err error
		list, err = fx.driver.Expand(ctx, fx.request(outer))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"O"}, ids(list))
	require.NotNil(t, nestedErr.Load())
	assert.ErrorIs(t, *nestedErr.Load(), schema.ErrDeadlockRisk)
}

func TestDriver_UpdateBeforePerform(t *testing.T) {
	fx := newDriverFixture(t, nil)
	a := action.NewArena()
	var running, peak atomic.Int32
	n := a.NewAction("Run", action.OnBackground(), action.WithUpdate(func(e *action.Event) error {
		cur := running.Add(1)
		defer running.Add(-1)
		if cur > peak.Load() {
			peak.Store(cur)
		}
		time.Sleep(2 * time.Millisecond)
		e.Presentation.Selected = true
		return nil
	}))

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			p, err := fx.driver.UpdateBeforePerform(context.Background(), n, datactx.Map{}, schema.PlaceKeyboardShortcut)
			assert.NoError(t, err)
			if assert.NotNil(t, p) {
				assert.True(t, p.Selected)
			}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	assert.EqualValues(t, 1, peak.Load(), "before-invoke updates are serialized")
	assert.True(t, fx.factory.Get(n).Selected)

	var onCoord *action.Presentation
	err := fx.coord.Do(context.Background(), func(ctx context.Context) error {
		var err error
		onCoord, err = fx.driver.UpdateBeforePerform(ctx, n, datactx.Map{}, schema.PlaceKeyboardShortcut)
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, onCoord)
	assert.True(t, onCoord.Selected)

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(schema.ErrSuperseded)
	_, err = fx.driver.UpdateBeforePerform(ctx, n, datactx.Map{}, schema.PlaceKeyboardShortcut)
	assert.ErrorIs(t, err, schema.ErrSuperseded)
}

func TestDriver_PublishesPassEvents(t *testing.T) {
	fx := newDriverFixture(t, nil)
	ch, cancel, err := fx.hub.Subscribe(context.Background(), streaming.EventFilter{Surface: "MainToolbar"})
	require.NoError(t, err)
	defer cancel()

	a := action.NewArena()
	p := fx.driver.ExpandAsync(context.Background(), fx.request(a.NewGroup("Root")))
	_, err = p.Await(context.Background())
	require.NoError(t, err)

	var types []string
	for len(types) < 2 {
		select {
		case ev := <-ch:
			assert.Equal(t, p.ID(), ev.PassID)
			types = append(types, ev.EventType)
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", types)
		}
	}
	assert.Equal(t, []string{schema.EventPassStarted, schema.EventPassSucceeded}, types)
}

func TestDriver_Shutdown(t *testing.T) {
	fx := newDriverFixture(t, nil)
	a := action.NewArena()
	entered := make(chan struct{})
	root := a.NewGroup("Root", action.OnBackground(), action.WithUpdate(func(e *action.Event) error {
		close(entered)
		<-e.Context().Done()
		return context.Cause(e.Context())
	}))

	p := fx.driver.ExpandAsync(context.Background(), fx.request(root))
	<-entered
	fx.driver.Shutdown()

	_, err := p.Await(context.Background())
	assert.ErrorIs(t, err, schema.ErrShutdown)

	late := fx.driver.ExpandAsync(context.Background(), fx.request(root))
	assert.Equal(t, PromiseCancelled, late.State())
}
