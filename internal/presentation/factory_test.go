package presentation

import (
	"context"
	"testing"
	"time"

	"github.com/rendis/actionkit/internal/streaming"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_GetCreatesFromTemplateOnce(t *testing.T) {
	arena := action.NewArena()
	n := arena.NewAction("Build", action.WithText("Build Project"))
	f := NewFactory("MainToolbar")

	p1 := f.Get(n)
	p2 := f.Get(n)

	assert.Equal(t, "Build Project", p1.Text)
	assert.Same(t, p1, p2, "cache must hand out the same published value")
	assert.Equal(t, 1, f.Len())
	assert.Zero(t, f.Version(n))
}

func TestFactory_PublishSwapsValue(t *testing.T) {
	arena := action.NewArena()
	n := arena.NewAction("Build")
	f := NewFactory("t")

	before := f.Get(n)
	next := before.Clone()
	next.Enabled = false
	f.Publish(n, next)

	assert.True(t, before.Enabled, "published values are never mutated")
	assert.False(t, f.Get(n).Enabled)
	assert.EqualValues(t, 1, f.Version(n))
}

func TestFactory_ApplyMergesBatch(t *testing.T) {
	arena := action.NewArena()
	a := arena.NewAction("A")
	b := arena.NewAction("B")
	f := NewFactory("t")

	updates := map[action.Handle]*action.Presentation{}
	pa := f.Get(a).Clone()
	pa.Selected = true
	pa.PutClientProperty("badge", 3)
	updates[a.Handle()] = pa

	applied := f.Apply([]*action.Node{a, b}, func(n *action.Node) *action.Presentation {
		return updates[n.Handle()]
	})

	assert.Equal(t, 1, applied)
	assert.True(t, f.Get(a).Selected)
	assert.Equal(t, 3, f.Get(a).ClientProperty("badge"))
	assert.Zero(t, f.Version(b))
}

func TestFactory_MarkDirtyRefreshesTemplateFields(t *testing.T) {
	arena := action.NewArena()
	n := arena.NewAction("Run", action.WithText("Run"))
	f := NewFactory("t")

	p := f.Get(n).Clone()
	p.Text = "Run 'tests'"
	p.Enabled = false
	f.Publish(n, p)

	f.MarkDirty()
	got := f.Get(n)

	assert.Equal(t, "Run", got.Text, "text comes back from the template")
	assert.False(t, got.Enabled, "flags survive a refresh")
}

func TestFactory_Reset(t *testing.T) {
	arena := action.NewArena()
	f := NewFactory("t")
	f.Get(arena.NewAction("A"))
	f.Reset()
	assert.Zero(t, f.Len())
}

func TestRegistry_InvalidateAll(t *testing.T) {
	hub := streaming.NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), streaming.EventFilter{
		EventTypes: []string{schema.EventPresentationsInvalidated},
	})
	require.NoError(t, err)
	defer cancel()

	reg := NewRegistry(hub)
	arena := action.NewArena()
	n := arena.NewAction("A", action.WithText("A"))

	f := NewFactory("MainMenu")
	unregister := reg.Register(f)
	p := f.Get(n).Clone()
	p.Text = "changed"
	f.Publish(n, p)

	reg.InvalidateAll(context.Background())
	assert.Equal(t, "A", f.Get(n).Text)

	select {
	case ev := <-ch:
		assert.Equal(t, "MainMenu", ev.Surface)
	case <-time.After(time.Second):
		t.Fatal("no invalidation event")
	}

	unregister()
	assert.Zero(t, reg.Len())
}
