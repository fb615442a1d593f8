package presentation

import (
	"testing"

	"github.com/rendis/actionkit/pkg/action"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_Render(t *testing.T) {
	arena := action.NewArena()
	build := arena.NewAction("Build", action.WithText("Build Project"))
	vcs := arena.NewGroup("Vcs", action.WithText("VCS"), action.Popup())
	sep := arena.NewSeparator("")
	titled := arena.NewSeparator("Tools")
	f := NewFactory("t")

	gen := f.Get(vcs).Clone()
	gen.Enabled = false
	gen.PutClientProperty(action.PropPerformOnly, true)
	f.Publish(vcs, gen)

	items := f.Render([]*action.Node{build, sep, vcs, titled})
	require.Len(t, items, 4)
	assert.Equal(t, Item{ID: "Build", Text: "Build Project", Enabled: true}, items[0])
	assert.True(t, items[1].Separator)
	assert.Equal(t, Item{ID: "Vcs", Text: "VCS", Popup: true, PerformOnly: true}, items[2])

	assert.Equal(t, "Build Project", items[0].Line())
	assert.Equal(t, "----", items[1].Line())
	assert.Equal(t, "VCS > (disabled) (action)", items[2].Line())
	assert.Equal(t, "---- Tools ----", items[3].Line())
}
