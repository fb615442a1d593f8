package datactx

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingLive(calls *int64) *Live {
	live := NewLive(nil)
	live.Value(KeyProject, "demo")
	live.Provide(KeySelection, Provider{
		Resolve: func(context.Context) (any, bool) {
			n := atomic.AddInt64(calls, 1)
			return []string{"main.go", string(rune('a' + n))}, true
		},
	})
	return live
}

func TestFreeze_CheapRecordsMissedKeys(t *testing.T) {
	var calls int64
	snap := Freeze(context.Background(), countingLive(&calls), ModeCheap)

	v, ok := snap.Get(context.Background(), KeyProject)
	require.True(t, ok)
	assert.Equal(t, "demo", v)

	_, ok = snap.Get(context.Background(), KeySelection)
	assert.False(t, ok, "slow key must not resolve in a cheap snapshot")
	assert.Equal(t, []Key{KeySelection}, snap.Missed())
	assert.True(t, snap.HasMissed())
	assert.Zero(t, atomic.LoadInt64(&calls), "cheap snapshot must never call a slow provider")
}

func TestFreeze_FullMemoizesPerKey(t *testing.T) {
	var calls int64
	snap := Freeze(context.Background(), countingLive(&calls), ModeFull)

	first, ok := snap.Get(context.Background(), KeySelection)
	require.True(t, ok)
	second, _ := snap.Get(context.Background(), KeySelection)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, atomic.LoadInt64(&calls))
	assert.False(t, snap.HasMissed())
}

func TestFreeze_FullConcurrentReadersSeeOneValue(t *testing.T) {
	var calls int64
	snap := Freeze(context.Background(), countingLive(&calls), ModeFull)

	var wg sync.WaitGroup
	results := make([]any, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = snap.Get(context.Background(), KeySelection)
		}(i)
	}
	wg.Wait()

	for _, r := range results[1:] {
		assert.Equal(t, results[0], r)
	}
}

func TestFreeze_RecordsAbsentKeys(t *testing.T) {
	snap := Freeze(context.Background(), Map{KeyEditor: "e"}, ModeFull)

	_, ok := snap.Get(context.Background(), KeyVirtualFile)
	assert.False(t, ok)
	assert.Equal(t, []Key{KeyVirtualFile}, snap.Absent())
}

func TestFreeze_FromSnapshotKeepsResolvedValues(t *testing.T) {
	var calls int64
	full := Freeze(context.Background(), countingLive(&calls), ModeFull)
	v1, _ := full.Get(context.Background(), KeySelection)

	cheap := Freeze(context.Background(), full, ModeCheap)
	v2, ok := cheap.Get(context.Background(), KeySelection)

	require.True(t, ok)
	assert.Equal(t, v1, v2)
	assert.False(t, cheap.HasMissed())
}

func TestIsAsyncCapable(t *testing.T) {
	assert.False(t, IsAsyncCapable(NewLive(nil)))
	assert.True(t, IsAsyncCapable(Map{}))
	assert.True(t, IsAsyncCapable(Freeze(context.Background(), NewLive(nil), ModeFull)))
}

func TestLive_FallsThroughToParent(t *testing.T) {
	parent := Map{KeyProject: "parent"}
	live := NewLive(parent).Value(KeyEditor, "child")

	v, ok := live.Get(context.Background(), KeyProject)
	require.True(t, ok)
	assert.Equal(t, "parent", v)
	assert.ElementsMatch(t, []Key{KeyEditor, KeyProject}, live.FastKeys())
}
