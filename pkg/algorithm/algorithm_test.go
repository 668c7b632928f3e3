package algorithm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcon/flowcon/pkg/container"
	"github.com/flowcon/flowcon/pkg/runtime"
)

func newHandle(t *testing.T, rt *runtime.FakeRuntime, id string) *container.Handle {
	t.Helper()
	rt.SeedContainer(id)
	return container.New(id, rt)
}

func floatPtr(f float64) *float64 { return &f }

// S1: a single container with growth below alpha for two consecutive
// ticks moves Active -> Watching -> Completing.
func TestClassifyS1WatchingThenCompleting(t *testing.T) {
	rt := runtime.NewFakeRuntime()
	h := newHandle(t, rt, "c1")

	classify(h, 0.01, 0.05)
	assert.True(t, h.Watching(), "after tick 1, state should be Watching")

	classify(h, 0.01, 0.05)
	assert.True(t, h.Completing(), "after tick 2, state should be Completing")
}

// S1 continued: once every container is Completing, drain freezes each
// at min(1.5/n, 1) of the core count.
func TestDrainS1SingleContainer(t *testing.T) {
	rt := runtime.NewFakeRuntime()
	h := newHandle(t, rt, "c1")
	h.State = container.Completing

	require.NoError(t, drain(context.Background(), []*container.Handle{h}, 4))
	assert.True(t, h.Frozen, "drain should freeze the container")
	assert.Equal(t, 4.0, h.CPULimit, "min(1.5/1,1)*4")
}

// S2: two active containers, growth 0.2 and 0.8, redistribute grows both
// in proportion to their share of the growth sum.
func TestRedistributeS2TwoActiveContainers(t *testing.T) {
	rt := runtime.NewFakeRuntime()
	a := newHandle(t, rt, "a")
	b := newHandle(t, rt, "b")
	a.CPULimit = 2.0
	b.CPULimit = 2.0

	growths := []*float64{floatPtr(0.2), floatPtr(0.8)}
	ignore := []bool{false, false}
	p := Params{CoreCount: 4, NoUpdate: false}

	require.NoError(t, redistribute(context.Background(), []*container.Handle{a, b}, growths, ignore, p))

	assert.Greater(t, a.CPULimit, 2.0)
	assert.Less(t, a.CPULimit, b.CPULimit, "a should grow less than b")
	assert.LessOrEqual(t, a.CPULimit, 4.0)
	assert.LessOrEqual(t, b.CPULimit, 4.0)
}

// S3: three containers all Completing drains each to an equal
// min(1.5/3, 1) = 0.5 share of the core count.
func TestDrainS3ThreeContainersAllCompleting(t *testing.T) {
	rt := runtime.NewFakeRuntime()
	handles := []*container.Handle{
		newHandle(t, rt, "a"),
		newHandle(t, rt, "b"),
		newHandle(t, rt, "c"),
	}
	for _, h := range handles {
		h.State = container.Completing
	}

	require.NoError(t, drain(context.Background(), handles, 4))

	want := 1.5 / 3.0 * 4
	for _, h := range handles {
		assert.True(t, h.Frozen, "%s should be frozen", h.ID)
		assert.InDelta(t, want, h.CPULimit, 1e-9, "%s CPULimit", h.ID)
	}
}

// S4: one ignored container (growth nil) retains its prior limit; only
// the active container's limit changes.
func TestRedistributeS4IgnoredContainerUnchanged(t *testing.T) {
	rt := runtime.NewFakeRuntime()
	ignored := newHandle(t, rt, "ignored")
	active := newHandle(t, rt, "active")
	ignored.CPULimit = 1.5
	active.CPULimit = 1.5

	growths := []*float64{nil, floatPtr(0.3)}
	ignoreFlags := []bool{true, false}
	p := Params{CoreCount: 4, NoUpdate: false}

	require.NoError(t, redistribute(context.Background(), []*container.Handle{ignored, active}, growths, ignoreFlags, p))

	assert.Equal(t, 1.5, ignored.CPULimit, "ignored container should be unchanged")
	assert.NotEqual(t, 1.5, active.CPULimit, "active container should have changed")
}

func TestClassifyResetsToActiveAboveAlpha(t *testing.T) {
	rt := runtime.NewFakeRuntime()
	h := newHandle(t, rt, "c1")
	h.State = container.Watching

	classify(h, 0.5, 0.05)
	assert.Equal(t, container.Active, h.State)
}

func TestHoldFrozenReassertsLimit(t *testing.T) {
	rt := runtime.NewFakeRuntime()
	h := newHandle(t, rt, "c1")
	h.Frozen = true

	require.NoError(t, holdFrozenAndWatching(context.Background(), []*container.Handle{h}, Params{CoreCount: 4}))
	assert.Equal(t, 4.0, h.CPULimit, "1/1 share of 4 cores")
}

func TestHoldWatchingGetsOnePointFiveOverN(t *testing.T) {
	rt := runtime.NewFakeRuntime()
	h := newHandle(t, rt, "c1")
	h.State = container.Watching

	require.NoError(t, holdFrozenAndWatching(context.Background(), []*container.Handle{h}, Params{CoreCount: 4}))
	assert.Equal(t, 6.0, h.CPULimit, "1.5/1 share of 4 cores")
}

func TestNoUpdateSkipsAllWrites(t *testing.T) {
	rt := runtime.NewFakeRuntime()
	h := newHandle(t, rt, "c1")
	h.Frozen = true
	h.CPULimit = 2.0

	require.NoError(t, holdFrozenAndWatching(context.Background(), []*container.Handle{h}, Params{CoreCount: 4, NoUpdate: true}))
	assert.Equal(t, 2.0, h.CPULimit, "unchanged under NoUpdate")
}
