package probe

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe_Sample(t *testing.T) {
	p, err := New()
	require.NoError(t, err)

	s, err := p.Sample()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, s.MemoryMB, int64(0))
	assert.GreaterOrEqual(t, s.HeapMB, int64(0))
}

func TestProbe_HeapGrowsWithLiveAllocation(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	Collect()
	before, err := p.Sample()
	require.NoError(t, err)

	buf := make([]byte, 64<<20)
	for i := range buf {
		buf[i] = byte(i)
	}
	after, err := p.Sample()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, Delta(before.HeapMB, after.HeapMB), int64(32))
	assert.Equal(t, byte(1), buf[1])
}

func TestDelta(t *testing.T) {
	assert.Equal(t, int64(5), Delta(10, 15))
	assert.Equal(t, int64(-7), Delta(10, 3))
	assert.Equal(t, int64(0), Delta(4, 4))
}

func TestPercentGrowth(t *testing.T) {
	assert.Equal(t, Growth{Percent: 50}, PercentGrowth(100, 150))
	assert.Equal(t, Growth{Percent: -25}, PercentGrowth(100, 75))
	assert.Equal(t, Growth{Percent: 33}, PercentGrowth(3, 4))
	assert.Equal(t, "50", PercentGrowth(100, 150).String())
}

// A zero baseline is reported as undefined. Plain integer division would
// fault here.
func TestPercentGrowth_ZeroBaseline(t *testing.T) {
	g := PercentGrowth(0, 5)
	assert.True(t, g.Undefined)
	assert.Equal(t, "NaN", g.String())
	assert.Zero(t, g.Percent)

	assert.True(t, PercentGrowth(0, 0).Undefined)
}

func TestProperty_PercentGrowth(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("growth matches the delta formula for non-zero baselines", prop.ForAll(
		func(baseline, after int64) bool {
			g := PercentGrowth(baseline, after)
			return !g.Undefined && g.Percent == Delta(baseline, after)*100/baseline
		},
		gen.Int64Range(1, 1<<20),
		gen.Int64Range(0, 1<<20),
	))

	properties.Property("no growth when nothing changed", prop.ForAll(
		func(v int64) bool {
			return PercentGrowth(v, v) == Growth{}
		},
		gen.Int64Range(1, 1<<30),
	))

	properties.Property("zero baseline is always undefined", prop.ForAll(
		func(after int64) bool {
			return PercentGrowth(0, after).Undefined
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}
