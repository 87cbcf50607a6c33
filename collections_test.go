package vole

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrowCapacityNeverBelowRequested(t *testing.T) {
	for _, c := range []struct{ oldCap, needed int }{
		{0, 1}, {0, 1000}, {8, 9}, {100, 101}, {100, 5000},
	} {
		got := growCapacity(c.oldCap, c.needed)
		assert.GreaterOrEqual(t, got, c.needed, "oldCap=%d needed=%d", c.oldCap, c.needed)
	}
}

func TestGrowCapacityIsGeometricPlusAdditive(t *testing.T) {
	assert.Equal(t, 1024*arrayGrowthNum/arrayGrowthDen+arrayGrowthAdd, growCapacity(1024, 0))
}

func TestValueArrayPushGetSet(t *testing.T) {
	var a ValueArray
	a.Push(BoxNumber(1))
	a.Push(True)
	a.Push(Nil)
	require.Equal(t, 3, a.Len())
	assert.Equal(t, float64(1), a.Get(0).AsNumber())
	a.Set(1, False)
	assert.True(t, a.Get(1).IsFalse())
}

func TestValueArrayEnsureCapacityPreservesContents(t *testing.T) {
	var a ValueArray
	a.Push(BoxNumber(7))
	a.EnsureCapacity(4096)
	require.Equal(t, 1, a.Len())
	assert.Equal(t, float64(7), a.Get(0).AsNumber())
}

func TestValueArrayTruncate(t *testing.T) {
	var a ValueArray
	for i := 0; i < 10; i++ {
		a.Push(BoxNumber(float64(i)))
	}
	a.Truncate(3)
	assert.Equal(t, 3, a.Len())
}

func TestGrowableStringKeepsTrailingNUL(t *testing.T) {
	gs := newGrowableString("abc")
	assert.Equal(t, "abc", gs.String())
	assert.Equal(t, byte(0), gs.buf[len(gs.buf)-1])

	gs.Append("def")
	assert.Equal(t, "abcdef", gs.String())
	assert.Equal(t, byte(0), gs.buf[len(gs.buf)-1], "the NUL terminator survives appends")
}

func TestGrowableStringGrowsAcrossManyAppends(t *testing.T) {
	gs := newGrowableString("")
	for i := 0; i < 100; i++ {
		gs.Append("xy")
	}
	assert.Len(t, gs.String(), 200)
}

func TestSymbolMapGetSetOverwrite(t *testing.T) {
	m := NewSymbolMap()
	_, ok := m.Get(3)
	assert.False(t, ok)

	m.Set(3, BoxNumber(1))
	v, ok := m.Get(3)
	require.True(t, ok)
	assert.Equal(t, float64(1), v.AsNumber())

	m.Set(3, BoxNumber(2))
	v, _ = m.Get(3)
	assert.Equal(t, float64(2), v.AsNumber())
	assert.Equal(t, 1, m.Len(), "overwriting never duplicates an entry")
}

func TestSymbolMapChainsCollidingKeys(t *testing.T) {
	m := NewSymbolMap()
	// Same bucket: keys congruent modulo the bucket count.
	keys := []int{5, 5 + hashBuckets, 5 + 2*hashBuckets}
	for i, k := range keys {
		m.Set(k, BoxNumber(float64(i)))
	}
	for i, k := range keys {
		v, ok := m.Get(k)
		require.True(t, ok, "key %d", k)
		assert.Equal(t, float64(i), v.AsNumber())
	}
	assert.Equal(t, len(keys), m.Len())
}

func TestSymbolMapEachVisitsEveryEntry(t *testing.T) {
	m := NewSymbolMap()
	for i := 0; i < 300; i++ {
		m.Set(i, BoxNumber(float64(i * 2)))
	}
	visited := map[int]float64{}
	m.Each(func(k int, v Value) { visited[k] = v.AsNumber() })
	require.Len(t, visited, 300)
	assert.Equal(t, float64(84), visited[42])
}
