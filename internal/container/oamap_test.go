package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viettran-edgeAI/rfcore/internal/alloc"
)

func TestOAMapSetGetAndGrow(t *testing.T) {
	m := NewOAMap[int, int](4, 75, HashInt[int])
	for i := 0; i < 20; i++ {
		m.Set(i, i*i)
	}
	assert.Equal(t, 20, m.Size())
	for i := 0; i < 20; i++ {
		v, ok := m.Get(i)
		require.True(t, ok)
		assert.Equal(t, i*i, v)
	}
}

func TestOAMapEraseThenReinsert(t *testing.T) {
	m := NewOAMap[string, int](4, 75, func(s string) uint64 { return HashString(s) })
	m.Set("a", 1)
	m.Set("b", 2)
	require.True(t, m.Erase("a"))
	_, ok := m.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, m.Size())

	m.Set("a", 3)
	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestOAMapWithAllocatorPreservesAllocatorAcrossGrowth(t *testing.T) {
	m := NewOAMapWithAllocator[int, int](4, 75, HashInt[int], alloc.NewHostAllocator(), alloc.Any)
	for i := 0; i < 100; i++ {
		m.Set(i, i)
	}
	assert.Equal(t, 100, m.Size())
	v, ok := m.Get(42)
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestOAMapFitShrinksAfterManyErases(t *testing.T) {
	m := NewOAMap[int, int](64, 75, HashInt[int])
	for i := 0; i < 40; i++ {
		m.Set(i, i)
	}
	for i := 0; i < 35; i++ {
		m.Erase(i)
	}
	before := m.Capacity()
	m.Fit()
	assert.LessOrEqual(t, m.Capacity(), before)
	for i := 35; i < 40; i++ {
		_, ok := m.Get(i)
		assert.True(t, ok)
	}
}
