package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viettran-edgeAI/rfcore/internal/alloc"
)

func TestPackedVecPushBackAndGetRoundTrip(t *testing.T) {
	p := NewPackedVec(13)
	for i := uint64(0); i < 50; i++ {
		p.PushBack(i * 7 % (1 << 13))
	}
	for i := uint64(0); i < 50; i++ {
		assert.Equal(t, i*7%(1<<13), p.Get(int(i)))
	}
}

func TestPackedVecWideWidthRoundTrip(t *testing.T) {
	p := NewPackedVec(60)
	vals := []uint64{0, 1, 1<<59 - 1, 1 << 58, (1 << 60) - 1}
	for _, v := range vals {
		p.PushBack(v)
	}
	for i, v := range vals {
		assert.Equal(t, v, p.Get(i), "wide element %d round-trips without losing top bits", i)
	}
}

func TestPackedVecWithAllocatorDelegatesToHost(t *testing.T) {
	p := NewPackedVecWithAllocator(8, nil, alloc.Any)
	p.PushBack(42)
	assert.Equal(t, uint64(42), p.Get(0))
}

func TestPackedVecReserveCheckedSurfacesOutOfMemory(t *testing.T) {
	a := alloc.NewExternalPreferred(4, 0)
	p := NewPackedVecWithAllocator(32, a, alloc.Internal)

	err := p.ReserveChecked(1) // 4 bytes needed, exactly the arena's size
	require.NoError(t, err)

	err = p.ReserveChecked(2) // needs 8 bytes total, arena only has 4
	require.Error(t, err)
	assert.ErrorIs(t, err, alloc.ErrOutOfMemory)
}

func TestPackedVecFitShrinksToSize(t *testing.T) {
	p := NewPackedVec(8)
	for i := 0; i < 5; i++ {
		p.PushBack(uint64(i))
	}
	before := len(p.Bytes())
	p.Fit()
	assert.LessOrEqual(t, len(p.Bytes()), before)
	assert.Equal(t, 5, len(p.Bytes()))
}

func TestPackedVecEqual(t *testing.T) {
	a := NewPackedVec(4)
	b := NewPackedVec(4)
	for _, v := range []uint64{1, 2, 3} {
		a.PushBack(v)
		b.PushBack(v)
	}
	assert.True(t, a.Equal(b))
	b.Set(1, 9)
	assert.False(t, a.Equal(b))
}
