package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExternalPreferredRoutesAnyToExternalFirst(t *testing.T) {
	a := NewExternalPreferred(64, 64)

	b, err := a.Alloc(16, Any)
	require.NoError(t, err)
	assert.True(t, a.IsExternal(b))

	st := a.Status()
	assert.True(t, st.HasExternal)
	assert.Equal(t, 48, st.FreeExternal)
	assert.Equal(t, 64, st.FreeInternal)
}

func TestExternalPreferredFallsBackToInternalWhenExternalFull(t *testing.T) {
	a := NewExternalPreferred(64, 16)

	first, err := a.Alloc(16, Any)
	require.NoError(t, err)
	assert.True(t, a.IsExternal(first))

	second, err := a.Alloc(16, Any)
	require.NoError(t, err)
	assert.False(t, a.IsExternal(second), "external arena is exhausted, Any must fall back silently")
}

func TestExternalPreferredExternalClassFailsWithoutExternalArena(t *testing.T) {
	a := NewExternalPreferred(64, 0)

	_, err := a.Alloc(8, External)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoExternal)
}

func TestExternalPreferredOutOfMemory(t *testing.T) {
	a := NewExternalPreferred(8, 0)

	_, err := a.Alloc(16, Internal)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfMemory)
}

func TestFreeReturnsSpanForReuse(t *testing.T) {
	a := NewExternalPreferred(16, 0)

	b, err := a.Alloc(16, Internal)
	require.NoError(t, err)
	a.Free(b)

	st := a.Status()
	assert.Equal(t, 16, st.FreeInternal)

	b2, err := a.Alloc(16, Internal)
	require.NoError(t, err)
	assert.False(t, a.IsExternal(b2))
}

func TestReallocGrowsAndPreservesContent(t *testing.T) {
	a := NewExternalPreferred(64, 0)
	b, err := a.Alloc(4, Internal)
	require.NoError(t, err)
	copy(b.Bytes, []byte{1, 2, 3, 4})

	grown, err := a.Realloc(b, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, grown.Bytes[:4])
	assert.Len(t, grown.Bytes, 8)
}

func TestInternalOnlyRejectsExternal(t *testing.T) {
	a := NewInternalOnly(32)

	_, err := a.Alloc(8, External)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoExternal)

	b, err := a.Alloc(8, Any)
	require.NoError(t, err)
	assert.False(t, a.IsExternal(b))
}

func TestHostAllocatorNeverReportsExternal(t *testing.T) {
	h := NewHostAllocator()

	b, err := h.Alloc(32, External)
	require.NoError(t, err)
	assert.False(t, h.IsExternal(b))
	assert.Len(t, b.Bytes, 32)

	st := h.Status()
	assert.False(t, st.HasExternal)
}

func TestExternalPreferredCallocOverflow(t *testing.T) {
	a := NewExternalPreferred(64, 0)
	_, err := a.Calloc(1<<40, 1<<40, Internal)
	require.Error(t, err)
}
