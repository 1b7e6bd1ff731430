package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viettran-edgeAI/rfcore/internal/container"
	"github.com/viettran-edgeAI/rfcore/internal/platform"
	"github.com/viettran-edgeAI/rfcore/internal/quantizer"
)

func row(vals ...uint64) *container.PackedVec {
	p := container.NewPackedVec(4)
	p.Resize(len(vals), 0)
	for i, v := range vals {
		p.Set(i, v)
	}
	return p
}

func TestAppendAndGet(t *testing.T) {
	s := New(3, 4)
	s.SetLabelCount(2)
	require.NoError(t, s.AppendRow(row(1, 2, 3), 0))
	require.NoError(t, s.AppendRow(row(4, 5, 6), 1))

	assert.Equal(t, 2, s.Size())
	assert.Equal(t, uint16(5), s.GetFeature(1, 1))
	assert.Equal(t, 1, s.GetLabel(1))
	assert.Equal(t, Full, s.Mode())
}

func TestAppendRowWrongWidthErrors(t *testing.T) {
	s := New(3, 4)
	s.SetLabelCount(2)
	err := s.AppendRow(row(1, 2), 0)
	assert.Error(t, err)
}

func TestPartialModeSlidesWindow(t *testing.T) {
	s := NewPartial(1, 4, 3)
	s.SetLabelCount(2)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendRow(row(uint64(i)), i%2))
	}
	assert.Equal(t, Partial, s.Mode())
	assert.Equal(t, 3, s.Size())
	assert.Equal(t, uint16(2), s.GetFeature(0, 0)) // oldest two (0,1) dropped
	assert.Equal(t, uint16(4), s.GetFeature(2, 0))

	err := s.RequireFull("cross_validate")
	assert.ErrorIs(t, err, ErrPartialMode)
}

func TestTrimFIFO(t *testing.T) {
	s := New(1, 4)
	s.SetLabelCount(2)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.AppendRow(row(uint64(i)), 0))
	}
	s.TrimFIFO(2)
	assert.Equal(t, 2, s.Size())
	assert.Equal(t, uint16(2), s.GetFeature(0, 0))
	assert.Equal(t, uint16(3), s.GetFeature(1, 0))
}

func TestApplyRemapFilterIdentityIsNoop(t *testing.T) {
	s := New(2, 3)
	s.SetLabelCount(2)
	require.NoError(t, s.AppendRow(row(1, 2), 0))

	filter := quantizer.Identity(2, 8)
	require.NoError(t, s.ApplyRemapFilter(filter))
	assert.Equal(t, uint16(1), s.GetFeature(0, 0))
	assert.Equal(t, uint16(2), s.GetFeature(0, 1))
}

func TestApplyRemapFilterShiftsThenReverses(t *testing.T) {
	s := New(1, 3)
	s.SetLabelCount(2)
	require.NoError(t, s.AppendRow(row(5), 0))

	fwd := quantizer.Identity(1, 8)
	fwd.PerFeature[0][5] = 2
	inv := quantizer.Identity(1, 8)
	inv.PerFeature[0][2] = 5

	require.NoError(t, s.ApplyRemapFilter(fwd))
	assert.Equal(t, uint16(2), s.GetFeature(0, 0))
	require.NoError(t, s.ApplyRemapFilter(inv))
	assert.Equal(t, uint16(5), s.GetFeature(0, 0))
}

func TestBagSampleInRange(t *testing.T) {
	s := New(1, 2)
	s.SetLabelCount(2)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.AppendRow(row(uint64(i%3)), 0))
	}
	e := platform.NewEntropy(7)
	for i := 0; i < 50; i++ {
		idx := s.BagSample(e)
		assert.True(t, idx >= 0 && idx < s.Size())
	}
}

func TestChunkIterCoversAllRows(t *testing.T) {
	s := New(2, 4)
	s.SetLabelCount(2)
	for i := 0; i < 7; i++ {
		require.NoError(t, s.AppendRow(row(uint64(i), uint64(i+1)), 0))
	}
	seen := 0
	s.ChunkIter(3, func(b []byte) bool {
		seen += len(b)
		return true
	})
	wantBytes := (s.Size()*2*4 + 7) / 8
	assert.Equal(t, wantBytes, seen)
}

func TestLoadCSVValidatesQuantizedRange(t *testing.T) {
	csvData := "f0,f1,label\n1,2,setosa\n99,1,versicolor\n"
	_, err := LoadCSV(strings.NewReader(csvData), LoadCSVOptions{F: 2, K: 3})
	assert.Error(t, err) // 99 >= 2^3
}

func TestLoadCSVRoundTrip(t *testing.T) {
	csvData := "f0,f1,label\n1,2,setosa\n3,4,versicolor\n1,1,setosa\n"
	bimap := NewLabelBimap()
	s, err := LoadCSV(strings.NewReader(csvData), LoadCSVOptions{F: 2, K: 4, Bimap: bimap})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Size())
	assert.Equal(t, 2, bimap.Len())
	name, ok := bimap.Name(s.GetLabel(0))
	require.True(t, ok)
	assert.Equal(t, "setosa", name)
}
