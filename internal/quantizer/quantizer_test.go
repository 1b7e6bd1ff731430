package quantizer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesBounds(t *testing.T) {
	_, err := New(4, 3, 0)
	assert.Error(t, err)
	_, err = New(4, 3, 9)
	assert.Error(t, err)
	_, err = New(0, 3, 4)
	assert.Error(t, err)

	q, err := New(4, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, 16, q.Groups())
	assert.Len(t, q.Rules, 4)
}

func TestEncodeFullLinearClampsAndDrifts(t *testing.T) {
	q, err := New(2, 2, 2) // groups = 4
	require.NoError(t, err)

	bins, res, err := q.Encode([]float32{0.5, 1.5})
	require.NoError(t, err)
	assert.True(t, res.Drift)
	assert.Equal(t, 1, res.DriftFeature)
	assert.Equal(t, uint64(2), bins.Get(0))
	assert.Equal(t, uint64(3), bins.Get(1)) // clamped to top bin
}

func TestEncodeWrongLengthErrors(t *testing.T) {
	q, err := New(3, 2, 2)
	require.NoError(t, err)
	_, _, err = q.Encode([]float32{1, 2})
	assert.Error(t, err)
}

func TestEncodeDiscreteSet(t *testing.T) {
	q, err := New(1, 2, 2)
	require.NoError(t, err)
	q.Rules[0] = FeatureRule{Type: DiscreteSet, Categories: []float32{1, 2, 3}}

	bins, res, err := q.Encode([]float32{2})
	require.NoError(t, err)
	assert.False(t, res.Drift)
	assert.Equal(t, uint64(1), bins.Get(0))

	_, res2, err := q.Encode([]float32{99})
	require.NoError(t, err)
	assert.True(t, res2.Drift)
}

func TestUpdateDriftWidensRange(t *testing.T) {
	q, err := New(1, 2, 2)
	require.NoError(t, err)
	q.Rules[0].FMin, q.Rules[0].FMax = 0, 1

	filter, err := q.UpdateDrift([]DriftSample{{Feature: 0, Value: 2.0}})
	require.NoError(t, err)
	assert.Equal(t, float32(2.0), q.Rules[0].FMax)
	assert.Len(t, filter.PerFeature, 1)
}

func TestUpdateDriftRejectsOutOfRangeFeature(t *testing.T) {
	q, err := New(1, 2, 2)
	require.NoError(t, err)
	_, err = q.UpdateDrift([]DriftSample{{Feature: 5, Value: 1}})
	assert.Error(t, err)
}

type fakeOccupancy map[[2]int]int

func (f fakeOccupancy) CountFeatureBin(feature, bin int) int { return f[[2]int{feature, bin}] }

func TestShrinkFIFOCollapsesEmptyEdgeBins(t *testing.T) {
	q, err := New(1, 2, 3) // groups = 8
	require.NoError(t, err)
	q.Rules[0] = FeatureRule{
		Type:  CustomEdges,
		FMin:  0,
		FMax:  8,
		Scale: 8192,
		Edges: []uint16{1024, 2048, 3072, 4096, 5120, 6144, 7168},
	}
	occ := fakeOccupancy{}
	for b := 2; b < 6; b++ {
		occ[[2]int{0, b}] = 1
	}

	filter, err := q.ShrinkFIFO(occ)
	require.NoError(t, err)
	require.Len(t, filter.PerFeature, 1)
	assert.Equal(t, uint16(0), filter.PerFeature[0][0])
	assert.Equal(t, uint16(0), filter.PerFeature[0][1])
	assert.Less(t, len(q.Rules[0].Edges), 7)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	q, err := New(2, 2, 3)
	require.NoError(t, err)
	q.ZScoreClamp = true
	q.Rules[0] = FeatureRule{Type: FullLinear, FMin: -1, FMax: 1, Mean: 0, StdDev: 0.5}
	q.Rules[1] = FeatureRule{Type: CustomEdges, FMin: 0, FMax: 10, Scale: 6553, Edges: []uint16{1000, 3000, 5000}}
	q.LabelNames = []string{"setosa", "versicolor"}

	var buf bytes.Buffer
	require.NoError(t, q.Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, q.F, loaded.F)
	assert.Equal(t, q.L, loaded.L)
	assert.Equal(t, q.Groups(), loaded.Groups())
	assert.Equal(t, q.LabelNames, loaded.LabelNames)
	assert.Equal(t, q.Rules[0].FMin, loaded.Rules[0].FMin)
	assert.Equal(t, q.Rules[1].Edges, loaded.Rules[1].Edges)
}
