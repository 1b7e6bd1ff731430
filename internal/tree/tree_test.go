package tree

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viettran-edgeAI/rfcore/internal/container"
	"github.com/viettran-edgeAI/rfcore/internal/platform"
)

func TestNodeWidthRoundsToNibble(t *testing.T) {
	w := NodeWidth(4, 3, 4, 7)
	assert.Equal(t, 0, w%4)
	assert.GreaterOrEqual(t, w, 4)
}

func TestWriteReadNodeRoundTrip(t *testing.T) {
	w := NodeWidth(4, 3, 4, 8)
	pt := NewPackedTree(4, 3, 4, w)
	require.NoError(t, pt.WriteNode(0, NodeView{Kind: NodeSplit, Feature: 2, Threshold: 9, Left: 1}))
	require.NoError(t, pt.WriteNode(1, NodeView{Kind: NodeLeaf, Label: 2}))
	require.NoError(t, pt.WriteNode(2, NodeView{Kind: NodeLeaf, Label: 0}))

	nv, err := pt.ReadNode(0)
	require.NoError(t, err)
	assert.Equal(t, NodeSplit, nv.Kind)
	assert.Equal(t, 2, nv.Feature)
	assert.Equal(t, uint64(9), nv.Threshold)
	assert.Equal(t, 1, nv.Left)

	leaf, err := pt.ReadNode(1)
	require.NoError(t, err)
	assert.Equal(t, NodeLeaf, leaf.Kind)
	assert.Equal(t, 2, leaf.Label)
}

type fakeRows struct {
	features [][]uint16
	labels   []int
}

func (r *fakeRows) GetFeature(sample, feature int) uint16 { return r.features[sample][feature] }
func (r *fakeRows) GetLabel(sample int) int               { return r.labels[sample] }

func sampleRow(bins ...uint64) *container.PackedVec {
	p := container.NewPackedVec(4)
	p.Resize(len(bins), 0)
	for i, b := range bins {
		p.Set(i, b)
	}
	return p
}

func TestTrainSeparableTwoClass(t *testing.T) {
	rows := &fakeRows{
		features: [][]uint16{{0}, {1}, {2}, {13}, {14}, {15}},
		labels:   []int{0, 0, 0, 1, 1, 1},
	}
	indices := []int{0, 1, 2, 3, 4, 5}
	cfg := NewConfig(MinLeaf(1), MinSplit(2))
	rng := platform.NewEntropy(1)

	pt, err := Train(rows, indices, 1, 2, 4, cfg, rng, time.Time{})
	require.NoError(t, err)
	require.Greater(t, pt.NodeCount(), 1)

	for i, feats := range rows.features {
		label, err := pt.Walk(sampleRow(uint64(feats[0])))
		require.NoError(t, err)
		assert.Equal(t, rows.labels[i], label, "sample %d", i)
	}
}

func TestTrainPureLabelsProducesSingleLeaf(t *testing.T) {
	rows := &fakeRows{
		features: [][]uint16{{0}, {1}, {2}},
		labels:   []int{1, 1, 1},
	}
	cfg := NewConfig()
	rng := platform.NewEntropy(2)
	pt, err := Train(rows, []int{0, 1, 2}, 1, 2, 2, cfg, rng, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, pt.NodeCount())
	nv, err := pt.ReadNode(0)
	require.NoError(t, err)
	assert.Equal(t, NodeLeaf, nv.Kind)
	assert.Equal(t, 1, nv.Label)
}

func TestTrainRespectsPastDeadline(t *testing.T) {
	rows := &fakeRows{
		features: [][]uint16{{0}, {1}, {2}, {3}},
		labels:   []int{0, 1, 0, 1},
	}
	cfg := NewConfig()
	rng := platform.NewEntropy(3)
	past := time.Now().Add(-time.Hour)
	pt, err := Train(rows, []int{0, 1, 2, 3}, 1, 2, 2, cfg, rng, past)
	require.NoError(t, err)
	assert.Equal(t, 1, pt.NodeCount()) // deadline already passed: root finalised as leaf
}

func TestGiniAndEntropyImpurity(t *testing.T) {
	pure := []int{10, 0}
	mixed := []int{5, 5}
	assert.Equal(t, 0.0, giniImpurity(10, pure))
	assert.InDelta(t, 0.5, giniImpurity(10, mixed), 1e-9)
	assert.Equal(t, 0.0, entropyImpurity(10, pure))
	assert.InDelta(t, 1.0, entropyImpurity(10, mixed), 1e-9)
}
