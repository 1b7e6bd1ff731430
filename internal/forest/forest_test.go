package forest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viettran-edgeAI/rfcore/internal/container"
	"github.com/viettran-edgeAI/rfcore/internal/dataset"
	"github.com/viettran-edgeAI/rfcore/internal/platform"
	"github.com/viettran-edgeAI/rfcore/internal/quantizer"
	"github.com/viettran-edgeAI/rfcore/internal/tree"
)

func row(vals ...uint64) *container.PackedVec {
	p := container.NewPackedVec(4)
	p.Resize(len(vals), 0)
	for i, v := range vals {
		p.Set(i, v)
	}
	return p
}

func separableStore(t *testing.T) *dataset.Store {
	t.Helper()
	s := dataset.New(1, 4)
	s.SetLabelCount(2)
	for v := uint64(0); v < 8; v++ {
		require.NoError(t, s.AppendRow(row(v), 0))
	}
	for v := uint64(8); v < 16; v++ {
		require.NoError(t, s.AppendRow(row(v), 1))
	}
	return s
}

func separableQuantizer(t *testing.T) *quantizer.Quantizer {
	t.Helper()
	q, err := quantizer.New(1, 2, 4)
	require.NoError(t, err)
	q.Rules[0] = quantizer.FeatureRule{Type: quantizer.FullLinear, FMin: 0, FMax: 16}
	return q
}

func TestBuildClassifiesSeparableData(t *testing.T) {
	store := separableStore(t)
	q := separableQuantizer(t)
	labels := dataset.FromNames([]string{"low", "high"})
	rf := New(q, labels)

	cfg := &Config{NumFeatures: 1, NumLabels: 2, QuantizationCoefficient: 4, NumTrees: 5, Mtry: 1, MaxDepth: -1, MinLeaf: 1}
	rng := platform.NewEntropy(42)
	require.NoError(t, rf.Build(store, cfg, rng, time.Time{}, false))
	require.Len(t, rf.Trees, 5)

	res, err := rf.Predict([]float32{1}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Label)
	assert.Equal(t, "low", res.LabelName)

	res, err = rf.Predict([]float32{15}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Label)
	assert.Equal(t, "high", res.LabelName)
}

func TestBuildComputesOOBScore(t *testing.T) {
	store := separableStore(t)
	q := separableQuantizer(t)
	labels := dataset.FromNames([]string{"low", "high"})
	rf := New(q, labels)

	cfg := &Config{NumFeatures: 1, NumLabels: 2, QuantizationCoefficient: 4, NumTrees: 10, Mtry: 1, MaxDepth: -1, MinLeaf: 1}
	rng := platform.NewEntropy(7)
	require.NoError(t, rf.Build(store, cfg, rng, time.Time{}, false))

	assert.False(t, math.IsNaN(rf.Config.OOBScore))
	assert.GreaterOrEqual(t, rf.Config.OOBScore, 0.0)
	assert.LessOrEqual(t, rf.Config.OOBScore, 1.0)
}

func TestBuildParallelMatchesTreeCount(t *testing.T) {
	store := separableStore(t)
	q := separableQuantizer(t)
	labels := dataset.FromNames([]string{"low", "high"})
	rf := New(q, labels)

	cfg := &Config{NumFeatures: 1, NumLabels: 2, QuantizationCoefficient: 4, NumTrees: 6, Mtry: 1, MaxDepth: -1, MinLeaf: 1}
	rng := platform.NewEntropy(9)
	require.NoError(t, rf.Build(store, cfg, rng, time.Time{}, true))
	assert.Len(t, rf.Trees, 6)
}

func TestWarmupPredictionRequiresTrees(t *testing.T) {
	q := separableQuantizer(t)
	labels := dataset.FromNames([]string{"low", "high"})
	rf := New(q, labels)
	assert.Error(t, rf.WarmupPrediction())
}

func TestWarmupPredictionIsIdempotent(t *testing.T) {
	store := separableStore(t)
	q := separableQuantizer(t)
	labels := dataset.FromNames([]string{"low", "high"})
	rf := New(q, labels)
	cfg := &Config{NumFeatures: 1, NumLabels: 2, QuantizationCoefficient: 4, NumTrees: 3, Mtry: 1, MaxDepth: -1, MinLeaf: 1}
	require.NoError(t, rf.Build(store, cfg, platform.NewEntropy(1), time.Time{}, false))

	require.NoError(t, rf.WarmupPrediction())
	require.NoError(t, rf.WarmupPrediction())
}

func TestPredictTieBreaksToLowestLabel(t *testing.T) {
	w := tree.NodeWidth(1, 2, 4, 1)
	leafFor := func(label int) *tree.PackedTree {
		pt := tree.NewPackedTree(1, 2, 4, w)
		require.NoError(t, pt.WriteNode(0, tree.NodeView{Kind: tree.NodeLeaf, Label: label}))
		return pt
	}

	rf := &RandomForest{
		Quantizer: separableQuantizer(t),
		Labels:    dataset.FromNames([]string{"a", "b"}),
		Config:    Config{NumLabels: 2},
		clock:     platform.NewClock(),
		Trees:     []*tree.PackedTree{leafFor(0), leafFor(1)},
	}
	res, err := rf.Predict([]float32{5}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Label, "one vote each: tie breaks to the lowest label id")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := separableStore(t)
	q := separableQuantizer(t)
	labels := dataset.FromNames([]string{"low", "high"})
	rf := New(q, labels)
	cfg := &Config{NumFeatures: 1, NumLabels: 2, QuantizationCoefficient: 4, NumTrees: 4, Mtry: 1, MaxDepth: -1, MinLeaf: 1}
	require.NoError(t, rf.Build(store, cfg, platform.NewEntropy(3), time.Time{}, false))

	dir := t.TempDir()
	require.NoError(t, rf.Save(dir, "iris"))

	loaded, err := Load(dir, "iris")
	require.NoError(t, err)
	require.Len(t, loaded.Trees, 4)
	assert.Equal(t, rf.Config.NumFeatures, loaded.Config.NumFeatures)
	assert.ElementsMatch(t, []string{"low", "high"}, loaded.Labels.Names())

	resBefore, err := rf.Predict([]float32{2}, false)
	require.NoError(t, err)
	resAfter, err := loaded.Predict([]float32{2}, false)
	require.NoError(t, err)
	assert.Equal(t, resBefore.Label, resAfter.Label)
}
