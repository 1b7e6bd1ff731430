package forest

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/viettran-edgeAI/rfcore/internal/alloc"
	"github.com/viettran-edgeAI/rfcore/internal/container"
	"github.com/viettran-edgeAI/rfcore/internal/dataset"
	"github.com/viettran-edgeAI/rfcore/internal/platform"
	"github.com/viettran-edgeAI/rfcore/internal/quantizer"
	"github.com/viettran-edgeAI/rfcore/internal/tree"
)

// stackVoteLimit is the label count at or below which Predict uses a stack
// array for vote tallying instead of container.OAMap (spec §4.8).
const stackVoteLimit = 32

// RandomForest owns a trained ensemble of PackedTrees over one quantizer
// and label bimap, plus the hyperparameters and metrics that round-trip
// through _config.json.
type RandomForest struct {
	Trees     []*tree.PackedTree
	Quantizer *quantizer.Quantizer
	Labels    *dataset.LabelBimap
	Config    Config

	oob []map[int]bool // per-tree out-of-bag row indices, from the last Build

	clock *platform.Clock
	alloc alloc.Allocator
	class alloc.Class
	debug *platform.DebugSink
}

// New returns an empty forest ready for Build, over the given quantizer
// and label bimap, with tree buffers drawn from a host allocator and
// tracing suppressed. Use NewWithContext to supply a real Allocator/Class
// and DebugSink (spec §4.3/§9: "containers take the allocator as a
// construction parameter"; spec §7's per-tree/per-chunk traces).
func New(q *quantizer.Quantizer, labels *dataset.LabelBimap) *RandomForest {
	return NewWithContext(q, labels, alloc.NewHostAllocator(), alloc.Any, platform.NewDebugSink(platform.DebugNone))
}

// NewWithContext is New over a caller-chosen Allocator/Class and DebugSink.
func NewWithContext(q *quantizer.Quantizer, labels *dataset.LabelBimap, a alloc.Allocator, class alloc.Class, debug *platform.DebugSink) *RandomForest {
	if a == nil {
		a = alloc.NewHostAllocator()
	}
	if debug == nil {
		debug = platform.NewDebugSink(platform.DebugNone)
	}
	return &RandomForest{Quantizer: q, Labels: labels, clock: platform.NewClock(), alloc: a, class: class, debug: debug}
}

// defaultMtry is floor(sqrt(f)), spec §4.8's default feature-sample count.
func defaultMtry(f int) int {
	m := int(math.Sqrt(float64(f)))
	if m < 1 {
		m = 1
	}
	return m
}

// Build trains Config.NumTrees trees over store, bootstrap-sampling each
// tree's row set with replacement and recording its out-of-bag indices
// for OOBScore (spec §4.8). Trees train sequentially unless parallel is
// true, in which case every tree trains on its own goroutine (a
// host-only path; MCU builds never set this).
func (f *RandomForest) Build(store *dataset.Store, cfg *Config, rng *platform.Entropy, deadline time.Time, parallel bool) error {
	if cfg.NumFeatures <= 0 || cfg.NumLabels <= 0 {
		return errors.Errorf("forest: invalid config F=%d L=%d", cfg.NumFeatures, cfg.NumLabels)
	}
	mtry := cfg.Mtry
	if mtry <= 0 {
		mtry = defaultMtry(cfg.NumFeatures)
	}
	n := store.Size()
	if n == 0 {
		return errors.New("forest: cannot build over an empty dataset")
	}

	treeCfg := tree.NewConfig(
		tree.MinLeaf(max1(cfg.MinLeaf)),
		tree.MinSplit(2),
		tree.MaxDepth(cfg.MaxDepth),
		tree.Mtry(mtry),
		tree.WithAllocator(f.allocator(), f.class),
	)

	numTrees := cfg.NumTrees
	if numTrees <= 0 {
		numTrees = 1
	}

	// Seeds are drawn sequentially from rng before any goroutine starts,
	// so a parallel build is reproducible for a given rng regardless of
	// goroutine scheduling.
	seeds := make([]uint64, numTrees)
	for i := range seeds {
		seeds[i] = uint64(rng.IntN(1<<31-1))<<32 | uint64(rng.IntN(1<<31-1))
	}

	trained := make([]*tree.PackedTree, numTrees)
	oob := make([]map[int]bool, numTrees)
	errs := make([]error, numTrees)

	buildOne := func(i int, seed uint64) {
		treeRng := platform.NewEntropy(seed)
		inBag := make(map[int]bool, n)
		indices := make([]int, n)
		for j := 0; j < n; j++ {
			s := store.BagSample(treeRng)
			indices[j] = s
			inBag[s] = true
		}
		outOfBag := make(map[int]bool, n-len(inBag))
		for j := 0; j < n; j++ {
			if !inBag[j] {
				outOfBag[j] = true
			}
		}
		pt, err := tree.Train(store, indices, cfg.NumFeatures, cfg.NumLabels, cfg.QuantizationCoefficient, treeCfg, treeRng, deadline)
		trained[i] = pt
		oob[i] = outOfBag
		errs[i] = err
		if err == nil {
			f.debugSink().Tracef("forest: trained tree[%d] nodes=%d oob=%d", i, pt.NodeCount(), len(outOfBag))
		}
	}

	if parallel {
		var wg sync.WaitGroup
		for i := 0; i < numTrees; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				buildOne(i, seeds[i])
			}(i)
		}
		wg.Wait()
	} else {
		for i := 0; i < numTrees; i++ {
			buildOne(i, seeds[i])
		}
	}

	for i, err := range errs {
		if err != nil {
			return errors.Wrapf(err, "forest: train tree[%d]", i)
		}
	}

	f.Trees = trained
	f.oob = oob
	f.Config = *cfg
	score, err := f.OOBScore(store)
	if err == nil {
		f.Config.OOBScore = score
	}
	return nil
}

// allocator returns f.alloc, defaulting to a host allocator for forests
// constructed directly (e.g. by Load) without going through New/NewWithContext.
func (f *RandomForest) allocator() alloc.Allocator {
	if f.alloc == nil {
		return alloc.NewHostAllocator()
	}
	return f.alloc
}

// debugSink returns f.debug, defaulting to a suppressed sink.
func (f *RandomForest) debugSink() *platform.DebugSink {
	if f.debug == nil {
		return platform.NewDebugSink(platform.DebugNone)
	}
	return f.debug
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// OOBScore returns the fraction of rows correctly classified by the
// majority vote of only the trees for which that row was out-of-bag
// (spec §4.8's free validation estimate). Rows never out-of-bag for any
// tree are skipped.
func (f *RandomForest) OOBScore(store *dataset.Store) (float64, error) {
	if len(f.Trees) == 0 || len(f.oob) != len(f.Trees) {
		return 0, errors.New("forest: no out-of-bag bookkeeping, call Build first")
	}
	n := store.Size()
	correct, total := 0, 0
	for row := 0; row < n; row++ {
		counts := make([]int, f.Config.NumLabels)
		any := false
		for ti, t := range f.Trees {
			if !f.oob[ti][row] {
				continue
			}
			sample := rowSample(store, row, f.Config.NumFeatures)
			label, err := t.Walk(sample)
			if err != nil {
				return 0, errors.Wrapf(err, "forest: oob walk tree[%d] row[%d]", ti, row)
			}
			counts[label]++
			any = true
		}
		if !any {
			continue
		}
		total++
		if argmax(counts) == store.GetLabel(row) {
			correct++
		}
	}
	if total == 0 {
		return math.NaN(), nil
	}
	return float64(correct) / float64(total), nil
}

func rowSample(store *dataset.Store, row, f int) *container.PackedVec {
	pv := container.NewPackedVec(8) // width is irrelevant to Walk; only Get(feature) is read
	pv.Resize(f, 0)
	for i := 0; i < f; i++ {
		pv.Set(i, uint64(store.GetFeature(row, i)))
	}
	return pv
}

func argmax(counts []int) int {
	best, bestCt := 0, -1
	for label, c := range counts {
		if c > bestCt {
			bestCt = c
			best = label
		}
	}
	return best
}

// WarmupPrediction walks a constant all-zero sample through every tree.
// It is idempotent and side-effect free; its purpose is to pre-touch
// every tree's packed buffer once so the first real Predict call after
// a cold load doesn't pay a page-fault/cache-miss tax (spec §4.8).
func (f *RandomForest) WarmupPrediction() error {
	if len(f.Trees) == 0 {
		return errors.New("forest: no trees to warm up")
	}
	sample := container.NewPackedVec(f.Quantizer.K)
	sample.Resize(f.Quantizer.F, 0)
	for i, t := range f.Trees {
		if _, err := t.Walk(sample); err != nil {
			return errors.Wrapf(err, "forest: warm up tree[%d]", i)
		}
	}
	return nil
}

// PredictResult is one Predict call's outcome.
type PredictResult struct {
	Label         int
	LabelName     string
	ElapsedMicros int64
	Votes         []int // per-label vote counts, nil unless requested
}

// Predict quantizes x, walks every tree, and returns the majority-vote
// label (ties broken by lowest label id), per spec §4.8. withVotes
// requests the per-label vote breakdown in the result.
func (f *RandomForest) Predict(x []float32, withVotes bool) (PredictResult, error) {
	if len(f.Trees) == 0 {
		return PredictResult{}, errors.New("forest: no trees, call Build or Load first")
	}
	start := f.clock.Now()
	bins, _, err := f.Quantizer.Encode(x)
	if err != nil {
		return PredictResult{}, errors.Wrap(err, "forest: quantize sample")
	}

	l := f.Config.NumLabels
	if l <= 0 {
		l = f.Quantizer.L
	}

	var label int
	var votes []int
	if l <= stackVoteLimit {
		var stack [stackVoteLimit]uint16
		for i, t := range f.Trees {
			lab, err := t.Walk(bins)
			if err != nil {
				return PredictResult{}, errors.Wrapf(err, "forest: walk tree[%d]", i)
			}
			stack[lab]++
		}
		bestCt := -1
		for lab := 0; lab < l; lab++ {
			if int(stack[lab]) > bestCt {
				bestCt = int(stack[lab])
				label = lab
			}
		}
		if withVotes {
			votes = make([]int, l)
			for lab := 0; lab < l; lab++ {
				votes[lab] = int(stack[lab])
			}
		}
	} else {
		tally := container.NewOAMapWithAllocator[int, int](l, 75, container.HashInt[int], f.allocator(), f.class)
		for i, t := range f.Trees {
			lab, err := t.Walk(bins)
			if err != nil {
				return PredictResult{}, errors.Wrapf(err, "forest: walk tree[%d]", i)
			}
			c, _ := tally.Get(lab)
			tally.Set(lab, c+1)
		}
		bestCt := -1
		tally.Iter(func(lab, c int) bool {
			if c > bestCt || (c == bestCt && lab < label) {
				bestCt = c
				label = lab
			}
			return true
		})
		if withVotes {
			votes = make([]int, l)
			tally.Iter(func(lab, c int) bool {
				votes[lab] = c
				return true
			})
		}
	}

	name, _ := f.Labels.Name(label)
	return PredictResult{
		Label:         label,
		LabelName:     name,
		ElapsedMicros: f.clock.ElapsedMicros(start),
		Votes:         votes,
	}, nil
}

// modelFiles are the three on-disk artefacts a saved forest occupies
// (spec §6): the JSON config, the quantizer's QTZ4 blob, and the packed
// tree ensemble.
type modelFiles struct {
	config    string
	quantizer string
	trees     string
}

func paths(dir, modelName string) modelFiles {
	base := filepath.Join(dir, modelName)
	return modelFiles{
		config:    base + "_config.json",
		quantizer: base + "_quantizer.qtz",
		trees:     base + "_forest.bin",
	}
}

// Save writes the forest's three files under dir, named modelName.
func (f *RandomForest) Save(dir, modelName string) error {
	p := paths(dir, modelName)

	f.Config.NumTrees = len(f.Trees)
	f.Config.LabelNames = f.Labels.Names()
	f.Config.BuiltAt = f.clock.Now()
	f.Quantizer.LabelNames = f.Config.LabelNames

	cfgFile, err := os.Create(p.config)
	if err != nil {
		return errors.Wrap(err, "forest: create config file")
	}
	defer cfgFile.Close()
	if err := SaveConfig(cfgFile, &f.Config); err != nil {
		return err
	}

	qFile, err := os.Create(p.quantizer)
	if err != nil {
		return errors.Wrap(err, "forest: create quantizer file")
	}
	defer qFile.Close()
	if err := f.Quantizer.Save(qFile); err != nil {
		return errors.Wrap(err, "forest: save quantizer")
	}

	treesFile, err := os.Create(p.trees)
	if err != nil {
		return errors.Wrap(err, "forest: create forest.bin")
	}
	defer treesFile.Close()
	if err := SaveTrees(treesFile, f.Trees); err != nil {
		return errors.Wrap(err, "forest: save trees")
	}
	return nil
}

// Load reads the three files Save wrote back into a RandomForest.
func Load(dir, modelName string) (*RandomForest, error) {
	p := paths(dir, modelName)

	cfgFile, err := os.Open(p.config)
	if err != nil {
		return nil, errors.Wrap(err, "forest: open config file")
	}
	defer cfgFile.Close()
	cfg, err := LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	qFile, err := os.Open(p.quantizer)
	if err != nil {
		return nil, errors.Wrap(err, "forest: open quantizer file")
	}
	defer qFile.Close()
	q, err := quantizer.Load(qFile)
	if err != nil {
		return nil, errors.Wrap(err, "forest: load quantizer")
	}

	treesFile, err := os.Open(p.trees)
	if err != nil {
		return nil, errors.Wrap(err, "forest: open forest.bin")
	}
	defer treesFile.Close()
	trees, err := LoadTrees(treesFile, cfg.NumFeatures, cfg.NumLabels, cfg.QuantizationCoefficient)
	if err != nil {
		return nil, errors.Wrap(err, "forest: load trees")
	}

	labels := dataset.FromNames(cfg.LabelNames)
	rf := &RandomForest{
		Trees:     trees,
		Quantizer: q,
		Labels:    labels,
		Config:    *cfg,
		clock:     platform.NewClock(),
		alloc:     alloc.NewHostAllocator(),
		class:     alloc.Any,
		debug:     platform.NewDebugSink(platform.DebugNone),
	}
	return rf, nil
}
