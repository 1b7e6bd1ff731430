// Package tree implements a single decision tree over quantized feature
// bins, stored as a bit-packed breadth-first array (spec §4.7): one
// uint-ish node of width W encodes either a split (feature, threshold,
// left-child offset) or a leaf (label). W is fixed per tree and derived
// from F, L, K, and the tree's node count.
package tree

import (
	"math"

	"github.com/viettran-edgeAI/rfcore/internal/alloc"
)

// ImpurityMeasure selects the split-quality criterion (spec §4.7 takes
// Gini as the baseline; Entropy is offered as the other common choice,
// grounded on the same pair the teacher's retrieved tree-learning
// reference exposes).
type ImpurityMeasure int

const (
	Gini ImpurityMeasure = iota
	Entropy
)

func (m ImpurityMeasure) fn() func(n int, counts []int) float64 {
	switch m {
	case Entropy:
		return entropyImpurity
	default:
		return giniImpurity
	}
}

// giniImpurity is 1 - sum(p_k^2).
func giniImpurity(n int, counts []int) float64 {
	if n == 0 {
		return 0
	}
	g := 0.0
	for _, c := range counts {
		if c > 0 {
			p := float64(c) / float64(n)
			g += p * p
		}
	}
	return 1.0 - g
}

// entropyImpurity is -sum(p_k log2 p_k).
func entropyImpurity(n int, counts []int) float64 {
	if n == 0 {
		return 0
	}
	e := 0.0
	for _, c := range counts {
		if c > 0 {
			p := float64(c) / float64(n)
			e -= p * math.Log2(p)
		}
	}
	return e
}

// Config holds one tree's training parameters (spec §4.7). Construct via
// NewConfig with functional options, in the same style wlattner-rf's
// NewClassifier uses (MinSplit/MinLeaf/MaxDepth/Impurity/MaxFeatures).
type Config struct {
	MinSplit  int
	MinLeaf   int
	MaxDepth  int // -1 = unbounded
	Mtry      int // features sampled per split; -1 = all
	Criterion ImpurityMeasure

	Alloc alloc.Allocator
	Class alloc.Class
}

// Option configures a Config.
type Option func(*Config)

// MinSplit sets the minimum node size eligible for splitting.
func MinSplit(n int) Option { return func(c *Config) { c.MinSplit = n } }

// MinLeaf sets the minimum size either side of a split must have.
func MinLeaf(n int) Option { return func(c *Config) { c.MinLeaf = n } }

// MaxDepth bounds tree depth; -1 grows a full tree subject to MinLeaf/MinSplit.
func MaxDepth(n int) Option { return func(c *Config) { c.MaxDepth = n } }

// Mtry sets how many features are sampled (without replacement) at each
// split; -1 considers all features.
func Mtry(n int) Option { return func(c *Config) { c.Mtry = n } }

// Criterion sets the impurity measure used to score candidate splits.
func Criterion(m ImpurityMeasure) Option { return func(c *Config) { c.Criterion = m } }

// WithAllocator routes a tree's node buffer through a caller-chosen
// Allocator/Class (spec §4.3/§9: containers take the allocator as a
// construction parameter), instead of the host default NewConfig installs.
func WithAllocator(a alloc.Allocator, class alloc.Class) Option {
	return func(c *Config) { c.Alloc = a; c.Class = class }
}

// NewConfig returns a Config with spec-default values, overridden by opts:
// MinSplit(2), MinLeaf(1), MaxDepth(-1), Mtry(-1), Criterion(Gini),
// WithAllocator(alloc.NewHostAllocator(), alloc.Any).
func NewConfig(opts ...Option) *Config {
	c := &Config{
		MinSplit:  2,
		MinLeaf:   1,
		MaxDepth:  -1,
		Mtry:      -1,
		Criterion: Gini,
		Alloc:     alloc.NewHostAllocator(),
		Class:     alloc.Any,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Alloc == nil {
		c.Alloc = alloc.NewHostAllocator()
	}
	return c
}
