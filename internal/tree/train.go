package tree

import (
	"time"

	"github.com/pkg/errors"

	"github.com/viettran-edgeAI/rfcore/internal/container"
	"github.com/viettran-edgeAI/rfcore/internal/platform"
)

// Rows is the minimal read surface Train needs from a dataset store,
// avoiding a dependency from internal/tree on internal/dataset.
type Rows interface {
	GetFeature(sample, feature int) uint16
	GetLabel(sample int) int
}

// buildNode is the in-memory (unpacked) form of one tree node during
// training; the tree is serialised into a PackedTree only once its final
// node count is known (spec §4.7 step 6).
type buildNode struct {
	leaf      bool
	feature   int
	threshold uint64
	left      int // index into the build slice; right is left+1
	label     int
}

// workItem is one pending BFS node: its already-assigned slot in the
// build slice, the bagged row indices routed to it, and its depth.
type workItem struct {
	nodeIdx int
	indices []int
	depth   int
}

// Train grows one tree over the rows named by indices (a bootstrap
// sample), following the BFS algorithm of spec §4.7: pop the work
// queue's head, emit a leaf on any terminal condition, else sample mtry
// features without replacement, scan all threshold candidates in
// [0, 2^k) for each, and keep the split with the best Gini/Entropy gain
// (ties: lowest feature id, then lowest threshold). If deadline is
// non-zero and training runs past it, every node still in the work
// queue is finalised as a majority-label leaf instead of being expanded.
func Train(rows Rows, indices []int, f, l, k int, cfg *Config, rng *platform.Entropy, deadline time.Time) (*PackedTree, error) {
	if f <= 0 || l <= 0 || k <= 0 {
		return nil, errors.Errorf("tree: invalid F=%d L=%d K=%d", f, l, k)
	}
	groups := 1 << uint(k)
	mtry := cfg.Mtry
	if mtry <= 0 || mtry > f {
		mtry = f
	}
	impurity := cfg.Criterion.fn()

	nodes := []buildNode{{}}
	queue := container.NewQueue[workItem]()
	queue.Enqueue(workItem{nodeIdx: 0, indices: indices, depth: 0})

	for queue.Size() > 0 {
		w, _ := queue.Dequeue()
		pastDeadline := !deadline.IsZero() && time.Now().After(deadline)

		counts := make([]int, l)
		for _, i := range w.indices {
			counts[rows.GetLabel(i)]++
		}
		majority := majorityLabel(counts)

		if pastDeadline || isTerminal(w, cfg, counts) {
			nodes[w.nodeIdx] = buildNode{leaf: true, label: majority}
			continue
		}

		nImp := impurity(len(w.indices), counts)
		bestFeature, bestThreshold, bestGain := -1, uint64(0), 0.0
		var bestLeft, bestRight []int

		for _, feat := range sampleFeatures(rng, f, mtry) {
			left, right, thr, gain := bestThresholdSplit(rows, w.indices, feat, groups, l, cfg.MinLeaf, nImp, impurity)
			if gain <= 0 {
				continue
			}
			better := bestFeature == -1 || gain > bestGain ||
				(gain == bestGain && (feat < bestFeature || (feat == bestFeature && thr < bestThreshold)))
			if better {
				bestFeature, bestThreshold, bestGain = feat, thr, gain
				bestLeft, bestRight = left, right
			}
		}

		if bestFeature == -1 || len(bestLeft) == 0 || len(bestRight) == 0 {
			nodes[w.nodeIdx] = buildNode{leaf: true, label: majority}
			continue
		}

		leftIdx := len(nodes)
		nodes = append(nodes, buildNode{}, buildNode{})
		nodes[w.nodeIdx] = buildNode{feature: bestFeature, threshold: bestThreshold, left: leftIdx}
		queue.Enqueue(workItem{nodeIdx: leftIdx, indices: bestLeft, depth: w.depth + 1})
		queue.Enqueue(workItem{nodeIdx: leftIdx + 1, indices: bestRight, depth: w.depth + 1})
	}

	w := NodeWidth(f, l, k, len(nodes))
	pt := NewPackedTreeWithAllocator(f, l, k, w, cfg.Alloc, cfg.Class)
	if err := pt.ReserveNodes(len(nodes)); err != nil {
		return nil, errors.Wrap(err, "tree: reserve node buffer")
	}
	for _, n := range nodes {
		nv := NodeView{Label: n.label, Feature: n.feature, Threshold: n.threshold, Left: n.left}
		if n.leaf {
			nv.Kind = NodeLeaf
		} else {
			nv.Kind = NodeSplit
		}
		if err := pt.WriteNode(pt.NodeCount(), nv); err != nil {
			return nil, errors.Wrap(err, "tree: serialise node")
		}
	}
	return pt, nil
}

func isTerminal(w workItem, cfg *Config, counts []int) bool {
	if cfg.MinSplit > 0 && len(w.indices) < cfg.MinSplit {
		return true
	}
	if cfg.MaxDepth > 0 && w.depth >= cfg.MaxDepth {
		return true
	}
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1 // pure label distribution
}

func majorityLabel(counts []int) int {
	best, bestCt := 0, -1
	for label, c := range counts {
		if c > bestCt {
			bestCt = c
			best = label
		}
	}
	return best
}

// sampleFeatures draws mtry distinct feature ids from [0,f) deterministically
// from rng (Fisher-Yates partial shuffle).
func sampleFeatures(rng *platform.Entropy, f, mtry int) []int {
	pool := make([]int, f)
	for i := range pool {
		pool[i] = i
	}
	if mtry >= f {
		return pool
	}
	for i := 0; i < mtry; i++ {
		j := i + rng.IntN(f-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:mtry]
}

// bestThresholdSplit scans every threshold in [0, groups) for feature,
// computing left/right class histograms in a single pass (spec §4.7
// step 3): it accumulates rows with value <= t into "left" incrementally
// as t increases, so each of the groups candidate thresholds costs O(n)
// total, not O(n*groups).
func bestThresholdSplit(rows Rows, indices []int, feature, groups, l, minLeaf int, parentImpurity float64, impurity func(int, []int) float64) (left, right []int, bestThreshold uint64, bestGain float64) {
	byBin := make([][]int, groups)
	for _, i := range indices {
		b := int(rows.GetFeature(i, feature))
		if b < 0 {
			b = 0
		} else if b >= groups {
			b = groups - 1
		}
		byBin[b] = append(byBin[b], i)
	}

	n := len(indices)
	leftCounts := make([]int, l)
	rightCounts := make([]int, l)
	for _, i := range indices {
		rightCounts[rows.GetLabel(i)]++
	}

	var leftIdx []int
	nLeft := 0
	for t := 0; t < groups-1; t++ {
		for _, i := range byBin[t] {
			lab := rows.GetLabel(i)
			leftCounts[lab]++
			rightCounts[lab]--
			leftIdx = append(leftIdx, i)
			nLeft++
		}
		nRight := n - nLeft
		if nLeft < minLeaf || nRight < minLeaf {
			continue
		}
		iL := impurity(nLeft, leftCounts)
		iR := impurity(nRight, rightCounts)
		gain := parentImpurity - (float64(nLeft)/float64(n))*iL - (float64(nRight)/float64(n))*iR
		if gain > bestGain {
			bestGain = gain
			bestThreshold = uint64(t)
			left = append([]int(nil), leftIdx...)
			right = remainder(indices, left)
		}
	}
	return left, right, bestThreshold, bestGain
}

// remainder returns the indices in all not present in subset, preserving
// all's order, used to materialise the right partition from the left one.
func remainder(all, subset []int) []int {
	in := make(map[int]bool, len(subset))
	for _, i := range subset {
		in[i] = true
	}
	out := make([]int, 0, len(all)-len(subset))
	for _, i := range all {
		if !in[i] {
			out = append(out, i)
		}
	}
	return out
}
