package quantizer

import "github.com/pkg/errors"

// DriftSample is one observed (feature, value) pair that fell outside the
// quantizer's current range, as reported by Encode (spec §4.6).
type DriftSample struct {
	Feature int
	Value   float32
}

// RemapFilter maps old bin -> new bin, per feature, after a quantizer
// update (spec §3). Applying it to stored rows (internal/dataset) must be
// idempotent for the identity filter and reversible only by its inverse.
type RemapFilter struct {
	PerFeature [][]uint16 // len(PerFeature) == F, len(PerFeature[f]) == old groups count
}

// Identity returns a no-op filter over f features with g bins each.
func Identity(f, g int) *RemapFilter {
	rf := &RemapFilter{PerFeature: make([][]uint16, f)}
	for i := range rf.PerFeature {
		rf.PerFeature[i] = make([]uint16, g)
		for b := range rf.PerFeature[i] {
			rf.PerFeature[i][b] = uint16(b)
		}
	}
	return rf
}

// UpdateDrift widens fmin/fmax for every feature named in samples (spec
// §4.6's concept-drift update). CustomEdges features preserve the
// fractional position of their old edges within the new range and rescale
// Scale to fit uint16 edges; other rule types keep an identity mapping but
// still widen their range. The returned filter maps every feature's old
// bin to the new bin with greatest overlap (ties: lowest index).
func (q *Quantizer) UpdateDrift(samples []DriftSample) (*RemapFilter, error) {
	oldGroups := q.Groups()
	touched := make(map[int]bool)
	oldBounds := make(map[int]struct{ fmin, fmax float32 })

	for _, s := range samples {
		if s.Feature < 0 || s.Feature >= q.F {
			return nil, errors.Errorf("quantizer: drift sample feature %d out of range", s.Feature)
		}
		r := &q.Rules[s.Feature]
		if _, seen := oldBounds[s.Feature]; !seen {
			oldBounds[s.Feature] = struct{ fmin, fmax float32 }{r.FMin, r.FMax}
		}
		if s.Value < r.FMin {
			r.FMin = s.Value
		}
		if s.Value > r.FMax {
			r.FMax = s.Value
		}
		touched[s.Feature] = true
	}

	filter := Identity(q.F, oldGroups)
	for f := range touched {
		r := &q.Rules[f]
		if r.Type != CustomEdges || len(r.Edges) == 0 {
			continue // identity mapping; range widened in place above
		}
		ob := oldBounds[f]
		filter.PerFeature[f] = q.rescaleEdges(r, ob.fmin, ob.fmax, oldGroups)
	}
	return filter, nil
}

// rescaleEdges rebuilds a CustomEdges feature's Scale/Edges after its
// fmin/fmax widened from (oldFMin, oldFMax) to r.FMin/r.FMax, preserving
// each old edge's fractional position, and returns the old-bin -> new-bin
// overlap mapping.
func (q *Quantizer) rescaleEdges(r *FeatureRule, oldFMin, oldFMax float32, oldGroups int) []uint16 {
	oldSpan := float64(oldFMax - oldFMin)
	if oldSpan <= 0 {
		oldSpan = 1
	}
	oldFrac := make([]float64, len(r.Edges))
	for i, e := range r.Edges {
		oldFrac[i] = float64(e) / float64(nz(r.Scale)) / oldSpan // edges are stored fmin-relative
	}

	newSpan := float64(r.FMax - r.FMin)
	if newSpan <= 0 {
		newSpan = 1
	}
	newScale := uint64(float64(^uint16(0)) / newSpan)
	if newScale == 0 {
		newScale = 1
	}

	newEdges := make([]uint16, len(oldFrac))
	for i, frac := range oldFrac {
		newEdges[i] = clampU16(frac * newSpan * float64(newScale))
	}
	r.Scale = newScale
	r.Edges = newEdges

	return bestOverlapMapping(oldFrac, oldGroups, oldFMin, oldFMax, r.FMin, r.FMax)
}

func nz(u uint64) uint64 {
	if u == 0 {
		return 1
	}
	return u
}

func clampU16(v float64) uint16 {
	if v < 0 {
		return 0
	}
	if v > float64(^uint16(0)) {
		return ^uint16(0)
	}
	return uint16(v)
}

// bestOverlapMapping assigns each old bin [0,oldGroups) to the new bin
// (over the same count of groups, rescaled to [newFMin,newFMax]) whose
// absolute-position span has the greatest overlap with the old bin's
// absolute-position span (spec §4.6/§9; BestOverlap and MajorityOverlap
// both reduce to largest-overlap-wins once overlap is computed in the
// shared absolute coordinate space).
func bestOverlapMapping(oldEdgeFrac []float64, groups int, oldFMin, oldFMax, newFMin, newFMax float32) []uint16 {
	oldBounds := absBounds(oldEdgeFrac, groups, float64(oldFMin), float64(oldFMax))
	newBounds := absBounds(oldEdgeFrac, groups, float64(newFMin), float64(newFMax))

	mapping := make([]uint16, groups)
	for ob := 0; ob < groups; ob++ {
		lo, hi := oldBounds[ob], oldBounds[ob+1]
		best, bestOverlap := 0, -1.0
		for nb := 0; nb < groups; nb++ {
			ov := overlap(lo, hi, newBounds[nb], newBounds[nb+1])
			if ov > bestOverlap {
				bestOverlap = ov
				best = nb
			}
		}
		mapping[ob] = uint16(best)
	}
	return mapping
}

// absBounds returns groups+1 absolute-position boundaries: fmin,
// fmin+frac[0]*span, ..., fmax.
func absBounds(edgeFrac []float64, groups int, fmin, fmax float64) []float64 {
	span := fmax - fmin
	b := make([]float64, groups+1)
	b[0] = fmin
	for i := 0; i < groups-1 && i < len(edgeFrac); i++ {
		b[i+1] = fmin + edgeFrac[i]*span
	}
	b[groups] = fmax
	return b
}

func overlap(aLo, aHi, bLo, bHi float64) float64 {
	lo := aLo
	if bLo > lo {
		lo = bLo
	}
	hi := aHi
	if bHi < hi {
		hi = bHi
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// Occupancy reports, for a feature and bin, how many stored rows fall
// into it. internal/dataset.Store implements this so ShrinkFIFO need not
// import the dataset package (avoids a quantizer<->dataset import cycle).
type Occupancy interface {
	CountFeatureBin(feature, bin int) int
}

// ShrinkFIFO scans a CustomEdges feature's bin occupancy and collapses up
// to 2 bins at the low end and 2 at the high end when they are empty,
// provided at least one non-collapsed bin remains (spec §4.6). It drops the
// collapsed bins' edges from the edge list and returns the shift-and-clamp
// filter; fmin, fmax and scale are left unchanged, and ShrinkFIFO does not
// apply the filter to any dataset itself.
func (q *Quantizer) ShrinkFIFO(occ Occupancy) (*RemapFilter, error) {
	groups := q.Groups()
	filter := Identity(q.F, groups)

	for f := range q.Rules {
		r := &q.Rules[f]
		if r.Type != CustomEdges || len(r.Edges) == 0 {
			continue
		}
		lowDrop := 0
		for lowDrop < 2 && lowDrop < groups-1 {
			if occ.CountFeatureBin(f, lowDrop) != 0 {
				break
			}
			lowDrop++
		}
		highDrop := 0
		for highDrop < 2 && highDrop < groups-1-lowDrop {
			if occ.CountFeatureBin(f, groups-1-highDrop) != 0 {
				break
			}
			highDrop++
		}
		if lowDrop == 0 && highDrop == 0 {
			continue
		}
		if lowDrop+highDrop >= groups {
			if highDrop > 0 {
				highDrop--
			} else {
				lowDrop--
			}
		}

		newLast := groups - 1 - lowDrop - highDrop
		mapping := make([]uint16, groups)
		for b := 0; b < groups; b++ {
			switch {
			case b < lowDrop:
				mapping[b] = 0
			case b >= groups-highDrop:
				mapping[b] = uint16(newLast)
			default:
				mapping[b] = uint16(b - lowDrop)
			}
		}
		filter.PerFeature[f] = mapping

		keepLo, keepHi := lowDrop, len(r.Edges)-highDrop
		if keepLo > keepHi {
			keepLo = keepHi
		}
		r.Edges = append([]uint16(nil), r.Edges[keepLo:keepHi]...)
	}
	return filter, nil
}
