// Package quantizer maps floating-point feature vectors to small integers
// in [0, 2^k) per feature (spec §4.6), using one of three per-feature
// rules, with optional z-score outlier clamping and the two on-line
// adaptation operations (drift-driven bin expansion, FIFO bin shrink) that
// produce a remap filter.
package quantizer

import (
	"math"

	"github.com/pkg/errors"
	"github.com/viettran-edgeAI/rfcore/internal/container"
)

// RuleType selects a per-feature quantization rule (spec §3).
type RuleType uint8

const (
	// FullLinear clamps to [fmin,fmax] and scales to [0,2^k) by floor.
	FullLinear RuleType = iota
	// CustomEdges uses a sorted list of up to 2^k-1 scaled edges.
	CustomEdges
	// DiscreteSet matches against an unordered set of up to 2^k category
	// values.
	DiscreteSet
)

// OverlapPolicy resolves spec §9's open question about FIFO-shrink bin
// remapping: whether a collapsed bin must have >50% overlap with its
// target, or simply the best available overlap. Default is BestOverlap,
// per spec's stated resolution. No remap routine reads Quantizer.Overlap:
// UpdateDrift and ShrinkFIFO always map each old bin to the new bin with
// the largest overlap, whatever the setting.
type OverlapPolicy int

const (
	BestOverlap OverlapPolicy = iota
	MajorityOverlap
)

// FeatureRule holds one feature's quantization state (spec §3): the rule
// variant, its fmin/fmax, a scaled integer baseline, an unsigned scale,
// and rule-specific payload.
type FeatureRule struct {
	Type           RuleType
	FMin, FMax     float32
	BaselineScaled int64
	Scale          uint64

	Edges      []uint16  // CustomEdges: scaled edge positions, strictly increasing
	Categories []float32 // DiscreteSet: up to 2^k category values

	// Z-score clamp state, populated when the quantizer's ZScoreClamp is
	// enabled.
	Mean, StdDev float32
}

// Quantizer holds per-feature state and the global quantization
// coefficient k (spec §4.6).
type Quantizer struct {
	F, L int
	K    int // quantization coefficient; groups per feature = 2^K

	Rules []FeatureRule

	ZScoreClamp bool
	ZTau        float64

	LabelNames []string

	Overlap OverlapPolicy
}

// Groups returns 2^k, the number of bins per feature.
func (q *Quantizer) Groups() int { return 1 << uint(q.K) }

// New returns a Quantizer with F features, L labels, and k-bit bins, all
// features defaulting to FullLinear over [0,1].
func New(f, l, k int) (*Quantizer, error) {
	if k < 1 || k > 8 {
		return nil, errors.Errorf("quantizer: k=%d out of range [1,8]", k)
	}
	if f <= 0 || l <= 0 {
		return nil, errors.Errorf("quantizer: invalid F=%d L=%d", f, l)
	}
	rules := make([]FeatureRule, f)
	for i := range rules {
		rules[i] = FeatureRule{Type: FullLinear, FMin: 0, FMax: 1}
	}
	return &Quantizer{F: f, L: l, K: k, Rules: rules}, nil
}

// EncodeResult is returned by Encode alongside the packed bin vector.
type EncodeResult struct {
	Drift        bool
	DriftFeature int
	DriftValue   float32
}

// Encode maps x to a PackedVec of K-bit bins, one per feature (spec
// §4.6). The returned bins are always < 2^k; EncodeResult reports whether
// any feature drifted outside its observed range and, if so, the first
// drifting feature and its raw value.
func (q *Quantizer) Encode(x []float32) (*container.PackedVec, EncodeResult, error) {
	if len(x) != q.F {
		return nil, EncodeResult{}, errors.Errorf("quantizer: expected %d features, got %d", q.F, len(x))
	}
	out := container.NewPackedVec(q.K)
	out.Resize(q.F, 0)
	res := EncodeResult{}
	maxBin := uint64(q.Groups() - 1)

	for i, v := range x {
		r := &q.Rules[i]
		xv := v
		if q.ZScoreClamp && r.StdDev > 1e-6 {
			lo := r.Mean - float32(q.ZTau)*r.StdDev
			hi := r.Mean + float32(q.ZTau)*r.StdDev
			if xv < lo {
				xv = lo
			} else if xv > hi {
				xv = hi
			}
		}

		bin, drifted := r.encodeOne(xv, q.K)
		if drifted && !res.Drift {
			res.Drift = true
			res.DriftFeature = i
			res.DriftValue = v
		}
		if bin < 0 {
			bin = 0
		}
		ubin := uint64(bin)
		if ubin > maxBin {
			ubin = maxBin
		}
		out.Set(i, ubin)
	}
	return out, res, nil
}

// encodeOne applies one feature's rule to a (possibly z-clamped) value,
// returning the clamped bin and whether the raw value drifted outside the
// feature's observed range.
func (r *FeatureRule) encodeOne(x float32, k int) (int, bool) {
	groups := 1 << uint(k)
	switch r.Type {
	case FullLinear:
		drift := x < r.FMin || x > r.FMax
		cx := x
		if cx < r.FMin {
			cx = r.FMin
		} else if cx > r.FMax {
			cx = r.FMax
		}
		span := r.FMax - r.FMin
		if span <= 0 {
			return 0, drift
		}
		bin := int(math.Floor(float64((cx - r.FMin) / span * float32(groups))))
		if bin >= groups {
			bin = groups - 1
		}
		if bin < 0 {
			bin = 0
		}
		return bin, drift

	case CustomEdges:
		drift := x < r.FMin || x > r.FMax
		for i, e := range r.Edges {
			scaled := scalePosition(x, r.FMin, r.Scale)
			if scaled < uint64(e) {
				return i, drift
			}
		}
		return len(r.Edges), drift

	case DiscreteSet:
		const tol = 1e-6
		for i, c := range r.Categories {
			if math.Abs(float64(x-c)) <= tol {
				return i, false
			}
		}
		// reserved out-of-range code: last bin
		return groups - 1, true

	default:
		return 0, true
	}
}

// scalePosition maps a raw value to the same uint64 scaled-edge space
// CustomEdges stores its edges in: (x - fmin) * scale.
func scalePosition(x, fmin float32, scale uint64) uint64 {
	d := float64(x - fmin)
	if d < 0 {
		return 0
	}
	return uint64(d * float64(scale))
}
