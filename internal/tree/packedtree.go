package tree

import (
	"github.com/pkg/errors"

	"github.com/viettran-edgeAI/rfcore/internal/alloc"
	"github.com/viettran-edgeAI/rfcore/internal/container"
)

// NodeKind tags a packed node's payload shape.
type NodeKind uint8

const (
	NodeSplit NodeKind = iota
	NodeLeaf
)

// NodeView is a decoded node: either a Split (test sample[Feature] <=
// Threshold, go Left on true, Left+1 on false) or a Leaf (Label).
type NodeView struct {
	Kind      NodeKind
	Feature   int
	Threshold uint64
	Left      int
	Label     int
}

// PackedTree is a bit-packed breadth-first node array (spec §3/§4.7): F
// features, L labels, K-bit quantized thresholds, and a per-tree node
// width W derived from F/L/K and the node count.
type PackedTree struct {
	F, L, K, W int
	buf        *container.PackedVec // W bits per node
}

// bitsFor returns the number of bits needed to represent values in
// [0, n), at least 1.
func bitsFor(n int) int {
	if n <= 1 {
		return 1
	}
	bits := 1
	for (1 << uint(bits)) < n {
		bits++
	}
	return bits
}

// NodeWidth computes the fixed per-node bit width for a tree over F
// features, L labels, K-bit thresholds, and up to nMax nodes, rounded up
// to a multiple of 4 (spec §9 Open Question: node width granularity,
// resolved here as nibble-aligned for friendlier hex dumps and because
// the tag+payload rarely lands byte-aligned on its own).
func NodeWidth(f, l, k, nMax int) int {
	featureBits := bitsFor(f)
	leftBits := bitsFor(nMax)
	splitPayload := 1 + featureBits + k + leftBits
	leafPayload := 1 + bitsFor(l)
	w := splitPayload
	if leafPayload > w {
		w = leafPayload
	}
	if rem := w % 4; rem != 0 {
		w += 4 - rem
	}
	if w < 4 {
		w = 4
	}
	return w
}

// NewPackedTree allocates an empty tree with the given header fields,
// backed by a host allocator. Use NewPackedTreeWithAllocator to draw the
// node buffer from a specific Allocator/Class.
func NewPackedTree(f, l, k, w int) *PackedTree {
	return NewPackedTreeWithAllocator(f, l, k, w, alloc.NewHostAllocator(), alloc.Any)
}

// NewPackedTreeWithAllocator is NewPackedTree over a caller-chosen
// Allocator/Class (spec §4.3/§9: containers take the allocator as a
// construction parameter, so a device build can route a tree's node buffer
// to internal or external RAM).
func NewPackedTreeWithAllocator(f, l, k, w int, a alloc.Allocator, class alloc.Class) *PackedTree {
	return &PackedTree{F: f, L: l, K: k, W: w, buf: container.NewPackedVecWithAllocator(w, a, class)}
}

// ReserveNodes validates that nMax nodes' worth of storage is available
// from this tree's allocator before training writes any node, surfacing
// alloc.ErrOutOfMemory up front rather than partway through a build.
func (t *PackedTree) ReserveNodes(nMax int) error {
	return t.buf.ReserveChecked(nMax)
}

// FromBytes reconstructs a PackedTree from its raw packed node bytes, as
// read back from a _forest.bin file (internal/forest owns the framing).
func FromBytes(f, l, k, w, n int, raw []byte) (*PackedTree, error) {
	pv := container.NewPackedVec(w)
	if err := pv.LoadRaw(n, raw); err != nil {
		return nil, errors.Wrap(err, "tree: reconstruct packed node buffer")
	}
	return &PackedTree{F: f, L: l, K: k, W: w, buf: pv}, nil
}

// NodeCount returns the number of nodes currently stored.
func (t *PackedTree) NodeCount() int { return t.buf.Size() }

// Bytes returns the tree's raw packed node bytes, for serialisation.
func (t *PackedTree) Bytes() []byte { return t.buf.Bytes() }

// WriteNode appends or overwrites the node at idx, growing the buffer if
// idx == NodeCount().
func (t *PackedTree) WriteNode(idx int, nv NodeView) error {
	if idx < 0 || idx > t.buf.Size() {
		return errors.Errorf("tree: node index %d out of range [0,%d]", idx, t.buf.Size())
	}
	packed := t.encode(nv)
	if idx == t.buf.Size() {
		t.buf.PushBack(packed)
		return nil
	}
	t.buf.Set(idx, packed)
	return nil
}

func (t *PackedTree) encode(nv NodeView) uint64 {
	var v uint64
	shift := uint(0)
	switch nv.Kind {
	case NodeSplit:
		v |= uint64(NodeSplit) << shift
		shift++
		v |= uint64(nv.Feature) << shift
		shift += uint(bitsFor(t.F))
		v |= nv.Threshold << shift
		shift += uint(t.K)
		v |= uint64(nv.Left) << shift
	case NodeLeaf:
		v |= uint64(NodeLeaf) << shift
		shift++
		v |= uint64(nv.Label) << shift
	}
	return v
}

// ReadNode decodes the node at idx.
func (t *PackedTree) ReadNode(idx int) (NodeView, error) {
	if idx < 0 || idx >= t.buf.Size() {
		return NodeView{}, errors.Errorf("tree: node index %d out of range [0,%d)", idx, t.buf.Size())
	}
	raw := t.buf.Get(idx)
	kind := NodeKind(raw & 1)
	shift := uint(1)
	if kind == NodeLeaf {
		labelBits := bitsFor(t.L)
		label := int((raw >> shift) & mask(labelBits))
		return NodeView{Kind: NodeLeaf, Label: label}, nil
	}
	featureBits := bitsFor(t.F)
	feature := int((raw >> shift) & mask(featureBits))
	shift += uint(featureBits)
	threshold := (raw >> shift) & mask(t.K)
	shift += uint(t.K)
	left := int((raw >> shift) & mask(t.leftBits()))
	return NodeView{Kind: NodeSplit, Feature: feature, Threshold: threshold, Left: left}, nil
}

// leftBits is the width of the left-child-offset field, the remainder of
// W once the tag, feature, and threshold fields are accounted for (the
// layout NodeWidth committed to at build time).
func (t *PackedTree) leftBits() int {
	remaining := t.W - 1 - bitsFor(t.F) - t.K
	if remaining < 1 {
		remaining = 1
	}
	return remaining
}

func mask(bits int) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(bits)) - 1
}

// Walk performs allocation-free inference: starting at node 0, follow
// splits (sample[Feature] <= Threshold ? Left : Left+1) until a leaf is
// reached, returning its label id (spec §4.7).
func (t *PackedTree) Walk(sample *container.PackedVec) (int, error) {
	idx := 0
	for steps := 0; steps < t.buf.Size()+1; steps++ {
		nv, err := t.ReadNode(idx)
		if err != nil {
			return 0, err
		}
		if nv.Kind == NodeLeaf {
			return nv.Label, nil
		}
		if sample.Get(nv.Feature) <= nv.Threshold {
			idx = nv.Left
		} else {
			idx = nv.Left + 1
		}
	}
	return 0, errors.New("tree: walk exceeded node count, tree is malformed (cycle?)")
}
