// Package dataset holds quantized training rows in one bit-packed,
// row-major buffer (spec §4.5): n rows of F features at k bits each, plus
// a parallel label column. LoadCSV streams the CSV row by row instead of
// materialising it in RAM, ChunkIter hands out the packed rows a bounded
// number at a time, and a
// configured row ceiling switches the store into a sliding-window Partial
// mode that disables APIs needing full random access.
package dataset

import (
	"github.com/pkg/errors"

	"github.com/viettran-edgeAI/rfcore/internal/alloc"
	"github.com/viettran-edgeAI/rfcore/internal/container"
	"github.com/viettran-edgeAI/rfcore/internal/platform"
	"github.com/viettran-edgeAI/rfcore/internal/quantizer"
)

// Mode reports whether a Store holds the full dataset or a sliding tail
// window (spec §4.5's partial-loading mode).
type Mode int

const (
	Full Mode = iota
	Partial
)

// ErrPartialMode is returned by operations that require full random
// access (e.g. cross-validation) while a Store is in Partial mode.
var ErrPartialMode = errors.New("dataset: operation unavailable in partial-loading mode")

// Store holds n quantized rows, F features wide at K bits each, plus one
// label id per row.
type Store struct {
	f, k      int
	labelBits int

	features *container.PackedVec // row-major: index = row*F + feature
	labels   *container.PackedVec

	n int

	partialLimit int // 0 = unbounded (Full mode always)
	totalSeen    int // rows ever appended, including ones since trimmed
	reserved     bool

	alloc alloc.Allocator
	class alloc.Class
}

// New returns an empty Store for F features at K bits each, with no row
// ceiling (Full mode regardless of how many rows are appended).
func New(f, k int) *Store {
	return NewPartial(f, k, 0)
}

// NewPartial returns an empty Store that switches to Partial mode (and
// keeps only the most recent limit rows) once more than limit rows have
// been appended. limit <= 0 means unbounded (always Full).
func NewPartial(f, k, limit int) *Store {
	return NewPartialWithAllocator(f, k, limit, alloc.NewHostAllocator(), alloc.Any)
}

// NewPartialWithAllocator is NewPartial over a caller-chosen Allocator and
// Class (spec §4.2/§4.3: containers and the buffers they back take the
// allocator as a construction parameter, so a device build can route a
// dataset's bit-packed buffers to internal or external RAM). When limit is
// known, the first AppendRow validates the buffers' worst-case size against
// the allocator before storing that row, surfacing alloc.ErrOutOfMemory
// there rather than partway through training.
func NewPartialWithAllocator(f, k, limit int, a alloc.Allocator, class alloc.Class) *Store {
	if a == nil {
		a = alloc.NewHostAllocator()
	}
	s := &Store{
		f:            f,
		k:            k,
		features:     container.NewPackedVecWithAllocator(k, a, class),
		partialLimit: limit,
		alloc:        a,
		class:        class,
	}
	return s
}

// SetLabelCount fixes the bit width of the label column to fit l distinct
// labels. Must be called before any row is appended.
func (s *Store) SetLabelCount(l int) {
	s.labelBits = labelBitWidth(l)
	s.labels = container.NewPackedVecWithAllocator(s.labelBits, s.alloc, s.class)
}

func labelBitWidth(l int) int {
	if l <= 1 {
		return 1
	}
	bits := 1
	for (1 << uint(bits)) < l {
		bits++
	}
	return bits
}

// Mode reports Full or Partial.
func (s *Store) Mode() Mode {
	if s.partialLimit > 0 && s.totalSeen > s.partialLimit {
		return Partial
	}
	return Full
}

// Size returns the number of rows currently held.
func (s *Store) Size() int { return s.n }

// Features returns F, the per-row feature count.
func (s *Store) Features() int { return s.f }

// RequireFull returns ErrPartialMode if the store is in Partial mode,
// wrapped with op for diagnostics; callers (e.g. cross-validation) call
// this before attempting a full-random-access routine.
func (s *Store) RequireFull(op string) error {
	if s.Mode() == Partial {
		return errors.Wrapf(ErrPartialMode, "op=%s", op)
	}
	return nil
}

// AppendRow appends one quantized row and its label id. If a row ceiling
// is configured and already exceeded, the oldest row is dropped first
// (sliding-window behaviour of Partial mode).
func (s *Store) AppendRow(bins *container.PackedVec, label int) error {
	if bins.Size() != s.f {
		return errors.Errorf("dataset: row has %d features, want %d", bins.Size(), s.f)
	}
	if s.labels == nil {
		return errors.New("dataset: label count not set; call SetLabelCount first")
	}
	if !s.reserved && s.partialLimit > 0 {
		if err := s.features.ReserveChecked(s.partialLimit * s.f); err != nil {
			return errors.Wrap(err, "dataset: reserve feature buffer for row ceiling")
		}
		if err := s.labels.ReserveChecked(s.partialLimit); err != nil {
			return errors.Wrap(err, "dataset: reserve label buffer for row ceiling")
		}
		s.reserved = true
	}
	s.totalSeen++
	if s.partialLimit > 0 && s.n >= s.partialLimit {
		s.dropOldest(1)
	}
	for i := 0; i < s.f; i++ {
		s.features.PushBack(bins.Get(i))
	}
	s.labels.PushBack(uint64(label))
	s.n++
	return nil
}

// dropOldest removes the oldest m rows, shifting the remainder down.
func (s *Store) dropOldest(m int) {
	if m <= 0 {
		return
	}
	if m > s.n {
		m = s.n
	}
	keep := s.n - m
	for r := 0; r < keep; r++ {
		srcBase := (r + m) * s.f
		dstBase := r * s.f
		for i := 0; i < s.f; i++ {
			s.features.Set(dstBase+i, s.features.Get(srcBase+i))
		}
		s.labels.Set(r, s.labels.Get(r+m))
	}
	s.features.Resize(keep*s.f, 0)
	s.trimLabelsTo(keep)
	s.n = keep
}

// trimLabelsTo shrinks the label column to the first n entries in place,
// since PackedVec has no direct truncate.
func (s *Store) trimLabelsTo(n int) {
	nl := container.NewPackedVecWithAllocator(s.labelBits, s.alloc, s.class)
	nl.Resize(n, 0)
	for i := 0; i < n; i++ {
		nl.Set(i, s.labels.Get(i))
	}
	s.labels = nl
}

// GetFeature returns row sample's value for feature.
func (s *Store) GetFeature(sample, feature int) uint16 {
	return uint16(s.features.Get(sample*s.f + feature))
}

// GetLabel returns row sample's label id.
func (s *Store) GetLabel(sample int) int {
	return int(s.labels.Get(sample))
}

// BagSample draws one sample index uniformly at random, for bootstrap
// construction (spec §4.8).
func (s *Store) BagSample(rng *platform.Entropy) int {
	if s.n == 0 {
		return -1
	}
	return rng.IntN(s.n)
}

// TrimFIFO drops the oldest rows, keeping only the most recent keepLastM.
func (s *Store) TrimFIFO(keepLastM int) {
	if keepLastM >= s.n {
		return
	}
	s.dropOldest(s.n - keepLastM)
}

// ApplyRemapFilter rewrites every row's feature values through filter:
// row[f] <- filter.PerFeature[f][row[f]]. Idempotent for an identity
// filter; reversible only by applying filter's inverse.
func (s *Store) ApplyRemapFilter(filter *quantizer.RemapFilter) error {
	if len(filter.PerFeature) != s.f {
		return errors.Errorf("dataset: remap filter has %d features, want %d", len(filter.PerFeature), s.f)
	}
	for r := 0; r < s.n; r++ {
		base := r * s.f
		for f := 0; f < s.f; f++ {
			old := s.features.Get(base + f)
			table := filter.PerFeature[f]
			if int(old) >= len(table) {
				continue
			}
			s.features.Set(base+f, uint64(table[old]))
		}
	}
	return nil
}

// CountFeatureBin implements quantizer.Occupancy: the number of stored
// rows whose feature f currently quantizes to bin.
func (s *Store) CountFeatureBin(feature, bin int) int {
	n := 0
	for r := 0; r < s.n; r++ {
		if int(s.features.Get(r*s.f+feature)) == bin {
			n++
		}
	}
	return n
}

// MemoryUsage reports the combined feature/label buffer usage.
func (s *Store) MemoryUsage() int {
	total := s.features.MemoryUsage()
	if s.labels != nil {
		total += s.labels.MemoryUsage()
	}
	return total
}

// ChunkIter calls fn with the raw packed bytes of up to chunkRows
// consecutive rows at a time, in insertion order, so a caller can walk a
// wide dataset (spec §4.5: up to ~1023 features) in bounded slices;
// LoadCSV does not use it. Chunk boundaries fall on whole bytes of the underlying
// bit-packed stream, so when F*K isn't a multiple of 8 a chunk's last
// byte may share bits with the first row of the next chunk. Iteration
// stops early if fn returns false.
func (s *Store) ChunkIter(chunkRows int, fn func(rows []byte) bool) {
	if chunkRows <= 0 {
		chunkRows = 1
	}
	raw := s.features.Bytes()
	rowBits := s.f * s.k
	for start := 0; start < s.n; start += chunkRows {
		end := start + chunkRows
		if end > s.n {
			end = s.n
		}
		lo := (start * rowBits) / 8
		hi := (end*rowBits + 7) / 8
		if hi > len(raw) {
			hi = len(raw)
		}
		if !fn(raw[lo:hi]) {
			return
		}
	}
}
