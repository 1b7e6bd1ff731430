package container

// SboVec is a small-buffer-optimised growable array: elements live in an
// inline array until the count exceeds its inline capacity, at which point
// the SboVec migrates to a heap buffer and never returns to inline storage
// for that instance (spec §4.3).
//
// The inline capacity N is a construction parameter rather than a type
// parameter (Go generics cannot parametrise over an array length derived
// from another type's size the way spec's N-default table wants); callers
// compute it with InlineCapacityFor and pass it to NewSboVec.
type SboVec[T any] struct {
	inline  []T // len(inline) == n while still inline; nil once migrated
	heap    []T
	n       int // inline capacity
	migrated bool
}

// targetInlineBytes is the ~32-byte inline footprint spec §4.3 targets.
const targetInlineBytes = 32

// InlineCapacityFor computes the default inline element count for a type
// of the given size in bytes, following spec's table: 32 bytes of size-1
// elements, 4 of size-8, 1 of size>=16.
func InlineCapacityFor(elemSize int) int {
	if elemSize <= 0 {
		elemSize = 1
	}
	if elemSize >= 16 {
		return 1
	}
	n := targetInlineBytes / elemSize
	if n < 1 {
		n = 1
	}
	return n
}

// NewSboVec returns an empty SboVec with inline capacity n.
func NewSboVec[T any](n int) *SboVec[T] {
	if n < 1 {
		n = 1
	}
	return &SboVec[T]{inline: make([]T, 0, n), n: n}
}

// NewSboVecDefault returns an empty SboVec sized per InlineCapacityFor for T.
func NewSboVecDefault[T any]() *SboVec[T] {
	var zero T
	return NewSboVec[T](InlineCapacityFor(sizeOf(zero)))
}

func (s *SboVec[T]) active() []T {
	if s.migrated {
		return s.heap
	}
	return s.inline
}

// Size returns the element count.
func (s *SboVec[T]) Size() int { return len(s.active()) }

// Capacity returns the backing allocation in elements.
func (s *SboVec[T]) Capacity() int {
	if s.migrated {
		return cap(s.heap)
	}
	return cap(s.inline)
}

// IsInline reports whether the SboVec is still backed by its inline array.
func (s *SboVec[T]) IsInline() bool { return !s.migrated }

// Reserve grows the backing allocation to at least n elements, migrating
// to heap storage if n exceeds the inline capacity.
func (s *SboVec[T]) Reserve(n int) {
	if !s.migrated {
		if n <= s.n {
			return
		}
		s.migrate(n)
		return
	}
	if cap(s.heap) >= n {
		return
	}
	nb := make([]T, len(s.heap), n)
	copy(nb, s.heap)
	s.heap = nb
}

func (s *SboVec[T]) migrate(newCap int) {
	if newCap < s.n*2 {
		newCap = s.n * 2
	}
	nb := make([]T, len(s.inline), newCap)
	copy(nb, s.inline)
	s.heap = nb
	s.inline = nil
	s.migrated = true
}

// Clear empties the SboVec without releasing its backing allocation or
// reverting a migrated instance to inline storage.
func (s *SboVec[T]) Clear() {
	if s.migrated {
		s.heap = s.heap[:0]
		return
	}
	s.inline = s.inline[:0]
}

// Fit shrinks the backing allocation to Size (if migrated) or to the
// inline capacity N (if still inline); documented per spec §8's SboVec
// invariant that Fit after Clear leaves capacity at 0 (migrated) or N
// (inline).
func (s *SboVec[T]) Fit() {
	if !s.migrated {
		return // inline array is always capacity N
	}
	nb := make([]T, len(s.heap))
	copy(nb, s.heap)
	s.heap = nb
}

// MemoryUsage reports header + payload bytes.
func (s *SboVec[T]) MemoryUsage() int {
	var zero T
	return sizeOf(zero)*s.Capacity() + vecHeaderBytes
}

// At returns the element at i, or the zero value if out of range.
func (s *SboVec[T]) At(i int) T {
	var zero T
	a := s.active()
	if i < 0 || i >= len(a) {
		return zero
	}
	return a[i]
}

// PushBack appends val, migrating to heap storage if the inline capacity
// is exhausted.
func (s *SboVec[T]) PushBack(val T) {
	if !s.migrated && len(s.inline) == s.n {
		s.migrate(s.n * 2)
	}
	if s.migrated {
		if len(s.heap) == cap(s.heap) {
			s.Reserve(cap(s.heap) * 2)
			if cap(s.heap) == 0 {
				s.Reserve(1)
			}
		}
		s.heap = append(s.heap, val)
		return
	}
	s.inline = append(s.inline, val)
}

// PopBack removes and returns the last element; ok is false when empty.
func (s *SboVec[T]) PopBack() (T, bool) {
	var zero T
	a := s.active()
	if len(a) == 0 {
		return zero, false
	}
	last := a[len(a)-1]
	if s.migrated {
		s.heap = s.heap[:len(s.heap)-1]
	} else {
		s.inline = s.inline[:len(s.inline)-1]
	}
	return last, true
}

// Iter calls fn for every element in order.
func (s *SboVec[T]) Iter(fn func(i int, val T) bool) {
	for i, v := range s.active() {
		if !fn(i, v) {
			return
		}
	}
}

// ConvertSbo copies src's elements into a freshly constructed SboVec with
// inline capacity dstN (spec §4.3's "implicit conversions ... supported
// when the source size fits or an element copy is acceptable").
func ConvertSbo[T any](src *SboVec[T], dstN int) *SboVec[T] {
	dst := NewSboVec[T](dstN)
	src.Iter(func(_ int, v T) bool {
		dst.PushBack(v)
		return true
	})
	return dst
}
