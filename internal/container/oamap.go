package container

import (
	"github.com/cespare/xxhash/v2"

	"github.com/viettran-edgeAI/rfcore/internal/alloc"
)

// SlotState is the 2-bit per-slot flag spec §4.3 packs into a shared flags
// array.
type SlotState uint64

const (
	SlotEmpty SlotState = iota
	SlotUsed
	SlotDeleted
)

// MaxCap bounds how many shards a chained container may hold, keeping
// the chained containers' shard-index width small (spec §4.3/§4.4). A
// single OAMap's table size is not bounded by it.
const MaxCap = 256

// HashFunc produces a deterministic, platform-independent hash for a key.
type HashFunc[K comparable] func(K) uint64

// HashString hashes a string key with xxhash (deterministic across
// platforms, unlike Go's randomised map hash).
func HashString(s string) uint64 { return xxhash.Sum64String(s) }

// HashBytes hashes a []byte key with xxhash.
func HashBytes(b []byte) uint64 { return xxhash.Sum64(b) }

// HashInt mixes an integer key into a 64-bit hash (splitmix64 finaliser),
// matching spec's "deterministic platform-independent hashing" for
// integer keys without pulling in a hashing library keyed for strings.
func HashInt[I ~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64](i I) uint64 {
	x := uint64(i)
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// OAMap is a quadratic-probed open-addressed hash map over a power-of-two
// table, with a 2-bit slot-state array and a configurable fill factor
// (spec §4.3). Growth rehashes once Size() exceeds floor(cap*fullness).
type OAMap[K comparable, V any] struct {
	keys     []K
	vals     []V
	state    *PackedVec // 2 bits/slot, SlotState
	cap      int
	size     int
	fullness int // percentage, e.g. 75
	hash     HashFunc[K]
	version  uint64

	alloc alloc.Allocator
	class alloc.Class
}

// NewOAMap returns an empty OAMap with the given initial capacity (rounded
// up to a power of two), fill factor percentage, and hash function, with
// its slot-state PackedVec backed by a host allocator. Use
// NewOAMapWithAllocator to draw it from a specific Allocator/Class.
//
// keys/vals stay on a bare make([]K, c)/make([]V, c): K/V are arbitrary
// generic types, and Allocator's byte-oriented Alloc/Block has no safe way
// to back a slice of an unconstrained generic type without an unsafe
// pointer cast, so only the 2-bit slot-state buffer (already []byte under
// PackedVec) is routed through the allocator.
func NewOAMap[K comparable, V any](initialCap, fullnessPct int, hash HashFunc[K]) *OAMap[K, V] {
	return NewOAMapWithAllocator[K, V](initialCap, fullnessPct, hash, alloc.NewHostAllocator(), alloc.Any)
}

// NewOAMapWithAllocator is NewOAMap over a caller-chosen Allocator/Class.
func NewOAMapWithAllocator[K comparable, V any](initialCap, fullnessPct int, hash HashFunc[K], a alloc.Allocator, class alloc.Class) *OAMap[K, V] {
	c := nextPow2(initialCap)
	if c < 4 {
		c = 4
	}
	if fullnessPct <= 0 || fullnessPct > 100 {
		fullnessPct = 75
	}
	if a == nil {
		a = alloc.NewHostAllocator()
	}
	m := &OAMap[K, V]{
		keys:     make([]K, c),
		vals:     make([]V, c),
		state:    NewPackedVecWithAllocator(2, a, class),
		cap:      c,
		fullness: fullnessPct,
		hash:     hash,
		alloc:    a,
		class:    class,
	}
	m.state.Resize(c, uint64(SlotEmpty))
	return m
}

func nextPow2(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p < n {
		p *= 2
	}
	return p
}

// Size returns the live key count.
func (m *OAMap[K, V]) Size() int { return m.size }

// Capacity returns the table size.
func (m *OAMap[K, V]) Capacity() int { return m.cap }

func (m *OAMap[K, V]) threshold() int {
	return (m.cap * m.fullness) / 100
}

// probe returns the slot index for key k, and whether it was found (at
// that slot) or whether that slot is the first available insertion point.
func (m *OAMap[K, V]) probe(k K) (idx int, found bool) {
	h := m.hash(k)
	mask := uint64(m.cap - 1)
	firstDeleted := -1
	for i := uint64(0); i < uint64(m.cap); i++ {
		slot := int((h + i*i) & mask) // quadratic probing
		st := SlotState(m.state.Get(slot))
		switch st {
		case SlotEmpty:
			if firstDeleted != -1 {
				return firstDeleted, false
			}
			return slot, false
		case SlotDeleted:
			if firstDeleted == -1 {
				firstDeleted = slot
			}
		case SlotUsed:
			if m.keys[slot] == k {
				return slot, true
			}
		}
	}
	if firstDeleted != -1 {
		return firstDeleted, false
	}
	return -1, false
}

// Get returns the value for k and whether it was present.
func (m *OAMap[K, V]) Get(k K) (V, bool) {
	var zero V
	idx, found := m.probe(k)
	if !found {
		return zero, false
	}
	return m.vals[idx], true
}

// Contains reports whether k is present.
func (m *OAMap[K, V]) Contains(k K) bool {
	_, found := m.probe(k)
	return found
}

// Set inserts or updates k -> v, growing and rehashing the table first if
// the insertion would exceed the fullness threshold.
func (m *OAMap[K, V]) Set(k K, v V) {
	idx, found := m.probe(k)
	if !found && m.size+1 > m.threshold() {
		m.grow()
		idx, found = m.probe(k)
	}
	if idx == -1 {
		m.grow()
		idx, found = m.probe(k)
	}
	if !found {
		m.size++
		m.version++
	}
	m.keys[idx] = k
	m.vals[idx] = v
	m.state.Set(idx, uint64(SlotUsed))
}

// Erase marks k's slot Deleted.
func (m *OAMap[K, V]) Erase(k K) bool {
	idx, found := m.probe(k)
	if !found {
		return false
	}
	var zeroK K
	var zeroV V
	m.keys[idx] = zeroK
	m.vals[idx] = zeroV
	m.state.Set(idx, uint64(SlotDeleted))
	m.size--
	m.version++
	return true
}

func (m *OAMap[K, V]) grow() {
	newCap := m.cap * 2
	oldVersion := m.version
	nm := NewOAMapWithAllocator[K, V](newCap, m.fullness, m.hash, m.alloc, m.class)
	m.iterRaw(func(k K, v V) {
		nm.Set(k, v)
	})
	*m = *nm
	m.version = oldVersion + 1
}

func (m *OAMap[K, V]) iterRaw(fn func(K, V)) {
	for i := 0; i < m.cap; i++ {
		if SlotState(m.state.Get(i)) == SlotUsed {
			fn(m.keys[i], m.vals[i])
		}
	}
}

// Fit rebuilds a smaller table when utilisation drops below ~1/3 (spec
// §4.3). It is always safe to call; it is a no-op above that threshold.
func (m *OAMap[K, V]) Fit() {
	if m.cap <= 4 || m.size*3 > m.cap {
		return
	}
	newCap := nextPow2(m.size * 2)
	if newCap < 4 {
		newCap = 4
	}
	oldVersion := m.version
	nm := NewOAMapWithAllocator[K, V](newCap, m.fullness, m.hash, m.alloc, m.class)
	m.iterRaw(func(k K, v V) { nm.Set(k, v) })
	*m = *nm
	m.version = oldVersion + 1
}

// MemoryUsage reports header + key/value/state payload bytes.
func (m *OAMap[K, V]) MemoryUsage() int {
	var k K
	var v V
	return sizeOf(k)*m.cap + sizeOf(v)*m.cap + m.state.MemoryUsage() + 32
}

// Iter calls fn for every live key/value pair. Iteration order is
// unspecified. A structural change (Set causing growth, Erase, Fit)
// invalidates any in-flight iteration; callers must check Version() if
// they interleave mutation with iteration (spec §5).
func (m *OAMap[K, V]) Iter(fn func(k K, v V) bool) {
	for i := 0; i < m.cap; i++ {
		if SlotState(m.state.Get(i)) == SlotUsed {
			if !fn(m.keys[i], m.vals[i]) {
				return
			}
		}
	}
}

// Version returns the structural-change counter, incremented on every
// insert of a new key (including one that grows the table), erase, or
// Fit that rebuilds the table (spec §5's iterator-invalidation guard).
func (m *OAMap[K, V]) Version() uint64 { return m.version }

// OASet is an OAMap[K, struct{}] in spirit: an open-addressed set sharing
// the same probing/growth/fit machinery.
type OASet[K comparable] struct {
	m *OAMap[K, struct{}]
}

// NewOASet returns an empty OASet.
func NewOASet[K comparable](initialCap, fullnessPct int, hash HashFunc[K]) *OASet[K] {
	return &OASet[K]{m: NewOAMap[K, struct{}](initialCap, fullnessPct, hash)}
}

// Size returns the live element count.
func (s *OASet[K]) Size() int { return s.m.Size() }

// Insert adds k to the set.
func (s *OASet[K]) Insert(k K) { s.m.Set(k, struct{}{}) }

// Erase removes k from the set.
func (s *OASet[K]) Erase(k K) bool { return s.m.Erase(k) }

// Contains reports whether k is a member.
func (s *OASet[K]) Contains(k K) bool { return s.m.Contains(k) }

// Fit rebuilds a smaller table when utilisation is low.
func (s *OASet[K]) Fit() { s.m.Fit() }

// MemoryUsage reports the underlying OAMap's memory usage.
func (s *OASet[K]) MemoryUsage() int { return s.m.MemoryUsage() }

// Iter calls fn for every member; order is unspecified.
func (s *OASet[K]) Iter(fn func(k K) bool) {
	s.m.Iter(func(k K, _ struct{}) bool { return fn(k) })
}

// Version returns the structural-change counter.
func (s *OASet[K]) Version() uint64 { return s.m.Version() }
