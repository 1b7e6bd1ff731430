// Package alloc implements the allocator abstraction of spec §4.1: three
// request classes (internal, external, any) served by pluggable
// implementations, with enough region tagging to free a pointer back to the
// arena it came from.
package alloc

import (
	"github.com/pkg/errors"
)

// Class selects which memory region an allocation is drawn from.
type Class int

const (
	// Internal requests strictly on-chip RAM.
	Internal Class = iota
	// External requests strictly external (PSRAM) memory; fails if none
	// is initialised.
	External
	// Any tries external first when available, falling back to internal
	// without surfacing the failure to the caller.
	Any
)

// ErrOutOfMemory is returned (wrapped with context) when no arena can
// satisfy a request.
var ErrOutOfMemory = errors.New("alloc: out of memory")

// ErrNoExternal is returned when an External request is made on a board
// with no external RAM initialised.
var ErrNoExternal = errors.New("alloc: no external memory present")

// Status mirrors spec §4.1's allocator status snapshot.
type Status struct {
	FreeInternal        int
	LargestFreeInternal int
	TotalInternal        int
	FreeExternal         int
	TotalExternal        int
	HasExternal          bool
}

// Block is a region-tagged allocation. Containers hold the Block and pass
// it back to Free; the region tag and arena offset let Free route to the
// correct arena without a global pointer registry.
type Block struct {
	Bytes  []byte
	region Class
	owner  *arena
	off    int
	size   int
}

// Allocator is the pluggable allocation interface containers take as a
// construction parameter (spec §9's "allocator trait" rewrite).
type Allocator interface {
	Alloc(size int, class Class) (*Block, error)
	Calloc(count, size int, class Class) (*Block, error)
	Realloc(b *Block, newSize int) (*Block, error)
	Free(b *Block)
	IsExternal(b *Block) bool
	Status() Status
}

// arena is a bump allocator over a fixed-size byte slab with a simple
// free list, sized for MCU-scale memory budgets. It is not safe for
// concurrent use, matching the single-threaded MCU target (spec §5).
// HostAllocator below does not use an arena; it allocates straight from
// the Go runtime.
type arena struct {
	total int
	used  int
	// freeList tracks released byte-ranges as (offset,size) pairs for
	// simple best-fit reuse; this is deliberately not a general-purpose
	// heap, it only needs to outlive containers that grow and shrink in
	// big steps.
	freeList []span
	nextFree int // watermark for the bump region past all freed spans
}

type span struct {
	off, size int
}

func newArena(total int) *arena {
	return &arena{total: total}
}

func (a *arena) alloc(size int) ([]byte, int, bool) {
	if size <= 0 {
		return nil, 0, true
	}
	// best-fit among released spans first
	best := -1
	for i, s := range a.freeList {
		if s.size >= size && (best == -1 || s.size < a.freeList[best].size) {
			best = i
		}
	}
	if best != -1 {
		s := a.freeList[best]
		a.freeList = append(a.freeList[:best], a.freeList[best+1:]...)
		if s.size > size {
			a.freeList = append(a.freeList, span{off: s.off + size, size: s.size - size})
		}
		a.used += size
		return make([]byte, size), s.off, true
	}
	if a.nextFree+size > a.total {
		return nil, 0, false
	}
	off := a.nextFree
	a.nextFree += size
	a.used += size
	return make([]byte, size), off, true
}

func (a *arena) free(off, size int) {
	if size <= 0 {
		return
	}
	a.freeList = append(a.freeList, span{off: off, size: size})
	a.used -= size
}

func (a *arena) largestFree() int {
	largest := a.total - a.nextFree
	for _, s := range a.freeList {
		if s.size > largest {
			largest = s.size
		}
	}
	return largest
}

func (a *arena) freeBytes() int {
	free := a.total - a.nextFree
	for _, s := range a.freeList {
		free += s.size
	}
	return free
}

// ExternalPreferred is the allocator policy used on boards with PSRAM:
// Any-class requests try the external arena first, then fall back to
// internal silently; Internal/External requests are routed exactly.
type ExternalPreferred struct {
	internal *arena
	external *arena
	hasExt   bool
}

// NewExternalPreferred builds an allocator over two fixed-size arenas.
func NewExternalPreferred(internalBytes, externalBytes int) *ExternalPreferred {
	return &ExternalPreferred{
		internal: newArena(internalBytes),
		external: newArena(externalBytes),
		hasExt:   externalBytes > 0,
	}
}

func (e *ExternalPreferred) allocFrom(a *arena, region Class, size int) (*Block, error) {
	buf, off, ok := a.alloc(size)
	if !ok {
		return nil, errors.Wrapf(ErrOutOfMemory, "class=%v size=%d", region, size)
	}
	return &Block{Bytes: buf, region: region, owner: a, off: off, size: size}, nil
}

// Alloc serves size bytes from the arena chosen by class.
func (e *ExternalPreferred) Alloc(size int, class Class) (*Block, error) {
	switch class {
	case Internal:
		return e.allocFrom(e.internal, Internal, size)
	case External:
		if !e.hasExt {
			return nil, errors.Wrap(ErrNoExternal, "external class requested")
		}
		return e.allocFrom(e.external, External, size)
	default: // Any
		if e.hasExt {
			if b, err := e.allocFrom(e.external, External, size); err == nil {
				return b, nil
			}
		}
		return e.allocFrom(e.internal, Internal, size)
	}
}

// Calloc allocates count*size bytes, zero-initialised (Go slices already
// zero, so this is Alloc plus an overflow-safe size computation).
func (e *ExternalPreferred) Calloc(count, size int, class Class) (*Block, error) {
	total := count * size
	if count != 0 && total/count != size {
		return nil, errors.Errorf("alloc: calloc overflow count=%d size=%d", count, size)
	}
	return e.Alloc(total, class)
}

// Realloc allocates a new block of newSize in b's region, copies the
// overlapping prefix and frees b; it never resizes a block in place.
func (e *ExternalPreferred) Realloc(b *Block, newSize int) (*Block, error) {
	if b == nil {
		return e.Alloc(newSize, Any)
	}
	nb, err := e.allocFrom(b.owner, b.region, newSize)
	if err != nil {
		return nil, err
	}
	n := b.size
	if newSize < n {
		n = newSize
	}
	copy(nb.Bytes, b.Bytes[:n])
	e.Free(b)
	return nb, nil
}

// Free releases b back to its owning arena.
func (e *ExternalPreferred) Free(b *Block) {
	if b == nil || b.owner == nil {
		return
	}
	b.owner.free(b.off, b.size)
	b.owner = nil
}

// IsExternal reports whether b was drawn from the external arena.
func (e *ExternalPreferred) IsExternal(b *Block) bool {
	return b != nil && b.region == External
}

// Status snapshots both arenas.
func (e *ExternalPreferred) Status() Status {
	return Status{
		FreeInternal:        e.internal.freeBytes(),
		LargestFreeInternal: e.internal.largestFree(),
		TotalInternal:       e.internal.total,
		FreeExternal:        e.external.freeBytes(),
		TotalExternal:       e.external.total,
		HasExternal:         e.hasExt,
	}
}

// InternalOnly is the allocator policy for boards with no PSRAM: External
// requests always fail.
type InternalOnly struct {
	*ExternalPreferred
}

// NewInternalOnly builds an allocator with only an internal arena.
func NewInternalOnly(internalBytes int) *InternalOnly {
	return &InternalOnly{ExternalPreferred: NewExternalPreferred(internalBytes, 0)}
}

// HostAllocator is a pass-through allocator for host-side tests and the
// CLI driver's PC-side code paths; it never reports external memory.
type HostAllocator struct{}

// NewHostAllocator returns an allocator backed by the Go runtime.
func NewHostAllocator() *HostAllocator { return &HostAllocator{} }

func (HostAllocator) Alloc(size int, _ Class) (*Block, error) {
	if size < 0 {
		return nil, errors.Errorf("alloc: negative size %d", size)
	}
	return &Block{Bytes: make([]byte, size), region: Internal}, nil
}

func (h HostAllocator) Calloc(count, size int, class Class) (*Block, error) {
	return h.Alloc(count*size, class)
}

func (h HostAllocator) Realloc(b *Block, newSize int) (*Block, error) {
	nb, err := h.Alloc(newSize, Internal)
	if err != nil {
		return nil, err
	}
	if b != nil {
		copy(nb.Bytes, b.Bytes)
	}
	return nb, nil
}

func (HostAllocator) Free(*Block) {}

func (HostAllocator) IsExternal(*Block) bool { return false }

func (HostAllocator) Status() Status {
	return Status{HasExternal: false}
}
