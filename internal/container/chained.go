package container

import "github.com/pkg/errors"

// ShardState is the lifecycle state of one inner shard in a chained
// container (spec §4.4): Empty (no object allocated, or an allocated
// object that is currently empty), Used (allocated and non-empty), or
// Deleted (allocated but empty; reusable without allocation).
type ShardState int

const (
	ShardEmpty ShardState = iota
	ShardUsed
	ShardDeleted
)

// ErrChainFull is returned when an insert cannot find or grow a shard and
// cap is already at MaxCap.
var ErrChainFull = errors.New("container: chained map/set is full")

type shardMeta struct {
	state     ShardState
	allocated bool // distinguishes "Empty, no object" from "Empty, object present"
}

// ChainedMap shards entries across up to MaxCap inner OAMaps, indexed by
// a key-range -> shard map (spec §4.4). A key-range value occurs in at
// most one shard; chain_size() equals the number of Used shards.
type ChainedMap[K comparable, V any] struct {
	shards      []*OAMap[K, V]
	meta        []shardMeta
	rangeMap    *OAMap[uint8, uint8]
	cap         int
	fullness    int // percentage
	hash        HashFunc[K]
	version     uint64
}

// NewChainedMap returns an empty ChainedMap with initial shard capacity
// initialCap and fill-factor percentage fullness.
func NewChainedMap[K comparable, V any](initialCap, fullnessPct int, hash HashFunc[K]) *ChainedMap[K, V] {
	if initialCap < 1 {
		initialCap = 4
	}
	if initialCap > MaxCap {
		initialCap = MaxCap
	}
	if fullnessPct <= 0 || fullnessPct > 100 {
		fullnessPct = 75
	}
	cm := &ChainedMap[K, V]{
		shards:   make([]*OAMap[K, V], initialCap),
		meta:     make([]shardMeta, initialCap),
		rangeMap: NewOAMap[uint8, uint8](16, fullnessPct, HashInt[uint8]),
		cap:      initialCap,
		fullness: fullnessPct,
		hash:     hash,
	}
	return cm
}

// csetAbility is the number of distinct key-ranges, per spec §4.4:
// floor(255 * fullness / 100).
func (c *ChainedMap[K, V]) csetAbility() int {
	a := (255 * c.fullness) / 100
	if a < 1 {
		a = 1
	}
	return a
}

// keyRange computes (range, hash) for k per spec §4.4 step 1.
func (c *ChainedMap[K, V]) keyRange(k K) (uint8, uint64) {
	h := c.hash(k)
	r := uint8(h % uint64(c.csetAbility()))
	return r, h
}

func (c *ChainedMap[K, V]) chooseShard() (int, bool) {
	// prefer Deleted (reuse without allocation)
	for i, m := range c.meta {
		if m.state == ShardDeleted {
			return i, true
		}
	}
	// then Empty-with-object-present
	for i, m := range c.meta {
		if m.state == ShardEmpty && m.allocated {
			return i, true
		}
	}
	// then first Empty-without-object
	for i, m := range c.meta {
		if m.state == ShardEmpty && !m.allocated {
			return i, true
		}
	}
	return -1, false
}

func (c *ChainedMap[K, V]) grow() bool {
	if c.cap >= MaxCap {
		return false
	}
	add := 4
	if c.cap+add > MaxCap {
		add = MaxCap - c.cap
	}
	c.shards = append(c.shards, make([]*OAMap[K, V], add)...)
	c.meta = append(c.meta, make([]shardMeta, add)...)
	c.cap += add
	return true
}

// Set inserts or updates k -> v, following the insert protocol of
// spec §4.4.
func (c *ChainedMap[K, V]) Set(k K, v V) error {
	r, _ := c.keyRange(k)
	if shardIdx, ok := c.rangeMap.Get(r); ok {
		c.shards[shardIdx].Set(k, v)
		c.meta[shardIdx].state = ShardUsed
		c.version++
		return nil
	}
	for {
		idx, ok := c.chooseShard()
		if ok {
			if c.shards[idx] == nil {
				c.shards[idx] = NewOAMap[K, V](8, c.fullness, c.hash)
				c.meta[idx].allocated = true
			}
			c.shards[idx].Set(k, v)
			c.meta[idx].state = ShardUsed
			c.rangeMap.Set(r, uint8(idx))
			c.version++
			return nil
		}
		if !c.grow() {
			return errors.Wrapf(ErrChainFull, "range=%d cap=%d", r, c.cap)
		}
	}
}

// Get returns the value for k and whether it was present.
func (c *ChainedMap[K, V]) Get(k K) (V, bool) {
	var zero V
	r, _ := c.keyRange(k)
	shardIdx, ok := c.rangeMap.Get(r)
	if !ok {
		return zero, false
	}
	return c.shards[shardIdx].Get(k)
}

// Contains reports whether k is present.
func (c *ChainedMap[K, V]) Contains(k K) bool {
	_, ok := c.Get(k)
	return ok
}

// Erase deletes k, following the erase protocol of spec §4.4: delegate
// to the shard, and if it becomes empty, remove the range-map entry,
// mark the shard Deleted, and Fit it.
func (c *ChainedMap[K, V]) Erase(k K) bool {
	r, _ := c.keyRange(k)
	shardIdx, ok := c.rangeMap.Get(r)
	if !ok {
		return false
	}
	if !c.shards[shardIdx].Erase(k) {
		return false
	}
	c.version++
	if c.shards[shardIdx].Size() == 0 {
		c.rangeMap.Erase(r)
		c.meta[shardIdx].state = ShardDeleted
		c.shards[shardIdx].Fit()
	}
	return true
}

// Size returns the total live key count across all shards.
func (c *ChainedMap[K, V]) Size() int {
	n := 0
	for i, m := range c.meta {
		if m.state == ShardUsed {
			n += c.shards[i].Size()
		}
	}
	return n
}

// ChainSize returns the number of shards currently in state Used (spec
// invariant).
func (c *ChainedMap[K, V]) ChainSize() int {
	n := 0
	for _, m := range c.meta {
		if m.state == ShardUsed {
			n++
		}
	}
	return n
}

// SetFullness changes the fill-factor percentage, rehashing all entries.
// On failure the previous state is restored (spec §4.4: "the caller is
// expected to call this before insertion for best results").
func (c *ChainedMap[K, V]) SetFullness(pct int) error {
	if pct <= 0 || pct > 100 {
		return errors.Errorf("container: invalid fullness %d", pct)
	}
	type kv struct {
		k K
		v V
	}
	var all []kv
	for i, m := range c.meta {
		if m.state == ShardUsed {
			c.shards[i].Iter(func(k K, v V) bool {
				all = append(all, kv{k, v})
				return true
			})
		}
	}
	snapshot := *c
	nc := NewChainedMap[K, V](len(c.shards), pct, c.hash)
	for _, e := range all {
		if err := nc.Set(e.k, e.v); err != nil {
			*c = snapshot
			return errors.Wrap(err, "container: rehash under new fullness failed")
		}
	}
	*c = *nc
	return nil
}

// MemoryUsage reports the combined memory usage of all allocated shards
// plus the range map.
func (c *ChainedMap[K, V]) MemoryUsage() int {
	total := c.rangeMap.MemoryUsage()
	for i, m := range c.meta {
		if m.allocated {
			total += c.shards[i].MemoryUsage()
		}
	}
	return total
}

// Iter calls fn for every live key/value pair across all shards.
// Iteration is nested (outer over shards, inner over entries); order is
// unspecified (spec §5). Structural changes mid-iteration invalidate the
// iteration; check Version().
func (c *ChainedMap[K, V]) Iter(fn func(k K, v V) bool) {
	for i, m := range c.meta {
		if m.state != ShardUsed {
			continue
		}
		cont := true
		c.shards[i].Iter(func(k K, v V) bool {
			if !fn(k, v) {
				cont = false
				return false
			}
			return true
		})
		if !cont {
			return
		}
	}
}

// Version returns the structural-change counter.
func (c *ChainedMap[K, V]) Version() uint64 { return c.version }

// ChainedSet is a ChainedMap[K, struct{}] in spirit, sharing the same
// sharding/range-map machinery.
type ChainedSet[K comparable] struct {
	m *ChainedMap[K, struct{}]
}

// NewChainedSet returns an empty ChainedSet.
func NewChainedSet[K comparable](initialCap, fullnessPct int, hash HashFunc[K]) *ChainedSet[K] {
	return &ChainedSet[K]{m: NewChainedMap[K, struct{}](initialCap, fullnessPct, hash)}
}

// Insert adds k to the set.
func (s *ChainedSet[K]) Insert(k K) error { return s.m.Set(k, struct{}{}) }

// Erase removes k from the set.
func (s *ChainedSet[K]) Erase(k K) bool { return s.m.Erase(k) }

// Contains reports whether k is a member.
func (s *ChainedSet[K]) Contains(k K) bool { return s.m.Contains(k) }

// Size returns the live element count.
func (s *ChainedSet[K]) Size() int { return s.m.Size() }

// ChainSize returns the number of shards in state Used.
func (s *ChainedSet[K]) ChainSize() int { return s.m.ChainSize() }

// SetFullness changes the fill-factor percentage, rehashing all entries.
func (s *ChainedSet[K]) SetFullness(pct int) error { return s.m.SetFullness(pct) }

// MemoryUsage reports the combined memory usage of all shards.
func (s *ChainedSet[K]) MemoryUsage() int { return s.m.MemoryUsage() }

// Iter calls fn for every member; order is unspecified.
func (s *ChainedSet[K]) Iter(fn func(k K) bool) {
	s.m.Iter(func(k K, _ struct{}) bool { return fn(k) })
}

// Version returns the structural-change counter.
func (s *ChainedSet[K]) Version() uint64 { return s.m.Version() }

// Note: per spec §9's Open Questions, ChainedMap/ChainedSet deliberately
// do not expose an Equal/== method. The source's set_fullness iterator
// comparison (it->first()/it->second() called as functions against what
// the iterator actually yields as a plain value) is ambiguous, and this
// rewrite does not guess at the intended equality semantics.
