package entity

// PoolState is the serializable form of a Pool: generations indexed by
// slot, the free list (slots available for reuse), and the next unused
// slot index. Snapshot capture/restore round-trips through this.
type PoolState struct {
	Generations []uint32
	FreeList    []uint32
	NextIndex   uint32
}

// Pool allocates and frees generational handles. It is the sole owner
// of slot/generation bookkeeping; nothing outside this package may
// invent an ID.
type Pool struct {
	generations []uint32
	free        []uint32
	next        uint32
}

// NewPool returns an empty allocator.
func NewPool() *Pool {
	return &Pool{}
}

// Allocate returns a fresh handle: a reused slot (generation bumped) if
// the free list is non-empty, otherwise a brand new slot at generation 0.
func (p *Pool) Allocate() ID {
	if n := len(p.free); n > 0 {
		idx := p.free[n-1]
		p.free = p.free[:n-1]
		gen := p.generations[idx]
		return NewID(idx, gen)
	}
	idx := p.next
	p.next++
	p.generations = append(p.generations, 0)
	return NewID(idx, 0)
}

// Alive reports whether id's (index, generation) pair is the pool's
// current occupant of that slot.
func (p *Pool) Alive(id ID) bool {
	idx := id.Index()
	if idx >= uint32(len(p.generations)) {
		return false
	}
	return p.generations[idx] == id.Generation()
}

// Free releases id's slot for reuse at the next generation. It is a
// no-op returning false if id is already stale (not the current
// occupant of its slot); freeing twice is not an error.
func (p *Pool) Free(id ID) bool {
	if !p.Alive(id) {
		return false
	}
	idx := id.Index()
	p.generations[idx]++
	p.free = append(p.free, idx)
	return true
}

// Len returns the number of slots ever allocated (live + freed), not
// the number currently live.
func (p *Pool) Len() int { return len(p.generations) }

// Snapshot returns a copy of the allocator's state for serialization.
func (p *Pool) Snapshot() PoolState {
	gens := make([]uint32, len(p.generations))
	copy(gens, p.generations)
	free := make([]uint32, len(p.free))
	copy(free, p.free)
	return PoolState{Generations: gens, FreeList: free, NextIndex: p.next}
}

// Restore seats the allocator at exactly the given state. Subsequent
// Allocate calls cannot collide with any handle implied by state: all
// live slots already show their captured generation, and free slots will
// be reissued at the generation recorded for them in Generations, which
// Free already bumped past the slot's last occupant.
func (p *Pool) Restore(state PoolState) {
	p.generations = append([]uint32(nil), state.Generations...)
	p.free = append([]uint32(nil), state.FreeList...)
	p.next = state.NextIndex
}
