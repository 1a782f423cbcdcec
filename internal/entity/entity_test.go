package entity

import "testing"

func TestPoolGenerationalSafety(t *testing.T) {
	p := NewPool()
	a := p.Allocate()
	if !p.Alive(a) {
		t.Fatalf("freshly allocated handle must be alive")
	}
	if ok := p.Free(a); !ok {
		t.Fatalf("freeing a live handle must succeed")
	}
	if p.Alive(a) {
		t.Fatalf("stale handle must report not-alive after free")
	}
	b := p.Allocate()
	if a == b {
		t.Fatalf("reused slot must not produce an equal handle: a=%v b=%v", a, b)
	}
	if b.Index() != a.Index() {
		t.Fatalf("expected slot reuse: a.Index=%d b.Index=%d", a.Index(), b.Index())
	}
	if b.Generation() == a.Generation() {
		t.Fatalf("reused slot must bump generation")
	}
	if p.Alive(a) {
		t.Fatalf("old handle must remain stale even after slot reuse")
	}
}

func TestPoolFreeStaleIsNoop(t *testing.T) {
	p := NewPool()
	a := p.Allocate()
	p.Free(a)
	if p.Free(a) {
		t.Fatalf("freeing an already-stale handle must return false")
	}
}

func TestPoolSnapshotRestore(t *testing.T) {
	p := NewPool()
	var ids []ID
	for i := 0; i < 10; i++ {
		ids = append(ids, p.Allocate())
	}
	p.Free(ids[3])
	p.Free(ids[7])
	p.Allocate()
	p.Allocate()

	state := p.Snapshot()
	p2 := NewPool()
	p2.Restore(state)

	next := p2.Allocate()
	for _, id := range ids {
		if p2.Alive(id) && id == next {
			t.Fatalf("restored allocator issued a handle colliding with a still-live one: %v", next)
		}
	}
}

func TestStoreOrderedIteration(t *testing.T) {
	s := NewStore[int]()
	ids := []ID{NewID(5, 0), NewID(1, 2), NewID(1, 0), NewID(9, 0)}
	for i, id := range ids {
		s.Set(id, i)
	}
	got := s.IDs()
	for i := 1; i < len(got); i++ {
		if !Less(got[i-1], got[i]) {
			t.Fatalf("IDs() not sorted by (index, generation): %v", got)
		}
	}
}

func TestStoreMissingIsAbsentNotError(t *testing.T) {
	s := NewStore[string]()
	v, ok := s.Get(NewID(1, 0))
	if ok || v != "" {
		t.Fatalf("missing read must yield zero value and false")
	}
	if s.Remove(NewID(1, 0)) {
		t.Fatalf("removing an absent component must return false, idempotently")
	}
}

func TestWorldDeferredDestruction(t *testing.T) {
	regs := NewTypeRegistry()
	hp := NewStore[int]()
	regs.Add(1, hp)
	w := NewWorld(regs)

	e := w.Spawn()
	hp.Set(e, 100)
	w.MarkForDestruction(e)
	if !hp.Has(e) {
		t.Fatalf("component must survive until FlushDestroyQueue, not at mark time")
	}
	w.FlushDestroyQueue()
	if w.Alive(e) {
		t.Fatalf("entity must not be alive after flush")
	}
	if hp.Has(e) {
		t.Fatalf("component must be gone after flush")
	}
}

func TestEach2Intersection(t *testing.T) {
	a := NewStore[int]()
	b := NewStore[string]()
	e1, e2, e3 := NewID(1, 0), NewID(2, 0), NewID(3, 0)
	a.Set(e1, 10)
	a.Set(e2, 20)
	b.Set(e2, "hi")
	b.Set(e3, "bye")

	var seen []ID
	Each2(a, b, func(id ID, av int, bv string) bool {
		seen = append(seen, id)
		return true
	})
	if len(seen) != 1 || seen[0] != e2 {
		t.Fatalf("expected only e2 in intersection, got %v", seen)
	}
}
