package spatial

import (
	"testing"

	"github.com/mudforge/engine/internal/entity"
)

func TestRoomGraphMoveAtomicity(t *testing.T) {
	g := NewRoomGraph()
	r1, r2 := entity.NewID(1, 0), entity.NewID(2, 0)
	g.SetExit(r1, East, r2)
	g.SetExit(r2, West, r1)

	x := entity.NewID(100, 0)
	g.Place(x, r1)

	from, to, err := g.Move(x, East)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if from != r1 || to != r2 {
		t.Fatalf("unexpected move result: from=%v to=%v", from, to)
	}
	if contains(g.Occupants(r1), x) {
		t.Fatalf("entity must no longer occupy the old room")
	}
	if !contains(g.Occupants(r2), x) {
		t.Fatalf("entity must occupy exactly the new room")
	}
}

func TestRoomGraphInvalidExit(t *testing.T) {
	g := NewRoomGraph()
	r1 := entity.NewID(1, 0)
	g.AddRoom(r1)
	x := entity.NewID(100, 0)
	g.Place(x, r1)
	if _, _, err := g.Move(x, North); err != ErrNoSuchExit {
		t.Fatalf("expected ErrNoSuchExit, got %v", err)
	}
}

func TestRoomGraphBroadcastSetExcludesSelf(t *testing.T) {
	g := NewRoomGraph()
	r1 := entity.NewID(1, 0)
	g.AddRoom(r1)
	x, y := entity.NewID(100, 0), entity.NewID(101, 0)
	g.Place(x, r1)
	g.Place(y, r1)
	set := g.BroadcastSet(x)
	if len(set) != 1 || set[0] != y {
		t.Fatalf("expected broadcast set {y}, got %v", set)
	}
}

func TestGridBoundsEnforced(t *testing.T) {
	g := NewGrid(0, 0, 64, 64)
	e := entity.NewID(1, 0)
	if err := g.Place(e, 32, 32); err != nil {
		t.Fatalf("unexpected error placing in bounds: %v", err)
	}
	if err := g.MoveDelta(e, 100, 0); err == nil {
		t.Fatalf("expected out-of-bounds move to fail")
	}
	x, y, _ := g.LocationOf(e)
	if x != 32 || y != 32 {
		t.Fatalf("failed move must not relocate entity, got (%d,%d)", x, y)
	}
}

func TestGridChebyshevNeighborhood(t *testing.T) {
	g := NewGrid(0, 0, 64, 64)
	center := entity.NewID(1, 0)
	near := entity.NewID(2, 0)
	far := entity.NewID(3, 0)
	g.Place(center, 32, 32)
	g.Place(near, 34, 33) // Chebyshev distance 2
	g.Place(far, 50, 50)

	got := g.Neighborhood(center, 2)
	if !contains(got, near) || contains(got, far) {
		t.Fatalf("expected near but not far in radius-2 neighborhood, got %v", got)
	}
}

func TestGridSnapshotRoundTrip(t *testing.T) {
	g := NewGrid(0, 0, 16, 16)
	e1, e2 := entity.NewID(1, 0), entity.NewID(2, 0)
	g.Place(e1, 3, 4)
	g.Place(e2, 3, 4)

	p := g.Capture()
	g2 := NewGrid(0, 0, 16, 16)
	g2.Restore(p)

	x, y, ok := g2.LocationOf(e1)
	if !ok || x != 3 || y != 4 {
		t.Fatalf("restored entity in wrong place: (%d,%d) ok=%v", x, y, ok)
	}
	if !contains(g2.Occupants(3, 4), e2) {
		t.Fatalf("expected both entities restored to (3,4)")
	}
}

func contains(ids []entity.ID, target entity.ID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}
