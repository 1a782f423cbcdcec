package spatial

import "github.com/mudforge/engine/internal/entity"

// Backend tags which concrete shape a serialized Payload holds.
type Backend int

const (
	BackendRoomGraph Backend = iota
	BackendGrid
)

// RoomRecord is one room's serialized shape: its exits and its current
// occupants, sorted by handle. Stable exit key order is left to the
// encoder.
type RoomRecord struct {
	Room      entity.ID
	Exits     map[string]entity.ID
	Occupants []entity.ID
}

// CellRecord is one occupied grid cell's serialized shape.
type CellRecord struct {
	X, Y      int
	Occupants []entity.ID
}

// Payload is the tagged union spatial snapshots serialize to: exactly
// one of Rooms or (Bounds + Cells) is populated, discriminated by
// Backend.
type Payload struct {
	Backend Backend

	Rooms []RoomRecord

	OriginX, OriginY, Width, Height int
	Cells                           []CellRecord
}

// Capture serializes the room graph into its tagged payload, rooms in
// sorted order and each room's occupants in sorted order.
func (g *RoomGraph) Capture() Payload {
	rooms := g.Rooms()
	out := make([]RoomRecord, 0, len(rooms))
	for _, r := range rooms {
		exits := make(map[string]entity.ID, len(g.exits[r]))
		for label, target := range g.exits[r] {
			exits[label] = target
		}
		out = append(out, RoomRecord{Room: r, Exits: exits, Occupants: g.Occupants(r)})
	}
	return Payload{Backend: BackendRoomGraph, Rooms: out}
}

// Restore rebuilds the room graph from a captured payload. The graph
// must be empty (freshly constructed) before calling this.
func (g *RoomGraph) Restore(p Payload) {
	for _, rec := range p.Rooms {
		g.AddRoom(rec.Room)
		for label, target := range rec.Exits {
			g.SetExit(rec.Room, label, target)
		}
		for _, occ := range rec.Occupants {
			g.occupants[rec.Room][occ] = struct{}{}
			g.location[occ] = rec.Room
		}
	}
}

// Capture serializes the grid into its tagged payload: fixed bounds
// plus every occupied cell with its sorted occupant list.
func (g *Grid) Capture() Payload {
	cells := g.OccupiedCells()
	out := make([]CellRecord, 0, len(cells))
	for _, c := range cells {
		out = append(out, CellRecord{X: c.X, Y: c.Y, Occupants: g.Occupants(c.X, c.Y)})
	}
	return Payload{
		Backend: BackendGrid,
		OriginX: g.originX, OriginY: g.originY, Width: g.width, Height: g.height,
		Cells: out,
	}
}

// Restore rebuilds the grid from a captured payload. The grid must
// already be constructed with matching bounds (bounds are fixed at
// construction per spec and are not re-derived here).
func (g *Grid) Restore(p Payload) {
	for _, c := range p.Cells {
		for _, occ := range c.Occupants {
			_ = g.Place(occ, c.X, c.Y)
		}
	}
}
