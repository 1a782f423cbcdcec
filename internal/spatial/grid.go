package spatial

import (
	"fmt"
	"sort"

	"github.com/mudforge/engine/internal/entity"
)

// cellSize buckets the grid into neighborhood-query cells. It only
// affects the candidate-scan cost of Neighborhood, never correctness.
const cellSize = 20

type point struct{ x, y int }

func toCell(x, y int) point {
	return point{floorDiv(x, cellSize), floorDiv(y, cellSize)}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Grid is a bounded integer 2D plane: locations are (x, y) cells inside
// [originX, originX+width) x [originY, originY+height), with per-cell
// occupant tracking and a coarser cell-bucketed index for neighborhood
// scans.
type Grid struct {
	originX, originY int
	width, height     int

	pos   map[entity.ID]point
	cells map[point]map[entity.ID]struct{}
	index map[point]map[entity.ID]struct{} // cellSize-bucketed index for Neighborhood scans
}

// NewGrid returns an empty grid. Bounds are fixed for the grid's
// lifetime.
func NewGrid(originX, originY, width, height int) *Grid {
	return &Grid{
		originX: originX, originY: originY,
		width: width, height: height,
		pos:   make(map[entity.ID]point),
		cells: make(map[point]map[entity.ID]struct{}),
		index: make(map[point]map[entity.ID]struct{}),
	}
}

// InBounds reports whether (x, y) lies inside the grid's fixed bounds.
func (g *Grid) InBounds(x, y int) bool {
	return x >= g.originX && x < g.originX+g.width &&
		y >= g.originY && y < g.originY+g.height
}

func (g *Grid) addToCell(p point, e entity.ID) {
	if g.cells[p] == nil {
		g.cells[p] = make(map[entity.ID]struct{})
	}
	g.cells[p][e] = struct{}{}
	bucket := toCell(p.x, p.y)
	if g.index[bucket] == nil {
		g.index[bucket] = make(map[entity.ID]struct{})
	}
	g.index[bucket][e] = struct{}{}
}

func (g *Grid) removeFromCell(p point, e entity.ID) {
	if set, ok := g.cells[p]; ok {
		delete(set, e)
		if len(set) == 0 {
			delete(g.cells, p)
		}
	}
	bucket := toCell(p.x, p.y)
	if set, ok := g.index[bucket]; ok {
		delete(set, e)
		if len(set) == 0 {
			delete(g.index, bucket)
		}
	}
}

// Place puts e at (x, y) unconditionally, bounds permitting. If e is
// already on the grid it is first removed from its old cell.
func (g *Grid) Place(e entity.ID, x, y int) error {
	if !g.InBounds(x, y) {
		return fmt.Errorf("spatial: (%d,%d) out of bounds", x, y)
	}
	if old, ok := g.pos[e]; ok {
		g.removeFromCell(old, e)
	}
	p := point{x, y}
	g.addToCell(p, e)
	g.pos[e] = p
	return nil
}

// Remove takes e off the grid entirely.
func (g *Grid) Remove(e entity.ID) {
	if p, ok := g.pos[e]; ok {
		g.removeFromCell(p, e)
		delete(g.pos, e)
	}
}

// LocationOf returns e's current (x, y), if tracked.
func (g *Grid) LocationOf(e entity.ID) (x, y int, ok bool) {
	p, ok := g.pos[e]
	return p.x, p.y, ok
}

// MoveDelta shifts e by (dx, dy), failing (and leaving e where it was)
// if the destination cell is out of bounds.
func (g *Grid) MoveDelta(e entity.ID, dx, dy int) error {
	p, ok := g.pos[e]
	if !ok {
		return fmt.Errorf("spatial: entity %v is not on the grid", e)
	}
	return g.Place(e, p.x+dx, p.y+dy)
}

// Teleport sets e's absolute position, bypassing adjacency but still
// bounds-checked.
func (g *Grid) Teleport(e entity.ID, x, y int) error {
	return g.Place(e, x, y)
}

// Occupants lists the entities at exactly (x, y), sorted by handle.
func (g *Grid) Occupants(x, y int) []entity.ID {
	set := g.cells[point{x, y}]
	out := make([]entity.ID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return entity.Less(out[i], out[j]) })
	return out
}

// Neighborhood returns every entity within Chebyshev radius r of e's
// current position (the square window of side 2r+1), sorted by handle,
// excluding e itself.
func (g *Grid) Neighborhood(e entity.ID, r int) []entity.ID {
	p, ok := g.pos[e]
	if !ok {
		return nil
	}
	return g.neighborhoodOf(p, r, e)
}

// NeighborhoodAt is Neighborhood but centered on an arbitrary point
// rather than an existing entity, with no self-exclusion.
func (g *Grid) NeighborhoodAt(x, y, r int) []entity.ID {
	out := g.neighborhoodOf(point{x, y}, r, 0)
	// neighborhoodOf always skips the handle it is given, and handle 0
	// (slot 0, generation 0) is a real entity; add it back if in range.
	// It sorts before every other handle, so it goes first.
	if p, ok := g.pos[0]; ok && abs(p.x-x) <= r && abs(p.y-y) <= r {
		out = append([]entity.ID{0}, out...)
	}
	return out
}

func (g *Grid) neighborhoodOf(center point, r int, exclude entity.ID) []entity.ID {
	minBucket := toCell(center.x-r, center.y-r)
	maxBucket := toCell(center.x+r, center.y+r)
	seen := make(map[entity.ID]struct{})
	for bx := minBucket.x; bx <= maxBucket.x; bx++ {
		for by := minBucket.y; by <= maxBucket.y; by++ {
			for id := range g.index[point{bx, by}] {
				pp := g.pos[id]
				if abs(pp.x-center.x) <= r && abs(pp.y-center.y) <= r {
					if id != exclude {
						seen[id] = struct{}{}
					}
				}
			}
		}
	}
	out := make([]entity.ID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return entity.Less(out[i], out[j]) })
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// BroadcastSet returns e's neighborhood at the given area-of-interest
// radius — the grid analogue of RoomGraph.BroadcastSet.
func (g *Grid) BroadcastSet(e entity.ID, aoiRadius int) []entity.ID {
	return g.Neighborhood(e, aoiRadius)
}

// Bounds reports the grid's fixed construction-time bounds.
func (g *Grid) Bounds() (originX, originY, width, height int) {
	return g.originX, g.originY, g.width, g.height
}

// OccupiedCells returns every occupied (x, y), sorted, for snapshot
// capture.
func (g *Grid) OccupiedCells() []struct{ X, Y int } {
	out := make([]struct{ X, Y int }, 0, len(g.cells))
	for p := range g.cells {
		out = append(out, struct{ X, Y int }{p.x, p.y})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Y < out[j].Y
	})
	return out
}
