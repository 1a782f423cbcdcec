// Package spatial implements the two concrete placement backends the
// engine supports: a directed room graph for text-MUD mode and an
// integer 2D grid for MMO mode. Both satisfy the same broad contract
// (place, remove, locate, list occupants, move, broadcast set, snapshot)
// but their move semantics differ enough that each is its own type
// rather than forced behind one interface with a lowest-common-
// denominator Move signature.
package spatial

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mudforge/engine/internal/entity"
)

// ErrNoSuchExit is returned when a move names a label the current room
// does not have an edge for.
var ErrNoSuchExit = errors.New("spatial: no such exit from current room")

// North, South, East, and West are the four cardinal labels every room
// graph recognizes alongside arbitrary custom strings.
const (
	North = "north"
	South = "south"
	East  = "east"
	West  = "west"
)

// RoomGraph is a directed multigraph: rooms are entities, edges are a
// per-room mapping from label to target room entity, with per-room
// occupant sets tracked alongside.
type RoomGraph struct {
	exits     map[entity.ID]map[string]entity.ID
	occupants map[entity.ID]map[entity.ID]struct{} // room -> set of occupant entities
	location  map[entity.ID]entity.ID              // occupant -> current room
}

// NewRoomGraph returns an empty room graph. Rooms are registered by
// AddRoom, and also implicitly by SetExit (for the source room), Place,
// and Move (for the target room).
func NewRoomGraph() *RoomGraph {
	return &RoomGraph{
		exits:     make(map[entity.ID]map[string]entity.ID),
		occupants: make(map[entity.ID]map[entity.ID]struct{}),
		location:  make(map[entity.ID]entity.ID),
	}
}

// AddRoom registers room as a valid location. Safe to call more than
// once for the same room.
func (g *RoomGraph) AddRoom(room entity.ID) {
	if _, ok := g.exits[room]; !ok {
		g.exits[room] = make(map[string]entity.ID)
	}
	if _, ok := g.occupants[room]; !ok {
		g.occupants[room] = make(map[entity.ID]struct{})
	}
}

// SetExit records a directed, labeled edge from room to target. Labels
// may be the four cardinal directions or any custom string.
func (g *RoomGraph) SetExit(room entity.ID, label string, target entity.ID) {
	g.AddRoom(room)
	g.exits[room][label] = target
}

// Exits returns room's label-to-target mapping. Callers must not
// mutate the returned map.
func (g *RoomGraph) Exits(room entity.ID) map[string]entity.ID {
	return g.exits[room]
}

// Place puts e in room unconditionally (initial teleport — no adjacency
// check). If e already occupies a room, it is first removed from there.
func (g *RoomGraph) Place(e entity.ID, room entity.ID) {
	g.AddRoom(room)
	if old, ok := g.location[e]; ok {
		delete(g.occupants[old], e)
	}
	g.occupants[room][e] = struct{}{}
	g.location[e] = room
}

// Remove takes e out of the graph entirely.
func (g *RoomGraph) Remove(e entity.ID) {
	if room, ok := g.location[e]; ok {
		delete(g.occupants[room], e)
		delete(g.location, e)
	}
}

// LocationOf returns e's current room, if any.
func (g *RoomGraph) LocationOf(e entity.ID) (entity.ID, bool) {
	r, ok := g.location[e]
	return r, ok
}

// Occupants lists room's current occupants sorted by entity handle.
func (g *RoomGraph) Occupants(room entity.ID) []entity.ID {
	set := g.occupants[room]
	out := make([]entity.ID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return entity.Less(out[i], out[j]) })
	return out
}

// Move relocates e from its current room to the room reachable via
// label. It fails with ErrNoSuchExit if the current room has no edge
// for that label — moves are atomic: the leave and the enter both
// happen, or neither does.
func (g *RoomGraph) Move(e entity.ID, label string) (from, to entity.ID, err error) {
	cur, ok := g.location[e]
	if !ok {
		return 0, 0, fmt.Errorf("spatial: entity %v has no current room", e)
	}
	target, ok := g.exits[cur][label]
	if !ok {
		return 0, 0, ErrNoSuchExit
	}
	delete(g.occupants[cur], e)
	g.AddRoom(target)
	g.occupants[target][e] = struct{}{}
	g.location[e] = target
	return cur, target, nil
}

// BroadcastSet returns every occupant of e's current room except e
// itself, sorted by entity handle.
func (g *RoomGraph) BroadcastSet(e entity.ID) []entity.ID {
	room, ok := g.location[e]
	if !ok {
		return nil
	}
	all := g.Occupants(room)
	out := make([]entity.ID, 0, len(all))
	for _, id := range all {
		if id != e {
			out = append(out, id)
		}
	}
	return out
}

// Rooms returns every room id known to the graph, sorted.
func (g *RoomGraph) Rooms() []entity.ID {
	out := make([]entity.ID, 0, len(g.exits))
	for id := range g.exits {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return entity.Less(out[i], out[j]) })
	return out
}
