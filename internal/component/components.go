// Package component defines the baseline game-layer component set and
// registers it with the engine's persistence and scripting registries.
// The engine itself never imports this package; simhost wires it in at
// startup, and game deployments extend or replace it with their own
// types the same way.
package component

import "github.com/mudforge/engine/internal/entity"

// Component ids. These numbers are part of the snapshot schema: never
// renumber an existing id, only append.
const (
	HealthID       entity.ComponentID = 1
	NamedID        entity.ComponentID = 2
	DescriptionID  entity.ComponentID = 3
	PlayerID       entity.ComponentID = 4
	NPCID          entity.ComponentID = 5
	ItemID         entity.ComponentID = 6
	DeadID         entity.ComponentID = 7
	CombatTargetID entity.ComponentID = 8
	InventoryID    entity.ComponentID = 9
)

// Health is a data component: current and maximum hit points.
// Pure data, zero methods — all mutations happen through commands.
type Health struct {
	Current int32
	Max     int32
}

// Named is a data component: a display name.
type Named struct {
	Name string
}

// Description is a data component: the long-form text shown on look.
type Description struct {
	Text string
}

// Player, NPC, Item, and Dead are tag components: presence-only
// markers with no payload.
type (
	Player struct{}
	NPC    struct{}
	Item   struct{}
	Dead   struct{}
)

// CombatTarget is a reference component: the entity this one is
// currently attacking.
type CombatTarget struct {
	Target entity.ID
}

// Inventory is a reference component: the items this entity carries,
// in acquisition order.
type Inventory struct {
	Items []entity.ID
}
