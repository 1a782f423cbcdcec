package component

import (
	"bytes"
	"testing"

	"github.com/mudforge/engine/internal/entity"
	"github.com/mudforge/engine/internal/snapshot"
	"github.com/mudforge/engine/internal/spatial"
)

func newRegisteredWorld(t *testing.T) (*Set, *entity.Registries, *entity.TypeRegistry, *entity.World) {
	t.Helper()
	types := entity.NewTypeRegistry()
	regs := entity.NewRegistries()
	set := NewSet()
	set.RegisterAll(regs, types)
	return set, regs, types, entity.NewWorld(types)
}

func TestSnapshotRoundTripPreservesComponents(t *testing.T) {
	set, regs, _, world := newRegisteredWorld(t)
	rooms := spatial.NewRoomGraph()

	e := world.Spawn()
	other := world.Spawn()
	set.Health.Set(e, Health{Current: 50, Max: 100})
	set.Named.Set(e, Named{Name: "goblin"})
	set.Player.Set(e, Player{})
	set.CombatTarget.Set(e, CombatTarget{Target: other})
	set.Inventory.Set(e, Inventory{Items: []entity.ID{other}})

	snap1 := snapshot.Capture(world, regs, rooms, 5)

	set2, regs2, _, world2 := newRegisteredWorld(t)
	rooms2 := spatial.NewRoomGraph()
	decoded, err := snapshot.Decode(snapshot.Encode(snap1))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := snapshot.Restore(world2, regs2, rooms2, decoded); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if h, ok := set2.Health.Get(e); !ok || h != (Health{Current: 50, Max: 100}) {
		t.Fatalf("health did not round-trip: %+v ok=%v", h, ok)
	}
	if n, ok := set2.Named.Get(e); !ok || n.Name != "goblin" {
		t.Fatalf("name did not round-trip: %+v ok=%v", n, ok)
	}
	if !set2.Player.Has(e) {
		t.Fatalf("player tag did not round-trip")
	}
	if ct, ok := set2.CombatTarget.Get(e); !ok || ct.Target != other {
		t.Fatalf("combat target did not round-trip: %+v ok=%v", ct, ok)
	}
	if inv, ok := set2.Inventory.Get(e); !ok || len(inv.Items) != 1 || inv.Items[0] != other {
		t.Fatalf("inventory did not round-trip: %+v ok=%v", inv, ok)
	}

	first := snapshot.Canonical(snap1)
	second := snapshot.Canonical(snapshot.Capture(world2, regs2, rooms2, 5))
	if !bytes.Equal(first, second) {
		t.Fatalf("capture-restore-capture must be canonically byte-equal: %d vs %d bytes", len(first), len(second))
	}
}

func TestTagExchangesAsTrue(t *testing.T) {
	set, regs, _, world := newRegisteredWorld(t)
	e := world.Spawn()
	set.Dead.Set(e, Dead{})

	adapter, ok := regs.Script(DeadID)
	if !ok {
		t.Fatalf("dead tag must be registered for scripting")
	}
	v, present := adapter.ToValue(e)
	if !present || v != true {
		t.Fatalf("a tag must exchange as the boolean true, got %v present=%v", v, present)
	}
	if _, present := adapter.ToValue(world.Spawn()); present {
		t.Fatalf("an entity without the tag must read as absent")
	}
}

func TestReferenceExchangesAsHandle(t *testing.T) {
	set, regs, _, world := newRegisteredWorld(t)
	e := world.Spawn()
	target := world.Spawn()
	set.CombatTarget.Set(e, CombatTarget{Target: target})

	adapter, _ := regs.Script(CombatTargetID)
	v, present := adapter.ToValue(e)
	if !present || v != uint64(target) {
		t.Fatalf("a reference must exchange as its 64-bit handle, got %v", v)
	}

	if err := adapter.FromValue(e, float64(uint64(target))); err != nil {
		t.Fatalf("FromValue: %v", err)
	}
	if ct, _ := set.CombatTarget.Get(e); ct.Target != target {
		t.Fatalf("handle write-back mismatch: %v != %v", ct.Target, target)
	}
}

func TestDespawnClearsAllComponents(t *testing.T) {
	set, _, _, world := newRegisteredWorld(t)
	e := world.Spawn()
	set.Health.Set(e, Health{Current: 1, Max: 1})
	set.Item.Set(e, Item{})

	world.MarkForDestruction(e)
	world.FlushDestroyQueue()

	if set.Health.Has(e) || set.Item.Has(e) {
		t.Fatalf("despawn must remove every registered component")
	}
}
