package snapshot

import (
	"bytes"
	"testing"

	"github.com/mudforge/engine/internal/entity"
	"github.com/mudforge/engine/internal/spatial"
)

type healthComp struct{ HP int32 }

func setupWorld(t *testing.T) (*entity.World, *entity.Registries, *entity.Store[healthComp]) {
	t.Helper()
	regs := entity.NewRegistries()
	types := entity.NewTypeRegistry()
	store := entity.NewStore[healthComp]()
	entity.RegisterComponent(regs, types, 1, "health", store,
		func(h healthComp) ([]byte, error) { return []byte{byte(h.HP)}, nil },
		func(b []byte) (healthComp, error) { return healthComp{HP: int32(b[0])}, nil },
		nil, nil)
	world := entity.NewWorld(types)
	return world, regs, store
}

func TestCaptureRestoreRoundTrip(t *testing.T) {
	world, regs, store := setupWorld(t)
	e1 := world.Spawn()
	e2 := world.Spawn()
	store.Set(e1, healthComp{HP: 42})
	store.Set(e2, healthComp{HP: 7})

	rooms := spatial.NewRoomGraph()
	r1, r2 := entity.NewID(100, 0), entity.NewID(101, 0)
	rooms.SetExit(r1, spatial.East, r2)
	rooms.Place(e1, r1)
	rooms.Place(e2, r2)

	snap1 := Capture(world, regs, rooms, 5)
	encoded := Encode(snap1)

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	world2, regs2, store2 := setupWorld(t)
	rooms2 := spatial.NewRoomGraph()
	if err := Restore(world2, regs2, rooms2, decoded); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if !world2.Alive(e1) || !world2.Alive(e2) {
		t.Fatalf("restored entities must be alive")
	}
	if v, ok := store2.Get(e1); !ok || v.HP != 42 {
		t.Fatalf("expected e1 HP=42, got %+v ok=%v", v, ok)
	}
	if room, ok := rooms2.LocationOf(e2); !ok || room != r2 {
		t.Fatalf("expected e2 in r2, got %v ok=%v", room, ok)
	}

	snap2 := Capture(world2, regs2, rooms2, 5)
	if !bytes.Equal(Canonical(snap1), Canonical(snap2)) {
		t.Fatalf("capture-restore-capture must be canonically byte-equal")
	}
}

func TestDecodeRejectsUnknownSchemaVersion(t *testing.T) {
	w := NewWriter()
	w.WriteU32(9999) // not CurrentSchemaVersion, no migration registered
	w.WriteU64(0)
	w.WriteI64(0)
	w.WriteU32(0) // generations
	w.WriteU32(0) // free list
	w.WriteU32(0) // next index
	w.WriteU32(0) // entities
	w.WriteU8(uint8(spatial.BackendRoomGraph))
	w.WriteU32(0) // rooms

	_, err := Decode(w.Bytes())
	if err == nil {
		t.Fatalf("expected an error decoding an unknown schema version")
	}
}

func TestNextAllocationAfterRestoreNeverCollides(t *testing.T) {
	world, _, _ := setupWorld(t)
	var freed []entity.ID
	ids := make([]entity.ID, 10)
	for i := range ids {
		ids[i] = world.Spawn()
	}
	for _, idx := range []int{2, 6} {
		world.MarkForDestruction(ids[idx])
	}
	world.FlushDestroyQueue()
	freed = append(freed, ids[2], ids[6])
	reused1 := world.Spawn()
	reused2 := world.Spawn()

	state := world.Pool().Snapshot()

	world2, _, _ := setupWorld(t)
	world2.Pool().Restore(state)
	next := world2.Pool().Allocate()

	live := append(append([]entity.ID{}, ids...), reused1, reused2)
	for _, id := range live {
		if id == next {
			t.Fatalf("next allocation %v collided with a live handle", next)
		}
	}
	for _, id := range freed {
		if id == next {
			t.Fatalf("next allocation %v collided with a freed-then-reused handle", next)
		}
	}
}
