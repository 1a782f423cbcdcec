package snapshot

import (
	"fmt"
	"sort"
	"time"

	"github.com/mudforge/engine/internal/entity"
	"github.com/mudforge/engine/internal/spatial"
)

// CurrentSchemaVersion is bumped for any change to component-id
// numbering, entity identity encoding, or spatial payload layout.
// Migrations are keyed by the version they migrate from.
const CurrentSchemaVersion uint32 = 1

// ErrUnknownSchema is returned when no migration path exists from the
// captured version to CurrentSchemaVersion. A snapshot with an unknown
// schema version never silently loads.
var ErrUnknownSchema = fmt.Errorf("snapshot: unknown schema version, no migration registered")

// ComponentRecord is one (component-id, serialized payload) pair
// attached to an entity record.
type ComponentRecord struct {
	ComponentID entity.ComponentID
	Payload     []byte
}

// EntityRecord is one live entity's handle plus every persisted
// component it carries, in persistence-registry order.
type EntityRecord struct {
	Handle     entity.ID
	Components []ComponentRecord
}

// Snapshot is the in-memory form of a captured world: everything
// needed to reconstruct the store, allocator, and spatial model.
type Snapshot struct {
	SchemaVersion   uint32
	Tick            uint64
	CapturedAtEpoch int64

	Allocator entity.PoolState
	Entities  []EntityRecord
	Spatial   spatial.Payload
}

// Migration transforms a snapshot captured at fromVersion into one
// valid at fromVersion+1. The registry is empty by default; adding
// entries here is the expected extension path for schema evolution.
type Migration func(*rawSnapshot) error

// rawSnapshot is the pre-typed form migrations operate on: the decoded
// field list before ComponentRecord payloads are handed to persistence
// adapters. Kept deliberately close to the wire shape so a migration
// can rewrite bytes without needing the live component registry.
type rawSnapshot struct {
	SchemaVersion   uint32
	Tick            uint64
	CapturedAtEpoch int64
	Allocator       entity.PoolState
	Entities        []EntityRecord
	Spatial         spatial.Payload
}

var migrations = map[uint32]Migration{}

// RegisterMigration adds a migration from fromVersion to fromVersion+1.
func RegisterMigration(fromVersion uint32, m Migration) {
	migrations[fromVersion] = m
}

// Capture walks every live entity in entity-handle order and, for each,
// the persistence registry in component-id order, invoking the
// registered serializer. The allocator and spatial backend contribute
// their own tagged state. The double ordering keeps capture output
// byte-stable for identical worlds.
func Capture(world *entity.World, regs *entity.Registries, space SpatialCapturer, tick uint64) Snapshot {
	order := regs.PersistOrder()
	live := world.LiveIDs()

	entities := make([]EntityRecord, 0, len(live))
	for _, id := range live {
		var comps []ComponentRecord
		for _, cid := range order {
			adapter, _ := regs.Persist(cid)
			payload, present, err := adapter.Serialize(id)
			if err != nil || !present {
				continue
			}
			comps = append(comps, ComponentRecord{ComponentID: cid, Payload: payload})
		}
		entities = append(entities, EntityRecord{Handle: id, Components: comps})
	}

	return Snapshot{
		SchemaVersion:   CurrentSchemaVersion,
		Tick:            tick,
		CapturedAtEpoch: time.Now().Unix(),
		Allocator:       world.Pool().Snapshot(),
		Entities:        entities,
		Spatial:         space.Capture(),
	}
}

// SpatialCapturer is satisfied by *spatial.RoomGraph and *spatial.Grid.
type SpatialCapturer interface {
	Capture() spatial.Payload
}

// SpatialRestorer is satisfied by *spatial.RoomGraph and *spatial.Grid.
type SpatialRestorer interface {
	Restore(spatial.Payload)
}

// Restore re-materializes world, regs, and space from snap. world must
// be freshly constructed (no live entities yet); space must already be
// constructed with matching bounds if it is a Grid. Entities are seated
// at their exact captured (index, generation) before components are
// deserialized and attached, so later Allocate calls can never collide
// with a restored handle.
func Restore(world *entity.World, regs *entity.Registries, space SpatialRestorer, snap Snapshot) error {
	if snap.SchemaVersion != CurrentSchemaVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrUnknownSchema, snap.SchemaVersion, CurrentSchemaVersion)
	}

	world.Pool().Restore(snap.Allocator)

	live := make([]entity.ID, 0, len(snap.Entities))
	for _, rec := range snap.Entities {
		world.SeatAt(rec.Handle)
		live = append(live, rec.Handle)
	}
	world.RestoreLive(live)

	for _, rec := range snap.Entities {
		for _, c := range rec.Components {
			adapter, ok := regs.Persist(c.ComponentID)
			if !ok {
				continue // component type dropped from the current build; skip rather than fail the whole restore
			}
			if err := adapter.Deserialize(rec.Handle, c.Payload); err != nil {
				return fmt.Errorf("snapshot: restore entity %v component %d: %w", rec.Handle, c.ComponentID, err)
			}
		}
	}

	space.Restore(snap.Spatial)
	return nil
}

// Encode serializes snap to the on-disk container format: schema
// version, tick, the capture-time metadata frame, allocator state,
// entity records, then the tagged spatial payload.
func Encode(snap Snapshot) []byte {
	w := NewWriter()
	w.WriteU32(snap.SchemaVersion)
	w.WriteU64(snap.Tick)
	w.WriteI64(snap.CapturedAtEpoch) // metadata frame; excluded from Canonical
	encodeBody(w, snap)
	return w.Bytes()
}

// Canonical returns the equality-relevant serialization of snap: the
// wire format minus the capture-timestamp metadata frame. Two captures
// of identical world state at the same tick are Canonical-byte-equal
// even though their Encode outputs differ in the timestamp. Round-trip
// and replay comparisons use this form.
func Canonical(snap Snapshot) []byte {
	w := NewWriter()
	w.WriteU32(snap.SchemaVersion)
	w.WriteU64(snap.Tick)
	encodeBody(w, snap)
	return w.Bytes()
}

func encodeBody(w *Writer, snap Snapshot) {
	w.WriteU32(uint32(len(snap.Allocator.Generations)))
	for _, g := range snap.Allocator.Generations {
		w.WriteU32(g)
	}
	w.WriteU32(uint32(len(snap.Allocator.FreeList)))
	for _, f := range snap.Allocator.FreeList {
		w.WriteU32(f)
	}
	w.WriteU32(snap.Allocator.NextIndex)

	w.WriteU32(uint32(len(snap.Entities)))
	for _, e := range snap.Entities {
		w.WriteU64(uint64(e.Handle))
		w.WriteU32(uint32(len(e.Components)))
		for _, c := range e.Components {
			w.WriteU32(uint32(c.ComponentID))
			w.WriteBytes(c.Payload)
		}
	}

	encodeSpatial(w, snap.Spatial)
}

func encodeSpatial(w *Writer, p spatial.Payload) {
	w.WriteU8(uint8(p.Backend))
	switch p.Backend {
	case spatial.BackendRoomGraph:
		w.WriteU32(uint32(len(p.Rooms)))
		for _, room := range p.Rooms {
			w.WriteU64(uint64(room.Room))
			labels := make([]string, 0, len(room.Exits))
			for l := range room.Exits {
				labels = append(labels, l)
			}
			sort.Strings(labels)
			w.WriteU32(uint32(len(labels)))
			for _, l := range labels {
				w.WriteString(l)
				w.WriteU64(uint64(room.Exits[l]))
			}
			w.WriteU32(uint32(len(room.Occupants)))
			for _, o := range room.Occupants {
				w.WriteU64(uint64(o))
			}
		}
	case spatial.BackendGrid:
		w.WriteU32(uint32(p.OriginX))
		w.WriteU32(uint32(p.OriginY))
		w.WriteU32(uint32(p.Width))
		w.WriteU32(uint32(p.Height))
		w.WriteU32(uint32(len(p.Cells)))
		for _, c := range p.Cells {
			w.WriteU32(uint32(c.X))
			w.WriteU32(uint32(c.Y))
			w.WriteU32(uint32(len(c.Occupants)))
			for _, o := range c.Occupants {
				w.WriteU64(uint64(o))
			}
		}
	}
}

// Decode parses the wire format, applying any registered migration
// chain to reach CurrentSchemaVersion before returning. It never
// silently accepts an unmigratable version.
func Decode(data []byte) (Snapshot, error) {
	r := NewReader(data)
	raw, err := decodeRaw(r)
	if err != nil {
		return Snapshot{}, err
	}

	for raw.SchemaVersion != CurrentSchemaVersion {
		m, ok := migrations[raw.SchemaVersion]
		if !ok {
			return Snapshot{}, fmt.Errorf("%w: version %d", ErrUnknownSchema, raw.SchemaVersion)
		}
		if err := m(raw); err != nil {
			return Snapshot{}, fmt.Errorf("snapshot: migrate from version %d: %w", raw.SchemaVersion, err)
		}
		raw.SchemaVersion++
	}

	return Snapshot{
		SchemaVersion:   raw.SchemaVersion,
		Tick:            raw.Tick,
		CapturedAtEpoch: raw.CapturedAtEpoch,
		Allocator:       raw.Allocator,
		Entities:        raw.Entities,
		Spatial:         raw.Spatial,
	}, nil
}

func decodeRaw(r *Reader) (*rawSnapshot, error) {
	raw := &rawSnapshot{}
	var err error
	if raw.SchemaVersion, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if raw.Tick, err = r.ReadU64(); err != nil {
		return nil, err
	}
	if raw.CapturedAtEpoch, err = r.ReadI64(); err != nil {
		return nil, err
	}

	genCount, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	raw.Allocator.Generations = make([]uint32, genCount)
	for i := range raw.Allocator.Generations {
		if raw.Allocator.Generations[i], err = r.ReadU32(); err != nil {
			return nil, err
		}
	}
	freeCount, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	raw.Allocator.FreeList = make([]uint32, freeCount)
	for i := range raw.Allocator.FreeList {
		if raw.Allocator.FreeList[i], err = r.ReadU32(); err != nil {
			return nil, err
		}
	}
	if raw.Allocator.NextIndex, err = r.ReadU32(); err != nil {
		return nil, err
	}

	entCount, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	raw.Entities = make([]EntityRecord, entCount)
	for i := range raw.Entities {
		handle, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		compCount, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		comps := make([]ComponentRecord, compCount)
		for j := range comps {
			cid, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			payload, err := r.ReadBytes()
			if err != nil {
				return nil, err
			}
			comps[j] = ComponentRecord{ComponentID: entity.ComponentID(cid), Payload: payload}
		}
		raw.Entities[i] = EntityRecord{Handle: entity.ID(handle), Components: comps}
	}

	backend, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	raw.Spatial.Backend = spatial.Backend(backend)
	switch raw.Spatial.Backend {
	case spatial.BackendRoomGraph:
		roomCount, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		raw.Spatial.Rooms = make([]spatial.RoomRecord, roomCount)
		for i := range raw.Spatial.Rooms {
			roomHandle, err := r.ReadU64()
			if err != nil {
				return nil, err
			}
			exitCount, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			exits := make(map[string]entity.ID, exitCount)
			for j := uint32(0); j < exitCount; j++ {
				label, err := r.ReadString()
				if err != nil {
					return nil, err
				}
				target, err := r.ReadU64()
				if err != nil {
					return nil, err
				}
				exits[label] = entity.ID(target)
			}
			occCount, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			occupants := make([]entity.ID, occCount)
			for j := range occupants {
				v, err := r.ReadU64()
				if err != nil {
					return nil, err
				}
				occupants[j] = entity.ID(v)
			}
			raw.Spatial.Rooms[i] = spatial.RoomRecord{Room: entity.ID(roomHandle), Exits: exits, Occupants: occupants}
		}
	case spatial.BackendGrid:
		ox, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		oy, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		width, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		height, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		raw.Spatial.OriginX, raw.Spatial.OriginY = int(ox), int(oy)
		raw.Spatial.Width, raw.Spatial.Height = int(width), int(height)
		cellCount, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		raw.Spatial.Cells = make([]spatial.CellRecord, cellCount)
		for i := range raw.Spatial.Cells {
			x, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			y, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			occCount, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			occupants := make([]entity.ID, occCount)
			for j := range occupants {
				v, err := r.ReadU64()
				if err != nil {
					return nil, err
				}
				occupants[j] = entity.ID(v)
			}
			raw.Spatial.Cells[i] = spatial.CellRecord{X: int(x), Y: int(y), Occupants: occupants}
		}
	default:
		return nil, fmt.Errorf("snapshot: unknown spatial backend tag %d", backend)
	}

	return raw, nil
}
