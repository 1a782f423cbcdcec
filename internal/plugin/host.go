package plugin

import (
	"encoding/binary"

	"github.com/bytecodealliance/wasmtime-go/v27"
	"go.uber.org/zap"

	"github.com/mudforge/engine/internal/command"
	"github.com/mudforge/engine/internal/entity"
	"github.com/mudforge/engine/internal/event"
)

// Guest-side command envelope read by hostEmitCommand, a fixed binary
// layout this host defines:
//
//	byte 0:      kind (0=set, 1=remove, 2=emit-event, 3=spawn, 4=despawn)
//	bytes 1-8:   entity handle (u64 LE); ignored for spawn
//	bytes 9-12:  component id / event type id (u32 LE); ignored for spawn/despawn
//	bytes 13-16: payload length (u32 LE)
//	bytes 17..:  payload
const (
	cmdSet uint8 = iota
	cmdRemove
	cmdEmitEvent
	cmdSpawn
	cmdDespawn
)

func memoryView(caller *wasmtime.Caller) []byte {
	export := caller.GetExport("memory")
	if export == nil || export.Memory() == nil {
		return nil
	}
	// UnsafeData re-resolves the base pointer against the store on
	// every call, so growth of the guest's linear memory between this
	// call and the last one can never leave a dangling view.
	return export.Memory().UnsafeData(caller)
}

func readBytes(caller *wasmtime.Caller, ptr, length uint32) ([]byte, bool) {
	data := memoryView(caller)
	if data == nil {
		return nil, false
	}
	end := uint64(ptr) + uint64(length)
	if end > uint64(len(data)) {
		return nil, false
	}
	out := make([]byte, length)
	copy(out, data[ptr:end])
	return out, true
}

func writeBytes(caller *wasmtime.Caller, ptr uint32, payload []byte) bool {
	data := memoryView(caller)
	if data == nil {
		return false
	}
	end := uint64(ptr) + uint64(len(payload))
	if end > uint64(len(data)) {
		return false
	}
	copy(data[ptr:end], payload)
	return true
}

// hostEmitCommand decodes the envelope above and appends a Command to
// the shared stream tagged with the calling plugin's producer id.
func (rt *Runtime) hostEmitCommand(caller *wasmtime.Caller, ptr, length int32) int32 {
	p := rt.current
	if p == nil {
		return ErrEntityNotFound
	}
	raw, ok := readBytes(caller, uint32(ptr), uint32(length))
	if !ok || len(raw) < 17 {
		return ErrOutOfBounds
	}
	kind := raw[0]
	eid := entity.ID(binary.LittleEndian.Uint64(raw[1:9]))
	compOrType := binary.LittleEndian.Uint32(raw[9:13])
	plen := binary.LittleEndian.Uint32(raw[13:17])
	if uint64(17+plen) > uint64(len(raw)) {
		return ErrOutOfBounds
	}
	payload := append([]byte(nil), raw[17:17+plen]...)

	switch kind {
	case cmdSet:
		cid := entity.ComponentID(compOrType)
		adapter, ok := rt.host.Regs.Persist(cid)
		if !ok {
			return ErrUnknownComponent
		}
		rt.host.Stream.Append(command.Command{
			Producer: p.cfg.ID, Kind: command.Set, Entity: eid, ComponentID: cid,
			Apply: func() error { return adapter.Deserialize(eid, payload) },
		})
	case cmdRemove:
		cid := entity.ComponentID(compOrType)
		rt.host.Stream.Append(command.Command{
			Producer: p.cfg.ID, Kind: command.Remove, Entity: eid, ComponentID: cid,
			Apply: func() error { rt.host.World.RemoveComponent(cid, eid); return nil },
		})
	case cmdEmitEvent:
		typeID := compOrType
		rt.host.Stream.Append(command.Command{
			Producer: p.cfg.ID, Kind: command.EmitEvent, Entity: eid,
			Apply: func() error {
				event.Emit(rt.host.Bus, event.PluginEvent{TypeID: typeID, Payload: payload})
				return nil
			},
		})
	case cmdSpawn:
		// The guest has no channel to receive the fresh handle through;
		// it observes the spawned entity next tick via queries/events.
		rt.host.Stream.Append(command.Command{
			Producer: p.cfg.ID, Kind: command.Spawn,
			Apply: func() error { rt.host.World.Spawn(); return nil },
		})
	case cmdDespawn:
		rt.host.Stream.Append(command.Command{
			Producer: p.cfg.ID, Kind: command.Despawn, Entity: eid,
			Apply: func() error { rt.host.World.MarkForDestruction(eid); return nil },
		})
	default:
		return ErrSerialization
	}
	return 0
}

// hostLog lets a guest log through the host's structured logger. level
// follows zap's convention loosely: 0=debug, 1=info, 2=warn, 3=error.
func (rt *Runtime) hostLog(caller *wasmtime.Caller, level, ptr, length int32) {
	msg, ok := readBytes(caller, uint32(ptr), uint32(length))
	if !ok {
		return
	}
	p := rt.current
	id := "<unknown>"
	if p != nil {
		id = p.cfg.ID
	}
	fields := []zap.Field{zap.String("plugin", id)}
	s := string(msg)
	switch level {
	case 0:
		rt.host.Log.Debug(s, fields...)
	case 1:
		rt.host.Log.Info(s, fields...)
	case 2:
		rt.host.Log.Warn(s, fields...)
	default:
		rt.host.Log.Error(s, fields...)
	}
}

func (rt *Runtime) hostGetTick() int64 {
	return int64(rt.host.CurrentTick())
}

func (rt *Runtime) hostRandomSeed() int64 {
	return int64(rt.host.RandomSeed())
}

// hostGetComponent serializes a component via the persistence registry
// (the only registry that speaks bytes, which is what a guest's linear
// memory needs) and writes it into the guest's own memory at ptr, bounds
// checked against maxLen.
func (rt *Runtime) hostGetComponent(caller *wasmtime.Caller, entityHandle int64, componentID, ptr, maxLen int32) int32 {
	eid := entity.ID(uint64(entityHandle))
	adapter, ok := rt.host.Regs.Persist(entity.ComponentID(uint32(componentID)))
	if !ok {
		return ErrUnknownComponent
	}
	payload, present, err := adapter.Serialize(eid)
	if err != nil {
		return ErrSerialization
	}
	if !present {
		return ErrEntityNotFound
	}
	if len(payload) > int(maxLen) {
		return ErrOutOfBounds
	}
	if !writeBytes(caller, uint32(ptr), payload) {
		return ErrOutOfBounds
	}
	return int32(len(payload))
}
