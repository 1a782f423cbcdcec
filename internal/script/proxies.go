package script

import (
	"sort"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/mudforge/engine/internal/command"
	"github.com/mudforge/engine/internal/entity"
	"github.com/mudforge/engine/internal/event"
)

// proxySet holds the scoped handles a single hook invocation sees. It
// is valid only for the duration of that hook: every closure it hands
// to Lua checks valid before doing anything, and expire() flips that
// flag the instant the Go-side call returns, so a script cannot retain
// and reuse a proxy across hook boundaries even if it stashes the table
// in a global.
type proxySet struct {
	e     *Engine
	valid bool
}

func (e *Engine) newProxies() *proxySet {
	return &proxySet{e: e, valid: true}
}

func (p *proxySet) expire() { p.valid = false }

func (p *proxySet) guard(L *lua.LState) bool {
	if !p.valid {
		L.RaiseError("script: proxy used outside its hook's scope")
		return false
	}
	return true
}

func (p *proxySet) table(L *lua.LState) *lua.LTable {
	root := L.NewTable()
	root.RawSetString("store", p.storeTable(L))
	root.RawSetString("space", p.spaceTable(L))
	root.RawSetString("output", p.outputTable(L))
	root.RawSetString("sessions", p.sessionsTable(L))
	root.RawSetString("log", p.logTable(L))
	root.RawSetString("content", p.contentTable(L))
	colors := L.NewTable()
	for k, v := range p.e.colors {
		colors.RawSetString(k, lua.LString(v))
	}
	root.RawSetString("colors", colors)
	return root
}

// --- store proxy -----------------------------------------------------

func (p *proxySet) storeTable(L *lua.LState) *lua.LTable {
	t := L.NewTable()
	e := p.e

	t.RawSetString("spawn", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		id := e.world.ReserveID()
		e.stream.Append(command.Command{
			Producer: e.producer,
			Kind:     command.Spawn,
			Entity:   id,
			Apply:    func() error { e.world.Commit(id); return nil },
			Discard:  func() { e.world.CancelReserve(id) },
		})
		L.Push(lua.LNumber(uint64(id)))
		return 1
	}))

	t.RawSetString("despawn", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		id := argEntity(L, 1)
		e.stream.Append(command.Command{
			Producer: e.producer,
			Kind:     command.Despawn,
			Entity:   id,
			Apply:    func() error { e.world.MarkForDestruction(id); return nil },
		})
		return 0
	}))

	t.RawSetString("alive", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		L.Push(lua.LBool(e.world.Alive(argEntity(L, 1))))
		return 1
	}))

	t.RawSetString("get_component", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		id := argEntity(L, 1)
		cid := entity.ComponentID(L.CheckNumber(2))
		adapter, ok := e.regs.Script(cid)
		if !ok {
			L.RaiseError("script: component id %d is not registered for scripting", cid)
			return 0
		}
		v, present := adapter.ToValue(id)
		if !present {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(toLua(L, v))
		return 1
	}))

	t.RawSetString("set_component", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		id := argEntity(L, 1)
		cid := entity.ComponentID(L.CheckNumber(2))
		val := L.CheckAny(3)
		adapter, ok := e.regs.Script(cid)
		if !ok {
			L.RaiseError("script: component id %d is not registered for scripting", cid)
			return 0
		}
		v := fromLua(val)
		e.stream.Append(command.Command{
			Producer:    e.producer,
			Kind:        command.Set,
			Entity:      id,
			ComponentID: cid,
			Apply:       func() error { return adapter.FromValue(id, v) },
		})
		return 0
	}))

	t.RawSetString("remove_component", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		id := argEntity(L, 1)
		cid := entity.ComponentID(L.CheckNumber(2))
		e.stream.Append(command.Command{
			Producer:    e.producer,
			Kind:        command.Remove,
			Entity:      id,
			ComponentID: cid,
			Apply:       func() error { e.world.RemoveComponent(cid, id); return nil },
		})
		return 0
	}))

	t.RawSetString("query", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		cid := entity.ComponentID(L.CheckNumber(1))
		adapter, ok := e.regs.Script(cid)
		if !ok || adapter.Query == nil {
			L.Push(L.NewTable())
			return 1
		}
		L.Push(toLua(L, adapter.Query()))
		return 1
	}))

	t.RawSetString("all_entities", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		L.Push(toLua(L, e.world.LiveIDs()))
		return 1
	}))

	return t
}

// --- spatial proxy -----------------------------------------------------

func (p *proxySet) spaceTable(L *lua.LState) *lua.LTable {
	t := L.NewTable()
	e := p.e

	t.RawSetString("mode", lua.LString(map[Mode]string{ModeRoomGraph: "room_graph", ModeGrid: "grid"}[e.mode]))

	t.RawSetString("move_room", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		if e.mode != ModeRoomGraph {
			L.RaiseError("script: move_room is only valid in room-graph mode")
			return 0
		}
		id := argEntity(L, 1)
		label := L.CheckString(2)
		e.stream.Append(command.Command{
			Producer: e.producer,
			Kind:     command.Move,
			Entity:   id,
			Apply: func() error {
				from, to, err := e.rooms.Move(id, label)
				if err != nil {
					return err
				}
				event.Emit(e.bus, event.EnterRoom{Who: id, NewRoom: to, OldRoom: from})
				return nil
			},
		})
		return 0
	}))

	t.RawSetString("add_room", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		if e.mode != ModeRoomGraph {
			L.RaiseError("script: add_room is only valid in room-graph mode")
			return 0
		}
		e.rooms.AddRoom(argEntity(L, 1))
		return 0
	}))

	t.RawSetString("set_exit", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		if e.mode != ModeRoomGraph {
			L.RaiseError("script: set_exit is only valid in room-graph mode")
			return 0
		}
		room := argEntity(L, 1)
		label := L.CheckString(2)
		target := argEntity(L, 3)
		e.rooms.SetExit(room, label, target)
		return 0
	}))

	t.RawSetString("exit_labels", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		if e.mode != ModeRoomGraph {
			L.RaiseError("script: exit_labels is only valid in room-graph mode")
			return 0
		}
		exits := e.rooms.Exits(argEntity(L, 1))
		labels := make([]string, 0, len(exits))
		for label := range exits {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		L.Push(toLua(L, labels))
		return 1
	}))

	t.RawSetString("exit_target", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		if e.mode != ModeRoomGraph {
			L.RaiseError("script: exit_target is only valid in room-graph mode")
			return 0
		}
		target, ok := e.rooms.Exits(argEntity(L, 1))[L.CheckString(2)]
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LNumber(uint64(target)))
		return 1
	}))

	t.RawSetString("place", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		if e.mode != ModeRoomGraph {
			L.RaiseError("script: place is only valid in room-graph mode")
			return 0
		}
		e.rooms.Place(argEntity(L, 1), argEntity(L, 2))
		return 0
	}))

	t.RawSetString("place_at", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		if e.mode != ModeGrid {
			L.RaiseError("script: place_at is only valid in grid mode")
			return 0
		}
		id := argEntity(L, 1)
		x, y := int(L.CheckNumber(2)), int(L.CheckNumber(3))
		if err := e.grid.Place(id, x, y); err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		L.Push(lua.LNil)
		return 1
	}))

	t.RawSetString("room_of", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		if e.mode != ModeRoomGraph {
			L.RaiseError("script: room_of is only valid in room-graph mode")
			return 0
		}
		room, ok := e.rooms.LocationOf(argEntity(L, 1))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LNumber(uint64(room)))
		return 1
	}))

	t.RawSetString("occupants_of_room", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		if e.mode != ModeRoomGraph {
			L.RaiseError("script: occupants_of_room is only valid in room-graph mode")
			return 0
		}
		room := entity.ID(uint64(L.CheckNumber(1)))
		L.Push(toLua(L, e.rooms.Occupants(room)))
		return 1
	}))

	t.RawSetString("move_grid", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		if e.mode != ModeGrid {
			L.RaiseError("script: move_grid is only valid in grid mode")
			return 0
		}
		id := argEntity(L, 1)
		dx, dy := int(L.CheckNumber(2)), int(L.CheckNumber(3))
		e.stream.Append(command.Command{
			Producer: e.producer,
			Kind:     command.Move,
			Entity:   id,
			Apply:    func() error { return e.grid.MoveDelta(id, dx, dy) },
		})
		return 0
	}))

	t.RawSetString("position_of", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		if e.mode != ModeGrid {
			L.RaiseError("script: position_of is only valid in grid mode")
			return 0
		}
		x, y, ok := e.grid.LocationOf(argEntity(L, 1))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		res := L.NewTable()
		res.RawSetString("x", lua.LNumber(x))
		res.RawSetString("y", lua.LNumber(y))
		L.Push(res)
		return 1
	}))

	t.RawSetString("broadcast_set", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		id := argEntity(L, 1)
		var ids []entity.ID
		if e.mode == ModeRoomGraph {
			ids = e.rooms.BroadcastSet(id)
		} else {
			ids = e.grid.BroadcastSet(id, e.aoi)
		}
		L.Push(toLua(L, ids))
		return 1
	}))

	return t
}

// --- output / sessions / log / content proxies ------------------------

func (p *proxySet) outputTable(L *lua.LState) *lua.LTable {
	t := L.NewTable()
	e := p.e
	t.RawSetString("send_to", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		sessionID := uint64(L.CheckNumber(1))
		payload := L.CheckString(2)
		if err := e.output.SendTo(sessionID, payload); err != nil {
			e.log.Warn("send_to failed", zap.Error(err))
		}
		return 0
	}))
	t.RawSetString("broadcast_area", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		areaID := L.CheckString(1)
		payload := L.CheckString(2)
		var exclude []uint64
		if L.GetTop() >= 3 {
			exclude = append(exclude, uint64(L.CheckNumber(3)))
		}
		if err := e.output.BroadcastArea(areaID, payload, exclude...); err != nil {
			e.log.Warn("broadcast_area failed", zap.Error(err))
		}
		return 0
	}))
	return t
}

func (p *proxySet) sessionsTable(L *lua.LState) *lua.LTable {
	t := L.NewTable()
	e := p.e
	t.RawSetString("for_entity", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		id, ok := e.sessions.SessionForEntity(argEntity(L, 1))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LNumber(id))
		return 1
	}))
	t.RawSetString("entity_of", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		id, ok := e.sessions.EntityForSession(uint64(L.CheckNumber(1)))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LNumber(uint64(id)))
		return 1
	}))
	t.RawSetString("bind", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		sessionID := uint64(L.CheckNumber(1))
		e.sessions.Bind(sessionID, argEntity(L, 2))
		return 0
	}))
	t.RawSetString("active", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		ids := e.sessions.ActiveSessions()
		tbl := L.NewTable()
		for i, id := range ids {
			tbl.RawSetInt(i+1, lua.LNumber(id))
		}
		L.Push(tbl)
		return 1
	}))
	return t
}

func (p *proxySet) logTable(L *lua.LState) *lua.LTable {
	t := L.NewTable()
	e := p.e
	level := func(L *lua.LState, fn func(string, ...any)) int {
		if !p.guard(L) {
			return 0
		}
		fn(L.CheckString(1))
		return 0
	}
	t.RawSetString("info", L.NewFunction(func(L *lua.LState) int {
		return level(L, func(msg string, _ ...any) { e.log.Sugar().Infow(msg, "source", "script") })
	}))
	t.RawSetString("warn", L.NewFunction(func(L *lua.LState) int {
		return level(L, func(msg string, _ ...any) { e.log.Sugar().Warnw(msg, "source", "script") })
	}))
	t.RawSetString("error", L.NewFunction(func(L *lua.LState) int {
		return level(L, func(msg string, _ ...any) { e.log.Sugar().Errorw(msg, "source", "script") })
	}))
	return t
}

func (p *proxySet) contentTable(L *lua.LState) *lua.LTable {
	t := L.NewTable()
	e := p.e
	t.RawSetString("get", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		collection := L.CheckString(1)
		id := L.CheckString(2)
		v, ok := e.content.Lookup(collection, id)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(toLua(L, v))
		return 1
	}))
	t.RawSetString("ids", L.NewFunction(func(L *lua.LState) int {
		if !p.guard(L) {
			return 0
		}
		collection := L.CheckString(1)
		L.Push(toLua(L, e.content.IDs(collection)))
		return 1
	}))
	return t
}
