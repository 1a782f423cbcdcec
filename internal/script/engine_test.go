package script

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/mudforge/engine/internal/command"
	"github.com/mudforge/engine/internal/entity"
	"github.com/mudforge/engine/internal/event"
	"github.com/mudforge/engine/internal/session"
	"github.com/mudforge/engine/internal/spatial"
)

type fakeSink struct {
	sent map[uint64][]string
}

func (f *fakeSink) SendTo(sessionID uint64, payload string) error {
	if f.sent == nil {
		f.sent = make(map[uint64][]string)
	}
	f.sent[sessionID] = append(f.sent[sessionID], payload)
	return nil
}

func (f *fakeSink) BroadcastArea(string, string, ...uint64) error { return nil }

type fakeSessions struct{}

func (fakeSessions) SessionForEntity(entity.ID) (uint64, bool) { return 0, false }
func (fakeSessions) EntityForSession(uint64) (entity.ID, bool) { return 0, false }
func (fakeSessions) ActiveSessions() []uint64                  { return nil }
func (fakeSessions) PermissionLevel(uint64) int                { return 0 }
func (fakeSessions) Bind(uint64, entity.ID)                    {}

type fakeContent struct{}

func (fakeContent) Lookup(string, string) (entity.ScriptValue, bool) { return nil, false }
func (fakeContent) IDs(string) []string                              { return nil }

func newTestEngine(t *testing.T, sources map[string]string) (*Engine, *command.Stream, *entity.Registries, *entity.TypeRegistry) {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "core"), 0o755); err != nil {
		t.Fatal(err)
	}
	for name, src := range sources {
		if err := os.WriteFile(filepath.Join(dir, "core", name), []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	typeRegs := entity.NewTypeRegistry()
	regs := entity.NewRegistries()
	stream := command.NewStream()
	stream.RegisterProducer("script", 10)

	eng, err := NewEngine(Config{
		ScriptsDir: dir,
		Log:        zap.NewNop(),
		World:      entity.NewWorld(typeRegs),
		Regs:       regs,
		Stream:     stream,
		Bus:        event.NewBus(),
		Mode:       ModeRoomGraph,
		Rooms:      spatial.NewRoomGraph(),
		Output:     &fakeSink{},
		Sessions:   fakeSessions{},
		Content:    fakeContent{},
		Producer:   "script",
		Priority:   10,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(eng.Close)
	return eng, stream, regs, typeRegs
}

func luaGlobal(e *Engine, name string) lua.LValue {
	return e.vm.GetGlobal(name)
}

func TestActionConsumptionShortCircuits(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, map[string]string{
		"actions.lua": `
register_on_action("look", function(action, ctx, api)
  first_ran = true
  return true
end)
register_on_action("look", function(action, ctx, api)
  second_ran = true
  return false
end)
`,
	})

	consumed := eng.RunAction("look", entity.ScriptValue{"session": uint64(1)})
	if !consumed {
		t.Fatalf("expected the first handler to consume the action")
	}
	if luaGlobal(eng, "first_ran") != lua.LTrue {
		t.Fatalf("first handler must run")
	}
	if luaGlobal(eng, "second_ran") != lua.LNil {
		t.Fatalf("second handler must be short-circuited by the first handler's consume")
	}
}

func TestUnconsumedActionRunsAllHandlers(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, map[string]string{
		"actions.lua": `
count = 0
register_on_action("say", function() count = count + 1 end)
register_on_action("say", function() count = count + 1 end)
`,
	})

	if eng.RunAction("say", entity.ScriptValue{}) {
		t.Fatalf("handlers returning nothing must not consume")
	}
	if got := luaGlobal(eng, "count"); got != lua.LNumber(2) {
		t.Fatalf("expected both handlers to run, count = %v", got)
	}
}

func TestAdminPermissionGate(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, map[string]string{
		"admin.lua": `
register_on_admin("shutdown", 2, function(session, level, args)
  admin_ran = true
  seen_level = level
end)
`,
	})

	found, allowed := eng.RunAdmin("shutdown", 1, 0, "")
	if !found || allowed {
		t.Fatalf("a level-0 session must be denied, got found=%v allowed=%v", found, allowed)
	}
	if luaGlobal(eng, "admin_ran") != lua.LNil {
		t.Fatalf("denied admin callback must not run")
	}

	found, allowed = eng.RunAdmin("shutdown", 1, Admin, "")
	if !found || !allowed {
		t.Fatalf("a level-2 session must be allowed")
	}
	if luaGlobal(eng, "admin_ran") != lua.LTrue {
		t.Fatalf("allowed admin callback must run")
	}
	if luaGlobal(eng, "seen_level") != lua.LNumber(Admin) {
		t.Fatalf("callback must observe the effective level, got %v", luaGlobal(eng, "seen_level"))
	}

	if found, _ := eng.RunAdmin("nonexistent", 1, Owner, ""); found {
		t.Fatalf("unregistered admin command must report not-found")
	}
}

func TestComponentInterchangeRoundTrip(t *testing.T) {
	type health struct{ Current int32 }

	eng, stream, regs, typeRegs := newTestEngine(t, map[string]string{
		"tick.lua": `
register_on_tick(function(tick, api)
  local h = api.store.get_component(target, 1)
  if h ~= nil then
    got_current = h.current
  end
  api.store.set_component(target, 1, {current = 42})
end)
`,
	})

	store := entity.NewStore[health]()
	entity.RegisterComponent(regs, typeRegs, 1, "health", store,
		nil, nil,
		func(v health) any { return entity.ScriptValue{"current": v.Current} },
		func(v any) (health, error) {
			rec := v.(entity.ScriptValue)
			return health{Current: int32(rec["current"].(float64))}, nil
		})

	target := entity.NewID(3, 0)
	store.Set(target, health{Current: 7})
	eng.vm.SetGlobal("target", lua.LNumber(uint64(target)))

	eng.RunTick(1)
	stream.ResolveAndApply(nil, func(c command.Command, err error) { t.Fatalf("apply %v: %v", c.Kind, err) })

	if got := luaGlobal(eng, "got_current"); got != lua.LNumber(7) {
		t.Fatalf("script must read the pre-set value 7, got %v", got)
	}
	if v, ok := store.Get(target); !ok || v.Current != 42 {
		t.Fatalf("script write must apply at command resolution, got %+v ok=%v", v, ok)
	}
}

func TestHookErrorDiscardsItsCommands(t *testing.T) {
	type health struct{ Current int32 }

	eng, stream, regs, typeRegs := newTestEngine(t, map[string]string{
		"tick.lua": `
register_on_tick(function(tick, api)
  api.store.set_component(target, 1, {current = 99})
  api.store.set_component(target, 999, {x = 1})
end)
`,
	})

	store := entity.NewStore[health]()
	entity.RegisterComponent(regs, typeRegs, 1, "health", store,
		nil, nil,
		func(v health) any { return entity.ScriptValue{"current": v.Current} },
		func(v any) (health, error) {
			rec := v.(entity.ScriptValue)
			return health{Current: int32(rec["current"].(float64))}, nil
		})

	target := entity.NewID(3, 0)
	store.Set(target, health{Current: 7})
	eng.vm.SetGlobal("target", lua.LNumber(uint64(target)))

	eng.RunTick(1) // second set_component names an unregistered id and raises
	stream.ResolveAndApply(nil, nil)

	if v, _ := store.Get(target); v.Current != 7 {
		t.Fatalf("an erring hook's earlier writes must be rolled back, got %+v", v)
	}
}

func TestFailedHookReleasesReservedSpawn(t *testing.T) {
	eng, stream, _, _ := newTestEngine(t, map[string]string{
		"tick.lua": `
register_on_tick(function(tick, api)
  api.store.spawn()
  error("boom")
end)
`,
	})

	eng.RunTick(1)
	stream.ResolveAndApply(nil, nil)

	// The discarded spawn's reservation goes back to the pool: the next
	// allocation reuses the slot at a bumped generation instead of
	// leaking it.
	id := eng.world.Pool().Allocate()
	if id.Index() != 0 || id.Generation() != 1 {
		t.Fatalf("expected slot 0 reissued at generation 1, got %v", id)
	}
	if eng.world.Alive(entity.NewID(0, 0)) {
		t.Fatalf("the rolled-back spawn must never become live")
	}
}

func TestProxiesExpireAcrossHooks(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, map[string]string{
		"stash.lua": `
register_on_tick(function(tick, api)
  if stash == nil then
    stash = api
  else
    local ok = pcall(function() return stash.store.alive(1) end)
    stale_rejected = not ok
  end
end)
`,
	})

	eng.RunTick(1)
	eng.RunTick(2)
	if luaGlobal(eng, "stale_rejected") != lua.LTrue {
		t.Fatalf("a proxy retained across hook boundaries must raise when used")
	}
}

func TestRoomMoveBroadcasts(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "core"), 0o755); err != nil {
		t.Fatal(err)
	}
	src := `
register_on_action("move", function(action, ctx, api)
  local me = api.sessions.entity_of(ctx.session)
  api.space.move_room(me, ctx.arg)
  return true
end)
register_on_enter_room(function(who, new_room, old_room, api)
  local s = api.sessions.for_entity(who)
  if s ~= nil then
    api.output.send_to(s, "desc:" .. tostring(new_room))
  end
  for _, occ in ipairs(api.space.occupants_of_room(new_room)) do
    if occ ~= who then
      local other = api.sessions.for_entity(occ)
      if other ~= nil then
        api.output.send_to(other, "arrive:" .. tostring(who))
      end
    end
  end
end)
`
	if err := os.WriteFile(filepath.Join(dir, "core", "move.lua"), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	typeRegs := entity.NewTypeRegistry()
	stream := command.NewStream()
	bus := event.NewBus()
	rooms := spatial.NewRoomGraph()
	bridge := session.NewBridge(16, 16, time.Minute, zap.NewNop())

	eng, err := NewEngine(Config{
		ScriptsDir: dir,
		Log:        zap.NewNop(),
		World:      entity.NewWorld(typeRegs),
		Regs:       entity.NewRegistries(),
		Stream:     stream,
		Bus:        bus,
		Mode:       ModeRoomGraph,
		Rooms:      rooms,
		Output:     bridge,
		Sessions:   bridge,
		Content:    fakeContent{},
		Producer:   "script",
		Priority:   10,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Close()

	r1, r2 := entity.NewID(10, 0), entity.NewID(11, 0)
	rooms.SetExit(r1, spatial.East, r2)
	rooms.SetExit(r2, spatial.West, r1)
	x, y := entity.NewID(1, 0), entity.NewID(2, 0)
	rooms.Place(x, r1)
	rooms.Place(y, r2)
	bridge.BindEntity(1, x)
	bridge.BindEntity(2, y)

	eng.RunAction("move", entity.ScriptValue{"session": uint64(1), "arg": spatial.East})
	stream.ResolveAndApply(nil, func(c command.Command, err error) { t.Fatalf("apply: %v", err) })
	bus.BeginTick()
	bus.DispatchAll()

	if room, ok := rooms.LocationOf(x); !ok || room != r2 {
		t.Fatalf("x must occupy r2 after the move, got %v ok=%v", room, ok)
	}
	if len(rooms.Occupants(r1)) != 0 {
		t.Fatalf("r1 must be empty after the move, got %v", rooms.Occupants(r1))
	}

	got := map[uint64][]string{}
	for done := false; !done; {
		select {
		case out := <-bridge.Outbound:
			got[out.SessionID] = append(got[out.SessionID], out.Payload)
		default:
			done = true
		}
	}
	wantDesc := "desc:" + uitoa(uint64(r2))
	wantArrive := "arrive:" + uitoa(uint64(x))
	if len(got[1]) != 1 || got[1][0] != wantDesc {
		t.Fatalf("mover must receive the new room's render, got %v", got[1])
	}
	if len(got[2]) != 1 || got[2][0] != wantArrive {
		t.Fatalf("the occupant must receive the arrival line, got %v", got[2])
	}
}

func uitoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func TestWrongModeSpatialCallRaises(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, map[string]string{
		"mode.lua": `
register_on_tick(function(tick, api)
  local ok = pcall(function() api.space.move_grid(1, 1, 0) end)
  grid_call_rejected = not ok
end)
`,
	})

	eng.RunTick(1)
	if luaGlobal(eng, "grid_call_rejected") != lua.LTrue {
		t.Fatalf("grid operations must raise in room-graph mode")
	}
}
