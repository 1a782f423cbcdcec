// Package plugin implements the sandboxed bytecode plugin runtime:
// fuel-budgeted WebAssembly guests, a safe host/guest memory view, a
// fixed failure-code taxonomy, and trap-to-quarantine isolation.
package plugin

import (
	"fmt"
	"sort"

	"github.com/bytecodealliance/wasmtime-go/v27"
	"go.uber.org/zap"

	"github.com/mudforge/engine/internal/command"
	"github.com/mudforge/engine/internal/entity"
	"github.com/mudforge/engine/internal/event"
)

// Failure response codes returned to guests, fixed and negative.
const (
	ErrSerialization    int32 = -1
	ErrOutOfBounds      int32 = -2
	ErrUnknownComponent int32 = -3
	ErrEntityNotFound   int32 = -4
)

// FailureThreshold is the number of consecutive failed ticks that moves
// a plugin into quarantine.
const FailureThreshold = 3

// State is a plugin's lifecycle state.
type State int

const (
	Active State = iota
	Quarantined
)

func (s State) String() string {
	if s == Quarantined {
		return "quarantined"
	}
	return "active"
}

// ABIMajor and ABIMinor are this host's plugin ABI version. Loading
// rejects guests that declare a different major version.
const (
	ABIMajor = 1
	ABIMinor = 0
)

// Config describes one plugin to load.
type Config struct {
	ID         string
	Priority   int // producer order in the command stream; lower runs first
	FuelBudget uint64
	Wasm       []byte
}

// HostContext is the set of host capabilities every plugin's imports are
// wired against. It is shared read/write state owned by the simulation
// thread; the Runtime never accesses it from any other goroutine.
type HostContext struct {
	World       *entity.World
	Regs        *entity.Registries
	Stream      *command.Stream
	Bus         *event.Bus
	Log         *zap.Logger
	CurrentTick func() uint64
	RandomSeed  func() uint64
}

// scratchSize bounds the guest-memory region the host writes event
// payloads into before calling on_event: offset 0 of linear memory, up
// to scratchSize bytes, is reserved for host-written event payloads.
// Guests must not treat that region as scratch space of their own.
const scratchSize = 1 << 16

// plugin is one loaded guest: its own Store (and therefore its own fuel
// meter), instantiated against a Runtime-wide Engine so modules compile
// once and instantiate cheaply per plugin.
type plugin struct {
	cfg Config

	store    *wasmtime.Store
	instance *wasmtime.Instance
	memory   *wasmtime.Memory

	state               State
	consecutiveFailures int
}

// Runtime owns every loaded plugin and the shared host capabilities
// their imports are implemented against. Single-goroutine: the
// simulation thread is the only caller.
type Runtime struct {
	engine *wasmtime.Engine
	linker *wasmtime.Linker
	host   HostContext

	plugins []*plugin
	byID    map[string]*plugin

	current *plugin // set for the duration of a guest call, for host imports to attribute commands
}

// NewRuntime builds an engine-wide Linker with the fixed host import set
// and returns an empty runtime ready to load plugins into. When a Bus is
// present in host, the runtime subscribes to PluginEvent so guest
// on_event exports fire during event dispatch.
func NewRuntime(host HostContext) (*Runtime, error) {
	cfg := wasmtime.NewConfig()
	cfg.SetConsumeFuel(true)
	eng := wasmtime.NewEngineWithConfig(cfg)
	linker := wasmtime.NewLinker(eng)

	rt := &Runtime{
		engine: eng,
		linker: linker,
		host:   host,
		byID:   make(map[string]*plugin),
	}
	if err := rt.defineImports(); err != nil {
		return nil, fmt.Errorf("plugin: define host imports: %w", err)
	}
	if host.Bus != nil {
		event.Subscribe(host.Bus, func(ev event.PluginEvent) {
			rt.Event(ev.TypeID, ev.Payload)
		})
	}
	return rt, nil
}

func (rt *Runtime) defineImports() error {
	l := rt.linker

	if err := l.FuncWrap("env", "host_emit_command", rt.hostEmitCommand); err != nil {
		return err
	}
	if err := l.FuncWrap("env", "host_log", rt.hostLog); err != nil {
		return err
	}
	if err := l.FuncWrap("env", "host_get_tick", rt.hostGetTick); err != nil {
		return err
	}
	if err := l.FuncWrap("env", "host_random_seed", rt.hostRandomSeed); err != nil {
		return err
	}
	if err := l.FuncWrap("env", "host_get_component", rt.hostGetComponent); err != nil {
		return err
	}
	return nil
}

// Load compiles and instantiates a plugin, runs its on_load export, and
// registers it as a command-stream producer at cfg.Priority. A plugin
// whose module exports an abi_major global mismatching ABIMajor is
// rejected outright.
func (rt *Runtime) Load(cfg Config) error {
	module, err := wasmtime.NewModule(rt.engine, cfg.Wasm)
	if err != nil {
		return fmt.Errorf("plugin %s: compile: %w", cfg.ID, err)
	}

	store := wasmtime.NewStore(rt.engine)
	if err := store.SetFuel(cfg.FuelBudget); err != nil {
		return fmt.Errorf("plugin %s: set fuel: %w", cfg.ID, err)
	}

	instance, err := rt.linker.Instantiate(store, module)
	if err != nil {
		return fmt.Errorf("plugin %s: instantiate: %w", cfg.ID, err)
	}

	memExport := instance.GetExport(store, "memory")
	if memExport == nil || memExport.Memory() == nil {
		return fmt.Errorf("plugin %s: does not export linear memory", cfg.ID)
	}

	if abiExport := instance.GetExport(store, "abi_major"); abiExport != nil {
		if g := abiExport.Global(); g != nil {
			if v, ok := g.Get(store).Get().(int32); ok && v != ABIMajor {
				return fmt.Errorf("plugin %s: ABI major %d incompatible with host %d", cfg.ID, v, ABIMajor)
			}
		}
	}

	p := &plugin{cfg: cfg, store: store, instance: instance, memory: memExport.Memory(), state: Active}
	rt.plugins = append(rt.plugins, p)
	rt.byID[cfg.ID] = p
	rt.host.Stream.RegisterProducer(cfg.ID, cfg.Priority)

	if onLoad := instance.GetExport(store, "on_load"); onLoad != nil && onLoad.Func() != nil {
		if _, trap := rt.invoke(p, onLoad.Func()); trap != nil {
			return fmt.Errorf("plugin %s: on_load trapped: %w", cfg.ID, trap)
		}
	}
	return nil
}

// Reenable clears a quarantined plugin's failure counter and returns it
// to Active. It is the only path back from quarantine.
func (rt *Runtime) Reenable(id string) bool {
	p, ok := rt.byID[id]
	if !ok {
		return false
	}
	p.state = Active
	p.consecutiveFailures = 0
	return true
}

// State reports a plugin's current lifecycle state and failure count.
func (rt *Runtime) State(id string) (State, int, bool) {
	p, ok := rt.byID[id]
	if !ok {
		return 0, 0, false
	}
	return p.state, p.consecutiveFailures, true
}

// orderedActive returns active plugins sorted by priority ascending,
// then by id for ties.
func (rt *Runtime) orderedActive() []*plugin {
	out := make([]*plugin, 0, len(rt.plugins))
	for _, p := range rt.plugins {
		if p.state == Active {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].cfg.Priority != out[j].cfg.Priority {
			return out[i].cfg.Priority < out[j].cfg.Priority
		}
		return out[i].cfg.ID < out[j].cfg.ID
	})
	return out
}

// Tick invokes on_tick on every active plugin, in priority order. A trap
// or fuel exhaustion discards that plugin's tick contribution (via
// Stream.MarkFailed) and advances it toward quarantine; a clean tick
// resets its counter.
func (rt *Runtime) Tick(tick uint64) {
	for _, p := range rt.orderedActive() {
		export := p.instance.GetExport(p.store, "on_tick")
		if export == nil || export.Func() == nil {
			continue
		}
		rt.runGuarded(p, func() (int32, *wasmtime.Trap) {
			return rt.invoke(p, export.Func(), int64(tick))
		})
	}
}

// Event invokes on_event on every active plugin: the payload is written
// into each plugin's own scratch region (offset 0) before the call, so
// every guest sees the same bytes at the same convention-fixed offset.
func (rt *Runtime) Event(eventTypeID uint32, payload []byte) {
	if len(payload) > scratchSize {
		payload = payload[:scratchSize]
	}
	for _, p := range rt.orderedActive() {
		export := p.instance.GetExport(p.store, "on_event")
		if export == nil || export.Func() == nil {
			continue
		}
		data := p.memory.UnsafeData(p.store)
		if len(data) < len(payload) {
			rt.onFailure(p, "linear memory smaller than event payload")
			continue
		}
		copy(data, payload)
		rt.runGuarded(p, func() (int32, *wasmtime.Trap) {
			return rt.invoke(p, export.Func(), int32(eventTypeID), int32(0), int32(len(payload)))
		})
	}
}

func (rt *Runtime) runGuarded(p *plugin, call func() (int32, *wasmtime.Trap)) {
	// Refill the fuel meter to the full budget before every guest call.
	// The budget is part of the determinism envelope: identical input
	// and identical budget exhaust at the same instruction.
	if err := p.store.SetFuel(p.cfg.FuelBudget); err != nil {
		rt.onFailure(p, fmt.Sprintf("refuel failed: %v", err))
		return
	}
	ret, trap := call()
	if trap != nil {
		rt.onFailure(p, trap.Error())
		return
	}
	if ret < 0 {
		rt.onFailure(p, fmt.Sprintf("guest returned failure code %d", ret))
		return
	}
	p.consecutiveFailures = 0
}

func (rt *Runtime) onFailure(p *plugin, reason string) {
	n := rt.host.Stream.MarkFailed(p.cfg.ID)
	p.consecutiveFailures++
	rt.host.Log.Warn("plugin tick failed",
		zap.String("plugin", p.cfg.ID),
		zap.String("reason", reason),
		zap.Int("commands_discarded", n),
		zap.Int("consecutive_failures", p.consecutiveFailures))
	if p.consecutiveFailures >= FailureThreshold {
		p.state = Quarantined
		rt.host.Log.Warn("plugin quarantined", zap.String("plugin", p.cfg.ID))
	}
}

// invoke calls a guest export with the exact wasm-typed args the ABI
// declares for it. A trap (including fuel exhaustion) comes back as a
// *wasmtime.Trap; any other binding error is folded into a synthetic
// trap so it takes the same failure path.
func (rt *Runtime) invoke(p *plugin, fn *wasmtime.Func, args ...interface{}) (ret int32, trap *wasmtime.Trap) {
	prev := rt.current
	rt.current = p
	defer func() { rt.current = prev }()

	out, err := fn.Call(p.store, args...)
	if err != nil {
		if t, ok := err.(*wasmtime.Trap); ok {
			return 0, t
		}
		return 0, wasmtime.NewTrap(err.Error())
	}
	if out == nil {
		return 0, nil
	}
	switch v := out.(type) {
	case int32:
		return v, nil
	case int64:
		return int32(v), nil
	default:
		return 0, nil
	}
}
