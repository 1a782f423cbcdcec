package script

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/mudforge/engine/internal/command"
	"github.com/mudforge/engine/internal/entity"
	"github.com/mudforge/engine/internal/event"
	"github.com/mudforge/engine/internal/spatial"
)

// Permission levels, totally ordered.
const (
	Player  = 0
	Builder = 1
	Admin   = 2
	Owner   = 3
)

// Mode selects which spatial backend this engine's proxies operate
// against. A proxy method belonging to the other mode raises a Lua error
// instead of silently doing nothing.
type Mode int

const (
	ModeRoomGraph Mode = iota
	ModeGrid
)

// OutputSink is the session bridge's egress port, consumed by the
// output proxy scripts see during hook execution.
type OutputSink interface {
	SendTo(sessionID uint64, payload string) error
	BroadcastArea(areaID string, payload string, exclude ...uint64) error
}

// SessionDirectory is the session bridge's lookup-and-bind port,
// consumed by the session-directory proxy.
type SessionDirectory interface {
	SessionForEntity(e entity.ID) (sessionID uint64, ok bool)
	EntityForSession(sessionID uint64) (entity.ID, bool)
	ActiveSessions() []uint64
	PermissionLevel(sessionID uint64) int
	Bind(sessionID uint64, e entity.ID)
}

// ContentRegistry is the read-only dynamic-content lookup port.
type ContentRegistry interface {
	Lookup(collection, id string) (entity.ScriptValue, bool)
	IDs(collection string) []string
}

type adminReg struct {
	minLevel int
	fn       *lua.LFunction
}

// defaultColors is the ANSI color-code table exposed to scripts when
// the host supplies none of its own.
var defaultColors = map[string]string{
	"reset":   "\033[0m",
	"bold":    "\033[1m",
	"dim":     "\033[90m",
	"red":     "\033[31m",
	"green":   "\033[32m",
	"yellow":  "\033[33m",
	"blue":    "\033[34m",
	"magenta": "\033[35m",
	"cyan":    "\033[36m",
	"white":   "\033[37m",
}

// Engine wraps a single gopher-lua VM configured as a sandbox: no file,
// network, or loader capability is opened, and every hook invocation
// runs to completion or is bounded by the VM's registry/call-stack
// ceilings (see NewEngine). Single-goroutine access only — the
// simulation thread owns it, same discipline as every other core
// structure.
type Engine struct {
	vm  *lua.LState
	log *zap.Logger

	world  *entity.World
	regs   *entity.Registries
	stream *command.Stream
	bus    *event.Bus

	mode  Mode
	rooms *spatial.RoomGraph
	grid  *spatial.Grid
	aoi   int

	output   OutputSink
	sessions SessionDirectory
	content  ContentRegistry
	colors   map[string]string

	producer string
	priority int

	onInit      []*lua.LFunction
	onTick      []*lua.LFunction
	onAction    map[string][]*lua.LFunction
	onEnterRoom []*lua.LFunction
	onConnect   []*lua.LFunction
	onAdmin     map[string]adminReg
}

// Config bundles everything NewEngine needs to wire the host side of
// the hook model and its proxies.
type Config struct {
	ScriptsDir string
	Log        *zap.Logger

	World  *entity.World
	Regs   *entity.Registries
	Stream *command.Stream
	Bus    *event.Bus

	Mode      Mode
	Rooms     *spatial.RoomGraph // non-nil iff Mode == ModeRoomGraph
	Grid      *spatial.Grid      // non-nil iff Mode == ModeGrid
	AOIRadius int

	Output   OutputSink
	Sessions SessionDirectory
	Content  ContentRegistry
	Colors   map[string]string

	Producer string // command-stream producer id, e.g. "script"
	Priority int
}

// NewEngine constructs the sandboxed VM, opens only the capability-free
// standard libraries (base, table, string, math — no io, os, package, or
// debug), installs the registration host functions, and loads every
// *.lua file under ScriptsDir: the "core" directory first, then every
// other immediate subdirectory in sorted order, so shared helpers are
// always defined before the scripts that call them.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Mode == ModeRoomGraph && cfg.Rooms == nil {
		return nil, fmt.Errorf("script: room-graph mode requires Rooms")
	}
	if cfg.Mode == ModeGrid && cfg.Grid == nil {
		return nil, fmt.Errorf("script: grid mode requires Grid")
	}

	vm := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       256,
		RegistrySize:        1024 * 64, // approximates the 16MB sandbox ceiling; gopher-lua exposes no byte-level memory cap
		IncludeGoStackTrace: false,
	})
	for _, open := range []func(*lua.LState) int{lua.OpenBase, lua.OpenTable, lua.OpenString, lua.OpenMath} {
		open(vm)
	}
	// no OpenIo/OpenOs/OpenPackage/OpenDebug/OpenChannel: filesystem,
	// process, module-loader, and debug capabilities stay out of the
	// sandbox entirely. OpenBase itself installs dofile and loadfile,
	// which read from the filesystem, so both are removed here.
	vm.SetGlobal("dofile", lua.LNil)
	vm.SetGlobal("loadfile", lua.LNil)
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{
		vm:       vm,
		log:      cfg.Log,
		world:    cfg.World,
		regs:     cfg.Regs,
		stream:   cfg.Stream,
		bus:      cfg.Bus,
		mode:     cfg.Mode,
		rooms:    cfg.Rooms,
		grid:     cfg.Grid,
		aoi:      cfg.AOIRadius,
		output:   cfg.Output,
		sessions: cfg.Sessions,
		content:  cfg.Content,
		colors:   cfg.Colors,
		producer: cfg.Producer,
		priority: cfg.Priority,
		onAction: make(map[string][]*lua.LFunction),
		onAdmin:  make(map[string]adminReg),
	}
	if e.colors == nil {
		e.colors = defaultColors
	}
	cfg.Stream.RegisterProducer(e.producer, e.priority)

	e.installHostFunctions()

	// Room entries are delivered through the bus so they ride the
	// normal event-dispatch phase of the tick rather than firing
	// mid-command-application.
	if cfg.Bus != nil {
		event.Subscribe(cfg.Bus, func(ev event.EnterRoom) {
			e.RunEnterRoom(uint64(ev.Who), uint64(ev.NewRoom), uint64(ev.OldRoom))
		})
	}

	corePath := filepath.Join(cfg.ScriptsDir, "core")
	if err := e.loadDir(corePath); err != nil {
		vm.Close()
		return nil, fmt.Errorf("script: load core scripts: %w", err)
	}

	entries, err := os.ReadDir(cfg.ScriptsDir)
	if err != nil && !os.IsNotExist(err) {
		vm.Close()
		return nil, fmt.Errorf("script: read scripts dir: %w", err)
	}
	var subdirs []string
	for _, ent := range entries {
		if ent.IsDir() && ent.Name() != "core" {
			subdirs = append(subdirs, ent.Name())
		}
	}
	sort.Strings(subdirs)
	for _, sub := range subdirs {
		if err := e.loadDir(filepath.Join(cfg.ScriptsDir, sub)); err != nil {
			vm.Close()
			return nil, fmt.Errorf("script: load %s scripts: %w", sub, err)
		}
	}

	return e, nil
}

func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		if !ent.IsDir() && filepath.Ext(ent.Name()) == ".lua" {
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded script", zap.String("file", path))
	}
	return nil
}

// Close releases the VM.
func (e *Engine) Close() { e.vm.Close() }
