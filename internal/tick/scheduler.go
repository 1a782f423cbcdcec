// Package tick implements the tick scheduler: the fixed-rate loop that
// composes the entity store, command stream, event bus, plugin runtime,
// script runtime, spatial model, and session bridge in the exact order
// the simulation depends on.
package tick

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mudforge/engine/internal/command"
	"github.com/mudforge/engine/internal/entity"
	"github.com/mudforge/engine/internal/event"
	"github.com/mudforge/engine/internal/plugin"
	"github.com/mudforge/engine/internal/script"
	"github.com/mudforge/engine/internal/session"
	"github.com/mudforge/engine/internal/snapshot"
	"github.com/mudforge/engine/internal/spatial"
)

// SpatialMode mirrors script.Mode so the scheduler doesn't need to
// import the script package just to read a mode tag off its own config.
type SpatialMode int

const (
	ModeRoomGraph SpatialMode = iota
	ModeGrid
)

// SnapshotWriter is the scheduler's snapshot-cadence sink. Implemented
// directly by *snapshot.FileStore; *snapshot.PostgresStore needs a
// context.Background()-closing adapter at the call site since its Write
// method takes one.
type SnapshotWriter interface {
	Write(snap snapshot.Snapshot) error
}

// Snapshotter captures the live world into a snapshot.Snapshot — a thin
// wrapper around snapshot.Capture the caller supplies so this package
// never has to reach into entity/spatial internals itself.
type Snapshotter func(tick uint64) snapshot.Snapshot

// Config bundles every collaborator the scheduler drives. Plugins,
// scripts, snapshotting, and the spatial backend are independently
// optional (nil-safe) so the same scheduler type serves a bare
// room-graph MUD and a fully loaded grid MMO alike.
type Config struct {
	Log *zap.Logger

	World  *entity.World
	Stream *command.Stream
	Bus    *event.Bus
	Bridge *session.Bridge

	Mode      SpatialMode
	Rooms     *spatial.RoomGraph // non-nil iff Mode == ModeRoomGraph
	Grid      *spatial.Grid      // non-nil iff Mode == ModeGrid
	AOIRadius int

	Plugins *plugin.Runtime // nil to run without plugins
	Scripts *script.Engine  // nil to run without scripts

	Snapshot         Snapshotter    // nil disables snapshotting
	SnapshotSink     SnapshotWriter // nil disables snapshotting
	SnapshotEvery    uint64         // ticks between snapshots, 0 disables even if the above are set
	LingerSweepEvery uint64         // ticks between lingering-session expiry sweeps, 0 = every tick
	StartTick        uint64         // first tick number, non-zero after a snapshot restore

	TickRate time.Duration // target period, e.g. 100ms for 10 ticks/sec
}

// Scheduler drives the fixed-rate simulation loop. All of its state is
// touched only from the goroutine that calls Run — the single-writer
// invariant the rest of the core assumes.
type Scheduler struct {
	cfg Config
	log *zap.Logger

	tick         uint64
	lastDuration time.Duration

	onExpire func(exp session.Expiry) // hook for persist-then-despawn of lingering entities
}

// NewScheduler wires a Scheduler from cfg. onExpire is called once per
// session whose lingering grace period elapses (see
// session.Bridge.Expired); callers use it to persist and despawn the
// expired entity.
func NewScheduler(cfg Config, onExpire func(exp session.Expiry)) *Scheduler {
	return &Scheduler{cfg: cfg, log: cfg.Log, tick: cfg.StartTick, onExpire: onExpire}
}

// Tick returns the number of completed ticks.
func (s *Scheduler) Tick() uint64 { return s.tick }

// LastTickDuration reports how long the most recent Step took, the
// scheduler's one health metric.
func (s *Scheduler) LastTickDuration() time.Duration { return s.lastDuration }

// Step runs exactly one tick's worth of work, in the fixed phase order:
// input drain and translation, plugins, scripts, command resolution,
// event dispatch, per-session output, housekeeping. Run (below) wraps
// Step in the fixed-rate sleep loop. Exported separately so tests can
// drive ticks deterministically without real-time sleeps.
func (s *Scheduler) Step() {
	start := time.Now()

	// Drain inbound network messages; fire on_connect for fresh
	// sessions and translate each line into a script-visible action
	// under the session-input pseudo-producer.
	for _, msg := range s.cfg.Bridge.DrainInbound() {
		s.dispatchInbound(msg)
	}

	// Plugins in priority order, then scripts in registration order.
	if s.cfg.Plugins != nil {
		s.cfg.Plugins.Tick(s.tick)
	}
	if s.cfg.Scripts != nil {
		s.cfg.Scripts.RunTick(s.tick)
	}

	// Resolve and apply the command stream.
	s.cfg.Stream.ResolveAndApply(
		func(d command.DroppedCommand) {
			s.log.Debug("tick: command dropped",
				zap.String("producer", d.Command.Producer),
				zap.String("kind", d.Command.Kind.String()),
				zap.String("reason", d.Reason))
		},
		func(c command.Command, err error) {
			s.log.Warn("tick: command apply failed",
				zap.String("producer", c.Producer),
				zap.String("kind", c.Kind.String()),
				zap.Error(err))
		},
	)
	s.cfg.Stream.Reset()

	// Flush deferred despawns, evicting each from the spatial model
	// before its components and slot are released.
	s.cfg.World.FlushDestroyQueue(func(id entity.ID) {
		if s.cfg.Rooms != nil {
			s.cfg.Rooms.Remove(id)
		}
		if s.cfg.Grid != nil {
			s.cfg.Grid.Remove(id)
		}
	})

	// Drain the event bus: room-entry hooks and plugin on_event fire
	// here, before the tick closes.
	s.cfg.Bus.BeginTick()
	s.cfg.Bus.DispatchAll()

	// Compute and push per-session output.
	s.pushOutputs()

	// lingering-session expiry sweep, folded into the ambient pipeline
	// at the configured cadence (default every tick).
	if s.onExpire != nil && (s.cfg.LingerSweepEvery == 0 || s.tick%max64(s.cfg.LingerSweepEvery, 1) == 0) {
		for _, exp := range s.cfg.Bridge.Expired(time.Now()) {
			s.onExpire(exp)
		}
	}

	// Advance the tick counter, record duration, snapshot if due.
	s.tick++
	elapsed := time.Since(start)
	s.lastDuration = elapsed
	if elapsed > s.cfg.TickRate {
		s.log.Warn("tick: overran budget",
			zap.Uint64("tick", s.tick),
			zap.Duration("elapsed", elapsed),
			zap.Duration("budget", s.cfg.TickRate))
	}
	if s.cfg.SnapshotEvery > 0 && s.cfg.Snapshot != nil && s.cfg.SnapshotSink != nil && s.tick%s.cfg.SnapshotEvery == 0 {
		data := s.cfg.Snapshot(s.tick)
		if err := s.cfg.SnapshotSink.Write(data); err != nil {
			s.log.Error("tick: snapshot write failed", zap.Uint64("tick", s.tick), zap.Error(err))
		}
	}
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func (s *Scheduler) dispatchInbound(msg session.Inbound) {
	switch msg.Kind {
	case session.InConnected:
		if s.cfg.Scripts != nil {
			s.cfg.Scripts.RunConnect(msg.SessionID)
		}
	case session.InLine:
		s.dispatchAction(session.Translate(msg.SessionID, msg.Payload))
	}
}

func (s *Scheduler) dispatchAction(act session.Action) {
	if s.cfg.Scripts == nil {
		return
	}
	if act.Admin {
		level := s.cfg.Bridge.PermissionLevel(act.SessionID)
		found, allowed := s.cfg.Scripts.RunAdmin(act.Name, act.SessionID, level, act.Arg)
		if !found {
			_ = s.cfg.Bridge.SendTo(act.SessionID, "unknown command")
		} else if !allowed {
			_ = s.cfg.Bridge.SendTo(act.SessionID, "permission denied")
		}
		return
	}
	ctx := entity.ScriptValue{"session": act.SessionID, "arg": act.Arg, "raw": act.Raw}
	s.cfg.Scripts.RunAction(act.Name, ctx)
}

// pushOutputs computes per-session output. Room-graph mode relies
// entirely on scripts having already called the output sink during
// their hooks, so there is nothing further to compute here. Grid mode
// computes each playing session's area-of-interest delta against its
// previously reported set and emits it as a single encoded line
// through the same output sink.
func (s *Scheduler) pushOutputs() {
	if s.cfg.Mode != ModeGrid || s.cfg.Grid == nil {
		return
	}
	for _, sessionID := range s.cfg.Bridge.Playing() {
		e, ok := s.cfg.Bridge.EntityOf(sessionID)
		if !ok {
			continue
		}
		// The session's own entity is part of its visible set (with a
		// self flag), so a fresh client learns its own position from
		// the same delta stream as everything else.
		visible := s.cfg.Grid.BroadcastSet(e, s.cfg.AOIRadius)
		current := make(map[entity.ID]session.AOIEntry, len(visible)+1)
		for _, id := range append(visible, e) {
			x, y, tracked := s.cfg.Grid.LocationOf(id)
			if tracked {
				current[id] = session.AOIEntry{X: x, Y: y}
			}
		}
		previous := s.cfg.Bridge.LastAOI(sessionID)

		var entered, moved, left []entity.ID
		for id, pos := range current {
			prev, was := previous[id]
			if !was {
				entered = append(entered, id)
			} else if prev != pos {
				moved = append(moved, id)
			}
		}
		for id := range previous {
			if _, still := current[id]; !still {
				left = append(left, id)
			}
		}
		sortIDs(entered)
		sortIDs(moved)
		sortIDs(left)
		if len(entered) > 0 || len(moved) > 0 || len(left) > 0 {
			_ = s.cfg.Bridge.SendTo(sessionID, encodeAOIDelta(s.tick, e, current, entered, moved, left))
		}
		s.cfg.Bridge.SetLastAOI(sessionID, current)
	}
}

func sortIDs(ids []entity.ID) {
	sort.Slice(ids, func(i, j int) bool { return entity.Less(ids[i], ids[j]) })
}

// encodeAOIDelta renders one tick's visibility delta as a single text
// line. Empty lists are elided.
//
//	aoi tick=7 entered=5:32:32:self,9:33:32 moved=9:34:32 left=11
func encodeAOIDelta(tick uint64, self entity.ID, pos map[entity.ID]session.AOIEntry, entered, moved, left []entity.ID) string {
	var b strings.Builder
	fmt.Fprintf(&b, "aoi tick=%d", tick)
	if len(entered) > 0 {
		b.WriteString(" entered=")
		for i, id := range entered {
			if i > 0 {
				b.WriteByte(',')
			}
			p := pos[id]
			fmt.Fprintf(&b, "%d:%d:%d", uint64(id), p.X, p.Y)
			if id == self {
				b.WriteString(":self")
			}
		}
	}
	if len(moved) > 0 {
		b.WriteString(" moved=")
		for i, id := range moved {
			if i > 0 {
				b.WriteByte(',')
			}
			p := pos[id]
			fmt.Fprintf(&b, "%d:%d:%d", uint64(id), p.X, p.Y)
		}
	}
	if len(left) > 0 {
		b.WriteString(" left=")
		for i, id := range left {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "%d", uint64(id))
		}
	}
	return b.String()
}

// Run drives Step at the configured TickRate until stop is closed, with
// no input pump running alongside it — every tick performs its own
// input drain. Work is never dropped even if the previous iteration
// overran; time.Ticker coalesces missed ticks rather than queuing them.
func (s *Scheduler) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.TickRate)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Step()
		case <-stop:
			return
		}
	}
}

// runInputPumpOnce drains and dispatches inbound session messages
// without resolving the command stream or advancing the tick. Called
// from RunInputPump's select loop, between full Step() sweeps.
func (s *Scheduler) runInputPumpOnce() {
	for _, msg := range s.cfg.Bridge.DrainInbound() {
		s.dispatchInbound(msg)
	}
}

// RunInputPump is the dual-rate loop: one goroutine, one select
// statement over two tickers. The fast ticker performs only the
// input-drain-and-translate phase so line-to-effect latency isn't
// bounded by the full tick period; the slow ticker runs the complete
// ordered sweep via Step. Both run on this single goroutine, preserving
// the single-writer invariant — do not call Run concurrently with this
// method from a separate goroutine.
func (s *Scheduler) RunInputPump(inputRate time.Duration, stop <-chan struct{}) {
	tickTicker := time.NewTicker(s.cfg.TickRate)
	inputTicker := time.NewTicker(inputRate)
	defer tickTicker.Stop()
	defer inputTicker.Stop()
	for {
		select {
		case <-tickTicker.C:
			s.Step()
		case <-inputTicker.C:
			s.runInputPumpOnce()
		case <-stop:
			return
		}
	}
}
