// Package command implements the per-tick command stream: producers
// append tagged intents, and at the tick's commit point the stream
// resolves conflicts deterministically (producer priority, last-writer-
// wins per (entity, component-type), exclusive ownership, wholesale
// producer rollback on mid-tick failure) before applying anything.
package command

import (
	"fmt"
	"sort"

	"github.com/mudforge/engine/internal/entity"
)

// Kind discriminates the six intents a producer can record.
type Kind int

const (
	Set Kind = iota
	Remove
	EmitEvent
	Spawn
	Despawn
	Move
)

func (k Kind) String() string {
	switch k {
	case Set:
		return "set"
	case Remove:
		return "remove"
	case EmitEvent:
		return "emit-event"
	case Spawn:
		return "spawn"
	case Despawn:
		return "despawn"
	case Move:
		return "move"
	default:
		return "unknown"
	}
}

// Command is one recorded intent. Apply carries the whole mutation as a
// closure built by the producer at enqueue time, so resolution never
// needs to reach back into originator state — it only needs Kind,
// Entity, and ComponentID to resolve conflicts, then calls Apply on
// whatever survives.
type Command struct {
	Producer    string
	Kind        Kind
	Entity      entity.ID
	ComponentID entity.ComponentID // meaningful only for Set/Remove
	Apply       func() error

	// Discard, when non-nil, runs if the command is dropped without
	// Apply ever running (producer rollback, LWW supersession, or an
	// exclusive-ownership veto). Producers use it to release resources
	// acquired at enqueue time, such as a spawn's reserved handle.
	Discard func()

	// Transfer tags a command as moving a reference-component payload
	// between two entities (e.g. an inventory item changing owner). A
	// non-nil Transfer causes the stream to write a WAL entry (see
	// SetWAL) before Apply runs.
	Transfer *TransferInfo

	seq int
}

// TransferInfo describes one cross-entity transfer for WAL purposes.
type TransferInfo struct {
	From, To entity.ID
	Kind     string // e.g. "trade", "shop", "mail"
	Detail   string // opaque producer-defined description, logged not parsed
}

// WAL is the durability sink transfer commands are logged to before
// they apply. Implementations must make Write durable (fsync'd file or
// committed DB transaction) before returning nil.
type WAL interface {
	Write(entries []TransferInfo) error
}

// DroppedCommand records why a command never reached Apply, for the
// caller to log as a warning.
type DroppedCommand struct {
	Command Command
	Reason  string
}

// Stream collects one tick's commands and resolves them at the commit
// point. It is reused across ticks via Reset; producer registration and
// exclusive-ownership declarations persist across Reset calls.
type Stream struct {
	priority map[string]int
	owner    map[entity.ComponentID]string

	commands []Command
	nextSeq  int

	wal WAL
}

// SetWAL installs the durability sink for Transfer-tagged commands.
// Optional: a nil WAL (the default) means transfer commands apply
// without a WAL entry, which is appropriate for a room-graph-only MUD
// that has no economic transfer concept.
func (s *Stream) SetWAL(w WAL) { s.wal = w }

// NewStream returns an empty command stream.
func NewStream() *Stream {
	return &Stream{
		priority: make(map[string]int),
		owner:    make(map[entity.ComponentID]string),
	}
}

// RegisterProducer assigns a producer its resolution priority. Lower
// values apply earlier; ties break by insertion order within the tick.
// Session input is conventionally registered as a pseudo-producer named
// "session-input".
func (s *Stream) RegisterProducer(name string, priority int) {
	s.priority[name] = priority
}

// SetExclusiveOwner declares producer as the sole writer of a component
// type: writes by any other producer to that (entity, type) pair are
// dropped during resolution, not merely outvoted by LWW.
func (s *Stream) SetExclusiveOwner(id entity.ComponentID, producer string) {
	s.owner[id] = producer
}

// MarkFailed discards every pending command of producer: the wholesale
// rollback of a producer that trapped, errored, or exhausted its
// budget mid-tick. The discard happens immediately rather than via a
// flag consulted at resolution time, so a failure during event
// dispatch (after this tick's commit point) rolls back exactly the
// commands that failure produced and cannot bleed into the next tick's
// resolution. Returns how many commands were discarded.
func (s *Stream) MarkFailed(producer string) int {
	kept := s.commands[:0]
	discarded := 0
	for _, c := range s.commands {
		if c.Producer == producer {
			if c.Discard != nil {
				c.Discard()
			}
			discarded++
			continue
		}
		kept = append(kept, c)
	}
	s.commands = kept
	return discarded
}

// Append records a command from producer, stamping it with the stream's
// next global sequence number (used as the insertion-order tiebreaker).
func (s *Stream) Append(c Command) {
	c.seq = s.nextSeq
	s.nextSeq++
	s.commands = append(s.commands, c)
}

// Reset clears this tick's commands. Producer priorities and
// exclusive-ownership declarations survive.
func (s *Stream) Reset() {
	s.commands = s.commands[:0]
	s.nextSeq = 0
}

type dedupKey struct {
	e entity.ID
	c entity.ComponentID
}

// Resolve computes the deterministic apply order: commands sorted by
// (producer priority ascending, insertion order ascending), then
// Set/Remove commands collapsed by last-writer-wins per
// (entity, component-type) with exclusive-ownership veto applied
// first. Failed producers never reach here; MarkFailed already pruned
// them. It does not call Apply; see ResolveAndApply. Resolution is
// pure with respect to its command list and producer registry: the
// same inputs always yield the same resolved order.
func (s *Stream) Resolve() (apply []Command, dropped []DroppedCommand) {
	candidates := make([]Command, len(s.commands))
	copy(candidates, s.commands)

	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := s.priority[candidates[i].Producer], s.priority[candidates[j].Producer]
		if pi != pj {
			return pi < pj
		}
		return candidates[i].seq < candidates[j].seq
	})

	winner := make(map[dedupKey]int)
	vetoed := make(map[int]bool)
	for i, c := range candidates {
		if c.Kind != Set && c.Kind != Remove {
			continue
		}
		if owner, ok := s.owner[c.ComponentID]; ok && owner != c.Producer {
			vetoed[i] = true
			continue
		}
		winner[dedupKey{c.Entity, c.ComponentID}] = i
	}

	for i, c := range candidates {
		switch c.Kind {
		case Set, Remove:
			if vetoed[i] {
				dropped = append(dropped, DroppedCommand{Command: c, Reason: "exclusive ownership veto"})
				continue
			}
			k := dedupKey{c.Entity, c.ComponentID}
			if winner[k] != i {
				dropped = append(dropped, DroppedCommand{Command: c, Reason: "superseded by a later writer"})
				continue
			}
			apply = append(apply, c)
		default:
			apply = append(apply, c)
		}
	}
	return apply, dropped
}

// ResolveAndApply resolves the tick's commands and calls Apply on every
// survivor in order. A panic or error from one command's Apply is
// reported via onError but does not stop the remaining commands from
// applying — command application is not itself sandboxed; producer-level
// isolation already happened at trap time via MarkFailed.
func (s *Stream) ResolveAndApply(onDropped func(DroppedCommand), onError func(Command, error)) {
	apply, dropped := s.Resolve()
	for _, d := range dropped {
		if d.Command.Discard != nil {
			d.Command.Discard()
		}
		if onDropped != nil {
			onDropped(d)
		}
	}
	if s.wal != nil {
		var entries []TransferInfo
		for _, c := range apply {
			if c.Transfer != nil {
				entries = append(entries, *c.Transfer)
			}
		}
		if len(entries) > 0 {
			if err := s.wal.Write(entries); err != nil && onError != nil {
				onError(Command{Kind: EmitEvent}, fmt.Errorf("command: wal write failed, transfers still applied in-memory: %w", err))
			}
		}
	}
	for _, c := range apply {
		if err := safeApply(c); err != nil && onError != nil {
			onError(c, err)
		}
	}
}

func safeApply(c Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicToError(r)
		}
	}()
	if c.Apply == nil {
		return nil
	}
	return c.Apply()
}
