// Package event implements the in-tick typed event bus: producers emit
// typed payloads, subscribers registered before the tick starts receive
// them in registration order, and the carry-over policy for events
// produced during dispatch is fixed and documented (see Bus.Emit).
package event

import (
	"reflect"
)

type envelope struct {
	typ     reflect.Type
	payload any
}

// Bus is a multi-producer, multi-consumer queue of typed events,
// cleared at end of tick. The carry-over rule is drain-aware: an event
// emitted while the bus is still draining joins the tick in progress;
// one emitted after drain completes carries to the next tick.
type Bus struct {
	queue    []envelope
	overflow []envelope
	drained  bool // set once DispatchAll finishes, cleared by BeginTick
	handlers map[reflect.Type][]func(any)
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[reflect.Type][]func(any))}
}

// Subscribe registers fn to receive every event of type T, in the order
// Subscribe was called relative to other subscribers of T. Subscriptions
// must be made before DispatchAll runs for a tick; the bus does not
// support subscribing mid-dispatch.
func Subscribe[T any](b *Bus, fn func(T)) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	b.handlers[t] = append(b.handlers[t], func(v any) { fn(v.(T)) })
}

// Emit queues an event of type T. Until the current tick's DispatchAll
// has finished, the event joins the tick in progress — whether emitted
// by a hook before the drain or by a subscriber during it — and will be
// delivered before the tick closes. Once the bus has drained, the event
// carries over to the next tick's queue instead.
func Emit[T any](b *Bus, v T) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	e := envelope{typ: t, payload: v}
	if b.drained {
		b.overflow = append(b.overflow, e)
	} else {
		b.queue = append(b.queue, e)
	}
}

// DispatchAll drains every event currently queued, including ones
// appended by handlers during this very call, dispatching each to every
// subscriber of its type in registration order. It returns once the
// queue is empty. Events emitted by a handler after this method returns
// do not belong to this call — see Emit.
func (b *Bus) DispatchAll() {
	for i := 0; i < len(b.queue); i++ {
		e := b.queue[i]
		for _, h := range b.handlers[e.typ] {
			h(e.payload)
		}
	}
	b.queue = b.queue[:0]
	b.drained = true
}

// BeginTick opens a new tick: events carried over from the previous
// tick (ones emitted after that tick's DispatchAll had returned) are
// promoted into this tick's queue. Call once per tick, before
// DispatchAll.
func (b *Bus) BeginTick() {
	b.drained = false
	if len(b.overflow) == 0 {
		return
	}
	b.queue = append(b.queue, b.overflow...)
	b.overflow = b.overflow[:0]
}

// Pending reports how many events are waiting for the next DispatchAll —
// used by tests and diagnostics, not by the scheduler itself.
func (b *Bus) Pending() int { return len(b.queue) }

// PluginEvent is the opaque envelope plugin guests emit and receive
// through the fixed-width host_emit_command/on_event ABI: a numeric
// type id the guest defines the meaning of, plus raw bytes it alone
// knows how to decode. Script hooks never see this type directly; a
// game layer that wants scripts and plugins to share an event type
// bridges translation itself.
type PluginEvent struct {
	TypeID  uint32
	Payload []byte
}
