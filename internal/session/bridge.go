// Package session implements the session bridge: the core-side state
// machine for player connections and the two typed channels that are
// its only contact with the asynchronous network layer. The message
// pair is transport-agnostic and line-oriented, so the simulation
// thread never touches a socket directly.
package session

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mudforge/engine/internal/entity"
)

// State is a session's position in its lifecycle.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateSelecting
	StatePlaying
	StateLingering
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSelecting:
		return "selecting"
	case StatePlaying:
		return "playing"
	case StateLingering:
		return "lingering"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Inbound is one typed message flowing net → core.
type Inbound struct {
	Kind      InboundKind
	SessionID uint64
	Payload   string // raw line, meaningful only for InLine
}

type InboundKind int

const (
	InConnected InboundKind = iota
	InLine
	InDisconnected
)

// Outbound is one typed message flowing core → net.
type Outbound struct {
	Kind      OutboundKind
	SessionID uint64   // meaningful for OutSendTo and OutDisconnect
	AreaID    uint64   // meaningful for OutBroadcastArea
	Exclude   []uint64 // optional, OutBroadcastArea only
	Payload   string
}

type OutboundKind int

const (
	OutSendTo OutboundKind = iota
	OutBroadcastArea
	OutDisconnect
)

// AOIEntry is a session's last-reported view of one visible entity:
// its position as of the last delta pushed to that session.
type AOIEntry struct {
	X, Y int
}

// sessionRecord is the core's private bookkeeping for one connection.
type sessionRecord struct {
	id             uint64
	state          State
	entity         entity.ID
	hasEntity      bool
	disconnectedAt time.Time
	lingerDeadline time.Time
	lastAOI        map[entity.ID]AOIEntry // grid mode only: previously-reported visible set
	permission     int
}

// Bridge owns session lifecycle state and the two channels. It is
// touched only from the simulation thread — the single-writer
// invariant the scheduler enforces by never handing a Bridge reference
// to a goroutine other than its own.
type Bridge struct {
	Inbound  chan Inbound
	Outbound chan Outbound

	lingerGrace time.Duration
	sessions    map[uint64]*sessionRecord
	byEntity    map[entity.ID]uint64

	log *zap.Logger
}

// NewBridge builds a Bridge with the given channel depths (unbounded in
// spec terms; Go channels need a concrete capacity, so callers pick one
// generous enough that the network layer never blocks on a full queue
// under normal load) and the reconnect grace period for lingering
// sessions.
func NewBridge(inSize, outSize int, lingerGrace time.Duration, log *zap.Logger) *Bridge {
	return &Bridge{
		Inbound:     make(chan Inbound, inSize),
		Outbound:    make(chan Outbound, outSize),
		lingerGrace: lingerGrace,
		sessions:    make(map[uint64]*sessionRecord),
		byEntity:    make(map[entity.ID]uint64),
		log:         log,
	}
}

// Send queues an outbound message without blocking. When the outbound
// channel is full, the new message is logged and discarded (messages
// already queued are kept), since a slow network layer must never stall
// the simulation thread.
func (b *Bridge) Send(o Outbound) {
	select {
	case b.Outbound <- o:
	default:
		b.log.Warn("session: outbound channel full, dropping message", zap.Int("kind", int(o.Kind)))
	}
}

// DrainInbound pulls every currently-queued inbound message without
// blocking, applying lifecycle transitions as it goes. Connects and
// lines are returned for the scheduler to route (on_connect hooks,
// action translation); disconnects are fully absorbed here.
func (b *Bridge) DrainInbound() []Inbound {
	var out []Inbound
	for {
		select {
		case msg := <-b.Inbound:
			b.apply(msg)
			if msg.Kind == InLine || msg.Kind == InConnected {
				out = append(out, msg)
			}
		default:
			return out
		}
	}
}

func (b *Bridge) apply(msg Inbound) {
	switch msg.Kind {
	case InConnected:
		if rec, ok := b.sessions[msg.SessionID]; ok {
			rec.state = StateConnecting
			return
		}
		b.sessions[msg.SessionID] = &sessionRecord{id: msg.SessionID, state: StateConnecting}
	case InDisconnected:
		rec, ok := b.sessions[msg.SessionID]
		if !ok {
			return
		}
		if rec.state == StatePlaying && rec.hasEntity {
			rec.state = StateLingering
			rec.disconnectedAt = time.Now()
			rec.lingerDeadline = rec.disconnectedAt.Add(b.lingerGrace)
			return
		}
		b.forget(rec)
	}
}

func (b *Bridge) forget(rec *sessionRecord) {
	delete(b.sessions, rec.id)
	if rec.hasEntity {
		delete(b.byEntity, rec.entity)
	}
}

// State reports a session's current lifecycle state.
func (b *Bridge) State(sessionID uint64) (State, bool) {
	rec, ok := b.sessions[sessionID]
	if !ok {
		return StateClosed, false
	}
	return rec.state, true
}

// SetState transitions a session explicitly, creating a record for an
// unknown session id. Neither the action translator nor the scheduler
// calls it; it is the entry point for authentication/character-selection
// logic living outside the core to move a session to its next state.
func (b *Bridge) SetState(sessionID uint64, st State) {
	rec, ok := b.sessions[sessionID]
	if !ok {
		rec = &sessionRecord{id: sessionID}
		b.sessions[sessionID] = rec
	}
	rec.state = st
}

// BindEntity associates a session with its controlled entity, entered
// once character selection completes and playing begins.
func (b *Bridge) BindEntity(sessionID uint64, e entity.ID) {
	rec, ok := b.sessions[sessionID]
	if !ok {
		rec = &sessionRecord{id: sessionID}
		b.sessions[sessionID] = rec
	}
	rec.entity = e
	rec.hasEntity = true
	rec.state = StatePlaying
	b.byEntity[e] = sessionID
}

// EntityOf returns the entity a session controls, if bound.
func (b *Bridge) EntityOf(sessionID uint64) (entity.ID, bool) {
	rec, ok := b.sessions[sessionID]
	if !ok || !rec.hasEntity {
		return entity.ID(0), false
	}
	return rec.entity, true
}

// SessionOf returns the session id currently bound to an entity, if any.
func (b *Bridge) SessionOf(e entity.ID) (uint64, bool) {
	id, ok := b.byEntity[e]
	return id, ok
}

// Reconnect re-binds a lingering session's entity to a freshly connected
// session id, restoring it straight to playing without a new spawn.
func (b *Bridge) Reconnect(oldSessionID, newSessionID uint64) bool {
	rec, ok := b.sessions[oldSessionID]
	if !ok || rec.state != StateLingering {
		return false
	}
	delete(b.sessions, oldSessionID)
	rec.id = newSessionID
	rec.state = StatePlaying
	b.sessions[newSessionID] = rec
	b.byEntity[rec.entity] = newSessionID
	return true
}

// Expiry describes one lingering session whose grace period elapsed.
type Expiry struct {
	SessionID      uint64
	Entity         entity.ID
	DisconnectedAt time.Time
	Deadline       time.Time
}

// Expired returns every lingering session whose grace period has
// elapsed, sorted by entity handle, forgetting each as it goes.
// Callers persist and despawn the returned entities.
func (b *Bridge) Expired(now time.Time) []Expiry {
	var out []Expiry
	for id, rec := range b.sessions {
		if rec.state == StateLingering && !now.Before(rec.lingerDeadline) {
			out = append(out, Expiry{
				SessionID:      rec.id,
				Entity:         rec.entity,
				DisconnectedAt: rec.disconnectedAt,
				Deadline:       rec.lingerDeadline,
			})
			b.forget(rec)
			delete(b.sessions, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return entity.Less(out[i].Entity, out[j].Entity) })
	return out
}

// LastAOI returns the previously-reported visible set for a grid-mode
// session (nil if none reported yet); SetLastAOI stores the new one.
func (b *Bridge) LastAOI(sessionID uint64) map[entity.ID]AOIEntry {
	rec, ok := b.sessions[sessionID]
	if !ok {
		return nil
	}
	return rec.lastAOI
}

func (b *Bridge) SetLastAOI(sessionID uint64, set map[entity.ID]AOIEntry) {
	rec, ok := b.sessions[sessionID]
	if !ok {
		return
	}
	rec.lastAOI = set
}

// Playing returns every session id currently in the playing state,
// sorted ascending so callers iterate in a stable order.
func (b *Bridge) Playing() []uint64 {
	var out []uint64
	for id, rec := range b.sessions {
		if rec.state == StatePlaying {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SetPermissionLevel records a session's admin permission level (see
// script.Player/Builder/Admin/Owner), defaulting to 0 (Player) when
// never set.
func (b *Bridge) SetPermissionLevel(sessionID uint64, level int) {
	rec, ok := b.sessions[sessionID]
	if !ok {
		rec = &sessionRecord{id: sessionID}
		b.sessions[sessionID] = rec
	}
	rec.permission = level
}

// The following methods implement script.OutputSink and
// script.SessionDirectory so a Bridge can be wired directly into a
// script.Engine's Config without an adapter type in between.

// SendTo queues a line of text for delivery to one session.
func (b *Bridge) SendTo(sessionID uint64, payload string) error {
	b.Send(Outbound{Kind: OutSendTo, SessionID: sessionID, Payload: payload})
	return nil
}

// BroadcastArea queues a line of text for delivery to every session the
// network layer considers part of areaID (interpretation of areaID is
// left to the transport; the core only carries it through opaquely).
func (b *Bridge) BroadcastArea(areaID string, payload string, exclude ...uint64) error {
	var areaHash uint64
	for _, c := range areaID {
		areaHash = areaHash*131 + uint64(c)
	}
	b.Send(Outbound{Kind: OutBroadcastArea, AreaID: areaHash, Payload: payload, Exclude: exclude})
	return nil
}

// SessionForEntity implements script.SessionDirectory.
func (b *Bridge) SessionForEntity(e entity.ID) (uint64, bool) {
	return b.SessionOf(e)
}

// EntityForSession implements script.SessionDirectory.
func (b *Bridge) EntityForSession(sessionID uint64) (entity.ID, bool) {
	return b.EntityOf(sessionID)
}

// ActiveSessions implements script.SessionDirectory.
func (b *Bridge) ActiveSessions() []uint64 {
	return b.Playing()
}

// PermissionLevel implements script.SessionDirectory.
func (b *Bridge) PermissionLevel(sessionID uint64) int {
	rec, ok := b.sessions[sessionID]
	if !ok {
		return 0
	}
	return rec.permission
}

// Bind implements script.SessionDirectory.
func (b *Bridge) Bind(sessionID uint64, e entity.ID) {
	b.BindEntity(sessionID, e)
}
