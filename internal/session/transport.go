package session

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Transport accepts TCP connections and relays newline-delimited lines
// to and from a Bridge's channels. It is a minimal transport: no
// framing, no encryption. Richer protocols (Telnet options, WebSocket)
// belong in a separate front end speaking the same two channels.
type Transport struct {
	listener net.Listener
	bridge   *Bridge
	nextID   atomic.Uint64
	log      *zap.Logger

	mu    sync.Mutex
	conns map[uint64]net.Conn

	closeCh chan struct{}
}

// NewTransport binds addr and returns a Transport ready for AcceptLoop.
func NewTransport(addr string, bridge *Bridge, log *zap.Logger) (*Transport, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Transport{
		listener: ln,
		bridge:   bridge,
		log:      log,
		conns:    make(map[uint64]net.Conn),
		closeCh:  make(chan struct{}),
	}, nil
}

// AcceptLoop runs in its own goroutine, accepting connections and
// spawning one reader goroutine per connection. Every byte that
// crosses into the simulation thread goes through bridge.Inbound; the
// simulation thread never touches a net.Conn directly.
func (t *Transport) AcceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.closeCh:
				return
			default:
			}
			t.log.Error("session: accept failed", zap.Error(err))
			continue
		}
		id := t.nextID.Add(1)
		t.mu.Lock()
		t.conns[id] = conn
		t.mu.Unlock()

		t.bridge.Inbound <- Inbound{Kind: InConnected, SessionID: id}
		go t.readLoop(id, conn)
	}
}

func (t *Transport) readLoop(id uint64, conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		t.bridge.Inbound <- Inbound{Kind: InLine, SessionID: id, Payload: scanner.Text()}
	}
	t.bridge.Inbound <- Inbound{Kind: InDisconnected, SessionID: id}
	t.mu.Lock()
	delete(t.conns, id)
	t.mu.Unlock()
}

// WriteLoop drains the bridge's Outbound channel and delivers each
// message to its connection(s). Runs in its own goroutine; intended as
// the single reader of Outbound so delivery order per session is
// preserved.
func (t *Transport) WriteLoop() {
	for o := range t.bridge.Outbound {
		switch o.Kind {
		case OutSendTo:
			t.writeLine(o.SessionID, o.Payload)
		case OutBroadcastArea:
			excluded := make(map[uint64]struct{}, len(o.Exclude))
			for _, id := range o.Exclude {
				excluded[id] = struct{}{}
			}
			t.mu.Lock()
			ids := make([]uint64, 0, len(t.conns))
			for id := range t.conns {
				if _, skip := excluded[id]; !skip {
					ids = append(ids, id)
				}
			}
			t.mu.Unlock()
			for _, id := range ids {
				t.writeLine(id, o.Payload)
			}
		case OutDisconnect:
			t.mu.Lock()
			conn, ok := t.conns[o.SessionID]
			t.mu.Unlock()
			if ok {
				conn.Close()
			}
		}
	}
}

func (t *Transport) writeLine(id uint64, payload string) {
	t.mu.Lock()
	conn, ok := t.conns[id]
	t.mu.Unlock()
	if !ok {
		return
	}
	if _, err := conn.Write([]byte(payload + "\n")); err != nil {
		t.log.Debug("session: write failed", zap.Uint64("session", id), zap.Error(err))
	}
}

// Shutdown stops accepting new connections and closes all live ones.
func (t *Transport) Shutdown() {
	close(t.closeCh)
	t.listener.Close()
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, conn := range t.conns {
		conn.Close()
	}
}
