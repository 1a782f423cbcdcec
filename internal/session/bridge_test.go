package session

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mudforge/engine/internal/entity"
)

func newTestBridge() *Bridge {
	return NewBridge(16, 16, 50*time.Millisecond, zap.NewNop())
}

func TestDrainInboundReturnsConnectsAndLines(t *testing.T) {
	b := newTestBridge()
	b.Inbound <- Inbound{Kind: InConnected, SessionID: 1}
	b.Inbound <- Inbound{Kind: InLine, SessionID: 1, Payload: "look"}
	b.Inbound <- Inbound{Kind: InLine, SessionID: 1, Payload: "move north"}

	msgs := b.DrainInbound()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 drained messages, got %d", len(msgs))
	}
	if msgs[0].Kind != InConnected || msgs[1].Kind != InLine || msgs[2].Kind != InLine {
		t.Fatalf("expected connect then two lines, got %+v", msgs)
	}
	st, ok := b.State(1)
	if !ok || st != StateConnecting {
		t.Fatalf("expected connecting state, got %v ok=%v", st, ok)
	}
}

func TestDisconnectWhilePlayingEntersLingering(t *testing.T) {
	b := newTestBridge()
	b.BindEntity(1, entity.NewID(5, 0))
	b.Inbound <- Inbound{Kind: InDisconnected, SessionID: 1}
	b.DrainInbound()

	st, ok := b.State(1)
	if !ok || st != StateLingering {
		t.Fatalf("expected lingering, got %v ok=%v", st, ok)
	}
}

func TestDisconnectWhileNotPlayingForgetsSession(t *testing.T) {
	b := newTestBridge()
	b.SetState(1, StateAuthenticating)
	b.Inbound <- Inbound{Kind: InDisconnected, SessionID: 1}
	b.DrainInbound()

	if _, ok := b.State(1); ok {
		t.Fatalf("expected session to be forgotten")
	}
}

func TestReconnectRebindsLingeringEntity(t *testing.T) {
	b := newTestBridge()
	e := entity.NewID(9, 0)
	b.BindEntity(1, e)
	b.Inbound <- Inbound{Kind: InDisconnected, SessionID: 1}
	b.DrainInbound()

	if !b.Reconnect(1, 2) {
		t.Fatalf("expected reconnect to succeed")
	}
	got, ok := b.EntityOf(2)
	if !ok || got != e {
		t.Fatalf("expected entity rebound to session 2, got %v ok=%v", got, ok)
	}
	st, _ := b.State(2)
	if st != StatePlaying {
		t.Fatalf("expected playing after reconnect, got %v", st)
	}
}

func TestExpiredReturnsLingeringEntitiesPastDeadline(t *testing.T) {
	b := newTestBridge()
	b.lingerGrace = 1 * time.Millisecond
	e := entity.NewID(3, 0)
	b.BindEntity(1, e)
	b.Inbound <- Inbound{Kind: InDisconnected, SessionID: 1}
	b.DrainInbound()

	time.Sleep(5 * time.Millisecond)
	expired := b.Expired(time.Now())
	if len(expired) != 1 || expired[0].Entity != e || expired[0].SessionID != 1 {
		t.Fatalf("expected session 1 entity %v to expire, got %+v", e, expired)
	}
	if _, ok := b.State(1); ok {
		t.Fatalf("expected session forgotten after expiry")
	}
}

func TestTranslateCaseFoldsVerbs(t *testing.T) {
	cases := []struct{ in, wantName, wantArg string }{
		{"Look", "look", ""},
		{"MOVE north", "move", "north"},
		{"attack Goblin", "attack", "Goblin"},
		{"say hello there", "say", "hello there"},
		{"xyzzy", "unknown", "xyzzy"},
	}
	for _, c := range cases {
		got := Translate(1, c.in)
		if got.Name != c.wantName || got.Arg != c.wantArg {
			t.Errorf("Translate(%q) = {%q,%q}, want {%q,%q}", c.in, got.Name, got.Arg, c.wantName, c.wantArg)
		}
	}
}

func TestTranslateAdminPrefix(t *testing.T) {
	got := Translate(1, "/shutdown now")
	if !got.Admin || got.Name != "shutdown" || got.Arg != "now" {
		t.Fatalf("expected admin shutdown now, got %+v", got)
	}
}

func TestTranslateBareDirectionIsMove(t *testing.T) {
	got := Translate(1, "north")
	if got.Name != "move" || got.Arg != "north" {
		t.Fatalf("expected move north, got %+v", got)
	}
}
