package event

import "github.com/mudforge/engine/internal/entity"

// EnterRoom fires when a room-graph move completes. Game code may also
// emit it programmatically (a scripted teleport, for instance).
type EnterRoom struct {
	Who     entity.ID
	NewRoom entity.ID
	OldRoom entity.ID
}

// SessionReady fires once a freshly connected session can receive
// output, ahead of any on_connect script hooks.
type SessionReady struct {
	SessionID uint64
}
