package session

import (
	"strings"

	"golang.org/x/text/cases"
)

// Action is a translated, script-visible command: a recognized action
// name plus its single free-form argument, ready to hand to a script
// on_action hook or route to on_admin.
type Action struct {
	SessionID uint64
	Name      string
	Arg       string
	Admin     bool
	Raw       string
}

var foldCase = cases.Fold()

// knownActions maps a case-folded verb to its canonical action name, as
// produced by the session input translator ahead of on_action. Kept as
// a package-level table rather than a switch so it reads as data.
var knownActions = map[string]string{
	"look":      "look",
	"l":         "look",
	"move":      "move",
	"go":        "move",
	"north":     "move",
	"south":     "move",
	"east":      "move",
	"west":      "move",
	"up":        "move",
	"down":      "move",
	"attack":    "attack",
	"kill":      "attack",
	"get":       "get",
	"take":      "get",
	"drop":      "drop",
	"inventory": "inventory",
	"inv":       "inventory",
	"i":         "inventory",
	"say":       "say",
	"who":       "who",
	"help":      "help",
}

var directionArgs = map[string]string{
	"north": "north",
	"south": "south",
	"east":  "east",
	"west":  "west",
	"up":    "up",
	"down":  "down",
}

// Translate converts one raw inbound line into the Action the rest of
// the core understands, applying the Unicode-aware case fold from
// golang.org/x/text/cases so "Move", "MOVE", and "move" all resolve to
// the same action name regardless of client locale.
func Translate(sessionID uint64, line string) Action {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Action{SessionID: sessionID, Name: "unknown", Raw: line}
	}
	if strings.HasPrefix(trimmed, "/") {
		parts := strings.SplitN(strings.TrimPrefix(trimmed, "/"), " ", 2)
		name := foldCase.String(parts[0])
		arg := ""
		if len(parts) == 2 {
			arg = parts[1]
		}
		return Action{SessionID: sessionID, Name: name, Arg: arg, Admin: true, Raw: line}
	}

	parts := strings.SplitN(trimmed, " ", 2)
	verb := foldCase.String(parts[0])
	arg := ""
	if len(parts) == 2 {
		arg = parts[1]
	}

	canonical, ok := knownActions[verb]
	if !ok {
		return Action{SessionID: sessionID, Name: "unknown", Arg: trimmed, Raw: line}
	}
	if canonical == "move" && arg == "" {
		if dir, isDir := directionArgs[verb]; isDir {
			arg = dir
		}
	}
	if canonical == "say" {
		arg = trimmed[len(parts[0]):]
		arg = strings.TrimSpace(arg)
	}
	return Action{SessionID: sessionID, Name: canonical, Arg: arg, Raw: line}
}
