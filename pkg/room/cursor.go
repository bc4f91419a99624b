package room

import "github.com/loomroom/loom/internal/wire"

// cursorFromAwareness derives a cursor decoration from a peer's
// awareness state.
//
// Awareness state is expected to carry a "cursor" entry shaped like
// {"line": int, "column": int} when the peer has an active caret. The
// mapping to actual pixel coordinates is the host application's job;
// this just forwards the logical position unchanged.
func cursorFromAwareness(clientID string, state map[string]interface{}) (wire.CursorPayload, bool) {
	raw, ok := state["cursor"]
	if !ok {
		return wire.CursorPayload{}, false
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return wire.CursorPayload{}, false
	}

	line, _ := toInt(m["line"])
	column, _ := toInt(m["column"])
	pos := wire.CursorPosition{Line: line, Column: column}
	return wire.CursorPayload{ClientID: clientID, Position: &pos}, true
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
