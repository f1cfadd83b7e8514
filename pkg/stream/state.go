// Package stream reconciles a streaming chat reply into the session store.
//
// A Reconciler opens one SSE channel per send, decodes each event into
// tagged fragments, binds the server chat id the first time it is reported
// and appends text fragments, in arrival order, to the assistant message the
// stream owns. Every stream ends in exactly one closed State.
package stream

import "time"

// DefaultIdleTimeout is how long a stream may go without an event before it
// is closed with StateClosedTimeout.
const DefaultIdleTimeout = 120 * time.Second

// State is the lifecycle state of a stream handle.
type State int

const (
	StateOpen State = iota
	StateClosedComplete
	StateClosedError
	StateClosedTimeout
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateClosedComplete:
		return "CLOSED_COMPLETE"
	case StateClosedError:
		return "CLOSED_ERROR"
	case StateClosedTimeout:
		return "CLOSED_TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Closed reports whether s is terminal.
func (s State) Closed() bool {
	return s == StateClosedComplete || s == StateClosedError || s == StateClosedTimeout
}
