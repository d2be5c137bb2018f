// Package connection implements the per-peer connection worker: a
// single-goroutine SEDA loop that owns all of one peer connection's
// mutable state, grounded on the teacher pack's prefetch.PriorityBuffer
// serve loop (one goroutine, one command channel, no shared mutexes for
// the hot path).
package connection

import "midimesh/internal/errs"

// State is a connection's position in its lifecycle, per spec.md §4.1.
type State int32

const (
	StateNew State = iota
	StateHandshaking
	StateConnected
	StateDisconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// transitions enumerates every legal (from, to) pair. Anything not
// listed here is rejected by advance, keeping the state machine total:
// every command handler calls advance instead of assigning state
// directly, so an illegal transition surfaces as an error rather than
// corrupting the worker's notion of its own lifecycle.
var transitions = map[State]map[State]bool{
	StateNew:           {StateHandshaking: true, StateDisconnecting: true, StateClosed: true},
	StateHandshaking:   {StateConnected: true, StateDisconnecting: true, StateClosed: true},
	StateConnected:     {StateDisconnecting: true, StateClosed: true},
	StateDisconnecting: {StateClosed: true},
	StateClosed:        {},
}

// advance validates from->to and returns the error the caller should
// surface (and the worker should log) for an illegal request.
func advance(from, to State) error {
	if transitions[from][to] {
		return nil
	}
	return errs.InvalidStateForOperation("cannot move from %s to %s", from, to)
}
