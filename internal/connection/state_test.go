package connection

import (
	"testing"

	"github.com/containerd/errdefs"
)

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateNew:           "new",
		StateHandshaking:   "handshaking",
		StateConnected:     "connected",
		StateDisconnecting: "disconnecting",
		StateClosed:        "closed",
		State(99):          "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestAdvanceTransitionTable(t *testing.T) {
	all := []State{StateNew, StateHandshaking, StateConnected, StateDisconnecting, StateClosed}
	allowed := map[State]map[State]bool{
		StateNew:           {StateHandshaking: true, StateDisconnecting: true, StateClosed: true},
		StateHandshaking:   {StateConnected: true, StateDisconnecting: true, StateClosed: true},
		StateConnected:     {StateDisconnecting: true, StateClosed: true},
		StateDisconnecting: {StateClosed: true},
		StateClosed:        {},
	}

	for _, from := range all {
		for _, to := range all {
			err := advance(from, to)
			want := allowed[from][to]
			if want && err != nil {
				t.Errorf("advance(%s, %s) = %v, want nil", from, to, err)
			}
			if !want && err == nil {
				t.Errorf("advance(%s, %s) = nil, want an error", from, to)
			}
			if !want && !errdefs.IsFailedPrecondition(err) {
				t.Errorf("advance(%s, %s) = %v, want FailedPrecondition", from, to, err)
			}
		}
	}
}
