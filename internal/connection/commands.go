package connection

import (
	"net"

	"midimesh/internal/handshake"
	"midimesh/internal/transport/realtime"
	"midimesh/internal/wire"
)

// command is the sum type accepted by the worker's single channel.
// Every mutation of connection state funnels through here so the
// worker never needs a mutex.
type command interface{ isCommand() }

// cmdAttachReliable completes a connection already past discovery and
// the handshake (driven outside the worker by the mesh manager, which
// owns the retry loop against a peer that may not answer): it wires
// the now-established reliable stream and the device list the
// handshake returned, and moves the state machine into Connected.
type cmdAttachReliable struct {
	conn   net.Conn
	result handshake.Result
}

type cmdHandshakeFailed struct {
	err error
}

type cmdDeliverRealtime struct {
	pkt wire.Packet
}

type cmdSendRealtime struct {
	slot realtime.RingSlot
}

type cmdDeliverReliable struct {
	payload []byte
}

type cmdSendReliable struct {
	payload  []byte
	resultCh chan error
}

type cmdSendHeartbeat struct{}

type cmdHeartbeatAck struct{}

type cmdMarkTimedOut struct{}

type cmdShutdown struct{}

type cmdQuerySnapshot struct {
	reply chan Snapshot
}

func (cmdAttachReliable) isCommand()   {}
func (cmdHandshakeFailed) isCommand()  {}
func (cmdDeliverRealtime) isCommand()  {}
func (cmdSendRealtime) isCommand()     {}
func (cmdDeliverReliable) isCommand()  {}
func (cmdSendReliable) isCommand()     {}
func (cmdSendHeartbeat) isCommand()    {}
func (cmdHeartbeatAck) isCommand()     {}
func (cmdMarkTimedOut) isCommand()     {}
func (cmdShutdown) isCommand()         {}
func (cmdQuerySnapshot) isCommand()    {}
