package router

import (
	"midimesh/internal/errs"
	"midimesh/internal/wire"
)

// CheckForward implements spec.md §4.10's loop-prevention pass,
// applied by the router before a message it does not own locally is
// handed to a peer connection's SendRealtime/SendReliable.
//
// ctx may be nil (a node that omits the extension or a first hop); a
// nil context is treated as fresh. self identifies the device handling
// the forward — the node hash plus the local device id the message is
// about to exit through.
func CheckForward(ctx *wire.Context, self wire.VisitedEntry) (*wire.Context, error) {
	if ctx != nil && ctx.HopCount >= wire.MaxHops {
		return nil, errs.HopsExceeded("forwarding context at %d hops, max %d", ctx.HopCount, wire.MaxHops)
	}
	if ctx.Contains(self) {
		return nil, errs.LoopDetected("device %08x/%d already visited", self.NodeHash, self.DeviceID)
	}
	return ctx.Append(self), nil
}
