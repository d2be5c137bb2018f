package router

import (
	"testing"

	"github.com/containerd/errdefs"

	"midimesh/internal/wire"
)

func TestCheckForwardFreshContextIsNil(t *testing.T) {
	self := wire.VisitedEntry{NodeHash: 1, DeviceID: 1}
	next, err := CheckForward(nil, self)
	if err != nil {
		t.Fatalf("CheckForward: %v", err)
	}
	if next.HopCount != 1 || !next.Contains(self) {
		t.Fatalf("next = %+v, want HopCount=1 containing self", next)
	}
}

func TestCheckForwardAppendsSelfEachHop(t *testing.T) {
	a := wire.VisitedEntry{NodeHash: 1, DeviceID: 1}
	b := wire.VisitedEntry{NodeHash: 2, DeviceID: 2}

	ctx, err := CheckForward(nil, a)
	if err != nil {
		t.Fatalf("CheckForward (hop 1): %v", err)
	}
	ctx, err = CheckForward(ctx, b)
	if err != nil {
		t.Fatalf("CheckForward (hop 2): %v", err)
	}
	if ctx.HopCount != 2 || !ctx.Contains(a) || !ctx.Contains(b) {
		t.Fatalf("ctx = %+v, want both hops visited", ctx)
	}
}

func TestCheckForwardDetectsLoop(t *testing.T) {
	self := wire.VisitedEntry{NodeHash: 1, DeviceID: 1}
	ctx := &wire.Context{HopCount: 1, Visited: []wire.VisitedEntry{self}}

	_, err := CheckForward(ctx, self)
	if !errdefs.IsFailedPrecondition(err) {
		t.Fatalf("err = %v, want FailedPrecondition (loop)", err)
	}
}

func TestCheckForwardRejectsHopsExceeded(t *testing.T) {
	visited := make([]wire.VisitedEntry, wire.MaxHops)
	for i := range visited {
		visited[i] = wire.VisitedEntry{NodeHash: uint32(i + 100), DeviceID: uint16(i)}
	}
	ctx := &wire.Context{HopCount: wire.MaxHops, Visited: visited}

	_, err := CheckForward(ctx, wire.VisitedEntry{NodeHash: 999, DeviceID: 1})
	if !errdefs.IsFailedPrecondition(err) {
		t.Fatalf("err = %v, want FailedPrecondition (hops exceeded)", err)
	}
}
