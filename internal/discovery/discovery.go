// Package discovery abstracts peer discovery behind a single Provider
// interface implemented by an mDNS backend and a UDP multicast
// fallback. MeshManager only ever talks to this interface.
package discovery

import (
	"context"

	"midimesh/internal/meshnet"
)

// EventKind distinguishes a newly seen peer from one that has gone away.
type EventKind int

const (
	EventPeerDiscovered EventKind = iota
	EventPeerRemoved
)

// Event is emitted on the Provider's Events channel.
type Event struct {
	Kind EventKind
	Node meshnet.NodeInfo // valid for EventPeerDiscovered
	UUID string           // valid for EventPeerRemoved (string form, since the peer may be malformed)
}

// Provider advertises the local node and yields discovered/removed
// peer events. Platform-specific service-advertisement backends are
// out of scope per spec.md §1; this interface is their boundary.
type Provider interface {
	// Advertise starts announcing self on the network and returns once
	// the provider is ready to browse, or with an error.
	Advertise(ctx context.Context, self meshnet.NodeInfo) error

	// Events returns the channel of discovered/removed peer events.
	// It is closed when ctx passed to Advertise is cancelled.
	Events() <-chan Event

	// Close stops advertising and browsing.
	Close() error
}
