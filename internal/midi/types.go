package midi

import "github.com/google/uuid"

// Direction of a MIDI device port.
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
)

// DeviceInfo describes a single physical or virtual MIDI port. Its
// DeviceID is only locally scoped; DeviceKey is what makes a device
// globally addressable across the mesh.
type DeviceInfo struct {
	DeviceID  uint16
	Name      string
	Direction Direction
	// OwnerNode is the zero UUID for a device attached to this node.
	OwnerNode uuid.UUID
}

// Local reports whether this device is attached to the local node.
func (d DeviceInfo) Local() bool { return d.OwnerNode == uuid.Nil }

// DeviceKey is the canonical, mesh-wide unique identifier of a device:
// the pair (owning node UUID, locally-scoped device id).
type DeviceKey struct {
	NodeUUID uuid.UUID
	DeviceID uint16
}

func (k DeviceKey) Local() bool { return k.NodeUUID == uuid.Nil }

// RuleStatistics are the per-rule counters of spec.md §4.9.
type RuleStatistics struct {
	MessagesRouted  uint64
	MessagesDropped uint64
	LastMatchUnixNs int64
}

// RoutingRule connects one source device to one destination device,
// optionally filtered by channel and/or message type.
type RoutingRule struct {
	RuleID            string
	SourceDeviceKey   DeviceKey
	DestDeviceKey     DeviceKey
	Priority          int32
	Enabled           bool
	ChannelFilter     map[uint8]struct{} // nil means "no filter"
	MessageTypeFilter map[uint8]struct{} // nil means "no filter"

	Statistics RuleStatistics
}

// Matches reports whether this rule applies to a message with the
// given status byte, per spec.md §4.9: enabled, channel in filter (or
// absent), status byte in filter (or absent).
func (r *RoutingRule) Matches(status byte) bool {
	if !r.Enabled {
		return false
	}
	if len(r.MessageTypeFilter) > 0 {
		if _, ok := r.MessageTypeFilter[status]; !ok {
			return false
		}
	}
	if len(r.ChannelFilter) > 0 {
		ch, hasChannel := Channel(status)
		if !hasChannel {
			return false
		}
		if _, ok := r.ChannelFilter[ch]; !ok {
			return false
		}
	}
	return true
}
