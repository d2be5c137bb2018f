package wire

import (
	"encoding/binary"

	"midimesh/internal/errs"
)

const (
	ExtTypeForwarding uint8 = 0x01
	MaxHops           uint8 = 8

	visitedEntrySize = 6 // nodeHash(4) + deviceID(2)
	contextFixedSize = 4 // extType(1) + extLen(1) + hopCount(1) + devCount(1)
)

// VisitedEntry is the on-wire (nodeHash, deviceId) pair recorded in a
// ForwardingContext. nodeHash is the same truncated hash carried in
// the packet header's src/dst fields, not the full UUID.
type VisitedEntry struct {
	NodeHash uint32
	DeviceID uint16
}

// Context is the optional forwarding-context packet extension used for
// network-wide loop prevention. HopCount always equals len(Visited).
type Context struct {
	HopCount uint8
	Visited  []VisitedEntry
}

// ContextSize returns the encoded size of ctx, or 0 if ctx is nil.
func ContextSize(ctx *Context) int {
	if ctx == nil {
		return 0
	}
	return contextFixedSize + len(ctx.Visited)*visitedEntrySize
}

// Encode appends the context extension to dst.
func (c *Context) Encode(dst []byte) []byte {
	if c == nil {
		return dst
	}
	devCount := len(c.Visited)
	extLen := contextFixedSize + devCount*visitedEntrySize

	buf := make([]byte, contextFixedSize)
	buf[0] = ExtTypeForwarding
	buf[1] = byte(extLen)
	buf[2] = c.HopCount
	buf[3] = byte(devCount)
	dst = append(dst, buf...)

	var entry [visitedEntrySize]byte
	for _, v := range c.Visited {
		binary.BigEndian.PutUint32(entry[0:4], v.NodeHash)
		binary.BigEndian.PutUint16(entry[4:6], v.DeviceID)
		dst = append(dst, entry[:]...)
	}
	return dst
}

// DecodeContext parses a context extension from the front of data,
// returning the remaining bytes. An extension whose extType is not
// ExtTypeForwarding is skipped: the returned Context is nil and the
// packet is treated as context-free by this node. The skipped bytes
// are not kept, so a packet this node forwards carries only the
// context the router builds itself; the unknown extension is not
// passed on.
func DecodeContext(data []byte) (*Context, []byte, error) {
	if len(data) < contextFixedSize {
		return nil, nil, errs.BadContext("context extension truncated: %d bytes", len(data))
	}
	extType := data[0]
	extLen := int(data[1])
	if extLen < contextFixedSize || len(data) < extLen {
		return nil, nil, errs.BadContext("context extension length %d out of range", extLen)
	}

	rest := data[extLen:]

	if extType != ExtTypeForwarding {
		// Unknown extension: ignore it, report an empty context so
		// this node treats the packet as fresh, per the open-question
		// resolution recorded in DESIGN.md.
		return nil, rest, nil
	}

	hopCount := data[2]
	devCount := int(data[3])
	if devCount > int(MaxHops) {
		return nil, nil, errs.BadContext("device count %d exceeds max hops %d", devCount, MaxHops)
	}
	if int(hopCount) != devCount {
		return nil, nil, errs.BadContext("hop count %d does not match device count %d", hopCount, devCount)
	}
	wantLen := contextFixedSize + devCount*visitedEntrySize
	if extLen != wantLen {
		return nil, nil, errs.BadContext("context extension length %d does not match device count %d", extLen, devCount)
	}

	visited := make([]VisitedEntry, devCount)
	off := contextFixedSize
	for i := 0; i < devCount; i++ {
		visited[i] = VisitedEntry{
			NodeHash: binary.BigEndian.Uint32(data[off : off+4]),
			DeviceID: binary.BigEndian.Uint16(data[off+4 : off+6]),
		}
		off += visitedEntrySize
	}

	return &Context{HopCount: hopCount, Visited: visited}, rest, nil
}

// Contains reports whether entry is already in the visited set.
func (c *Context) Contains(entry VisitedEntry) bool {
	if c == nil {
		return false
	}
	for _, v := range c.Visited {
		if v == entry {
			return true
		}
	}
	return false
}

// Append returns a new Context with entry appended and HopCount
// incremented. The receiver is never mutated in place so a context
// can be safely shared across concurrent forwarding decisions.
func (c *Context) Append(entry VisitedEntry) *Context {
	var visited []VisitedEntry
	if c != nil {
		visited = append(visited, c.Visited...)
	}
	visited = append(visited, entry)
	return &Context{HopCount: uint8(len(visited)), Visited: visited}
}
