// Package reliable implements the guaranteed-delivery transport for
// non-real-time MIDI (SysEx, bulk dumps) per spec.md §4.8: fragmentation
// of oversized payloads, reassembly with a bounded buffer, and an
// ACK/retry loop over a persistent stream connection.
package reliable

import "encoding/binary"

const (
	// FrameHeaderSize is the fixed length of the fragmentation frame
	// header: messageID(4) + fragIndex(2) + fragCount(2) + flags(1).
	FrameHeaderSize = 9

	// MaxFragmentPayload bounds a single fragment's MIDI payload to
	// keep frames well under typical path MTUs.
	MaxFragmentPayload = 1024

	flagAck uint8 = 1 << 0
)

// FrameHeader precedes every fragment (or ACK) on the reliable stream.
type FrameHeader struct {
	MessageID  uint32
	FragIndex  uint16
	FragCount  uint16
	Flags      uint8
}

func (h FrameHeader) IsAck() bool { return h.Flags&flagAck != 0 }

// Encode serializes the header followed by payload into a single frame.
func (h FrameHeader) Encode(payload []byte) []byte {
	buf := make([]byte, FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], h.MessageID)
	binary.BigEndian.PutUint16(buf[4:6], h.FragIndex)
	binary.BigEndian.PutUint16(buf[6:8], h.FragCount)
	buf[8] = h.Flags
	copy(buf[FrameHeaderSize:], payload)
	return buf
}

// DecodeFrame splits a length-delimited frame (as handed over by the
// stream's length-prefixed reader) into its header and payload.
func DecodeFrame(data []byte) (FrameHeader, []byte, error) {
	if len(data) < FrameHeaderSize {
		return FrameHeader{}, nil, errShortFrame
	}
	h := FrameHeader{
		MessageID: binary.BigEndian.Uint32(data[0:4]),
		FragIndex: binary.BigEndian.Uint16(data[4:6]),
		FragCount: binary.BigEndian.Uint16(data[6:8]),
		Flags:     data[8],
	}
	return h, data[FrameHeaderSize:], nil
}

func ackFrame(messageID uint32) []byte {
	h := FrameHeader{MessageID: messageID, Flags: flagAck}
	return h.Encode(nil)
}
