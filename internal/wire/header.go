// Package wire implements the on-the-wire MIDI mesh packet format: a
// fixed 20-byte header, an optional forwarding-context extension, and
// the variable-length MIDI payload.
package wire

import (
	"encoding/binary"
	"fmt"

	"midimesh/internal/errs"
)

const (
	Magic   uint16 = 0x4D49
	Version uint8  = 0x01

	HeaderSize = 20

	FlagSysEx    uint8 = 1 << 0
	FlagReliable uint8 = 1 << 1
	FlagFragment uint8 = 1 << 2
	FlagContext  uint8 = 1 << 3
)

// Header is the fixed 20-byte packet header, big-endian on the wire.
type Header struct {
	Magic        uint16
	Version      uint8
	Flags        uint8
	SrcNodeHash  uint32
	DstNodeHash  uint32
	Sequence     uint16
	TimestampUs  uint32
	DeviceID     uint16
}

// NewHeader fills in Magic/Version and zeroes everything else.
func NewHeader() Header {
	return Header{Magic: Magic, Version: Version}
}

func (h Header) HasFlag(f uint8) bool { return h.Flags&f != 0 }

// Encode appends the header's 20 bytes, big-endian, to dst.
func (h Header) Encode(dst []byte) []byte {
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint16(buf[0:2], h.Magic)
	buf[2] = h.Version
	buf[3] = h.Flags
	binary.BigEndian.PutUint32(buf[4:8], h.SrcNodeHash)
	binary.BigEndian.PutUint32(buf[8:12], h.DstNodeHash)
	binary.BigEndian.PutUint16(buf[12:14], h.Sequence)
	binary.BigEndian.PutUint32(buf[14:18], h.TimestampUs)
	binary.BigEndian.PutUint16(buf[18:20], h.DeviceID)
	return append(dst, buf[:]...)
}

// DecodeHeader parses the fixed header from the front of data and
// returns the remaining bytes (context extension + payload).
func DecodeHeader(data []byte) (Header, []byte, error) {
	if len(data) < HeaderSize {
		return Header{}, nil, errs.BadMagic("packet too short for header: %d bytes", len(data))
	}
	h := Header{
		Magic:       binary.BigEndian.Uint16(data[0:2]),
		Version:     data[2],
		Flags:       data[3],
		SrcNodeHash: binary.BigEndian.Uint32(data[4:8]),
		DstNodeHash: binary.BigEndian.Uint32(data[8:12]),
		Sequence:    binary.BigEndian.Uint16(data[12:14]),
		TimestampUs: binary.BigEndian.Uint32(data[14:18]),
		DeviceID:    binary.BigEndian.Uint16(data[18:20]),
	}
	if h.Magic != Magic {
		return Header{}, nil, errs.BadMagic("got 0x%04X, want 0x%04X", h.Magic, Magic)
	}
	if h.Version != Version {
		return Header{}, nil, errs.BadVersion("got %d, want %d", h.Version, Version)
	}
	return h, data[HeaderSize:], nil
}

// Packet is a fully decoded wire packet: header, optional forwarding
// context, and the raw MIDI payload bytes.
type Packet struct {
	Header  Header
	Context *Context
	Payload []byte
}

// Encode serializes a Packet to its wire form.
func (p Packet) Encode() []byte {
	h := p.Header
	if p.Context != nil {
		h.Flags |= FlagContext
	} else {
		h.Flags &^= FlagContext
	}

	out := make([]byte, 0, HeaderSize+ContextSize(p.Context)+len(p.Payload))
	out = h.Encode(out)
	if p.Context != nil {
		out = p.Context.Encode(out)
	}
	out = append(out, p.Payload...)
	return out
}

// Decode parses a full wire packet.
func Decode(data []byte) (Packet, error) {
	h, rest, err := DecodeHeader(data)
	if err != nil {
		return Packet{}, err
	}

	var ctx *Context
	if h.HasFlag(FlagContext) {
		c, remaining, decErr := DecodeContext(rest)
		if decErr != nil {
			return Packet{}, decErr
		}
		ctx = c
		rest = remaining
	}

	return Packet{Header: h, Context: ctx, Payload: rest}, nil
}

func (p Packet) String() string {
	return fmt.Sprintf("Packet{src=%08x dst=%08x dev=%d flags=%#x len(payload)=%d}",
		p.Header.SrcNodeHash, p.Header.DstNodeHash, p.Header.DeviceID, p.Header.Flags, len(p.Payload))
}
