// Package midi holds the wire-format-independent MIDI domain types:
// message classification, device descriptors, and routing rules.
package midi

// Class is the real-time vs. non-real-time split that decides which
// transport a message travels over.
type Class int

const (
	ClassRealTime Class = iota
	ClassNonRealTime
)

// Classify inspects the first status byte of a MIDI message and
// decides which transport it belongs on. This is the hot-path
// classifier of spec.md §4.6: it must stay allocation-free and is
// intentionally inlined by the compiler for small functions like this.
func Classify(status byte) Class {
	switch {
	case status >= 0x80 && status <= 0xEF:
		return ClassRealTime
	case status >= 0xF8:
		return ClassRealTime
	case status >= 0xF0 && status <= 0xF7:
		return ClassNonRealTime
	default:
		return ClassNonRealTime
	}
}

// Channel extracts the MIDI channel (0-15) from a channel-voice status
// byte. ok is false for messages that don't carry a channel (system
// messages, 0xF0-0xFF).
func Channel(status byte) (ch uint8, ok bool) {
	if status < 0x80 || status > 0xEF {
		return 0, false
	}
	return status & 0x0F, true
}
