package main

import (
	"log/slog"

	"midimesh/internal/logging"
	"midimesh/internal/midi"
)

// noopDeviceIO stands in for the platform MIDI I/O layer spec.md §1
// declares out of scope: it advertises no local devices and logs
// anything routed to it instead of writing to a real port. It
// satisfies both handshake.DeviceProvider and router.LocalSink so the
// rest of the daemon can be wired and exercised end-to-end without a
// real sound card attached.
type noopDeviceIO struct {
	log *slog.Logger
}

func newNoopDeviceIO() *noopDeviceIO {
	return &noopDeviceIO{log: logging.Component("local-midi")}
}

func (n *noopDeviceIO) Devices() []midi.DeviceInfo { return nil }

func (n *noopDeviceIO) DeliverLocal(deviceID uint16, payload []byte) error {
	n.log.Debug("local delivery (no platform MIDI backend configured)", "device", deviceID, "len", len(payload))
	return nil
}
