//go:build !linux

package realtime

// boostPriority is a no-op on platforms without a Linux-style nice API.
func boostPriority() error { return nil }
