//go:build linux

package realtime

import "golang.org/x/sys/unix"

// boostPriority asks the scheduler for a higher priority on the
// calling (consumer) goroutine's OS thread. Failure is not fatal: the
// ring buffer's drop-oldest policy absorbs the resulting jitter.
func boostPriority() error {
	return unix.Setpriority(unix.PRIO_PROCESS, 0, -5)
}
