// Package heartbeat implements the mesh-wide liveness check of
// spec.md §4.3: a ticking goroutine that asks every pooled connection
// to send a heartbeat and watches for peers that stop answering,
// grounded on the teacher pack's reconcile.Worker tick-and-sweep loop.
package heartbeat

import (
	"context"
	"time"

	"github.com/google/uuid"

	"midimesh/internal/logging"
	"midimesh/internal/meshnet"
)

// Connection is the subset of a connection worker's surface the
// monitor needs. It extends meshnet.PooledConnection so a *Monitor can
// be driven directly off a *meshnet.Pool snapshot via a type assertion.
type Connection interface {
	meshnet.PooledConnection
	SendHeartbeat() error
	LastHeartbeatRecv() time.Time
	MarkTimedOut()
}

// Monitor ticks at Interval and, for every connection that hasn't been
// heard from in Timeout, marks it timed out (the connection worker
// itself decides what timed-out means for its state machine — typically
// a transition to Disconnecting).
type Monitor struct {
	Pool     *meshnet.Pool
	Interval time.Duration
	Timeout  time.Duration
}

func NewMonitor(pool *meshnet.Pool, interval, timeout time.Duration) *Monitor {
	return &Monitor{Pool: pool, Interval: interval, Timeout: timeout}
}

// Run blocks, ticking until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	log := logging.Component("heartbeat-monitor")
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(log)
		}
	}
}

func (m *Monitor) sweep(log interface {
	Debug(string, ...any)
	Warn(string, ...any)
}) {
	now := time.Now()
	for _, pc := range m.Pool.Snapshot() {
		conn, ok := pc.(Connection)
		if !ok {
			continue
		}

		if err := conn.SendHeartbeat(); err != nil {
			log.Debug("heartbeat send failed", "peer", idOf(conn), "err", err)
		}

		if now.Sub(conn.LastHeartbeatRecv()) > m.Timeout {
			log.Warn("peer heartbeat timeout", "peer", idOf(conn))
			conn.MarkTimedOut()
		}
	}
}

func idOf(c meshnet.PooledConnection) uuid.UUID { return c.UUID() }
