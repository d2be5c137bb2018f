// Package clockskew periodically compares this node's wall clock
// against an NTP server and surfaces the offset as a diagnostic
// status, grounded on the teacher pack's internal/signal/ntp.Checker /
// internal/reconcile/ntp.go. It never feeds timeout arithmetic — every
// deadline elsewhere in midimesh stays on context.Context / time.Now()
// monotonic reads, per spec.md §9 — this is purely an operator-facing
// diagnostic exposed through the control surface.
package clockskew

import (
	"context"
	"sync"
	"time"

	"github.com/beevik/ntp"

	"midimesh/internal/check"
	"midimesh/internal/meshnet"
)

const (
	defaultPool      = "pool.ntp.org"
	defaultInterval  = 60 * time.Second
	defaultThreshold = 500 * time.Millisecond
)

// Phase is the checker's own small state machine, kept in the
// teacher's style of an explicit Transition table rather than free
// assignment, so an invalid jump (e.g. Unchecked straight to itself)
// panics in debug builds instead of silently happening.
type Phase uint8

const (
	Unchecked Phase = iota + 1
	Healthy
	UnhealthyOffset
	Error
)

func (p Phase) String() string {
	switch p {
	case Unchecked:
		return "unchecked"
	case Healthy:
		return "healthy"
	case UnhealthyOffset:
		return "unhealthy_offset"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

func (p Phase) Transition(to Phase) Phase {
	ok := false
	switch p {
	case Unchecked:
		ok = to == Healthy || to == UnhealthyOffset || to == Error
	case Healthy:
		ok = to == UnhealthyOffset || to == Error || to == Healthy
	case UnhealthyOffset:
		ok = to == Healthy || to == Error || to == UnhealthyOffset
	case Error:
		ok = to == Healthy || to == UnhealthyOffset || to == Error
	}
	check.Assertf(ok, "clockskew transition: %s -> %s", p, to)
	if !ok {
		return p
	}
	return to
}

// Status is a single observation.
type Status struct {
	Offset    time.Duration
	Phase     Phase
	Error     string
	CheckedAt time.Time
}

// Checker runs the periodic NTP query on its own goroutine and
// publishes the latest Status for Server.GetStatus/ListPeers-adjacent
// control queries to read.
type Checker struct {
	pool      string
	interval  time.Duration
	threshold time.Duration
	clock     meshnet.Clock

	// QueryFunc overrides the real NTP query in tests, avoiding any
	// network dependency in package tests.
	QueryFunc func(pool string) (*ntp.Response, error)

	mu     sync.RWMutex
	status Status
}

func NewChecker(clock meshnet.Clock) *Checker {
	check.Assert(clock != nil, "clockskew.NewChecker: clock must not be nil")
	return &Checker{
		pool:      defaultPool,
		interval:  defaultInterval,
		threshold: defaultThreshold,
		clock:     clock,
		status:    Status{Phase: Unchecked},
	}
}

// Run blocks, checking immediately and then every interval, until ctx
// is cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.check()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.check()
		}
	}
}

func (c *Checker) check() {
	query := c.QueryFunc
	if query == nil {
		query = ntp.Query
	}
	resp, err := query(c.pool)

	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.status = Status{Error: err.Error(), Phase: c.status.Phase.Transition(Error), CheckedAt: now}
		return
	}

	phase := UnhealthyOffset
	if abs(resp.ClockOffset) < c.threshold {
		phase = Healthy
	}
	c.status = Status{Offset: resp.ClockOffset, Phase: c.status.Phase.Transition(phase), CheckedAt: now}
}

// Status returns the most recent observation.
func (c *Checker) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
