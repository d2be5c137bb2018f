package reliable

import (
	"time"

	"midimesh/internal/errs"
)

const (
	// maxInFlightMessages bounds how many partially-received messages a
	// connection tracks at once, per spec.md §4.8's reassembly cap.
	maxInFlightMessages = 64
	// maxInFlightBytes bounds the total buffered-but-incomplete payload.
	maxInFlightBytes = 4 << 20

	partialTimeout = 30 * time.Second
)

type partialMessage struct {
	fragments [][]byte
	received  int
	total     int
	firstSeen time.Time
}

// Reassembler holds the in-flight partial messages for one connection.
// It is not safe for concurrent use; callers serialize access to it
// the same way the connection worker serializes everything else.
type Reassembler struct {
	partials map[uint32]*partialMessage
	bytes    int
}

func NewReassembler() *Reassembler {
	return &Reassembler{partials: make(map[uint32]*partialMessage)}
}

// Feed processes one fragment. It returns the reassembled payload and
// ok=true once the final fragment of a message arrives.
func (r *Reassembler) Feed(h FrameHeader, payload []byte) ([]byte, bool, error) {
	p, exists := r.partials[h.MessageID]
	if !exists {
		if len(r.partials) >= maxInFlightMessages {
			r.evictOldest()
		}
		p = &partialMessage{
			fragments: make([][]byte, h.FragCount),
			total:     int(h.FragCount),
			firstSeen: time.Now(),
		}
		r.partials[h.MessageID] = p
	}

	if int(h.FragIndex) >= p.total || p.fragments[h.FragIndex] != nil {
		// Duplicate or out-of-range fragment: ACK already covers this,
		// so silently ignore rather than erroring the whole message.
		return nil, false, nil
	}

	r.bytes += len(payload)
	if r.bytes > maxInFlightBytes {
		r.evictOldest()
		return nil, false, errs.ReassemblyCapExceeded("connection exceeded %d buffered bytes", maxInFlightBytes)
	}

	p.fragments[h.FragIndex] = payload
	p.received++

	if p.received < p.total {
		return nil, false, nil
	}

	delete(r.partials, h.MessageID)
	out := make([]byte, 0, p.total*MaxFragmentPayload)
	for _, f := range p.fragments {
		out = append(out, f...)
		r.bytes -= len(f)
	}
	return out, true, nil
}

// Sweep discards partial messages older than partialTimeout, called
// periodically so an abandoned fragment set cannot hold the cap open
// forever.
func (r *Reassembler) Sweep() {
	now := time.Now()
	for id, p := range r.partials {
		if now.Sub(p.firstSeen) > partialTimeout {
			for _, f := range p.fragments {
				r.bytes -= len(f)
			}
			delete(r.partials, id)
		}
	}
}

func (r *Reassembler) evictOldest() {
	var oldestID uint32
	var oldestTime time.Time
	first := true
	for id, p := range r.partials {
		if first || p.firstSeen.Before(oldestTime) {
			oldestID, oldestTime, first = id, p.firstSeen, false
		}
	}
	if !first {
		p := r.partials[oldestID]
		for _, f := range p.fragments {
			r.bytes -= len(f)
		}
		delete(r.partials, oldestID)
	}
}
