package reliable

import (
	"sync"
	"time"

	"midimesh/internal/errs"
)

// pendingMessage is a sent-but-unacked message awaiting retry or
// final failure.
type pendingMessage struct {
	frames     [][]byte
	attempts   int
	deadline   time.Time
	resultCh   chan error
}

// Sender tracks in-flight messages for one connection and drives their
// retry timers. Writes to the underlying connection go through
// writeFunc so the caller controls serialization (the connection
// worker's single goroutine, in practice).
type Sender struct {
	mu           sync.Mutex
	nextID       uint32
	pending      map[uint32]*pendingMessage
	maxAttempts  int
	retryDelay   time.Duration
	writeFunc    func([]byte) error
}

func NewSender(maxAttempts int, retryDelay time.Duration, writeFunc func([]byte) error) *Sender {
	return &Sender{
		pending:     make(map[uint32]*pendingMessage),
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		writeFunc:   writeFunc,
	}
}

// Send fragments payload into MaxFragmentPayload-sized frames, writes
// them, and registers the message for retry until acked or exhausted.
// It returns a channel that receives nil on ACK or the terminal error
// after maxAttempts is exceeded.
func (s *Sender) Send(payload []byte) <-chan error {
	s.mu.Lock()
	id := s.nextID
	s.nextID++

	fragCount := (len(payload) + MaxFragmentPayload - 1) / MaxFragmentPayload
	if fragCount == 0 {
		fragCount = 1
	}
	frames := make([][]byte, fragCount)
	for i := 0; i < fragCount; i++ {
		start := i * MaxFragmentPayload
		end := start + MaxFragmentPayload
		if end > len(payload) {
			end = len(payload)
		}
		h := FrameHeader{MessageID: id, FragIndex: uint16(i), FragCount: uint16(fragCount)}
		frames[i] = h.Encode(payload[start:end])
	}

	resultCh := make(chan error, 1)
	pm := &pendingMessage{
		frames:   frames,
		deadline: time.Now().Add(s.retryDelay),
		resultCh: resultCh,
	}
	s.pending[id] = pm
	s.mu.Unlock()

	s.transmit(id, pm)
	return resultCh
}

func (s *Sender) transmit(id uint32, pm *pendingMessage) {
	pm.attempts++
	for _, f := range pm.frames {
		if err := s.writeFunc(f); err != nil {
			s.fail(id, errs.SendFailed("write fragment: %v", err))
			return
		}
	}
}

// HandleAck completes the pending message for messageID, if any.
func (s *Sender) HandleAck(messageID uint32) {
	s.mu.Lock()
	pm, ok := s.pending[messageID]
	if ok {
		delete(s.pending, messageID)
	}
	s.mu.Unlock()
	if ok {
		pm.resultCh <- nil
	}
}

// Tick should be called periodically (e.g. every 200ms from the
// connection worker's own ticker) to retry or fail timed-out messages.
func (s *Sender) Tick(now time.Time) {
	s.mu.Lock()
	retry := make(map[uint32]*pendingMessage)
	expired := make(map[uint32]*pendingMessage)
	for id, pm := range s.pending {
		if now.Before(pm.deadline) {
			continue
		}
		if pm.attempts >= s.maxAttempts {
			expired[id] = pm
			continue
		}
		pm.deadline = now.Add(s.retryDelay)
		retry[id] = pm
	}
	for id := range expired {
		delete(s.pending, id)
	}
	s.mu.Unlock()

	for id, pm := range retry {
		s.transmit(id, pm)
	}
	for id, pm := range expired {
		pm.resultCh <- errs.AckTimeout("message %d: no ack after %d attempts", id, pm.attempts)
	}
}

func (s *Sender) fail(id uint32, err error) {
	s.mu.Lock()
	pm, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if ok {
		pm.resultCh <- err
	}
}

// Pending reports how many messages are awaiting ACK, for diagnostics.
func (s *Sender) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
