package reliable

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/containerd/errdefs"
)

type recordingWriter struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (w *recordingWriter) write(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.frames = append(w.frames, frame)
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

func TestSenderSendTransmitsFragmentsAndAwaitsAck(t *testing.T) {
	w := &recordingWriter{}
	s := NewSender(3, time.Hour, w.write)

	payload := make([]byte, MaxFragmentPayload*2+10)
	resultCh := s.Send(payload)

	if w.count() != 3 {
		t.Fatalf("frames written = %d, want 3", w.count())
	}
	if s.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", s.Pending())
	}

	s.HandleAck(0)
	select {
	case err := <-resultCh:
		if err != nil {
			t.Fatalf("resultCh = %v, want nil", err)
		}
	default:
		t.Fatal("resultCh did not receive after HandleAck")
	}
	if s.Pending() != 0 {
		t.Fatalf("Pending after ack = %d, want 0", s.Pending())
	}
}

func TestSenderHandleAckIsIdempotent(t *testing.T) {
	w := &recordingWriter{}
	s := NewSender(3, time.Hour, w.write)
	resultCh := s.Send([]byte("x"))

	s.HandleAck(0)
	<-resultCh
	// A second ACK for the same (already-removed) message must not
	// panic or double-deliver on the now-unread channel.
	s.HandleAck(0)

	if s.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0", s.Pending())
	}
}

func TestSenderHandleAckUnknownMessageIsNoOp(t *testing.T) {
	w := &recordingWriter{}
	s := NewSender(3, time.Hour, w.write)
	s.HandleAck(999) // must not panic
}

func TestSenderTickRetransmitsBeforeMaxAttempts(t *testing.T) {
	w := &recordingWriter{}
	s := NewSender(3, time.Millisecond, w.write)
	s.Send([]byte("x"))

	if w.count() != 1 {
		t.Fatalf("frames written = %d, want 1", w.count())
	}
	s.Tick(time.Now().Add(time.Hour))
	if w.count() != 2 {
		t.Fatalf("frames written after retry tick = %d, want 2", w.count())
	}
	if s.Pending() != 1 {
		t.Fatalf("Pending after retry = %d, want 1 (still awaiting ack)", s.Pending())
	}
}

func TestSenderTickExpiresAfterMaxAttempts(t *testing.T) {
	w := &recordingWriter{}
	s := NewSender(2, time.Millisecond, w.write)
	resultCh := s.Send([]byte("x"))

	s.Tick(time.Now().Add(time.Hour)) // attempt 2, reaches maxAttempts
	s.Tick(time.Now().Add(2 * time.Hour))

	select {
	case err := <-resultCh:
		if !errdefs.IsDeadlineExceeded(err) {
			t.Fatalf("err = %v, want DeadlineExceeded", err)
		}
	default:
		t.Fatal("resultCh did not receive after exceeding maxAttempts")
	}
	if s.Pending() != 0 {
		t.Fatalf("Pending after expiry = %d, want 0", s.Pending())
	}
}

func TestSenderWriteFailureFailsMessageImmediately(t *testing.T) {
	w := &recordingWriter{err: errors.New("broken pipe")}
	s := NewSender(3, time.Hour, w.write)
	resultCh := s.Send([]byte("x"))

	select {
	case err := <-resultCh:
		if !errdefs.IsUnavailable(err) {
			t.Fatalf("err = %v, want Unavailable", err)
		}
	default:
		t.Fatal("resultCh did not receive after a write failure")
	}
	if s.Pending() != 0 {
		t.Fatalf("Pending after write failure = %d, want 0", s.Pending())
	}
}
