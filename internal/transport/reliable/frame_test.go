package reliable

import "testing"

func TestFrameHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := FrameHeader{MessageID: 0xabcd1234, FragIndex: 3, FragCount: 9, Flags: 0}
	payload := []byte{1, 2, 3, 4}

	frame := h.Encode(payload)
	gotHeader, gotPayload, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if gotHeader != h {
		t.Fatalf("gotHeader = %+v, want %+v", gotHeader, h)
	}
	if string(gotPayload) != string(payload) {
		t.Fatalf("gotPayload = %v, want %v", gotPayload, payload)
	}
}

func TestDecodeFrameTooShort(t *testing.T) {
	_, _, err := DecodeFrame(make([]byte, FrameHeaderSize-1))
	if err == nil {
		t.Fatal("DecodeFrame on a truncated frame returned nil error")
	}
}

func TestAckFrameRoundTrip(t *testing.T) {
	frame := ackFrame(42)
	h, payload, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if !h.IsAck() {
		t.Fatal("ackFrame did not set the ack flag")
	}
	if h.MessageID != 42 {
		t.Fatalf("MessageID = %d, want 42", h.MessageID)
	}
	if len(payload) != 0 {
		t.Fatalf("ack frame carries a payload: %v", payload)
	}
}

func TestFrameHeaderIsAck(t *testing.T) {
	if (FrameHeader{Flags: 0}).IsAck() {
		t.Fatal("IsAck = true for Flags=0")
	}
	if !(FrameHeader{Flags: flagAck}).IsAck() {
		t.Fatal("IsAck = false for Flags=flagAck")
	}
}
