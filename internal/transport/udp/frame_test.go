package udp

import (
	"bytes"
	"testing"

	"github.com/reactorlink/reactorlink/internal/transport"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	payload := []byte("reassembled payload")
	buf := encodeFrame(nil, frameKindData, byte(transport.FlagBegin|transport.FlagEnd), 7, 3, payload)

	kind, flags, sessionID, streamID, got, err := decodeFrame(buf)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if kind != frameKindData {
		t.Fatalf("kind = %d, want frameKindData", kind)
	}
	if flags != byte(transport.FlagBegin|transport.FlagEnd) {
		t.Fatalf("flags = %d", flags)
	}
	if sessionID != 7 || streamID != 3 {
		t.Fatalf("sessionID=%d streamID=%d", sessionID, streamID)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %q, want %q", got, payload)
	}
}

func TestEncodeDecodeEmptyPayload(t *testing.T) {
	buf := encodeFrame(nil, frameKindHello, 0, 1, 1, nil)
	_, _, _, _, payload, err := decodeFrame(buf)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if len(payload) != 0 {
		t.Fatalf("payload = %q, want empty", payload)
	}
}

func TestDecodeFrameRejectsShortHeader(t *testing.T) {
	if _, _, _, _, _, err := decodeFrame([]byte{1, 2, 3}); err != errShortFrame {
		t.Fatalf("err = %v, want errShortFrame", err)
	}
}

func TestDecodeFrameRejectsTruncatedPayload(t *testing.T) {
	buf := encodeFrame(nil, frameKindData, 0, 1, 1, []byte("0123456789"))
	truncated := buf[:len(buf)-5]
	if _, _, _, _, _, err := decodeFrame(truncated); err != errShortFrame {
		t.Fatalf("err = %v, want errShortFrame", err)
	}
}

func TestEncodeFrameReusesDestinationBuffer(t *testing.T) {
	dst := make([]byte, 0, 256)
	out := encodeFrame(dst, frameKindData, 0, 1, 1, []byte("x"))
	if len(out) != headerWireSize+1 {
		t.Fatalf("len(out) = %d", len(out))
	}
}
