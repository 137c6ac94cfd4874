package udp

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/reactorlink/reactorlink/internal/transport"
)

func TestLoopbackHandshakeAndDataDelivery(t *testing.T) {
	drv, err := Start(t.TempDir(), false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer drv.Close()

	available := make(chan transport.Image, 1)
	onAvailable := func(img transport.Image) { available <- img }
	onUnavailable := func(transport.Image) {}

	subIface, err := drv.AddSubscription(context.Background(), "aeron:udp?endpoint=127.0.0.1:0", 10, time.Second, onAvailable, onUnavailable)
	if err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}
	sub := subIface.(*subscription)
	defer sub.Close()

	localAddr := sub.conn.LocalAddr().String()

	pubIface, err := drv.AddPublication(context.Background(), fmt.Sprintf("aeron:udp?endpoint=%s|session-id=42", localAddr), 10)
	if err != nil {
		t.Fatalf("AddPublication: %v", err)
	}
	pub := pubIface.(*publication)
	defer pub.Close()

	select {
	case img := <-available:
		if img.SessionID() != 42 {
			t.Fatalf("image session id = %d, want 42", img.SessionID())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for onAvailable")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !pub.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatal("publication never reported connected after HELLO_ACK")
		}
		time.Sleep(5 * time.Millisecond)
	}

	code, err := pub.Offer([]byte("hello"), transport.FlagBegin|transport.FlagEnd)
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if code < 0 {
		t.Fatalf("Offer returned sentinel %d", code)
	}

	var got []byte
	var gotHeader transport.Header
	deadline = time.Now().Add(2 * time.Second)
	for {
		n := sub.Poll(func(payload []byte, header transport.Header) {
			got = append([]byte(nil), payload...)
			gotHeader = header
		}, 10)
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for data frame delivery")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if string(got) != "hello" {
		t.Fatalf("got = %q, want hello", got)
	}
	if gotHeader.SessionID != 42 {
		t.Fatalf("header.SessionID = %d, want 42", gotHeader.SessionID)
	}
	if gotHeader.Flags&transport.FlagBegin == 0 || gotHeader.Flags&transport.FlagEnd == 0 {
		t.Fatalf("header.Flags = %v, want BEGIN|END", gotHeader.Flags)
	}
}

func TestSessionIDAllocatedWhenNotPinned(t *testing.T) {
	drv, err := Start(t.TempDir(), false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer drv.Close()

	subIface, err := drv.AddSubscription(context.Background(), "aeron:udp?endpoint=127.0.0.1:0", 1, time.Second, func(transport.Image) {}, func(transport.Image) {})
	if err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}
	sub := subIface.(*subscription)
	defer sub.Close()

	pubIface, err := drv.AddPublication(context.Background(), fmt.Sprintf("aeron:udp?endpoint=%s", sub.conn.LocalAddr().String()), 1)
	if err != nil {
		t.Fatalf("AddPublication: %v", err)
	}
	pub := pubIface.(*publication)
	defer pub.Close()

	if pub.SessionID() == 0 {
		t.Fatal("expected a non-zero allocated session id")
	}
}
