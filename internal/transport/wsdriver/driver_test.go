package wsdriver

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/reactorlink/reactorlink/internal/transport"
)

func TestLoopbackHandshakeAndDataDelivery(t *testing.T) {
	drv, err := Start(t.TempDir())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer drv.Close()

	available := make(chan transport.Image, 1)
	subIface, err := drv.AddSubscription(context.Background(), "aeron:udp", 1, time.Second,
		func(img transport.Image) { available <- img },
		func(transport.Image) {})
	if err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}
	defer subIface.Close()

	pubIface, err := drv.AddPublication(context.Background(), fmt.Sprintf("aeron:udp?endpoint=%s|session-id=99", drv.ListenAddr()), 1)
	if err != nil {
		t.Fatalf("AddPublication: %v", err)
	}
	defer pubIface.Close()
	pub := pubIface.(*publication)

	select {
	case img := <-available:
		if img.SessionID() != 99 {
			t.Fatalf("session id = %d, want 99", img.SessionID())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for onAvailable")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !pub.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatal("publication never reported connected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := pub.Offer([]byte("ping"), transport.FlagBegin|transport.FlagEnd); err != nil {
		t.Fatalf("Offer: %v", err)
	}

	var got []byte
	deadline = time.Now().Add(2 * time.Second)
	for {
		n := subIface.Poll(func(payload []byte, header transport.Header) {
			got = append([]byte(nil), payload...)
			if header.SessionID != 99 {
				t.Fatalf("header.SessionID = %d, want 99", header.SessionID)
			}
		}, 10)
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for data delivery")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if string(got) != "ping" {
		t.Fatalf("got = %q, want ping", got)
	}
}

func TestAddSubscriptionRejectsDuplicateRoute(t *testing.T) {
	drv, err := Start(t.TempDir())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer drv.Close()

	noop := func(transport.Image) {}
	if _, err := drv.AddSubscription(context.Background(), "aeron:udp?path=/dup", 1, time.Second, noop, noop); err != nil {
		t.Fatalf("first AddSubscription: %v", err)
	}
	if _, err := drv.AddSubscription(context.Background(), "aeron:udp?path=/dup", 1, time.Second, noop, noop); err == nil {
		t.Fatal("expected a duplicate route registration to fail")
	}
}
