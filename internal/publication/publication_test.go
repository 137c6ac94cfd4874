package publication

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/reactorlink/reactorlink/internal/channel"
	"github.com/reactorlink/reactorlink/internal/errs"
	"github.com/reactorlink/reactorlink/internal/transport"
)

// fakeDriverPub is a minimal transport.Publication double that records
// every Offer call and can be told to report connected, back-pressured, or
// not-connected on demand.
type fakeDriverPub struct {
	mu        sync.Mutex
	connected bool
	nextCode  int64
	offers    [][]byte
	sessionID int32
	channel   string
	closed    bool
}

func (f *fakeDriverPub) Offer(buf []byte, flags transport.FragmentFlags) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(buf))
	copy(cp, buf)
	f.offers = append(f.offers, cp)
	if f.nextCode != 0 {
		return f.nextCode, nil
	}
	return int64(len(buf)), nil
}
func (f *fakeDriverPub) SessionID() int32 { return f.sessionID }
func (f *fakeDriverPub) StreamID() int32  { return 1 }
func (f *fakeDriverPub) Channel() string  { return f.channel }
func (f *fakeDriverPub) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
func (f *fakeDriverPub) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestEnqueueAndTickDeliversSmallPayload(t *testing.T) {
	drv := &fakeDriverPub{connected: true, channel: "aeron:udp"}
	opts := channel.NewOptions(channel.WithMTULength(1024))
	p := New(drv, opts, nil)

	f := p.Enqueue([]byte("hello"))
	p.Tick()

	if _, err := f.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(drv.offers) != 1 || string(drv.offers[0]) != "hello" {
		t.Fatalf("offers = %v", drv.offers)
	}
}

func TestFragmentationAcrossMTU(t *testing.T) {
	drv := &fakeDriverPub{connected: true, channel: "aeron:udp"}
	opts := channel.NewOptions(channel.WithMTULength(4))
	p := New(drv, opts, nil)

	f := p.Enqueue([]byte("hello world!"))
	p.Tick()

	if _, err := f.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(drv.offers) != 3 {
		t.Fatalf("expected 3 fragments of 4 bytes each, got %d: %v", len(drv.offers), drv.offers)
	}
	reassembled := string(drv.offers[0]) + string(drv.offers[1]) + string(drv.offers[2])
	if reassembled != "hello world!" {
		t.Fatalf("reassembled = %q", reassembled)
	}
}

func TestBackpressureLeavesHeadInPlace(t *testing.T) {
	drv := &fakeDriverPub{connected: true, channel: "aeron:udp", nextCode: transport.BackPressured}
	opts := channel.NewOptions()
	p := New(drv, opts, nil)

	f := p.Enqueue([]byte("x"))
	p.Tick()

	select {
	case <-f.Done():
		t.Fatal("future should not resolve while back-pressured")
	default:
	}

	p.mu.Lock()
	qlen := len(p.queue)
	p.mu.Unlock()
	if qlen != 1 {
		t.Fatalf("expected the request to remain queued, qlen=%d", qlen)
	}
}

func TestEnqueueFailsWhenQueueFull(t *testing.T) {
	drv := &fakeDriverPub{connected: true, channel: "aeron:udp", nextCode: transport.BackPressured}
	opts := channel.NewOptions(channel.WithSendQueueCapacity(1))
	p := New(drv, opts, nil)

	p.Enqueue([]byte("first"))
	f := p.Enqueue([]byte("second"))

	_, err := f.Wait(context.Background())
	if !errs.Is(err, errs.Backpressured) {
		t.Fatalf("err = %v, want BACKPRESSURED", err)
	}
}

func TestDisposeCancelsPendingItems(t *testing.T) {
	drv := &fakeDriverPub{connected: true, channel: "aeron:udp", nextCode: transport.BackPressured}
	opts := channel.NewOptions()
	p := New(drv, opts, nil)

	f := p.Enqueue([]byte("stuck"))
	p.Tick() // leaves it queued, back-pressured

	if err := p.Dispose(nil); err != nil {
		t.Fatalf("Dispose: %v", err)
	}

	_, err := f.Wait(context.Background())
	if !errs.Is(err, errs.Cancelled) {
		t.Fatalf("err = %v, want CANCELLED", err)
	}
	if !drv.closed {
		t.Fatal("expected the underlying driver publication to be closed")
	}
}

func TestEnsureConnectedSucceedsOnceDriverReports(t *testing.T) {
	drv := &fakeDriverPub{connected: false, channel: "aeron:udp"}
	p := New(drv, channel.NewOptions(), nil)

	go func() {
		time.Sleep(5 * time.Millisecond)
		drv.mu.Lock()
		drv.connected = true
		drv.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.EnsureConnected(ctx); err != nil {
		t.Fatalf("EnsureConnected: %v", err)
	}
}

func TestBackpressureTimeoutFailsAStuckItemBeforePublicationTimeout(t *testing.T) {
	drv := &fakeDriverPub{connected: true, channel: "aeron:udp", nextCode: transport.BackPressured}
	opts := channel.NewOptions(
		channel.WithPublicationTimeout(time.Hour),
		channel.WithBackpressureTimeout(5*time.Millisecond),
	)
	p := New(drv, opts, nil)

	f := p.Enqueue([]byte("stuck"))
	p.Tick() // first tick just sets backpressureSince

	time.Sleep(10 * time.Millisecond)
	p.Tick()

	_, err := f.Wait(context.Background())
	if !errs.Is(err, errs.Backpressured) {
		t.Fatalf("err = %v, want BACKPRESSURED", err)
	}
}

func TestBackpressureTimeoutResetsOnForwardProgress(t *testing.T) {
	drv := &fakeDriverPub{connected: true, channel: "aeron:udp", nextCode: transport.BackPressured}
	opts := channel.NewOptions(channel.WithBackpressureTimeout(5 * time.Millisecond))
	p := New(drv, opts, nil)

	f := p.Enqueue([]byte("x"))
	p.Tick() // sets backpressureSince

	time.Sleep(10 * time.Millisecond)

	drv.mu.Lock()
	drv.nextCode = 0 // next Offer succeeds, clearing backpressureSince
	drv.mu.Unlock()
	p.Tick()

	if _, err := f.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureConnectedTimesOut(t *testing.T) {
	drv := &fakeDriverPub{connected: false, channel: "aeron:udp"}
	p := New(drv, channel.NewOptions(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.EnsureConnected(ctx); !errs.Is(err, errs.NotConnected) {
		t.Fatalf("err = %v, want NOT_CONNECTED", err)
	}
}
