package eventexport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
)

type fakePublisher struct {
	mu       sync.Mutex
	topic    string
	messages []*message.Message
	failWith error
	closed   bool
}

func (p *fakePublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.topic = topic
	p.messages = append(p.messages, messages...)
	return nil
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

func TestEmitPublishesAnEnvelope(t *testing.T) {
	pub := &fakePublisher{}
	e := New(pub, "reactorlink.events", nil)

	e.Emit(context.Background(), "connection_established", "aeron:udp", 42, "")

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.messages) != 1 {
		t.Fatalf("len(messages) = %d, want 1", len(pub.messages))
	}
	if pub.topic != "reactorlink.events" {
		t.Fatalf("topic = %q", pub.topic)
	}

	var env Envelope
	if err := json.Unmarshal(pub.messages[0].Payload, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Kind != "connection_established" || env.SessionID != 42 || env.Channel != "aeron:udp" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestEmitSwallowsPublishFailures(t *testing.T) {
	pub := &fakePublisher{failWith: errors.New("broker unreachable")}
	e := New(pub, "reactorlink.events", nil)

	e.Emit(context.Background(), "connection_disposed", "aeron:udp", 7, "boom")
}

func TestNilExporterEmitAndCloseAreNoOps(t *testing.T) {
	var e *Exporter
	e.Emit(context.Background(), "connection_established", "aeron:udp", 1, "")
	if err := e.Close(); err != nil {
		t.Fatalf("Close on a nil *Exporter: %v", err)
	}
}

func TestExporterWithNilPublisherIsANoOp(t *testing.T) {
	e := New(nil, "reactorlink.events", nil)
	e.Emit(context.Background(), "connection_established", "aeron:udp", 1, "")
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCloseClosesThePublisher(t *testing.T) {
	pub := &fakePublisher{}
	e := New(pub, "reactorlink.events", nil)
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !pub.closed {
		t.Fatal("expected the underlying publisher to be closed")
	}
}
