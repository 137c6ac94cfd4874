// Package inbound implements the Inbound side of the Inbound/Outbound
// capability set (spec §3): a back-pressure aware sink that buffers
// assembled payloads up to a bound and exposes a terminal error/complete
// signal, used identically by ClientInbound (one sink per connection) and
// ServerInbound (one sink per session, multiplexed off a shared
// subscription).
package inbound

import "sync"

// Sink is a bounded mailbox for assembled payloads plus a terminal signal
// (Fail or Complete, mutually exclusive, idempotent).
type Sink struct {
	data chan []byte
	errs chan error

	closeOnce sync.Once
	closed    chan struct{}
}

func NewSink(capacity int) *Sink {
	if capacity <= 0 {
		capacity = 1
	}
	return &Sink{
		data:   make(chan []byte, capacity),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

// Recv is the consumer-facing channel of assembled payloads. It closes
// once Fail or Complete is called and the buffered backlog is drained.
func (s *Sink) Recv() <-chan []byte { return s.data }

// Errors carries at most one terminal error (set by Fail). It is closed
// alongside Recv's closing; a consumer should check it non-blockingly
// right after observing Recv close.
func (s *Sink) Errors() <-chan error { return s.errs }

// IsFull reports whether the bounded buffer is at capacity. Callers poll
// this before pulling more data off the transport for a sink that must
// back-pressure its whole subscription (ClientInbound); ServerInbound
// instead lets TryDeliver fail and raises SLOW_CONSUMER.
func (s *Sink) IsFull() bool {
	select {
	case <-s.closed:
		return true
	default:
	}
	return len(s.data) >= cap(s.data)
}

// TryDeliver attempts a non-blocking enqueue. It returns false if the sink
// is closed or its buffer is saturated — the caller decides what that
// means (retry next tick for the client path, SLOW_CONSUMER for the
// server path).
func (s *Sink) TryDeliver(payload []byte) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.data <- payload:
		return true
	default:
		return false
	}
}

// Fail terminates the sink with err and closes Recv.
func (s *Sink) Fail(err error) {
	s.closeOnce.Do(func() {
		if err != nil {
			s.errs <- err
		}
		close(s.errs)
		close(s.closed)
		close(s.data)
	})
}

// Complete terminates the sink without an error (graceful end of stream).
func (s *Sink) Complete() {
	s.closeOnce.Do(func() {
		close(s.errs)
		close(s.closed)
		close(s.data)
	})
}
