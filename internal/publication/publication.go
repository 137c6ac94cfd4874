// Package publication implements component B, MessagePublication: a bounded
// send queue drained in FIFO order by the owning EventLoop, fragmenting
// oversized payloads and mapping the underlying transport's non-blocking
// offer result onto the send algorithm in §4.B.
package publication

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/reactorlink/reactorlink/internal/channel"
	"github.com/reactorlink/reactorlink/internal/errs"
	"github.com/reactorlink/reactorlink/internal/future"
	"github.com/reactorlink/reactorlink/internal/transport"
)

// pendingSend is one queued Enqueue call. fragOffset tracks how many bytes
// of payload have already been successfully offered, so a request blocked
// mid-fragmentation by BACK_PRESSURE resumes where it left off on the next
// Tick rather than re-sending from the start.
type pendingSend struct {
	payload    []byte
	fragOffset int
	enqueuedAt time.Time
	resolve    func(struct{}, error)

	// backpressureSince is set the first time this item is blocked by
	// BACK_PRESSURE/ADMIN_ACTION and cleared whenever it makes forward
	// progress, so BackpressureTimeout bounds a single contiguous stall
	// rather than the item's total time in the queue (that is
	// PublicationTimeout's job, checked separately in Tick).
	backpressureSince time.Time
}

// MessagePublication owns one transport.Publication and the FIFO queue of
// payloads waiting to go out on it. It is driven exclusively by the
// EventLoop tick that owns it (§4.D); Enqueue is the only method safe to
// call from other goroutines.
type MessagePublication struct {
	driver transport.Publication
	opts   channel.Options
	logger *slog.Logger

	mu        sync.Mutex
	queue     []*pendingSend
	createdAt time.Time
	disposed  bool
}

func New(driver transport.Publication, opts channel.Options, logger *slog.Logger) *MessagePublication {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessagePublication{
		driver:    driver,
		opts:      opts,
		logger:    logger,
		createdAt: time.Now(),
	}
}

func (p *MessagePublication) SessionID() int32 { return p.driver.SessionID() }
func (p *MessagePublication) StreamID() int32  { return p.driver.StreamID() }
func (p *MessagePublication) Channel() string  { return p.driver.Channel() }

// Enqueue appends payload to the send queue, failing immediately with
// BACKPRESSURED if the queue is already at SendQueueCapacity rather than
// blocking the caller (§4.B: "fails immediately ... if the caller has
// opted out of blocking" — reactorlink's Go surface only offers the
// non-blocking form; a blocking variant has no defined cancellation
// contract to implement against).
func (p *MessagePublication) Enqueue(payload []byte) *future.Future[struct{}] {
	f, resolve := future.New[struct{}]()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		resolve(struct{}{}, errs.New(errs.Cancelled, p.driver.Channel(), p.driver.SessionID(), nil))
		return f
	}
	if len(p.queue) >= p.opts.SendQueueCapacity {
		resolve(struct{}{}, errs.New(errs.Backpressured, p.driver.Channel(), p.driver.SessionID(), nil))
		return f
	}

	p.queue = append(p.queue, &pendingSend{
		payload:    payload,
		enqueuedAt: time.Now(),
		resolve:    resolve,
	})
	return f
}

// Tick drains up to FairnessPerTick queue entries, called once per
// EventLoop pass over this publication. Bounding the work per call is what
// lets several publications pinned to the same loop each make progress
// instead of one busy queue monopolizing the thread (§4.B "Fairness"). It
// reports whether the queue was non-empty at the start of the call, which
// the owning EventLoop uses to decide whether this was an idle tick.
func (p *MessagePublication) Tick() bool {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return false
	}
	didWork := len(p.queue) > 0
	p.mu.Unlock()

	for i := 0; i < p.opts.FairnessPerTick; i++ {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return didWork
		}
		head := p.queue[0]
		p.mu.Unlock()

		if time.Since(head.enqueuedAt) > p.opts.PublicationTimeout {
			head.resolve(struct{}{}, errs.New(errs.Timeout, p.driver.Channel(), p.driver.SessionID(), nil))
			p.popHead()
			continue
		}

		blocked, disposeNow := p.sendOne(head)
		if blocked {
			return didWork
		}
		p.popHead()
		if disposeNow {
			p.Dispose(errs.New(errs.NotConnected, p.driver.Channel(), p.driver.SessionID(), nil))
			return didWork
		}
	}
	return didWork
}

func (p *MessagePublication) popHead() {
	p.mu.Lock()
	if len(p.queue) > 0 {
		p.queue = p.queue[1:]
	}
	p.mu.Unlock()
}

// sendOne offers as many fragments of head as it can without blocking. It
// returns blocked=true if BACK_PRESSURE or ADMIN_ACTION stopped it, or if
// NOT_CONNECTED was seen while still within ConnectTimeout (head stays at
// the front for the next Tick, keeping the fragments already sent in
// fragOffset), or disposeNow=true if the underlying publication must be
// torn down.
func (p *MessagePublication) sendOne(head *pendingSend) (blocked, disposeNow bool) {
	mtu := p.opts.MTULength
	if mtu <= 0 {
		mtu = 1408
	}

	for {
		chunk, flags, done := nextFragment(head.payload, head.fragOffset, mtu)

		code, err := p.driver.Offer(chunk, flags)
		if err != nil {
			head.resolve(struct{}{}, errs.New(errs.Fatal, p.driver.Channel(), p.driver.SessionID(), err))
			return false, true
		}

		switch {
		case code >= 0:
			head.fragOffset += len(chunk)
			head.backpressureSince = time.Time{}
			if done {
				head.resolve(struct{}{}, nil)
				return false, false
			}
			continue

		case code == transport.BackPressured || code == transport.AdminAction:
			if head.backpressureSince.IsZero() {
				head.backpressureSince = time.Now()
			} else if time.Since(head.backpressureSince) > p.opts.BackpressureTimeout {
				head.resolve(struct{}{}, errs.New(errs.Backpressured, p.driver.Channel(), p.driver.SessionID(), nil))
				return false, false
			}
			return true, false

		case code == transport.NotConnected:
			if time.Since(p.createdAt) < p.opts.ConnectTimeout {
				return true, false
			}
			head.resolve(struct{}{}, errs.New(errs.NotConnected, p.driver.Channel(), p.driver.SessionID(), nil))
			return false, true

		default: // MaxPositionExceeded, Closed, or any other terminal sentinel
			head.resolve(struct{}{}, errs.New(errs.Fatal, p.driver.Channel(), p.driver.SessionID(), nil))
			return false, true
		}
	}
}

// nextFragment computes the next chunk of payload to offer starting at
// offset, along with its BEGIN/END flags and whether it is the last
// fragment of the message. An empty payload is sent as a single
// BEGIN+END fragment.
func nextFragment(payload []byte, offset, mtu int) ([]byte, transport.FragmentFlags, bool) {
	if len(payload) == 0 {
		return payload[:0], transport.FlagBegin | transport.FlagEnd, true
	}

	remaining := payload[offset:]
	chunkLen := len(remaining)
	if chunkLen > mtu {
		chunkLen = mtu
	}
	chunk := remaining[:chunkLen]

	var flags transport.FragmentFlags
	if offset == 0 {
		flags |= transport.FlagBegin
	}
	last := offset+chunkLen == len(payload)
	if last {
		flags |= transport.FlagEnd
	}
	return chunk, flags, last
}

// EnsureConnected polls the driver's connected state with exponential
// backoff (1µs doubling to 10ms, per §4.B) until it reports connected or
// ctx is done. This loop only ever observes this one publication's own
// driver handle; it never touches the ResourceManager's driver-health
// breaker, which guards construction calls (AddPublication/AddSubscription)
// and has no business tripping on an ordinary connect wait.
func (p *MessagePublication) EnsureConnected(ctx context.Context) error {
	backoff := time.Microsecond
	const maxBackoff = 10 * time.Millisecond

	for {
		if p.driver.IsConnected() {
			return nil
		}

		select {
		case <-ctx.Done():
			return errs.New(errs.NotConnected, p.driver.Channel(), p.driver.SessionID(), ctx.Err())
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Dispose fails every queued item with cause (or CANCELLED if cause is
// nil, per invariant I3), rejects future Enqueue calls, and closes the
// underlying driver publication.
func (p *MessagePublication) Dispose(cause error) error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil
	}
	p.disposed = true
	pending := p.queue
	p.queue = nil
	p.mu.Unlock()

	for _, req := range pending {
		if cause != nil {
			req.resolve(struct{}{}, cause)
		} else {
			req.resolve(struct{}{}, errs.New(errs.Cancelled, p.driver.Channel(), p.driver.SessionID(), nil))
		}
	}

	p.logger.Debug("publication: disposed",
		slog.String("channel", p.driver.Channel()),
		slog.Int("session_id", int(p.driver.SessionID())))
	return p.driver.Close()
}
