// Package connection implements component E: the Connection state machine
// (INIT -> ACTIVE -> DISPOSING -> DISPOSED) that wraps one
// MessagePublication and one inbound Sink into the public Outbound/Inbound
// capability pair exposed to callers (§3E).
package connection

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/reactorlink/reactorlink/internal/future"
	"github.com/reactorlink/reactorlink/internal/inbound"
	"github.com/reactorlink/reactorlink/internal/publication"
)

type State int32

const (
	StateInit State = iota
	StateActive
	StateDisposing
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateActive:
		return "ACTIVE"
	case StateDisposing:
		return "DISPOSING"
	case StateDisposed:
		return "DISPOSED"
	default:
		return "UNKNOWN"
	}
}

// Outbound is the send-side capability handed to callers.
type Outbound struct {
	pub *publication.MessagePublication
}

// Send enqueues payload for delivery, returning a future that resolves
// once it is durably offered or fails with its cause (§4.B).
func (o *Outbound) Send(payload []byte) *future.Future[struct{}] { return o.pub.Enqueue(payload) }

// Inbound is the receive-side capability handed to callers.
type Inbound struct {
	sink *inbound.Sink
}

func (i *Inbound) Recv() <-chan []byte  { return i.sink.Recv() }
func (i *Inbound) Errors() <-chan error { return i.sink.Errors() }

// Connection is the unit the public API (createClient/createServer)
// returns to callers: one logical session's send and receive capabilities,
// plus lifecycle signaling.
type Connection struct {
	state atomic.Int32

	outbound *Outbound
	inbound  *Inbound
	logger   *slog.Logger

	// cleanup runs once, in order, right after Dispose enters DISPOSING
	// and before the inbound sink is terminated: typically forgetting assembler state and releasing a
	// shared subscription's session-demux entry (ServerHandler) or closing
	// the owned publication/subscription pair (ClientConnector).
	cleanup []func() error

	mu         sync.Mutex
	disposeErr error
	disposed   chan struct{}
	disposeFns []func(error)
}

func New(pub *publication.MessagePublication, sink *inbound.Sink, logger *slog.Logger, cleanup ...func() error) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		outbound: &Outbound{pub: pub},
		inbound:  &Inbound{sink: sink},
		logger:   logger,
		cleanup:  cleanup,
		disposed: make(chan struct{}),
	}
	c.state.Store(int32(StateInit))
	return c
}

func (c *Connection) Outbound() *Outbound { return c.outbound }
func (c *Connection) Inbound() *Inbound   { return c.inbound }
func (c *Connection) State() State        { return State(c.state.Load()) }
func (c *Connection) IsDisposed() bool    { return c.State() == StateDisposed }

// Activate transitions INIT -> ACTIVE once the handshake/rendezvous that
// produced this Connection has completed. A no-op once past INIT.
func (c *Connection) Activate() {
	c.state.CompareAndSwap(int32(StateInit), int32(StateActive))
}

// OnDispose registers fn to run once Dispose completes, passing the
// disposal cause (nil for a graceful close). If the Connection is already
// disposed, fn runs immediately in its own goroutine.
func (c *Connection) OnDispose(fn func(error)) {
	c.mu.Lock()
	if c.State() == StateDisposed {
		cause := c.disposeErr
		c.mu.Unlock()
		go fn(cause)
		return
	}
	c.disposeFns = append(c.disposeFns, fn)
	c.mu.Unlock()
}

// Dispose tears the connection down: INIT/ACTIVE -> DISPOSING, runs
// cleanup, fails the inbound sink and cancels the outbound queue, then
// DISPOSING -> DISPOSED and fires every OnDispose callback. Idempotent.
func (c *Connection) Dispose(cause error) {
	for {
		cur := State(c.state.Load())
		if cur == StateDisposing || cur == StateDisposed {
			return
		}
		if c.state.CompareAndSwap(int32(cur), int32(StateDisposing)) {
			break
		}
	}

	for _, fn := range c.cleanup {
		if err := fn(); err != nil {
			c.logger.Warn("connection: cleanup error during dispose", slog.Any("error", err))
		}
	}

	if cause != nil {
		c.inbound.sink.Fail(cause)
	} else {
		c.inbound.sink.Complete()
	}
	_ = c.outbound.pub.Dispose(cause)

	c.mu.Lock()
	c.disposeErr = cause
	callbacks := c.disposeFns
	c.disposeFns = nil
	c.state.Store(int32(StateDisposed))
	c.mu.Unlock()

	close(c.disposed)

	for _, fn := range callbacks {
		go fn(cause)
	}
}

// Done closes once Dispose has fully completed.
func (c *Connection) Done() <-chan struct{} { return c.disposed }
