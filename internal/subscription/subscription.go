package subscription

import (
	"log/slog"

	"github.com/reactorlink/reactorlink/internal/transport"
)

// PayloadHandler receives one fully reassembled payload for sessionID. The
// caller (ClientConnector for a single-session subscription, ServerHandler
// for a shared one) decides how to route it onward; this package only
// guarantees BEGIN..END reassembly happened first.
type PayloadHandler func(sessionID int32, payload []byte)

// MessageSubscription binds a transport.Subscription to an Assembler and a
// PayloadHandler. It is driven exclusively by the EventLoop that owns it
// (§4.D): Poll must never be called concurrently with itself for the same
// MessageSubscription.
type MessageSubscription struct {
	driver    transport.Subscription
	assembler *Assembler
	deliver   PayloadHandler
	logger    *slog.Logger

	// gate, when set, is consulted before every Poll call; Poll is a no-op
	// while it returns false. ClientConnector uses this to implement
	// "ceases polling when full" back-pressure on its 1:1 subscription
	// (§4.C); ServerHandler leaves it unset since a shared subscription
	// must never stop polling on one slow session's account (§5).
	gate func() bool
}

func New(driver transport.Subscription, deliver PayloadHandler, logger *slog.Logger) *MessageSubscription {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageSubscription{
		driver:    driver,
		assembler: NewAssembler(logger),
		deliver:   deliver,
		logger:    logger,
	}
}

// SetGate installs a readiness predicate; see the gate field doc.
func (m *MessageSubscription) SetGate(fn func() bool) { m.gate = fn }

// Poll drains up to fragmentLimit fragments from the driver, delivering
// any payload whose reassembly completes. It returns the number of raw
// fragments consumed (not the number of assembled payloads), matching the
// driver's Poll contract.
func (m *MessageSubscription) Poll(fragmentLimit int) int {
	if m.gate != nil && !m.gate() {
		return 0
	}
	return m.driver.Poll(func(buf []byte, header transport.Header) {
		if payload, ready := m.assembler.Reassemble(buf, header); ready {
			m.deliver(header.SessionID, payload)
		}
	}, fragmentLimit)
}

func (m *MessageSubscription) Channel() string { return m.driver.Channel() }
func (m *MessageSubscription) StreamID() int32 { return m.driver.StreamID() }

func (m *MessageSubscription) ForgetSession(sessionID int32) {
	m.assembler.Forget(sessionID)
}

func (m *MessageSubscription) Close() error {
	return m.driver.Close()
}
