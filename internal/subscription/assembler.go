// Package subscription implements component C of the design: binding a
// transport.Subscription to fragment handlers and reassembling
// BEGIN/MIDDLE/END fragmented payloads into contiguous buffers before
// they ever reach user code.
package subscription

import (
	"log/slog"

	"github.com/reactorlink/reactorlink/internal/transport"
)

// Assembler reassembles fragmented payloads per session. It is only ever
// called from the single goroutine that owns the subscription's EventLoop
// tick (invariant I2: at most one fragment-handler invocation for any
// (subscription, fragment) in flight at a time), so it needs no locking.
type Assembler struct {
	partial map[int32][]byte
	logger  *slog.Logger
}

func NewAssembler(logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{partial: make(map[int32][]byte), logger: logger}
}

// Reassemble feeds one raw fragment in. It returns (payload, true) once a
// full BEGIN..END run has been accumulated for header.SessionID.
func (a *Assembler) Reassemble(buf []byte, header transport.Header) ([]byte, bool) {
	if header.Flags.Begin() && header.Flags.End() {
		out := make([]byte, len(buf))
		copy(out, buf)
		return out, true
	}

	if header.Flags.Begin() {
		acc := make([]byte, len(buf))
		copy(acc, buf)
		a.partial[header.SessionID] = acc
		return nil, false
	}

	acc, ok := a.partial[header.SessionID]
	if !ok {
		// A MIDDLE/END fragment arrived with no preceding BEGIN: the
		// stream is desynchronized (e.g. the sender restarted mid
		// message). Drop it rather than emit a corrupt payload.
		a.logger.Warn("subscription: fragment without BEGIN, dropping",
			slog.Int("session_id", int(header.SessionID)))
		return nil, false
	}
	acc = append(acc, buf...)

	if header.Flags.End() {
		delete(a.partial, header.SessionID)
		return acc, true
	}
	a.partial[header.SessionID] = acc
	return nil, false
}

// Forget discards any partial state held for a session, called when its
// image goes away so a later session-id reuse does not inherit a stale
// partial buffer.
func (a *Assembler) Forget(sessionID int32) {
	delete(a.partial, sessionID)
}
