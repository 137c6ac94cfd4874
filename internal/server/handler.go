// Package server implements component G, ServerHandler: a single shared
// inbound subscription multiplexed by session id into one Connection per
// client, refusing a second image for a session id already in use
// (collision), and disposing every live session concurrently on Close via
// an errgroup (§4.G).
package server

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/reactorlink/reactorlink/internal/channel"
	"github.com/reactorlink/reactorlink/internal/connection"
	"github.com/reactorlink/reactorlink/internal/errs"
	"github.com/reactorlink/reactorlink/internal/eventexport"
	"github.com/reactorlink/reactorlink/internal/inbound"
	"github.com/reactorlink/reactorlink/internal/resourcemanager"
	"github.com/reactorlink/reactorlink/internal/subscription"
	"github.com/reactorlink/reactorlink/internal/transport"
)

// ListenRequest names the shared channel clients publish to and the
// channel this server replies on, qualified per session with
// WithSessionID.
type ListenRequest struct {
	InboundURI string
	ReverseURI string
	StreamID   int32
	Options    channel.Options

	// OnConnection is called once per newly accepted session, after its
	// reverse publication is up and the Connection is active.
	OnConnection func(*connection.Connection)
}

type sessionState struct {
	sink *inbound.Sink
	conn *connection.Connection
}

type Handler struct {
	rm       *resourcemanager.ResourceManager
	logger   *slog.Logger
	exporter *eventexport.Exporter

	mu                  sync.Mutex
	sessions            map[int32]*sessionState
	closed              bool
	sharedSub           *subscription.MessageSubscription
	unregisterSharedSub func()
}

// New builds a Handler. exporter may be nil, in which case lifecycle
// events are simply not published anywhere.
func New(rm *resourcemanager.ResourceManager, logger *slog.Logger, exporter *eventexport.Exporter) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{rm: rm, logger: logger, exporter: exporter, sessions: make(map[int32]*sessionState)}
}

// Listen opens the shared inbound subscription and begins accepting
// sessions. It returns once the subscription is established; call Close
// to tear everything down.
func (h *Handler) Listen(ctx context.Context, req ListenRequest) error {
	deliver := func(sessionID int32, payload []byte) {
		h.mu.Lock()
		st, ok := h.sessions[sessionID]
		h.mu.Unlock()
		if !ok {
			return
		}
		if !st.sink.TryDeliver(payload) {
			h.logger.Warn("server: session buffer full, dropping connection",
				slog.Int("session_id", int(sessionID)))
			h.disposeSession(sessionID, errs.New(errs.SlowConsumer, req.InboundURI, sessionID, nil))
		}
	}

	onAvailable := func(img transport.Image) {
		sessionID := img.SessionID()
		h.mu.Lock()
		if _, exists := h.sessions[sessionID]; exists {
			h.mu.Unlock()
			h.logger.Error("server: session collision, refusing duplicate session id",
				slog.Int("session_id", int(sessionID)))
			h.exporter.Emit(ctx, "session_collision", req.InboundURI, sessionID, "duplicate session id refused")
			return
		}
		h.sessions[sessionID] = &sessionState{sink: inbound.NewSink(req.Options.Prefetch)}
		h.mu.Unlock()

		go h.acceptSession(ctx, req, sessionID)
	}

	onUnavailable := func(img transport.Image) {
		h.disposeSession(img.SessionID(), errs.New(errs.ImageLost, req.InboundURI, img.SessionID(), nil))
	}

	sub, unregister, err := h.rm.CreateSubscription(ctx, req.InboundURI, req.StreamID, deliver, onAvailable, onUnavailable)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.sharedSub = sub
	h.unregisterSharedSub = unregister
	h.mu.Unlock()
	return nil
}

// acceptSession builds the reverse, session-tagged exclusive publication
// for a newly seen session. Run on its own goroutine since it is invoked
// from the onAvailable callback, which must never block. The drivers call
// onAvailable from their own read goroutine, not from the EventLoop
// goroutine that polls the shared subscription.
func (h *Handler) acceptSession(ctx context.Context, req ListenRequest, sessionID int32) {
	h.mu.Lock()
	st, ok := h.sessions[sessionID]
	h.mu.Unlock()
	if !ok {
		return
	}

	reverse, err := channel.Parse(req.ReverseURI)
	if err != nil {
		h.logger.Error("server: malformed reverse uri", slog.Any("error", err))
		st.sink.Fail(err)
		h.forgetSession(sessionID)
		return
	}
	reverse = reverse.WithSessionID(sessionID)

	connectCtx, cancel := context.WithTimeout(ctx, req.Options.ConnectTimeout)
	defer cancel()

	pub, unregisterPub, err := h.rm.CreatePublication(connectCtx, reverse.String(), req.StreamID, true)
	if err != nil {
		h.logger.Error("server: failed to open reverse publication", slog.Any("error", err))
		st.sink.Fail(err)
		h.forgetSession(sessionID)
		return
	}

	if err := pub.EnsureConnected(connectCtx); err != nil {
		_ = pub.Dispose(err)
		unregisterPub()
		st.sink.Fail(errs.New(errs.NotConnected, reverse.String(), sessionID, err))
		h.forgetSession(sessionID)
		return
	}

	sessionIDCopy := sessionID
	cleanup := []func() error{
		func() error { unregisterPub(); return nil },
		func() error { h.forgetSession(sessionIDCopy); return nil },
	}
	conn := connection.New(pub, st.sink, h.logger, cleanup...)
	conn.Activate()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Dispose(nil)
		return
	}
	st.conn = conn
	h.mu.Unlock()

	h.exporter.Emit(ctx, "connection_established", req.ReverseURI, sessionID, "")
	conn.OnDispose(func(cause error) {
		detail := ""
		if cause != nil {
			detail = cause.Error()
		}
		h.exporter.Emit(ctx, "connection_disposed", req.ReverseURI, sessionID, detail)
	})

	if req.OnConnection != nil {
		req.OnConnection(conn)
	}
}

func (h *Handler) disposeSession(sessionID int32, cause error) {
	h.mu.Lock()
	st, ok := h.sessions[sessionID]
	h.mu.Unlock()
	if !ok {
		return
	}
	if st.conn != nil {
		st.conn.Dispose(cause)
	} else {
		st.sink.Fail(cause)
		h.forgetSession(sessionID)
	}
}

func (h *Handler) forgetSession(sessionID int32) {
	h.mu.Lock()
	delete(h.sessions, sessionID)
	sub := h.sharedSub
	h.mu.Unlock()
	if sub != nil {
		sub.ForgetSession(sessionID)
	}
}

// Close disposes every live session concurrently, then tears down the
// shared inbound subscription.
func (h *Handler) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conns := make([]*connection.Connection, 0, len(h.sessions))
	for _, st := range h.sessions {
		if st.conn != nil {
			conns = append(conns, st.conn)
		}
	}
	sub := h.sharedSub
	unregister := h.unregisterSharedSub
	h.mu.Unlock()

	var g errgroup.Group
	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			conn.Dispose(nil)
			return nil
		})
	}
	_ = g.Wait()

	if unregister != nil {
		unregister()
	}
	if sub != nil {
		return sub.Close()
	}
	return nil
}
