// Package client implements component F, ClientConnector: establishing one
// outbound Connection against a server by pairing a forward publication
// (client -> server) with a reverse, session-tagged subscription
// (server -> client), retrying with a fresh session id on collision or
// connect timeout up to Options.SessionRetry (§4.F, §9 resolved Open
// Question).
package client

import (
	"context"
	"log/slog"

	"github.com/reactorlink/reactorlink/internal/channel"
	"github.com/reactorlink/reactorlink/internal/connection"
	"github.com/reactorlink/reactorlink/internal/errs"
	"github.com/reactorlink/reactorlink/internal/eventexport"
	"github.com/reactorlink/reactorlink/internal/inbound"
	"github.com/reactorlink/reactorlink/internal/resourcemanager"
	"github.com/reactorlink/reactorlink/internal/transport"
)

// ConnectRequest names the two channels a connection attempt needs: where
// this client publishes, and where it listens for the server's
// session-tagged replies.
type ConnectRequest struct {
	ForwardURI string
	ReverseURI string
	StreamID   int32
	Options    channel.Options
}

type Connector struct {
	rm       *resourcemanager.ResourceManager
	logger   *slog.Logger
	exporter *eventexport.Exporter
}

// New builds a Connector. exporter may be nil, in which case lifecycle
// events are simply not published anywhere.
func New(rm *resourcemanager.ResourceManager, logger *slog.Logger, exporter *eventexport.Exporter) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{rm: rm, logger: logger, exporter: exporter}
}

// Connect runs up to Options.SessionRetry attempts, each with a freshly
// drawn session id, returning the first one that completes the rendezvous
// handshake (publication connected, server's reply image available)
// within Options.ConnectTimeout.
func (c *Connector) Connect(ctx context.Context, req ConnectRequest) (*connection.Connection, error) {
	attempts := req.Options.SessionRetry
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		conn, err := c.attempt(ctx, req)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if !errs.Is(err, errs.SessionCollision) && !errs.Is(err, errs.NotConnected) {
			return nil, err
		}
		c.logger.Warn("client: connect attempt failed, retrying with a fresh session id",
			slog.Int("attempt", attempt), slog.Any("error", err))
		c.exporter.Emit(ctx, "connect_retry", req.ForwardURI, 0, err.Error())
	}
	c.exporter.Emit(ctx, "connect_failed", req.ForwardURI, 0, lastErr.Error())
	return nil, lastErr
}

func (c *Connector) attempt(ctx context.Context, req ConnectRequest) (*connection.Connection, error) {
	sessionID := c.rm.FreshSessionID()

	forward, err := channel.Parse(req.ForwardURI)
	if err != nil {
		c.rm.ReleaseSessionID(sessionID)
		return nil, err
	}
	reverse, err := channel.Parse(req.ReverseURI)
	if err != nil {
		c.rm.ReleaseSessionID(sessionID)
		return nil, err
	}
	forward = forward.WithSessionID(sessionID)
	reverse = reverse.WithSessionID(sessionID)

	connectCtx, cancel := context.WithTimeout(ctx, req.Options.ConnectTimeout)
	defer cancel()

	sink := inbound.NewSink(req.Options.Prefetch)
	imageAvailable := make(chan struct{}, 1)
	imageGone := make(chan struct{}, 1)

	deliver := func(sid int32, payload []byte) {
		if sid != sessionID {
			return
		}
		sink.TryDeliver(payload)
	}
	onAvailable := func(img transport.Image) {
		if img.SessionID() == sessionID {
			select {
			case imageAvailable <- struct{}{}:
			default:
			}
		}
	}
	onUnavailable := func(img transport.Image) {
		if img.SessionID() == sessionID {
			select {
			case imageGone <- struct{}{}:
			default:
			}
		}
	}

	sub, unregisterSub, err := c.rm.CreateSubscription(connectCtx, reverse.String(), req.StreamID, deliver, onAvailable, onUnavailable)
	if err != nil {
		c.rm.ReleaseSessionID(sessionID)
		return nil, err
	}
	sub.SetGate(func() bool { return !sink.IsFull() })

	pub, unregisterPub, err := c.rm.CreatePublication(connectCtx, forward.String(), req.StreamID, true)
	if err != nil {
		unregisterSub()
		_ = sub.Close()
		c.rm.ReleaseSessionID(sessionID)
		return nil, err
	}

	if err := pub.EnsureConnected(connectCtx); err != nil {
		unregisterPub()
		_ = pub.Dispose(err)
		unregisterSub()
		_ = sub.Close()
		c.rm.ReleaseSessionID(sessionID)
		return nil, errs.New(errs.NotConnected, forward.String(), sessionID, err)
	}

	select {
	case <-imageAvailable:
	case <-connectCtx.Done():
		unregisterPub()
		_ = pub.Dispose(errs.New(errs.Timeout, reverse.String(), sessionID, nil))
		unregisterSub()
		_ = sub.Close()
		c.rm.ReleaseSessionID(sessionID)
		return nil, errs.New(errs.NotConnected, reverse.String(), sessionID, connectCtx.Err())
	}

	cleanup := []func() error{
		func() error { unregisterPub(); return nil },
		func() error { unregisterSub(); sub.ForgetSession(sessionID); return sub.Close() },
		func() error { c.rm.ReleaseSessionID(sessionID); return nil },
	}

	conn := connection.New(pub, sink, c.logger, cleanup...)
	conn.Activate()

	c.exporter.Emit(ctx, "connection_established", forward.String(), sessionID, "")
	conn.OnDispose(func(cause error) {
		detail := ""
		if cause != nil {
			detail = cause.Error()
		}
		c.exporter.Emit(ctx, "connection_disposed", forward.String(), sessionID, detail)
	})

	go func() {
		select {
		case <-imageGone:
			conn.Dispose(errs.New(errs.ImageLost, reverse.String(), sessionID, nil))
		case <-conn.Done():
		}
	}()

	return conn, nil
}
