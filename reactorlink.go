// Package reactorlink is the public surface of the library: createClient
// and createServer (§6), each backed by a shared ResourceManager that owns
// the driver, the event loop pool, and the circuit breaker/session cache
// guarding it.
package reactorlink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/reactorlink/reactorlink/internal/channel"
	"github.com/reactorlink/reactorlink/internal/client"
	"github.com/reactorlink/reactorlink/internal/connection"
	"github.com/reactorlink/reactorlink/internal/eventexport"
	"github.com/reactorlink/reactorlink/internal/resourcemanager"
	"github.com/reactorlink/reactorlink/internal/server"
	"github.com/reactorlink/reactorlink/internal/transport"
	"github.com/reactorlink/reactorlink/internal/transport/udp"
	"github.com/reactorlink/reactorlink/internal/transport/wsdriver"
)

// OpenDriver starts the embedded driver named by kind ("udp" or "ws")
// rooted at dir.
func OpenDriver(kind, dir string) (transport.Driver, error) {
	switch kind {
	case "", "udp":
		return udp.Start(dir, false)
	case "ws":
		return wsdriver.Start(dir)
	default:
		return nil, fmt.Errorf("reactorlink: unknown driver kind %q", kind)
	}
}

// Client wraps a ClientConnector bound to one ResourceManager.
type Client struct {
	connector *client.Connector
}

// NewClient builds a Client. exporter may be nil to disable event export.
func NewClient(rm *resourcemanager.ResourceManager, logger *slog.Logger, exporter *eventexport.Exporter) *Client {
	return &Client{connector: client.New(rm, logger, exporter)}
}

// Connect performs the session rendezvous handshake and returns an active
// Connection, or an error if it could not complete within the configured
// retries (§4.F).
func (c *Client) Connect(ctx context.Context, req client.ConnectRequest) (*connection.Connection, error) {
	return c.connector.Connect(ctx, req)
}

// Server wraps a ServerHandler bound to one ResourceManager.
type Server struct {
	handler *server.Handler
}

// NewServer builds a Server. exporter may be nil to disable event export.
func NewServer(rm *resourcemanager.ResourceManager, logger *slog.Logger, exporter *eventexport.Exporter) *Server {
	return &Server{handler: server.New(rm, logger, exporter)}
}

// Listen opens the shared inbound subscription and begins accepting
// sessions, invoking req.OnConnection once per accepted session (§4.G).
func (s *Server) Listen(ctx context.Context, req server.ListenRequest) error {
	return s.handler.Listen(ctx, req)
}

func (s *Server) Close() error { return s.handler.Close() }

// DefaultOptions exposes channel.NewOptions so callers building a
// ConnectRequest/ListenRequest don't need to import the internal package
// directly.
func DefaultOptions(opts ...channel.Option) channel.Options { return channel.NewOptions(opts...) }
