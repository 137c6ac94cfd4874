// Package wsdriver is a second transport.Driver implementation over
// gorilla/websocket, used for deterministic tests and the debug console
// (§4.I): one process hosts both the listener every AddSubscription
// registers a route on, and the dialer every AddPublication connects
// through.
package wsdriver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/reactorlink/reactorlink/internal/channel"
	"github.com/reactorlink/reactorlink/internal/transport"
)

type Driver struct {
	dir      string
	listener net.Listener
	server   *http.Server
	mux      *http.ServeMux
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[string]*subscription // keyed by route path
}

// Start opens a loopback listener and begins serving websocket upgrades.
// root is used only to hold a small marker file for introspection parity
// with the UDP driver's Dir().
func Start(root string) (*Driver, error) {
	dir := filepath.Join(root, "reactorlink-ws-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wsdriver: creating dir: %w", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("wsdriver: listen: %w", err)
	}

	d := &Driver{
		dir:      dir,
		listener: ln,
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		subs:     make(map[string]*subscription),
	}
	d.server = &http.Server{Handler: d.mux}

	if err := os.WriteFile(filepath.Join(dir, "listen-addr"), []byte(ln.Addr().String()), 0o644); err != nil {
		return nil, fmt.Errorf("wsdriver: writing listen-addr marker: %w", err)
	}

	go d.server.Serve(ln)
	return d, nil
}

func (d *Driver) Dir() string { return d.dir }

// ListenAddr is the host:port this driver's own listener bound to, used to
// build endpoint parameters for AddPublication channel URIs that target a
// subscription on this same driver (tests, loopback debug sessions).
func (d *Driver) ListenAddr() string { return d.listener.Addr().String() }

func routePath(u channel.URI) string {
	if p, ok := u.Param("path"); ok {
		return p
	}
	return "/" + u.Media()
}

func (d *Driver) AddPublication(ctx context.Context, channelURI string, streamID int32) (transport.Publication, error) {
	return d.addPublication(ctx, channelURI, streamID)
}

func (d *Driver) AddExclusivePublication(ctx context.Context, channelURI string, streamID int32) (transport.Publication, error) {
	return d.addPublication(ctx, channelURI, streamID)
}

func (d *Driver) addPublication(ctx context.Context, channelURI string, streamID int32) (transport.Publication, error) {
	u, err := channel.Parse(channelURI)
	if err != nil {
		return nil, fmt.Errorf("wsdriver: %w", err)
	}
	sessionID, _ := u.SessionID()

	endpoint := u.Endpoint()
	if endpoint == "" {
		endpoint = d.ListenAddr()
	}
	target := url.URL{Scheme: "ws", Host: endpoint, Path: routePath(u)}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("wsdriver: dial %s: %w", target.String(), err)
	}

	return newPublication(conn, channelURI, streamID, sessionID), nil
}

func (d *Driver) AddSubscription(ctx context.Context, channelURI string, streamID int32, imageLivenessTimeout time.Duration, onAvailable, onUnavailable transport.ImageHandler) (transport.Subscription, error) {
	u, err := channel.Parse(channelURI)
	if err != nil {
		return nil, fmt.Errorf("wsdriver: %w", err)
	}
	path := routePath(u)

	d.mu.Lock()
	if _, exists := d.subs[path]; exists {
		d.mu.Unlock()
		return nil, fmt.Errorf("wsdriver: route %q already registered", path)
	}
	sub := newSubscription(channelURI, streamID, imageLivenessTimeout, onAvailable, onUnavailable)
	d.subs[path] = sub
	d.mu.Unlock()

	d.mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := d.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sub.acceptConn(conn)
	})

	return sub, nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	subs := make([]*subscription, 0, len(d.subs))
	for _, s := range d.subs {
		subs = append(subs, s)
	}
	d.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}

	_ = d.server.Close()
	return os.RemoveAll(d.dir)
}
