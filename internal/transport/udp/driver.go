// Package udp is the embedded "media driver" (§3A/§4.I): a minimal,
// concrete implementation of transport.Driver over raw UDP sockets. It is
// deliberately simple — counters, flow-control windows and the rest of a
// real media driver's buffer layout are out of scope per spec §1 — but it
// gives the rest of reactorlink a real, runnable transport to sit on.
package udp

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reactorlink/reactorlink/internal/transport"
)

// Driver owns the embedded driver's on-disk directory and tracks every
// publication/subscription it has handed out, for Close to tear down.
type Driver struct {
	dir      string
	external bool

	mu   sync.Mutex
	pubs []*publication
	subs []*subscription
	next uint32 // session id allocator, see nextSessionID
}

// Start creates a new reactorlink-<uuid> driver directory under root
// (os.TempDir() when root is empty) and returns a ready Driver; it never
// reuses an existing directory. Passing external=true means Close will
// not remove the directory (another process owns its lifecycle).
func Start(root string, external bool) (*Driver, error) {
	dir := root
	if dir == "" {
		dir = os.TempDir()
	}
	dir = dir + string(os.PathSeparator) + "reactorlink-" + uuid.NewString()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("udp: create driver dir: %w", err)
	}
	return &Driver{dir: dir, external: external}, nil
}

func (d *Driver) Dir() string { return d.dir }

func (d *Driver) Close() error {
	d.mu.Lock()
	pubs := d.pubs
	subs := d.subs
	d.pubs, d.subs = nil, nil
	d.mu.Unlock()

	for _, p := range pubs {
		_ = p.Close()
	}
	for _, s := range subs {
		_ = s.Close()
	}

	if d.external {
		return nil
	}
	return os.RemoveAll(d.dir)
}

func (d *Driver) nextSessionID() int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	// Keep it in the positive int32 range and never zero, mirroring real
	// drivers that reserve 0 as "unset".
	return int32(d.next%0x7FFFFFFE) + 1
}

// addrFor resolves the wire address a URI rendezvous at: the MDC
// control-endpoint when control-mode=dynamic is set, otherwise the plain
// endpoint.
func addrFor(u parsedURI) string {
	if u.isMDC {
		return u.control
	}
	return u.endpoint
}

// parsedURI is the tiny subset of channel.URI the driver needs; it is
// decoupled from package channel to keep transport/udp import-free of the
// rest of reactorlink's public surface.
type parsedURI struct {
	endpoint     string
	control      string
	isMDC        bool
	sessionID    int32
	hasSessionID bool
}

func parseChannel(channelURI string) (parsedURI, error) {
	var out parsedURI
	rest, ok := strings.CutPrefix(channelURI, "aeron:udp?")
	if !ok {
		return out, fmt.Errorf("udp: unsupported channel %q", channelURI)
	}
	for _, kv := range strings.Split(rest, "|") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch k {
		case "endpoint":
			out.endpoint = v
		case "control":
			out.control = v
		case "control-mode":
			out.isMDC = v == "dynamic"
		case "session-id":
			if n, err := strconv.ParseInt(v, 10, 32); err == nil {
				out.sessionID = int32(n)
				out.hasSessionID = true
			}
		}
	}
	return out, nil
}

func (d *Driver) AddPublication(ctx context.Context, channelURI string, streamID int32) (transport.Publication, error) {
	return d.addPublication(channelURI, streamID)
}

func (d *Driver) AddExclusivePublication(ctx context.Context, channelURI string, streamID int32) (transport.Publication, error) {
	return d.addPublication(channelURI, streamID)
}

func (d *Driver) addPublication(channelURI string, streamID int32) (transport.Publication, error) {
	u, err := parseChannel(channelURI)
	if err != nil {
		return nil, err
	}
	raddr, err := net.ResolveUDPAddr("udp", addrFor(u))
	if err != nil {
		return nil, fmt.Errorf("udp: resolve %q: %w", addrFor(u), err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("udp: dial %q: %w", raddr, err)
	}

	sessionID := u.sessionID
	if !u.hasSessionID {
		sessionID = d.nextSessionID()
	}

	p := newPublication(conn, channelURI, streamID, sessionID)

	d.mu.Lock()
	d.pubs = append(d.pubs, p)
	d.mu.Unlock()

	return p, nil
}

func (d *Driver) AddSubscription(ctx context.Context, channelURI string, streamID int32, imageLivenessTimeout time.Duration, onAvailable, onUnavailable transport.ImageHandler) (transport.Subscription, error) {
	u, err := parseChannel(channelURI)
	if err != nil {
		return nil, err
	}
	laddr, err := net.ResolveUDPAddr("udp", addrFor(u))
	if err != nil {
		return nil, fmt.Errorf("udp: resolve %q: %w", addrFor(u), err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("udp: listen %q: %w", laddr, err)
	}

	s := newSubscription(conn, channelURI, streamID, imageLivenessTimeout, onAvailable, onUnavailable)

	d.mu.Lock()
	d.subs = append(d.subs, s)
	d.mu.Unlock()

	return s, nil
}
