package udp

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reactorlink/reactorlink/internal/transport"
)

const (
	frameKindData     byte = 0
	frameKindHello    byte = 1
	frameKindHelloAck byte = 2

	helloInterval = 20 * time.Millisecond
)

type publication struct {
	conn      *net.UDPConn
	channel   string
	streamID  int32
	sessionID int32

	connected atomic.Bool
	closed    atomic.Bool
	stopOnce  sync.Once
	stopCh    chan struct{}
}

func newPublication(conn *net.UDPConn, channel string, streamID, sessionID int32) *publication {
	p := &publication{
		conn:      conn,
		channel:   channel,
		streamID:  streamID,
		sessionID: sessionID,
		stopCh:    make(chan struct{}),
	}
	go p.readLoop()
	go p.helloLoop()
	return p
}

func (p *publication) SessionID() int32 { return p.sessionID }
func (p *publication) StreamID() int32  { return p.streamID }
func (p *publication) Channel() string  { return p.channel }
func (p *publication) IsConnected() bool { return p.connected.Load() }

func (p *publication) Offer(buf []byte, flags transport.FragmentFlags) (int64, error) {
	if p.closed.Load() {
		return transport.Closed, nil
	}
	if !p.connected.Load() {
		return transport.NotConnected, nil
	}

	frame := encodeFrame(make([]byte, 0, headerWireSize+len(buf)), frameKindData, byte(flags), p.sessionID, p.streamID, buf)
	n, err := p.conn.Write(frame)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return transport.BackPressured, nil
		}
		return transport.Closed, err
	}
	return int64(n), nil
}

func (p *publication) Close() error {
	var err error
	p.stopOnce.Do(func() {
		p.closed.Store(true)
		close(p.stopCh)
		err = p.conn.Close()
	})
	return err
}

// helloLoop drives the connect handshake and, once connected, sends
// periodic keep-alives so the peer's image liveness timer never expires
// from transport silence alone.
func (p *publication) helloLoop() {
	ticker := time.NewTicker(helloInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			frame := encodeFrame(make([]byte, 0, headerWireSize), frameKindHello, 0, p.sessionID, p.streamID, nil)
			_, _ = p.conn.Write(frame)
		}
	}
}

// readLoop listens on the publication's own dialed socket for HELLO_ACK
// replies from the subscriber, the only traffic a publication ever
// receives.
func (p *publication) readLoop() {
	buf := make([]byte, 2048)
	for {
		_ = p.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, err := p.conn.Read(buf)
		select {
		case <-p.stopCh:
			return
		default:
		}
		if err != nil {
			continue
		}
		kind, _, sessionID, _, _, err := decodeFrame(buf[:n])
		if err != nil || sessionID != p.sessionID {
			continue
		}
		if kind == frameKindHelloAck {
			p.connected.Store(true)
		}
	}
}
