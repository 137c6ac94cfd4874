package wsdriver

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reactorlink/reactorlink/internal/transport"
)

const helloInterval = 20 * time.Millisecond

type publication struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	channel   string
	streamID  int32
	sessionID int32

	connected atomic.Bool
	closed    atomic.Bool
	stopOnce  sync.Once
	stopCh    chan struct{}
}

func newPublication(conn *websocket.Conn, channel string, streamID, sessionID int32) *publication {
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

	frame := wireFrame{
		Kind:      frameKindData,
		Flags:     uint8(flags),
		SessionID: p.sessionID,
		StreamID:  p.streamID,
		Payload:   buf,
	}

	p.writeMu.Lock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(200 * time.Millisecond))
	err := p.conn.WriteJSON(frame)
	p.writeMu.Unlock()

	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return transport.BackPressured, nil
		}
		return transport.Closed, err
	}
	return int64(len(buf)), nil
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

func (p *publication) helloLoop() {
	ticker := time.NewTicker(helloInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.writeMu.Lock()
			_ = p.conn.SetWriteDeadline(time.Now().Add(200 * time.Millisecond))
			_ = p.conn.WriteJSON(wireFrame{Kind: frameKindHello, SessionID: p.sessionID, StreamID: p.streamID})
			p.writeMu.Unlock()
		}
	}
}

func (p *publication) readLoop() {
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		_ = p.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		var frame wireFrame
		if err := p.conn.ReadJSON(&frame); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		if frame.Kind == frameKindHelloAck {
			p.connected.Store(true)
		}
	}
}
