package wsdriver

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reactorlink/reactorlink/internal/transport"
)

const livenessCheckInterval = 50 * time.Millisecond

type imageConn struct {
	conn          *websocket.Conn
	writeMu       sync.Mutex
	sessionID     int32
	correlationID int64
	lastSeen      atomic.Int64
}

func (c *imageConn) SessionID() int32     { return c.sessionID }
func (c *imageConn) CorrelationID() int64 { return c.correlationID }

type rawFragment struct {
	payload []byte
	header  transport.Header
}

type subscription struct {
	channel  string
	streamID int32

	livenessTimeout time.Duration
	onAvailable     transport.ImageHandler
	onUnavailable   transport.ImageHandler

	mu       sync.Mutex
	images   map[*websocket.Conn]*imageConn
	fragments chan rawFragment

	closed         atomic.Bool
	stopOnce       sync.Once
	stopCh         chan struct{}
	correlationSeq atomic.Int64
}

func newSubscription(channel string, streamID int32, livenessTimeout time.Duration, onAvailable, onUnavailable transport.ImageHandler) *subscription {
	if livenessTimeout <= 0 {
		livenessTimeout = 10 * time.Second
	}
	s := &subscription{
		channel:         channel,
		streamID:        streamID,
		livenessTimeout: livenessTimeout,
		onAvailable:     onAvailable,
		onUnavailable:   onUnavailable,
		images:          make(map[*websocket.Conn]*imageConn),
		fragments:       make(chan rawFragment, 4096),
		stopCh:          make(chan struct{}),
	}
	go s.livenessLoop()
	return s
}

func (s *subscription) Channel() string { return s.channel }
func (s *subscription) StreamID() int32 { return s.streamID }

func (s *subscription) Images() []transport.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.Image, 0, len(s.images))
	for _, img := range s.images {
		out = append(out, img)
	}
	return out
}

func (s *subscription) Poll(handler transport.FragmentHandler, fragmentLimit int) int {
	n := 0
	for n < fragmentLimit {
		select {
		case f := <-s.fragments:
			handler(f.payload, f.header)
			n++
		default:
			return n
		}
	}
	return n
}

// acceptConn registers a newly upgraded connection as an image and spawns
// its read pump. Each distinct connection is its own image, mirroring the
// UDP driver keying images by remote address.
func (s *subscription) acceptConn(conn *websocket.Conn) {
	if s.closed.Load() {
		_ = conn.Close()
		return
	}

	img := &imageConn{conn: conn, correlationID: s.correlationSeq.Add(1)}
	img.lastSeen.Store(time.Now().UnixNano())

	s.mu.Lock()
	s.images[conn] = img
	s.mu.Unlock()

	go s.readPump(conn, img)
}

func (s *subscription) readPump(conn *websocket.Conn, img *imageConn) {
	defer s.dropImage(conn, img)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.livenessTimeout))
		var frame wireFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return
			}
			return
		}

		img.lastSeen.Store(time.Now().UnixNano())
		if img.sessionID == 0 {
			img.sessionID = frame.SessionID
			s.onAvailable(img)
		}

		switch frame.Kind {
		case frameKindHello:
			img.writeMu.Lock()
			_ = conn.WriteJSON(wireFrame{Kind: frameKindHelloAck, SessionID: frame.SessionID, StreamID: frame.StreamID})
			img.writeMu.Unlock()
		case frameKindData:
			payload := make([]byte, len(frame.Payload))
			copy(payload, frame.Payload)
			select {
			case s.fragments <- rawFragment{payload: payload, header: transport.Header{
				SessionID: frame.SessionID,
				StreamID:  frame.StreamID,
				Flags:     transport.FragmentFlags(frame.Flags),
			}}:
			default:
			}
		}
	}
}

func (s *subscription) dropImage(conn *websocket.Conn, img *imageConn) {
	s.mu.Lock()
	_, ok := s.images[conn]
	delete(s.images, conn)
	s.mu.Unlock()
	if ok {
		s.onUnavailable(img)
	}
}

func (s *subscription) livenessLoop() {
	ticker := time.NewTicker(livenessCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.reapExpired()
		}
	}
}

func (s *subscription) reapExpired() {
	now := time.Now().UnixNano()
	var stale []*websocket.Conn

	s.mu.Lock()
	for conn, img := range s.images {
		if time.Duration(now-img.lastSeen.Load()) > s.livenessTimeout {
			stale = append(stale, conn)
		}
	}
	s.mu.Unlock()

	for _, conn := range stale {
		_ = conn.Close()
	}
}

func (s *subscription) Close() error {
	s.stopOnce.Do(func() {
		s.closed.Store(true)
		close(s.stopCh)

		s.mu.Lock()
		conns := make([]*websocket.Conn, 0, len(s.images))
		for c := range s.images {
			conns = append(conns, c)
		}
		s.mu.Unlock()

		for _, c := range conns {
			_ = c.Close()
		}
	})
	return nil
}
