package udp

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reactorlink/reactorlink/internal/transport"
)

const livenessCheckInterval = 50 * time.Millisecond

// rawFragment is a decoded DATA frame queued for a Poll call to deliver.
type rawFragment struct {
	payload []byte
	header  transport.Header
}

type imageState struct {
	sessionID     int32
	correlationID int64
	lastSeen      atomic.Int64 // unix nanos
}

func (s *imageState) SessionID() int32     { return s.sessionID }
func (s *imageState) CorrelationID() int64 { return s.correlationID }

type subscription struct {
	conn     *net.UDPConn
	channel  string
	streamID int32

	onAvailable   transport.ImageHandler
	onUnavailable transport.ImageHandler

	livenessTimeout time.Duration

	mu       sync.Mutex
	byAddr   map[string]*imageState
	byID     map[int32]*imageState

	fragments chan rawFragment
	closed    atomic.Bool
	stopOnce  sync.Once
	stopCh    chan struct{}

	correlationSeq atomic.Int64
}

func newSubscription(conn *net.UDPConn, channel string, streamID int32, livenessTimeout time.Duration, onAvailable, onUnavailable transport.ImageHandler) *subscription {
	if livenessTimeout <= 0 {
		livenessTimeout = 10 * time.Second
	}
	s := &subscription{
		conn:            conn,
		channel:         channel,
		streamID:        streamID,
		onAvailable:     onAvailable,
		onUnavailable:   onUnavailable,
		livenessTimeout: livenessTimeout,
		byAddr:          make(map[string]*imageState),
		byID:            make(map[int32]*imageState),
		fragments:       make(chan rawFragment, 4096),
		stopCh:          make(chan struct{}),
	}
	go s.readLoop()
	go s.livenessLoop()
	return s
}

func (s *subscription) Channel() string { return s.channel }
func (s *subscription) StreamID() int32 { return s.streamID }

func (s *subscription) Images() []transport.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.Image, 0, len(s.byAddr))
	for _, img := range s.byAddr {
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

func (s *subscription) Close() error {
	var err error
	s.stopOnce.Do(func() {
		s.closed.Store(true)
		close(s.stopCh)
		err = s.conn.Close()
	})
	return err
}

func (s *subscription) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, raddr, err := s.conn.ReadFromUDP(buf)
		select {
		case <-s.stopCh:
			return
		default:
		}
		if err != nil {
			continue
		}

		kind, flags, sessionID, streamID, payload, err := decodeFrame(buf[:n])
		if err != nil {
			continue
		}

		s.touch(raddr.String(), sessionID)

		switch kind {
		case frameKindHello:
			ack := encodeFrame(make([]byte, 0, headerWireSize), frameKindHelloAck, 0, sessionID, streamID, nil)
			_, _ = s.conn.WriteToUDP(ack, raddr)
		case frameKindData:
			payloadCopy := make([]byte, len(payload))
			copy(payloadCopy, payload)
			select {
			case s.fragments <- rawFragment{payload: payloadCopy, header: transport.Header{
				SessionID: sessionID,
				StreamID:  streamID,
				Flags:     transport.FragmentFlags(flags),
			}}:
			default:
				// Fragment queue saturated: drop. The owning
				// MessageSubscription's fragment assembler will never see
				// a dangling BEGIN without its END, which is detected and
				// reported, not silently corrupted.
			}
		}
	}
}

// touch records that sessionID was seen from addr just now, firing
// onAvailable the first time this remote address is observed (even if its
// sessionID collides with an already-known image from a different
// address — spec §8 scenario 5 depends on the second image's
// availability still being raised so the caller can refuse it).
func (s *subscription) touch(addr string, sessionID int32) *imageState {
	s.mu.Lock()
	img, ok := s.byAddr[addr]
	if !ok {
		img = &imageState{sessionID: sessionID, correlationID: s.correlationSeq.Add(1)}
		s.byAddr[addr] = img
		s.byID[sessionID] = img
	}
	s.mu.Unlock()

	img.lastSeen.Store(time.Now().UnixNano())

	if !ok {
		s.onAvailable(img)
	}
	return img
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
	var expired []*imageState

	s.mu.Lock()
	for addr, img := range s.byAddr {
		if time.Duration(now-img.lastSeen.Load()) > s.livenessTimeout {
			delete(s.byAddr, addr)
			delete(s.byID, img.sessionID)
			expired = append(expired, img)
		}
	}
	s.mu.Unlock()

	for _, img := range expired {
		s.onUnavailable(img)
	}
}
