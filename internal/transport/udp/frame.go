package udp

import (
	"encoding/binary"
	"errors"
)

// Wire frame: [kind:1][flags:1][sessionID:4][streamID:4][payloadLen:4][payload...]
//
// kind distinguishes the handshake/keep-alive traffic (HELLO, HELLO_ACK)
// from application DATA frames; flags carries the BEGIN/END fragmentation
// bits and is only meaningful for DATA frames.
const headerWireSize = 1 + 1 + 4 + 4 + 4

var errShortFrame = errors.New("udp: frame shorter than header")

func encodeFrame(dst []byte, kind, flags byte, sessionID, streamID int32, payload []byte) []byte {
	dst = append(dst[:0], kind, flags)
	dst = binary.BigEndian.AppendUint32(dst, uint32(sessionID))
	dst = binary.BigEndian.AppendUint32(dst, uint32(streamID))
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	dst = append(dst, payload...)
	return dst
}

func decodeFrame(buf []byte) (kind, flags byte, sessionID, streamID int32, payload []byte, err error) {
	if len(buf) < headerWireSize {
		return 0, 0, 0, 0, nil, errShortFrame
	}
	kind = buf[0]
	flags = buf[1]
	sessionID = int32(binary.BigEndian.Uint32(buf[2:6]))
	streamID = int32(binary.BigEndian.Uint32(buf[6:10]))
	n := binary.BigEndian.Uint32(buf[10:14])
	rest := buf[headerWireSize:]
	if uint32(len(rest)) < n {
		return 0, 0, 0, 0, nil, errShortFrame
	}
	payload = rest[:n]
	return kind, flags, sessionID, streamID, payload, nil
}
