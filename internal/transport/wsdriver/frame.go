package wsdriver

const (
	frameKindData     = "data"
	frameKindHello    = "hello"
	frameKindHelloAck = "hello_ack"
)

// wireFrame is the JSON envelope carried by each websocket message. Unlike
// the UDP driver, websocket already frames individual messages, so there
// is no length-prefixed binary header to hand-roll here.
type wireFrame struct {
	Kind      string `json:"kind"`
	Flags     uint8  `json:"flags"`
	SessionID int32  `json:"session_id"`
	StreamID  int32  `json:"stream_id"`
	Payload   []byte `json:"payload,omitempty"`
}
