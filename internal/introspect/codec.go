package introspect

import "encoding/json"

// jsonCodec replaces gRPC's default protobuf codec with a plain JSON one.
// Introspection has no .proto contract (there is nothing here worth
// generating stubs for — one read-only snapshot method), so the service
// is hand-written the way grpc-go's own non-protobuf examples do it,
// registered under the "proto" name so stock client/server stacks that
// never set a content-subtype still negotiate it.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return "proto" }
