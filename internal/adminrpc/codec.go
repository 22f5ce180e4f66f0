package adminrpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec lets the admin gRPC surface exchange plain JSON messages
// instead of generated protobuf bindings, the way lnd's lnrpc exchanges
// compiled protobuf: the wire contract here is this package's hand-written
// request/response structs rather than a .proto file, registered the same
// way grpc-gateway registers alternate codecs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }

const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
