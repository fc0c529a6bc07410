package remotecache

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const codecName = "builderjson"

// jsonCodec is a minimal google.golang.org/grpc/encoding.Codec so the
// service can ride gRPC's transport without protoc-generated message
// types. Registered globally in init(), selected per-call via
// grpc.CallContentSubtype(codecName) on the client and automatically
// matched by content-subtype on the server.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
