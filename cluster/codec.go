package cluster

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// clusterCodecName selects the JSON wire codec for the worker-dispatch gRPC
// service, distinct from remotecache's own codec name so the two packages
// never collide in grpc's process-global codec registry even though both
// substitute JSON for real protoc-generated protobuf (see remotecache/proto.go
// for the full rationale, which applies identically here).
const clusterCodecName = "clusterjson"

type clusterJSONCodec struct{}

func (clusterJSONCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }
func (clusterJSONCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (clusterJSONCodec) Name() string                               { return clusterCodecName }

func init() {
	encoding.RegisterCodec(clusterJSONCodec{})
}
