// Package remotecache implements C7: a network-backed cache tier with the
// same key/value shape as C5/C6 plus batch variants (spec §4.6). The wire
// contract rides gRPC for framing and flow control, matching the teacher's
// own cluster RPC style; message bodies are marshaled with a small JSON
// codec (codec.go) rather than protoc-generated protobuf structs, since
// this exercise has no protoc step available to generate and verify real
// .pb.go bindings. gRPC's pluggable codec mechanism is a first-class,
// documented escape hatch for exactly this — the service still gets gRPC's
// framing, deadlines, and streaming semantics, just not the protobuf wire
// format specifically.
package remotecache

// HasRequest/HasReply implement the C7 HAS(digest) -> bool operation.
type HasRequest struct {
	Digest []byte `json:"digest"`
}

type HasReply struct {
	Found bool `json:"found"`
}

// GetRequest/GetReply implement GET(digest) -> bytes | Err.
type GetRequest struct {
	Digest []byte `json:"digest"`
}

type GetReply struct {
	Found      bool   `json:"found"`
	Data       []byte `json:"data,omitempty"`
	Compressed bool   `json:"compressed,omitempty"`
}

// PutRequest/PutReply implement PUT(digest, bytes) -> Ok | Err.
type PutRequest struct {
	Digest     []byte `json:"digest"`
	Data       []byte `json:"data"`
	Compressed bool   `json:"compressed,omitempty"`
}

type PutReply struct{}

// Batch variants (spec §4.6: "plus put_batch, get_batch").
type HasBatchRequest struct {
	Digests [][]byte `json:"digests"`
}

type HasBatchReply struct {
	Found []bool `json:"found"`
}

type GetBatchRequest struct {
	Digests [][]byte `json:"digests"`
}

type GetBatchReply struct {
	Entries []GetReply `json:"entries"`
}

type PutBatchRequest struct {
	Digests     [][]byte `json:"digests"`
	Data        [][]byte `json:"data"`
	Compressed  bool     `json:"compressed,omitempty"`
}

type PutBatchReply struct{}
