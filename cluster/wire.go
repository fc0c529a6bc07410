package cluster

import "time"

// DispatchRequest is the request half of the C11 wire contract (spec
// §4.10): "(ActionId, command, env, input-digests, declared-outputs,
// capabilities, priority, timeout)". Inputs/outputs are never shipped by
// value — the worker fetches blobs from the shared CAS by digest hex.
type DispatchRequest struct {
	ActionID         string
	Command          []string
	Env              map[string]string
	InputDigestHex   []string
	DeclaredOutputs  []string
	RequiredCaps     []string
	Priority         int
	TimeoutMS        int64
}

// ResourceUsage is advisory accounting the worker reports back.
type ResourceUsage struct {
	MaxRSSBytes int64
	UserTimeMS  int64
	SysTimeMS   int64
}

// DispatchReply is the response half of the wire contract: "(status,
// exit-code, duration, resource-usage, output-digests, stdout-digest,
// stderr-digest)".
type DispatchReply struct {
	Status           string
	ExitCode         int
	DurationMS       int64
	Usage            ResourceUsage
	OutputDigestHex  []string
	StdoutDigestHex  string
	StderrDigestHex  string
	Error            string
}

func (r DispatchRequest) Timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}
