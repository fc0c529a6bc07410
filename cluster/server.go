package cluster

import (
	"context"

	"github.com/buildforge/engine/digest"
	"github.com/buildforge/engine/executor"
	"github.com/buildforge/engine/graph"
)

// ActionServer adapts a local executor.Executor to the WorkerServer
// contract, so the same binary that runs local builds can also serve as a
// remote worker for another machine's distributed coordinator.
type ActionServer struct {
	exec *executor.Executor
}

func NewActionServer(exec *executor.Executor) *ActionServer {
	return &ActionServer{exec: exec}
}

func (s *ActionServer) Dispatch(ctx context.Context, req *DispatchRequest) (*DispatchReply, error) {
	inputs := make([]digest.Digest, 0, len(req.InputDigestHex))
	for _, h := range req.InputDigestHex {
		d, err := digest.Parse(h)
		if err != nil {
			return &DispatchReply{Status: "failed", Error: err.Error()}, nil
		}
		inputs = append(inputs, d)
	}

	action := &graph.Action{
		ID:      graph.ActionID{Target: graph.Label(req.ActionID), Type: graph.ActionCustom},
		Command: req.Command,
		Env:     req.Env,
		Inputs:  inputs,
		Outputs: req.DeclaredOutputs,
		Timeout: req.TimeoutMS * int64(1e6),
	}
	if req.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout())
		defer cancel()
	}

	res := s.exec.Execute(ctx, action)

	reply := &DispatchReply{
		Status:     res.Status.String(),
		ExitCode:   res.ExitCode,
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		reply.Error = res.Err.Error()
	}
	for _, d := range res.OutputDigests {
		reply.OutputDigestHex = append(reply.OutputDigestHex, d.Hex())
	}
	if !res.StdoutDigest.Zero() {
		reply.StdoutDigestHex = res.StdoutDigest.Hex()
	}
	if !res.StderrDigest.Zero() {
		reply.StderrDigestHex = res.StderrDigest.Hex()
	}
	return reply, nil
}
