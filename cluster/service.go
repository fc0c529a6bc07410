package cluster

import (
	"context"

	"google.golang.org/grpc"
)

const workerServiceName = "buildforge.Worker"

// WorkerServer is implemented by the worker daemon side: accept one
// dispatched action and run it to completion (spec §4.10's wire contract).
type WorkerServer interface {
	Dispatch(context.Context, *DispatchRequest) (*DispatchReply, error)
}

// RegisterWorkerServer wires srv into s under the hand-written descriptor
// (no protoc-gen-go-grpc step available here, same substitution as
// remotecache — see its proto.go for the full rationale).
func RegisterWorkerServer(s *grpc.Server, srv WorkerServer) {
	s.RegisterService(&workerServiceDesc, srv)
}

func _Worker_Dispatch_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DispatchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServer).Dispatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + workerServiceName + "/Dispatch"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkerServer).Dispatch(ctx, req.(*DispatchRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var workerServiceDesc = grpc.ServiceDesc{
	ServiceName: workerServiceName,
	HandlerType: (*WorkerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Dispatch", Handler: _Worker_Dispatch_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cluster.go",
}

// workerClient is the hand-written client stub, mirroring cacheClient in
// remotecache/service.go.
type workerClient struct {
	conn *grpc.ClientConn
}

func newWorkerClient(conn *grpc.ClientConn) *workerClient { return &workerClient{conn: conn} }

func (c *workerClient) callOpts() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(clusterCodecName)}
}

func (c *workerClient) Dispatch(ctx context.Context, in *DispatchRequest) (*DispatchReply, error) {
	out := new(DispatchReply)
	if err := c.conn.Invoke(ctx, "/"+workerServiceName+"/Dispatch", in, out, c.callOpts()...); err != nil {
		return nil, err
	}
	return out, nil
}
