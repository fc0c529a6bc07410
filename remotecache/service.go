package remotecache

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "buildforge.RemoteCache"

// CacheServer is implemented by the remote cache daemon side.
type CacheServer interface {
	Has(context.Context, *HasRequest) (*HasReply, error)
	Get(context.Context, *GetRequest) (*GetReply, error)
	Put(context.Context, *PutRequest) (*PutReply, error)
	HasBatch(context.Context, *HasBatchRequest) (*HasBatchReply, error)
	GetBatch(context.Context, *GetBatchRequest) (*GetBatchReply, error)
	PutBatch(context.Context, *PutBatchRequest) (*PutBatchReply, error)
}

// RegisterCacheServer wires srv into a *grpc.Server under the service's
// hand-written descriptor (no protoc-gen-go-grpc step available here).
func RegisterCacheServer(s *grpc.Server, srv CacheServer) {
	s.RegisterService(&cacheServiceDesc, srv)
}

func _Cache_Has_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HasRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CacheServer).Has(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Has"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CacheServer).Has(ctx, req.(*HasRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Cache_Get_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CacheServer).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Get"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CacheServer).Get(ctx, req.(*GetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Cache_Put_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PutRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CacheServer).Put(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Put"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CacheServer).Put(ctx, req.(*PutRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Cache_HasBatch_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HasBatchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CacheServer).HasBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/HasBatch"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CacheServer).HasBatch(ctx, req.(*HasBatchRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Cache_GetBatch_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetBatchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CacheServer).GetBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetBatch"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CacheServer).GetBatch(ctx, req.(*GetBatchRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Cache_PutBatch_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PutBatchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CacheServer).PutBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/PutBatch"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CacheServer).PutBatch(ctx, req.(*PutBatchRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var cacheServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CacheServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Has", Handler: _Cache_Has_Handler},
		{MethodName: "Get", Handler: _Cache_Get_Handler},
		{MethodName: "Put", Handler: _Cache_Put_Handler},
		{MethodName: "HasBatch", Handler: _Cache_HasBatch_Handler},
		{MethodName: "GetBatch", Handler: _Cache_GetBatch_Handler},
		{MethodName: "PutBatch", Handler: _Cache_PutBatch_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "remotecache.go",
}

// cacheClient is a thin hand-written client stub (the counterpart of what
// protoc-gen-go-grpc would emit), issuing unary RPCs over conn with the
// JSON codec selected via content-subtype.
type cacheClient struct {
	conn *grpc.ClientConn
}

func newCacheClient(conn *grpc.ClientConn) *cacheClient { return &cacheClient{conn: conn} }

func (c *cacheClient) callOpts() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(codecName)}
}

func (c *cacheClient) Has(ctx context.Context, in *HasRequest) (*HasReply, error) {
	out := new(HasReply)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/Has", in, out, c.callOpts()...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cacheClient) Get(ctx context.Context, in *GetRequest) (*GetReply, error) {
	out := new(GetReply)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/Get", in, out, c.callOpts()...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cacheClient) Put(ctx context.Context, in *PutRequest) (*PutReply, error) {
	out := new(PutReply)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/Put", in, out, c.callOpts()...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cacheClient) HasBatch(ctx context.Context, in *HasBatchRequest) (*HasBatchReply, error) {
	out := new(HasBatchReply)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/HasBatch", in, out, c.callOpts()...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cacheClient) GetBatch(ctx context.Context, in *GetBatchRequest) (*GetBatchReply, error) {
	out := new(GetBatchReply)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/GetBatch", in, out, c.callOpts()...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cacheClient) PutBatch(ctx context.Context, in *PutBatchRequest) (*PutBatchReply, error) {
	out := new(PutBatchReply)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/PutBatch", in, out, c.callOpts()...); err != nil {
		return nil, err
	}
	return out, nil
}
