package cluster

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// WorkerClient dials one remote worker's Dispatch endpoint.
type WorkerClient struct {
	conn *grpc.ClientConn
	rpc  *workerClient
}

func DialWorker(address string) (*WorkerClient, error) {
	conn, err := grpc.Dial(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return &WorkerClient{conn: conn, rpc: newWorkerClient(conn)}, nil
}

// NewTestWorkerClient wraps an already-dialed connection (e.g. bufconn),
// for tests that cannot reach a real address.
func NewTestWorkerClient(conn *grpc.ClientConn) *WorkerClient {
	return &WorkerClient{conn: conn, rpc: newWorkerClient(conn)}
}

func (c *WorkerClient) Close() error { return c.conn.Close() }

func (c *WorkerClient) Dispatch(ctx context.Context, req *DispatchRequest) (*DispatchReply, error) {
	if req.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMS)*time.Millisecond)
		defer cancel()
	}
	return c.rpc.Dispatch(ctx, req)
}
