package remotecache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/buildforge/engine/digest"
)

// Config controls the remote cache client (spec §6 environment surface:
// BUILDER_REMOTE_CACHE_URL/_ENABLED/_PUSH/_COMPRESS).
type Config struct {
	Address    string
	Enabled    bool
	Push       bool // whether successful local updates are pushed remotely
	Compress   bool
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{RequestTimeout: 5 * time.Second}
}

// Client is the Backend the coordinator (C8) consults for L3 lookups.
// Per spec §4.6, any network error or timeout is treated as a miss on read
// and is silently dropped on write — a remote cache outage must never fail
// the local build.
type Client struct {
	cfg  Config
	conn *grpc.ClientConn
	rpc  *cacheClient
	log  logrus.FieldLogger
}

func Dial(cfg Config, log logrus.FieldLogger) (*Client, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	conn, err := grpc.Dial(cfg.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, conn: conn, rpc: newCacheClient(conn), log: log}, nil
}

// NewTestClient wraps an already-dialed connection (e.g. one built over
// bufconn in a test) as a Client, for callers outside this package that
// need to exercise the real wire path without a TCP listener.
func NewTestClient(conn *grpc.ClientConn) *Client {
	return &Client{cfg: Config{RequestTimeout: 5 * time.Second}, conn: conn, rpc: newCacheClient(conn)}
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
}

func (c *Client) logger() logrus.FieldLogger {
	if c.log == nil {
		return logrus.StandardLogger()
	}
	return c.log
}

// Has reports a remote hit; any RPC failure (network error, timeout,
// protocol mismatch) is treated as a miss, never surfaced to the caller.
func (c *Client) Has(d digest.Digest) bool {
	ctx, cancel := c.ctx()
	defer cancel()
	reply, err := c.rpc.Has(ctx, &HasRequest{Digest: d.Bytes()})
	if err != nil {
		c.logger().WithError(err).Debug("remotecache: has treated as miss")
		return false
	}
	return reply.Found
}

// Get fetches the blob for d. ok is false on any miss or failure.
func (c *Client) Get(d digest.Digest) (data []byte, ok bool) {
	ctx, cancel := c.ctx()
	defer cancel()
	reply, err := c.rpc.Get(ctx, &GetRequest{Digest: d.Bytes()})
	if err != nil || !reply.Found {
		return nil, false
	}
	if reply.Compressed {
		dec, err := decompress(reply.Data)
		if err != nil {
			return nil, false
		}
		return dec, true
	}
	return reply.Data, true
}

// Put pushes data for d best-effort. Failures are logged and dropped,
// never returned, matching spec §4.6's "writes to the remote are
// best-effort and asynchronous".
func (c *Client) Put(d digest.Digest, data []byte) {
	payload := data
	compressed := false
	if c.cfg.Compress {
		if z, err := compress(data); err == nil && len(z) < len(data) {
			payload, compressed = z, true
		}
	}
	ctx, cancel := c.ctx()
	defer cancel()
	if _, err := c.rpc.Put(ctx, &PutRequest{Digest: d.Bytes(), Data: payload, Compressed: compressed}); err != nil {
		c.logger().WithError(err).Debug("remotecache: push dropped")
	}
}

// PutAsync fires Put on its own goroutine so the caller's hot path never
// waits on remote I/O, per spec §4.6/§4.7.
func (c *Client) PutAsync(d digest.Digest, data []byte) {
	go c.Put(d, data)
}

func (c *Client) HasBatch(ds []digest.Digest) []bool {
	ctx, cancel := c.ctx()
	defer cancel()
	req := &HasBatchRequest{Digests: make([][]byte, len(ds))}
	for i, d := range ds {
		req.Digests[i] = d.Bytes()
	}
	reply, err := c.rpc.HasBatch(ctx, req)
	if err != nil {
		return make([]bool, len(ds))
	}
	return reply.Found
}

func (c *Client) GetBatch(ds []digest.Digest) [][]byte {
	ctx, cancel := c.ctx()
	defer cancel()
	req := &GetBatchRequest{Digests: make([][]byte, len(ds))}
	for i, d := range ds {
		req.Digests[i] = d.Bytes()
	}
	reply, err := c.rpc.GetBatch(ctx, req)
	out := make([][]byte, len(ds))
	if err != nil {
		return out
	}
	for i, e := range reply.Entries {
		if e.Found {
			out[i] = e.Data
		}
	}
	return out
}
