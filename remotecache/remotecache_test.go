package remotecache

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/buildforge/engine/cas"
	"github.com/buildforge/engine/digest"
)

func startServer(t *testing.T) *bufconn.Listener {
	t.Helper()
	store, err := cas.Open(filepath.Join(t.TempDir(), "remote-cas"), nil)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterCacheServer(srv, NewServer(store))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return lis
}

func dialBufconn(t *testing.T, lis *bufconn.Listener) *Client {
	t.Helper()
	conn, err := grpc.Dial("bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &Client{cfg: Config{RequestTimeout: 2 * time.Second}, conn: conn, rpc: newCacheClient(conn)}
}

func TestClientPutThenHasAndGet(t *testing.T) {
	lis := startServer(t)
	c := dialBufconn(t, lis)

	d := digest.FromBytes([]byte("remote blob"))
	c.Put(d, []byte("remote blob"))

	require.Eventually(t, func() bool { return c.Has(d) }, time.Second, 10*time.Millisecond)

	data, ok := c.Get(d)
	require.True(t, ok)
	require.Equal(t, []byte("remote blob"), data)
}

func TestClientMissReturnsFalseNotError(t *testing.T) {
	lis := startServer(t)
	c := dialBufconn(t, lis)

	d := digest.FromBytes([]byte("never written"))
	require.False(t, c.Has(d))
	_, ok := c.Get(d)
	require.False(t, ok)
}

func TestClientCompressedPutRoundTrips(t *testing.T) {
	lis := startServer(t)
	c := dialBufconn(t, lis)
	c.cfg.Compress = true

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 7)
	}
	d := digest.FromBytes(payload)
	c.Put(d, payload)

	data, ok := c.Get(d)
	require.True(t, ok)
	require.Equal(t, payload, data)
}

func TestClientTreatsUnreachableServerAsMiss(t *testing.T) {
	conn, err := grpc.Dial("127.0.0.1:1", grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	c := &Client{cfg: Config{RequestTimeout: 200 * time.Millisecond}, conn: conn, rpc: newCacheClient(conn)}

	d := digest.FromBytes([]byte("x"))
	require.False(t, c.Has(d))
	_, ok := c.Get(d)
	require.False(t, ok)
	require.NotPanics(t, func() { c.Put(d, []byte("x")) })
}

func TestHasBatchAndGetBatch(t *testing.T) {
	lis := startServer(t)
	c := dialBufconn(t, lis)

	d1 := digest.FromBytes([]byte("one"))
	d2 := digest.FromBytes([]byte("two"))
	c.Put(d1, []byte("one"))

	found := c.HasBatch([]digest.Digest{d1, d2})
	require.Equal(t, []bool{true, false}, found)

	got := c.GetBatch([]digest.Digest{d1, d2})
	require.Equal(t, []byte("one"), got[0])
	require.Nil(t, got[1])
}
