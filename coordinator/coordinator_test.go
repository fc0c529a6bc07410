package coordinator

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

	"github.com/buildforge/engine/cache"
	"github.com/buildforge/engine/cas"
	"github.com/buildforge/engine/digest"
	"github.com/buildforge/engine/remotecache"
)

func newLocalOnly(t *testing.T) (*Coordinator, *cas.Store) {
	t.Helper()
	store, err := cas.Open(filepath.Join(t.TempDir(), "cas"), nil)
	require.NoError(t, err)
	tc, err := cache.OpenTargetCache(filepath.Join(t.TempDir(), "t.db"), cache.DefaultPolicy(), store)
	require.NoError(t, err)
	ac, err := cache.OpenActionCache(filepath.Join(t.TempDir(), "a.db"), cache.DefaultPolicy(), store)
	require.NoError(t, err)
	return New(store, tc, ac, nil, nil, nil), store
}

func TestIsCachedTargetMissThenHitAfterUpdate(t *testing.T) {
	coord, store := newLocalOnly(t)
	out, err := store.Put([]byte("output"))
	require.NoError(t, err)

	fp := digest.FromBytes([]byte("fp1"))
	_, ok := coord.IsCachedTarget(fp)
	require.False(t, ok)

	require.NoError(t, coord.UpdateTarget(cache.TargetEntry{Fingerprint: fp, OutputDigest: out, Timestamp: time.Now()}))

	entry, ok := coord.IsCachedTarget(fp)
	require.True(t, ok)
	require.Equal(t, out, entry.OutputDigest)
}

// remotePair wires two independent local stacks to one shared remote
// server, so a "different machine" population (spec S6) is realistic:
// the entry and its blob only exist in the remote store, not locally.
func remotePair(t *testing.T) (producer *Coordinator, consumer *Coordinator, consumerStore *cas.Store) {
	t.Helper()
	remoteStore, err := cas.Open(filepath.Join(t.TempDir(), "remote-cas"), nil)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	remotecache.RegisterCacheServer(srv, remotecache.NewServer(remoteStore))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	dial := func() *remotecache.Client {
		conn, err := grpc.Dial("bufconn",
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.Dial() }),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return remotecache.NewTestClient(conn)
	}

	pStore, err := cas.Open(filepath.Join(t.TempDir(), "p-cas"), nil)
	require.NoError(t, err)
	pt, err := cache.OpenTargetCache(filepath.Join(t.TempDir(), "p-t.db"), cache.DefaultPolicy(), pStore)
	require.NoError(t, err)
	pa, err := cache.OpenActionCache(filepath.Join(t.TempDir(), "p-a.db"), cache.DefaultPolicy(), pStore)
	require.NoError(t, err)
	producer = New(pStore, pt, pa, dial(), nil, nil)

	cStore, err := cas.Open(filepath.Join(t.TempDir(), "c-cas"), nil)
	require.NoError(t, err)
	ct, err := cache.OpenTargetCache(filepath.Join(t.TempDir(), "c-t.db"), cache.DefaultPolicy(), cStore)
	require.NoError(t, err)
	ca, err := cache.OpenActionCache(filepath.Join(t.TempDir(), "c-a.db"), cache.DefaultPolicy(), cStore)
	require.NoError(t, err)
	consumer = New(cStore, ct, ca, dial(), nil, nil)

	return producer, consumer, cStore
}

func TestCachePromotionFromRemoteOnLocalMiss(t *testing.T) {
	producer, consumer, _ := remotePair(t)

	out, err := producer.store.Put([]byte("shared output"))
	require.NoError(t, err)
	fp := digest.FromBytes([]byte("//a:lib"))
	require.NoError(t, producer.UpdateTarget(cache.TargetEntry{Fingerprint: fp, OutputDigest: out, Timestamp: time.Now()}))

	require.Eventually(t, func() bool {
		_, remoteOK := consumer.remote.Get(fp)
		return remoteOK
	}, 2*time.Second, 10*time.Millisecond, "producer's async push never reached the remote")

	_, localOK := consumer.targets.Lookup(fp)
	require.False(t, localOK, "sanity: consumer's local tier is still empty before IsCachedTarget promotes it")

	_, ok := consumer.IsCachedTarget(fp)
	require.True(t, ok, "expected the remote hit to be found")
	_, localOK = consumer.targets.Lookup(fp)
	require.True(t, localOK, "IsCachedTarget must promote the remote hit into the local tier")
}

func TestCachePromotionSatisfiesSubsequentLocalLookup(t *testing.T) {
	producer, consumer, consumerStore := remotePair(t)
	_ = consumerStore

	out, err := producer.store.Put([]byte("promoted output"))
	require.NoError(t, err)
	fp := digest.FromBytes([]byte("//a:lib-2"))
	require.NoError(t, producer.UpdateTarget(cache.TargetEntry{Fingerprint: fp, OutputDigest: out, Timestamp: time.Now()}))

	require.Eventually(t, func() bool {
		_, remoteOK := consumer.remote.Get(fp)
		return remoteOK
	}, 2*time.Second, 10*time.Millisecond)

	entry, ok := consumer.IsCachedTarget(fp)
	require.True(t, ok, "expected the remote hit to be found")
	require.Equal(t, out, entry.OutputDigest)

	// Spec property 9: an immediate subsequent is_cached for the same key
	// must now be satisfied by the local tier alone.
	localEntry, localOK := consumer.targets.Lookup(fp)
	require.True(t, localOK)
	require.Equal(t, out, localEntry.OutputDigest)
}

func TestRunGCPreservesLiveTargetOutput(t *testing.T) {
	coord, store := newLocalOnly(t)
	out, err := store.Put([]byte("kept"))
	require.NoError(t, err)
	fp := digest.FromBytes([]byte("fp-gc"))
	require.NoError(t, coord.UpdateTarget(cache.TargetEntry{Fingerprint: fp, OutputDigest: out, Timestamp: time.Now()}))

	result, err := coord.RunGC(0)
	require.NoError(t, err)
	require.Equal(t, 0, result.Evicted)
	require.True(t, store.Has(out))
}
