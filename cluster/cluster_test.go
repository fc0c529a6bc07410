package cluster

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/buildforge/engine/cache"
	"github.com/buildforge/engine/cas"
	"github.com/buildforge/engine/coordinator"
	"github.com/buildforge/engine/executor"
	"github.com/buildforge/engine/sandbox"
)

func TestHealthThresholdsTransitions(t *testing.T) {
	th := DefaultHealthThresholds()
	assert.Equal(t, Healthy, th.nextHealth(Healthy, 0))
	assert.Equal(t, Degraded, th.nextHealth(Healthy, th.DegradedAfter+time.Millisecond))
	assert.Equal(t, Failing, th.nextHealth(Degraded, th.FailingAfter+time.Millisecond))
	assert.Equal(t, Failed, th.nextHealth(Failing, th.FailedAfter+time.Millisecond))
	assert.Equal(t, Recovering, th.nextHealth(Failed, 0))
}

func TestRegistryHeartbeatRecoversThroughRecovering(t *testing.T) {
	th := HealthThresholds{DegradedAfter: 10 * time.Millisecond, FailingAfter: 20 * time.Millisecond, FailedAfter: 30 * time.Millisecond, RecoveryHeartbeats: 2}
	r := NewRegistry(th)
	r.Heartbeat("w1", Capabilities{}, 0)
	require.Equal(t, Healthy, r.Get("w1").Health())

	time.Sleep(40 * time.Millisecond)
	failed := r.Sweep()
	require.Contains(t, failed, "w1")
	require.Equal(t, Failed, r.Get("w1").Health())

	r.Heartbeat("w1", Capabilities{}, 0)
	require.Equal(t, Recovering, r.Get("w1").Health())
	r.Heartbeat("w1", Capabilities{}, 0)
	require.Equal(t, Healthy, r.Get("w1").Health())
}

func TestRegistryAssignCompleteDrain(t *testing.T) {
	r := NewRegistry(DefaultHealthThresholds())
	r.Heartbeat("w1", Capabilities{}, 0)
	r.AssignAction("w1", "act-1")
	r.AssignAction("w1", "act-2")
	require.Equal(t, 2, r.Get("w1").Load())

	r.CompleteAction("w1", "act-1", true)
	require.Equal(t, 1, r.Get("w1").Load())
	require.Equal(t, 1.0, r.Get("w1").SuccessRate())

	drained := r.DrainInProgress("w1")
	require.ElementsMatch(t, []string{"act-2"}, drained)
	require.Equal(t, 0, r.Get("w1").Load())
}

func TestBlacklistGrowsBackoffOnRepeatedMarks(t *testing.T) {
	bl := NewBlacklist()
	require.False(t, bl.Blacklisted("w1"))
	bl.Mark("w1")
	require.True(t, bl.Blacklisted("w1"))
	first := bl.entries["w1"].retryAt
	bl.Mark("w1")
	require.True(t, bl.entries["w1"].retryAt.After(first))
	bl.Clear("w1")
	require.False(t, bl.Blacklisted("w1"))
}

func TestReassignQueueIsFIFO(t *testing.T) {
	q := NewReassignQueue()
	q.PushAll([]string{"a", "b"})
	q.PushAll([]string{"c"})
	first, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, "a", first)
	second, _ := q.Pop()
	require.Equal(t, "b", second)
	third, _ := q.Pop()
	require.Equal(t, "c", third)
	_, ok = q.Pop()
	require.False(t, ok)
}

func TestLeastLoadedPrefersLighterWorker(t *testing.T) {
	r := NewRegistry(DefaultHealthThresholds())
	r.Heartbeat("heavy", Capabilities{}, 0)
	r.Heartbeat("light", Capabilities{}, 0)
	r.AssignAction("heavy", "x1")
	r.AssignAction("heavy", "x2")

	w := LeastLoaded{}.Select(r.Healthy(), nil)
	require.NotNil(t, w)
	require.Equal(t, "light", w.ID)
}

func TestAffinityPrefersWorkerWithCachedInput(t *testing.T) {
	r := NewRegistry(DefaultHealthThresholds())
	r.Heartbeat("cold", Capabilities{}, 0)
	r.Heartbeat("warm", Capabilities{CachedInputs: map[string]bool{"deadbeef": true}}, 0)

	w := Affinity{}.Select(r.Healthy(), []string{"deadbeef"})
	require.NotNil(t, w)
	require.Equal(t, "warm", w.ID)
}

func TestRoundRobinCyclesDeterministically(t *testing.T) {
	r := NewRegistry(DefaultHealthThresholds())
	r.Heartbeat("a", Capabilities{}, 0)
	r.Heartbeat("b", Capabilities{}, 0)
	rr := &RoundRobin{}
	first := rr.Select(r.Healthy(), nil)
	second := rr.Select(r.Healthy(), nil)
	require.NotEqual(t, first.ID, second.ID)
}

// newBufconnActionServer wires a real executor (NoopBackend, local CAS) as
// the Dispatch target, then serves it over bufconn so DialWorker-style RPC
// can exercise the whole wire path without a real network.
func newBufconnActionServer(t *testing.T) *bufconn.Listener {
	t.Helper()
	store, err := cas.Open(filepath.Join(t.TempDir(), "cas"), nil)
	require.NoError(t, err)
	tc, err := cache.OpenTargetCache(filepath.Join(t.TempDir(), "t.db"), cache.DefaultPolicy(), store)
	require.NoError(t, err)
	ac, err := cache.OpenActionCache(filepath.Join(t.TempDir(), "a.db"), cache.DefaultPolicy(), store)
	require.NoError(t, err)
	coord := coordinator.New(store, tc, ac, nil, nil, nil)
	exec := executor.New(coord, store, sandbox.NoopBackend{}, executor.DefaultRetryPolicy(), 2, nil, nil)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterWorkerServer(srv, NewActionServer(exec))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return lis
}

func TestDispatchOverBufconnRunsAction(t *testing.T) {
	lis := newBufconnActionServer(t)
	conn, err := grpc.Dial("bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()
	client := NewTestWorkerClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := client.Dispatch(ctx, &DispatchRequest{
		ActionID: "//a:b#custom",
		Command:  []string{"sh", "-c", "true"},
	})
	require.NoError(t, err)
	require.Equal(t, "succeeded", reply.Status)
	require.Equal(t, 0, reply.ExitCode)
}
