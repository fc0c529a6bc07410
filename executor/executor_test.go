package executor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buildforge/engine/cache"
	"github.com/buildforge/engine/cas"
	"github.com/buildforge/engine/coordinator"
	"github.com/buildforge/engine/digest"
	"github.com/buildforge/engine/graph"
	"github.com/buildforge/engine/sandbox"
)

func newTestExecutor(t *testing.T) (*Executor, *cas.Store) {
	t.Helper()
	store, err := cas.Open(filepath.Join(t.TempDir(), "cas"), nil)
	require.NoError(t, err)
	tc, err := cache.OpenTargetCache(filepath.Join(t.TempDir(), "t.db"), cache.DefaultPolicy(), store)
	require.NoError(t, err)
	ac, err := cache.OpenActionCache(filepath.Join(t.TempDir(), "a.db"), cache.DefaultPolicy(), store)
	require.NoError(t, err)
	coord := coordinator.New(store, tc, ac, nil, nil, nil)
	exec := New(coord, store, sandbox.NoopBackend{}, DefaultRetryPolicy(), 2, nil, nil)
	return exec, store
}

func TestExecuteSucceedsAndCachesOnSecondRun(t *testing.T) {
	exec, store := newTestExecutor(t)
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.txt")

	action := &graph.Action{
		ID:      graph.ActionID{Target: "//a:b", Type: graph.Compile, SubID: "x", InputDig: digest.FromBytes([]byte("in"))},
		Command: []string{"sh", "-c", "echo hi > " + outPath},
		Outputs: []string{outPath},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res := exec.Execute(ctx, action)
	require.NoError(t, res.Err)
	require.Equal(t, graph.Succeeded, res.Status)
	require.Len(t, res.OutputDigests, 1)
	require.True(t, store.Has(res.OutputDigests[0]))
	require.False(t, res.Cached)

	res2 := exec.Execute(ctx, action)
	require.True(t, res2.Cached)
	require.Equal(t, res.OutputDigests, res2.OutputDigests)
}

func TestExecuteRecordsBuildFailureWithoutRetry(t *testing.T) {
	exec, _ := newTestExecutor(t)
	action := &graph.Action{
		ID:      graph.ActionID{Target: "//a:fail", Type: graph.Compile, SubID: "x", InputDig: digest.FromBytes([]byte("in2"))},
		Command: []string{"sh", "-c", "exit 7"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res := exec.Execute(ctx, action)
	require.Equal(t, graph.Failed, res.Status)
	require.Equal(t, 7, res.ExitCode)
	require.Equal(t, 1, res.Attempts, "build errors are not retryable per category policy")
}

func TestExecuteMissingInputFailsFast(t *testing.T) {
	exec, _ := newTestExecutor(t)
	action := &graph.Action{
		ID:      graph.ActionID{Target: "//a:missing", Type: graph.Compile, SubID: "x"},
		Command: []string{"sh", "-c", "true"},
		Inputs:  []digest.Digest{digest.FromBytes([]byte("never-put"))},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res := exec.Execute(ctx, action)
	require.Equal(t, graph.Failed, res.Status)
	require.Error(t, res.Err)
}

func TestFlakyTestGetsExtraRetriesAfterFailures(t *testing.T) {
	exec, _ := newTestExecutor(t)
	testID := graph.ActionID{Target: "//t:flaky", Type: graph.ActionTest, SubID: "x"}.String()

	for i := 0; i < 3; i++ {
		exec.flaky.Record(testID, true)
	}
	exec.flaky.Record(testID, false)

	budget := exec.flaky.RetryBudget(testID)
	require.Greater(t, budget, 1)
}

func TestBoundedConcurrencyBlocksBeyondLimit(t *testing.T) {
	exec, _ := newTestExecutor(t)
	require.NotNil(t, exec.sem)
	require.True(t, exec.sem.TryAcquire(2))
	require.False(t, exec.sem.TryAcquire(1), "a third slot must not be available with max-concurrent 2")
	exec.sem.Release(2)
}
