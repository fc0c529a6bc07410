package runner

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
	"github.com/buildforge/engine/executor"
	"github.com/buildforge/engine/graph"
	"github.com/buildforge/engine/sandbox"
)

// fakeLowerer stands in for a real per-language handler (spec's frontend
// Non-goal): it returns one pre-baked action per target label, carrying a
// real shell command instead of DefaultLowerer's illustrative placeholders,
// so these tests actually exercise process execution end to end.
type fakeLowerer struct {
	commands map[graph.Label][]string
}

func (f fakeLowerer) Lower(n *graph.Node, _ []digest.Digest) ([]*graph.Action, error) {
	cmd := f.commands[n.Target.Label]
	if cmd == nil {
		cmd = []string{"sh", "-c", "true"}
	}
	return []*graph.Action{{
		ID:      graph.ActionID{Target: n.Target.Label, Type: graph.ActionCustom},
		Command: cmd,
	}}, nil
}

func noSources(*graph.Target) ([]digest.Digest, error) { return nil, nil }

func newTestExecutor(t *testing.T) *executor.Executor {
	t.Helper()
	store, err := cas.Open(filepath.Join(t.TempDir(), "cas"), nil)
	require.NoError(t, err)
	tc, err := cache.OpenTargetCache(filepath.Join(t.TempDir(), "t.db"), cache.DefaultPolicy(), store)
	require.NoError(t, err)
	ac, err := cache.OpenActionCache(filepath.Join(t.TempDir(), "a.db"), cache.DefaultPolicy(), store)
	require.NoError(t, err)
	coord := coordinator.New(store, tc, ac, nil, nil, nil)
	return executor.New(coord, store, sandbox.NoopBackend{}, executor.DefaultRetryPolicy(), 4, nil, nil)
}

func buildDAG(t *testing.T, targets []*graph.Target) *graph.DAG {
	t.Helper()
	dag, err := graph.Build(targets, noSources)
	require.NoError(t, err)
	return dag
}

func runCtx(t *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func TestRunAllTargetsSucceed(t *testing.T) {
	targets := []*graph.Target{
		{Label: "//a:a", Type: graph.Library},
		{Label: "//b:b", Type: graph.Library, Deps: []graph.Label{"//a:a"}},
	}
	dag := buildDAG(t, targets)

	r := New(newTestExecutor(t), fakeLowerer{}, noSources, DefaultOptions(2), nil)
	ctx, cancel := runCtx(t)
	defer cancel()

	results, err := r.Run(ctx, dag)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		require.Equal(t, graph.Succeeded, res.Status, res.Label)
	}
}

func TestRunAbortsAndSkipsDependentsOnFailure(t *testing.T) {
	targets := []*graph.Target{
		{Label: "//a:a", Type: graph.Library},
		{Label: "//b:b", Type: graph.Library, Deps: []graph.Label{"//a:a"}},
	}
	dag := buildDAG(t, targets)

	lowerer := fakeLowerer{commands: map[graph.Label][]string{
		"//a:a": {"sh", "-c", "exit 1"},
	}}
	r := New(newTestExecutor(t), lowerer, noSources, DefaultOptions(2), nil)
	ctx, cancel := runCtx(t)
	defer cancel()

	results, err := r.Run(ctx, dag)
	require.Error(t, err)

	byLabel := make(map[graph.Label]NodeResult, len(results))
	for _, res := range results {
		byLabel[res.Label] = res
	}
	require.Equal(t, graph.Failed, byLabel["//a:a"].Status)
	require.Equal(t, graph.Cancelled, byLabel["//b:b"].Status)
}

func TestRunKeepGoingSparesUnaffectedSiblings(t *testing.T) {
	targets := []*graph.Target{
		{Label: "//a:a", Type: graph.Library},
		{Label: "//b:b", Type: graph.Library, Deps: []graph.Label{"//a:a"}},
		{Label: "//c:c", Type: graph.Library},
	}
	dag := buildDAG(t, targets)

	lowerer := fakeLowerer{commands: map[graph.Label][]string{
		"//a:a": {"sh", "-c", "exit 1"},
	}}
	opts := DefaultOptions(3)
	opts.KeepGoing = true
	r := New(newTestExecutor(t), lowerer, noSources, opts, nil)
	ctx, cancel := runCtx(t)
	defer cancel()

	results, err := r.Run(ctx, dag)
	require.NoError(t, err)

	byLabel := make(map[graph.Label]NodeResult, len(results))
	for _, res := range results {
		byLabel[res.Label] = res
	}
	require.Equal(t, graph.Failed, byLabel["//a:a"].Status)
	require.Equal(t, graph.Cancelled, byLabel["//b:b"].Status)
	require.Equal(t, graph.Succeeded, byLabel["//c:c"].Status)
}
