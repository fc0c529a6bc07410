// Package runner is the build-wide driving loop: it walks a graph.DAG,
// lowers each ready target into actions, dispatches them through the
// work-stealing scheduler (C9), executes them (C10), and propagates
// completion/failure back into the graph so dependents become ready or get
// skipped (spec §4.4/§4.8 wired together — this package is the composition
// the rest of C1-C11 is built to support, not a named component itself).
package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buildforge/engine/executor"
	"github.com/buildforge/engine/graph"
	"github.com/buildforge/engine/sched"
)

// Options configures one Run call.
type Options struct {
	NumWorkers         int
	NumPriorityClasses int
	DequeCapacity      int
	KeepGoing          bool
	DefaultTimeout     time.Duration
}

func DefaultOptions(numWorkers int) Options {
	return Options{
		NumWorkers:         numWorkers,
		NumPriorityClasses: 3,
		DequeCapacity:      256,
		KeepGoing:          false,
		DefaultTimeout:     10 * time.Minute,
	}
}

// NodeResult is the terminal outcome for one target.
type NodeResult struct {
	Label  graph.Label
	Status graph.Status
	Err    error
}

// Runner drives one build-wide pass over a DAG.
type Runner struct {
	exec        *executor.Executor
	lowerer     graph.Lowerer
	srcDigestFn graph.SourceDigestFunc
	opts        Options
	log         logrus.FieldLogger
}

// New builds a Runner. Per-action progress is already observable through
// bus (executor.Execute publishes ActionStart/ActionComplete on the bus it
// was given); Runner only adds the log lines a build-level caller wants.
func New(exec *executor.Executor, lowerer graph.Lowerer, srcDigestFn graph.SourceDigestFunc, opts Options, log logrus.FieldLogger) *Runner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{exec: exec, lowerer: lowerer, srcDigestFn: srcDigestFn, opts: opts, log: log}
}

type nodeJob struct {
	node *graph.Node
}

func (j nodeJob) Key() string { return string(j.node.Target.Label) }

func (j nodeJob) PriorityClass() int {
	if j.node.Target.Type == graph.Test {
		return 2
	}
	return 1
}

func (j nodeJob) CriticalPathHint() int { return j.node.CriticalPath }

// Run executes every target in dag to completion (or until a failure
// aborts the run, when KeepGoing is false), returning one NodeResult per
// target, including targets skipped due to a failed dependency.
func (r *Runner) Run(ctx context.Context, dag *graph.DAG) ([]NodeResult, error) {
	dag.AssignCriticalPathHints()

	nodes := dag.Nodes()
	var (
		mu      sync.Mutex
		results = make(map[graph.Label]NodeResult, len(nodes))
		wg      sync.WaitGroup
		aborted atomic.Bool
	)
	wg.Add(len(nodes))

	record := func(res NodeResult) {
		mu.Lock()
		if _, already := results[res.Label]; !already {
			results[res.Label] = res
			wg.Done()
		}
		mu.Unlock()
	}

	var sc *sched.Scheduler
	var token sched.Token

	dispatch := func(_ int, j sched.Job) error {
		n := j.(nodeJob).node
		r.runNode(ctx, dag, n, token, record, sc, &aborted)
		return nil
	}
	sc = sched.New(r.opts.NumWorkers, r.opts.NumPriorityClasses, r.opts.DequeCapacity, dispatch)
	token = sc.Token()
	sc.Start()

	initial := dag.InitialReady()
	jobs := make([]sched.Job, 0, len(initial))
	for _, n := range initial {
		jobs = append(jobs, nodeJob{node: n})
	}
	sc.SubmitBatch(jobs)

	wg.Wait()
	sc.Stop()

	out := make([]NodeResult, 0, len(results))
	for _, n := range nodes {
		if res, ok := results[n.Target.Label]; ok {
			out = append(out, res)
		}
	}
	if aborted.Load() {
		return out, errAborted
	}
	return out, nil
}

func (r *Runner) runNode(ctx context.Context, dag *graph.DAG, n *graph.Node, token sched.Token, record func(NodeResult), sc *sched.Scheduler, aborted *atomic.Bool) {
	if !n.CompareAndSwapStatus(graph.Ready, graph.Running) {
		return
	}
	if token.Cancelled() {
		n.CompareAndSwapStatus(graph.Running, graph.Cancelled)
		record(NodeResult{Label: n.Target.Label, Status: graph.Cancelled})
		return
	}

	srcDigests, err := r.srcDigestFn(n.Target)
	if err != nil {
		n.CompareAndSwapStatus(graph.Running, graph.Failed)
		r.onFailure(dag, n, err, record, sc, aborted)
		return
	}

	actions, err := r.lowerer.Lower(n, srcDigests)
	if err != nil {
		n.CompareAndSwapStatus(graph.Running, graph.Failed)
		r.onFailure(dag, n, err, record, sc, aborted)
		return
	}

	for _, action := range actions {
		if token.Cancelled() {
			n.CompareAndSwapStatus(graph.Running, graph.Cancelled)
			record(NodeResult{Label: n.Target.Label, Status: graph.Cancelled})
			return
		}

		timeout := r.opts.DefaultTimeout
		if action.Timeout > 0 {
			timeout = time.Duration(action.Timeout)
		}
		actionCtx, cancel := context.WithTimeout(ctx, timeout)
		res := r.exec.Execute(actionCtx, action)
		cancel()

		if res.Status == graph.Failed || res.Status == graph.Cancelled {
			n.CompareAndSwapStatus(graph.Running, res.Status)
			r.onFailure(dag, n, res.Err, record, sc, aborted)
			return
		}
	}

	n.CompareAndSwapStatus(graph.Running, graph.Succeeded)
	record(NodeResult{Label: n.Target.Label, Status: graph.Succeeded})

	readied := dag.CompleteDependency(n.Target.Label)
	if len(readied) == 0 {
		return
	}
	jobs := make([]sched.Job, 0, len(readied))
	for _, dep := range readied {
		jobs = append(jobs, nodeJob{node: dep})
	}
	sc.SubmitBatch(jobs)
}

func (r *Runner) onFailure(dag *graph.DAG, n *graph.Node, err error, record func(NodeResult), sc *sched.Scheduler, aborted *atomic.Bool) {
	record(NodeResult{Label: n.Target.Label, Status: n.Status(), Err: err})
	r.log.WithField("target", string(n.Target.Label)).WithError(err).Warn("runner: target did not succeed")

	skipped := dag.FailDependents(n.Target.Label)
	for _, s := range skipped {
		record(NodeResult{Label: s.Target.Label, Status: graph.Cancelled})
	}
	if len(skipped) > 0 {
		r.log.WithField("target", string(n.Target.Label)).WithField("skipped", len(skipped)).Info("runner: skipped dependents after failure")
	}

	if !r.opts.KeepGoing {
		aborted.Store(true)
		sc.Cancel()
		// Workers exit on Cancel, so targets that never started are
		// recorded as Cancelled here; otherwise Run would wait on them.
		for _, m := range dag.Nodes() {
			if m.CompareAndSwapStatus(graph.Ready, graph.Cancelled) || m.CompareAndSwapStatus(graph.Pending, graph.Cancelled) {
				record(NodeResult{Label: m.Target.Label, Status: graph.Cancelled})
			}
		}
	}
}

type runnerError string

func (e runnerError) Error() string { return string(e) }

const errAborted = runnerError("runner: build aborted after a failure (keep-going disabled)")
