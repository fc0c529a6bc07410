package executor

import "github.com/buildforge/engine/graph"

// actionJob adapts one graph.Action, plus the target node it was lowered
// from (for the critical-path hint), to sched.Job so the scheduler package
// never needs to import graph (spec §4.8's dispatch function is decoupled
// from the concrete action type by design).
type actionJob struct {
	action *graph.Action
	node   *graph.Node
}

func newActionJob(action *graph.Action, node *graph.Node) actionJob {
	return actionJob{action: action, node: node}
}

func (j actionJob) Key() string { return j.action.ID.String() }

func (j actionJob) PriorityClass() int { return j.action.Priority }

func (j actionJob) CriticalPathHint() int { return j.node.CriticalPath }
