package graph

import (
	"fmt"
	"sync"

	"github.com/buildforge/engine/digest"
	"github.com/buildforge/engine/errdefs"
)

// CycleError is returned when Build detects a directed cycle (spec
// invariant 5, scenario S4).
type CycleError struct {
	Path []Label
}

func (e *CycleError) Error() string {
	s := "cycle detected: "
	for i, l := range e.Path {
		if i > 0 {
			s += " -> "
		}
		s += string(l)
	}
	return s
}

// UnresolvedDependencyError is returned when a target declares a dependency
// label that no emitted target has.
type UnresolvedDependencyError struct {
	From, Missing Label
}

func (e *UnresolvedDependencyError) Error() string {
	return fmt.Sprintf("unresolved dependency: %s depends on unknown target %s", e.From, e.Missing)
}

// DuplicateLabelError is returned when two declared targets share a label.
type DuplicateLabelError struct {
	Label Label
}

func (e *DuplicateLabelError) Error() string {
	return fmt.Sprintf("duplicate target label: %s", e.Label)
}

// SourceDigestFunc resolves a target's declared source paths to content
// digests; supplied by the caller since file analysis (C3) lives in a
// separate package and graph construction must not import it (it would
// create an import cycle the other direction, since the analyzer never
// needs the graph).
type SourceDigestFunc func(t *Target) ([]digest.Digest, error)

// DAG is the target/action graph.
type DAG struct {
	mu    sync.RWMutex
	nodes map[Label]*Node
}

// Build constructs a DAG from a flat list of declared targets: resolves
// dependency labels, computes preliminary target fingerprints, and runs
// cycle detection before returning. A non-nil *CycleError or
// *UnresolvedDependencyError means the caller must not dispatch anything
// (spec §4.4, invariant 5).
func Build(targets []*Target, srcDigests SourceDigestFunc) (*DAG, error) {
	d := &DAG{nodes: make(map[Label]*Node, len(targets))}

	for _, t := range targets {
		if _, exists := d.nodes[t.Label]; exists {
			return nil, errdefs.AsGraph(&DuplicateLabelError{Label: t.Label})
		}
		d.nodes[t.Label] = newNode(t)
	}

	// resolve edges
	for _, t := range targets {
		n := d.nodes[t.Label]
		for _, depLabel := range t.Deps {
			dep, ok := d.nodes[depLabel]
			if !ok {
				return nil, errdefs.AsGraph(&UnresolvedDependencyError{From: t.Label, Missing: depLabel})
			}
			if depLabel == t.Label {
				return nil, errdefs.AsGraph(fmt.Errorf("self-edge forbidden: %s", t.Label))
			}
			n.DependencyIDs = append(n.DependencyIDs, depLabel)
			dep.DependentIDs = append(dep.DependentIDs, t.Label)
		}
		n.pendingDeps.Store(int32(len(n.DependencyIDs)))
	}

	if cyclePath, ok := d.detectCycle(); !ok {
		return nil, errdefs.AsGraph(&CycleError{Path: cyclePath})
	}

	// compute fingerprints in topological order now that edges exist
	if err := d.computeFingerprints(srcDigests); err != nil {
		return nil, err
	}

	return d, nil
}

// computeFingerprints walks the DAG bottom-up (leaves first) so each node's
// fingerprint can fold in its already-computed dependency fingerprints.
func (d *DAG) computeFingerprints(srcDigests SourceDigestFunc) error {
	order, _ := d.topoOrder() // cycle already ruled out by Build
	for _, label := range order {
		n := d.nodes[label]
		srcs, err := srcDigests(n.Target)
		if err != nil {
			return errdefs.AsParseAnalysis(err)
		}
		depFps := make([]digest.Digest, 0, len(n.DependencyIDs))
		for _, depLabel := range n.DependencyIDs {
			depFps = append(depFps, d.nodes[depLabel].Fingerprint)
		}
		n.Fingerprint = n.Target.Fingerprint(srcs, depFps)
	}
	return nil
}

// topoOrder returns nodes ordered so every dependency precedes its
// dependents (Kahn's algorithm). Returns ok=false if a cycle remains —
// callers that already ran detectCycle can ignore that return.
func (d *DAG) topoOrder() ([]Label, bool) {
	indeg := make(map[Label]int, len(d.nodes))
	for label, n := range d.nodes {
		indeg[label] = len(n.DependencyIDs)
	}
	var queue []Label
	for label, deg := range indeg {
		if deg == 0 {
			queue = append(queue, label)
		}
	}
	var order []Label
	for len(queue) > 0 {
		l := queue[0]
		queue = queue[1:]
		order = append(order, l)
		for _, dependent := range d.nodes[l].DependentIDs {
			indeg[dependent]--
			if indeg[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}
	return order, len(order) == len(d.nodes)
}

// detectCycle runs DFS-based cycle detection over the whole graph before any
// action is dispatched (spec §4.4, invariant 5). Returns (nil, true) if
// acyclic, or (cyclePath, false) naming one discovered cycle.
func (d *DAG) detectCycle() ([]Label, bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[Label]int, len(d.nodes))
	var stack []Label

	var visit func(l Label) []Label
	visit = func(l Label) []Label {
		color[l] = gray
		stack = append(stack, l)
		for _, dep := range d.nodes[l].DependencyIDs {
			switch color[dep] {
			case white:
				if cyc := visit(dep); cyc != nil {
					return cyc
				}
			case gray:
				// found the back-edge; extract the cycle portion of stack
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				cyc := append([]Label{}, stack[start:]...)
				cyc = append(cyc, dep)
				return cyc
			}
		}
		stack = stack[:len(stack)-1]
		color[l] = black
		return nil
	}

	for label := range d.nodes {
		if color[label] == white {
			if cyc := visit(label); cyc != nil {
				return cyc, false
			}
		}
	}
	return nil, true
}

// Get returns the node for label, or nil if none exists.
func (d *DAG) Get(label Label) *Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.nodes[label]
}

// Nodes returns every node in the graph. The returned slice is a snapshot;
// the underlying nodes are still live and mutable.
func (d *DAG) Nodes() []*Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Node, 0, len(d.nodes))
	for _, n := range d.nodes {
		out = append(out, n)
	}
	return out
}

// Roots returns nodes with zero dependents (spec §4.4).
func (d *DAG) Roots() []*Node {
	var out []*Node
	for _, n := range d.Nodes() {
		if len(n.DependentIDs) == 0 {
			out = append(out, n)
		}
	}
	return out
}

// Leaves returns nodes with zero dependencies.
func (d *DAG) Leaves() []*Node {
	var out []*Node
	for _, n := range d.Nodes() {
		if len(n.DependencyIDs) == 0 {
			out = append(out, n)
		}
	}
	return out
}

// InitialReady returns every node whose dependency count is already zero —
// the initial ready set a scheduler should enqueue before any completion
// event fires.
func (d *DAG) InitialReady() []*Node {
	var out []*Node
	for _, n := range d.Leaves() {
		if n.CompareAndSwapStatus(Pending, Ready) {
			out = append(out, n)
		}
	}
	return out
}

// CompleteDependency is called by the owning worker when label's node
// finishes successfully (Succeeded or SkippedCached). It decrements every
// dependent's pending-deps counter and returns the set of dependents that
// just became Ready (spec §4.4: "on reaching zero the node transitions
// Pending -> Ready and is enqueued").
func (d *DAG) CompleteDependency(label Label) []*Node {
	n := d.Get(label)
	if n == nil || !n.Status().terminalSuccess() {
		return nil
	}
	var readied []*Node
	for _, depLabel := range n.DependentIDs {
		dependent := d.Get(depLabel)
		if dependent.pendingDeps.Add(-1) == 0 {
			if dependent.CompareAndSwapStatus(Pending, Ready) {
				readied = append(readied, dependent)
			}
		}
	}
	return readied
}

// FailDependents marks every transitive dependent of label that is still
// Pending or Ready as Cancelled and returns those nodes. It walks only
// DependentIDs edges, so siblings with no path through the failure are never
// touched; it behaves the same whether or not the build runs keep-going.
func (d *DAG) FailDependents(label Label) []*Node {
	var skipped []*Node
	visited := make(map[Label]bool)
	var walk func(l Label)
	walk = func(l Label) {
		n := d.Get(l)
		if n == nil {
			return
		}
		for _, depLabel := range n.DependentIDs {
			if visited[depLabel] {
				continue
			}
			visited[depLabel] = true
			dependent := d.Get(depLabel)
			if dependent.Status() == Pending || dependent.Status() == Ready {
				if dependent.CompareAndSwapStatus(dependent.Status(), Cancelled) {
					skipped = append(skipped, dependent)
				}
			}
			walk(depLabel)
		}
	}
	walk(label)
	return skipped
}
