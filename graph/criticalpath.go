package graph

// AssignCriticalPathHints tags every node with an upper bound on the
// remaining longest path to any root (spec §4.8). The scheduler uses this
// purely as a heuristic for initial enqueue order and steal tie-breaking —
// correctness never depends on it.
func (d *DAG) AssignCriticalPathHints() {
	memo := make(map[Label]int)
	var depth func(l Label) int
	depth = func(l Label) int {
		if v, ok := memo[l]; ok {
			return v
		}
		n := d.Get(l)
		best := 0
		for _, dependent := range n.DependentIDs {
			if v := depth(dependent) + 1; v > best {
				best = v
			}
		}
		memo[l] = best
		return best
	}
	for _, n := range d.Nodes() {
		n.CriticalPath = depth(n.Target.Label)
	}
}
