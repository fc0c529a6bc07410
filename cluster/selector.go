package cluster

import (
	"sort"
	"sync"
)

// Strategy picks a candidate worker for one action's declared input digests
// from a pool of already-Healthy, already-not-blacklisted workers (spec
// §4.10: "round-robin, least-loaded, affinity, priority-weighted").
type Strategy interface {
	Select(candidates []*WorkerState, inputDigestHex []string) *WorkerState
}

// RoundRobin cycles through candidates in worker-ID order, remembering only
// the index of the next pick.
type RoundRobin struct {
	mu   sync.Mutex
	next int
}

func (s *RoundRobin) Select(candidates []*WorkerState, _ []string) *WorkerState {
	if len(candidates) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sortByID(candidates)
	w := candidates[s.next%len(candidates)]
	s.next++
	return w
}

// LeastLoaded picks the candidate with the fewest in-progress actions.
type LeastLoaded struct{}

func (LeastLoaded) Select(candidates []*WorkerState, _ []string) *WorkerState {
	return bestBy(candidates, func(w *WorkerState) float64 { return float64(w.Load()) }, true)
}

// Affinity prefers the candidate already holding the most of the action's
// declared input digests in its advertised cache, falling back to
// least-loaded among ties.
type Affinity struct{}

func (Affinity) Select(candidates []*WorkerState, inputDigestHex []string) *WorkerState {
	return bestBy(candidates, func(w *WorkerState) float64 {
		hits := 0
		for _, h := range inputDigestHex {
			if w.hasCachedInput(h) {
				hits++
			}
		}
		// bestBy minimizes, so negate to maximize hits; load/(load+1) stays
		// below 1, so it only breaks ties between equal hit counts.
		load := float64(w.Load())
		return -float64(hits) + load/(load+1)
	}, true)
}

// PriorityWeighted scores candidates by success rate minus load pressure,
// preferring a historically reliable, lightly loaded worker. Health adds no
// term to the score: every candidate passed in is already Healthy.
type PriorityWeighted struct{}

func (PriorityWeighted) Select(candidates []*WorkerState, _ []string) *WorkerState {
	return bestBy(candidates, func(w *WorkerState) float64 {
		return -(w.SuccessRate()*2 - float64(w.Load())*0.1)
	}, true)
}

func bestBy(candidates []*WorkerState, score func(*WorkerState) float64, tieBreakByID bool) *WorkerState {
	if len(candidates) == 0 {
		return nil
	}
	sortByID(candidates) // deterministic tie-break ordering before scoring
	best := candidates[0]
	bestScore := score(best)
	for _, w := range candidates[1:] {
		s := score(w)
		if s < bestScore {
			best, bestScore = w, s
		}
	}
	return best
}

func sortByID(ws []*WorkerState) {
	sort.Slice(ws, func(i, j int) bool { return ws[i].ID < ws[j].ID })
}
