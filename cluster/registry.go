package cluster

import (
	"sync"
	"time"
)

// Capabilities advertises what a worker can run (spec §4.10), used by the
// affinity and priority-weighted selection strategies.
type Capabilities struct {
	Platforms    []string
	MaxParallel  int
	CachedInputs map[string]bool // digest hex -> present, best-effort/advisory
}

// WorkerState is the registry's view of one remote worker.
type WorkerState struct {
	ID           string
	Capabilities Capabilities

	mu             sync.Mutex
	health         Health
	load           int
	lastHeartbeat  time.Time
	recoveryCount  int
	successes      int
	failures       int
	inProgress     map[string]bool // action keys currently assigned here
}

func newWorkerState(id string, caps Capabilities) *WorkerState {
	return &WorkerState{
		ID:            id,
		Capabilities:  caps,
		health:        Healthy,
		lastHeartbeat: time.Now(),
		inProgress:    make(map[string]bool),
	}
}

func (w *WorkerState) Health() Health {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.health
}

func (w *WorkerState) Load() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.load
}

// SuccessRate is the historical success fraction used by the
// priority-weighted selection strategy; a worker with no completed actions
// yet is optimistically scored at 1.0 so it isn't starved of its first task.
func (w *WorkerState) SuccessRate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	total := w.successes + w.failures
	if total == 0 {
		return 1.0
	}
	return float64(w.successes) / float64(total)
}

func (w *WorkerState) hasCachedInput(digestHex string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Capabilities.CachedInputs[digestHex]
}

// Registry tracks every known worker's capabilities, health, and load
// (spec §4.10: "{worker-id -> capabilities, health, load, in-progress
// actions}"). All operations are short and mutex-guarded, matching spec §5's
// "Worker registry — guarded by a mutex; operations are short."
type Registry struct {
	thresholds HealthThresholds

	mu      sync.Mutex
	workers map[string]*WorkerState
}

func NewRegistry(thresholds HealthThresholds) *Registry {
	return &Registry{thresholds: thresholds, workers: make(map[string]*WorkerState)}
}

// Heartbeat records a liveness signal from workerID, registering it if
// unseen, and promotes it out of Degraded/Failing/Recovering once enough
// consecutive heartbeats have landed.
func (r *Registry) Heartbeat(workerID string, caps Capabilities, load int) {
	r.mu.Lock()
	w, ok := r.workers[workerID]
	if !ok {
		w = newWorkerState(workerID, caps)
		r.workers[workerID] = w
	}
	r.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.Capabilities = caps
	w.load = load
	w.lastHeartbeat = time.Now()
	if w.health == Recovering {
		w.recoveryCount++
		if w.recoveryCount >= r.thresholds.RecoveryHeartbeats {
			w.health = Healthy
			w.recoveryCount = 0
		}
	} else if w.health != Healthy {
		w.health = Recovering
		w.recoveryCount = 1
	}
}

// Sweep re-evaluates every worker's health against elapsed time since its
// last heartbeat, returning the set of workers that just transitioned into
// Failed on this call (the caller should reassign their in-progress actions
// and blacklist them).
func (r *Registry) Sweep() []string {
	r.mu.Lock()
	all := make([]*WorkerState, 0, len(r.workers))
	for _, w := range r.workers {
		all = append(all, w)
	}
	r.mu.Unlock()

	var newlyFailed []string
	now := time.Now()
	for _, w := range all {
		w.mu.Lock()
		since := now.Sub(w.lastHeartbeat)
		prev := w.health
		if prev != Recovering {
			w.health = r.thresholds.nextHealth(prev, since)
		} else if since >= r.thresholds.FailedAfter {
			// a worker stuck mid-recovery that stops heartbeating again
			// falls straight back to Failed rather than lingering.
			w.health = Failed
		}
		if prev != Failed && w.health == Failed {
			newlyFailed = append(newlyFailed, w.ID)
		}
		w.mu.Unlock()
	}
	return newlyFailed
}

// Get returns the worker state for id, or nil.
func (r *Registry) Get(id string) *WorkerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workers[id]
}

// Healthy returns every worker currently in the Healthy state, the only
// state eligible for new dispatch.
func (r *Registry) Healthy() []*WorkerState {
	r.mu.Lock()
	all := make([]*WorkerState, 0, len(r.workers))
	for _, w := range r.workers {
		all = append(all, w)
	}
	r.mu.Unlock()

	out := all[:0]
	for _, w := range all {
		if w.Health() == Healthy {
			out = append(out, w)
		}
	}
	return out
}

// AssignAction records that workerID now owns actionKey.
func (r *Registry) AssignAction(workerID, actionKey string) {
	w := r.Get(workerID)
	if w == nil {
		return
	}
	w.mu.Lock()
	w.inProgress[actionKey] = true
	w.load++
	w.mu.Unlock()
}

// CompleteAction records actionKey's outcome against workerID's history and
// removes it from the in-progress set.
func (r *Registry) CompleteAction(workerID, actionKey string, succeeded bool) {
	w := r.Get(workerID)
	if w == nil {
		return
	}
	w.mu.Lock()
	delete(w.inProgress, actionKey)
	if w.load > 0 {
		w.load--
	}
	if succeeded {
		w.successes++
	} else {
		w.failures++
	}
	w.mu.Unlock()
}

// DrainInProgress returns and clears every action key assigned to workerID,
// for reassignment when it is declared Failed.
func (r *Registry) DrainInProgress(workerID string) []string {
	w := r.Get(workerID)
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.inProgress))
	for k := range w.inProgress {
		out = append(out, k)
	}
	w.inProgress = make(map[string]bool)
	w.load = 0
	return out
}
