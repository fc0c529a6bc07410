// Package cluster implements C11, the optional distributed coordinator:
// a gossip-backed worker registry with an explicit health state machine,
// backoff-blacklisting of failed workers, a FIFO in-progress-action
// reassignment queue, pluggable candidate-selection strategies, and a
// gRPC wire contract workers use to accept dispatched actions (spec §4.10).
package cluster

import "time"

// Health is the worker lifecycle state machine (spec §4.10): heartbeats
// keep a worker Healthy; missed heartbeats drop it through Degraded,
// Failing, and finally Failed, at which point its in-progress actions are
// reassigned; a worker that resumes heartbeating recovers through
// Recovering back to Healthy.
type Health int

const (
	Healthy Health = iota
	Degraded
	Failing
	Failed
	Recovering
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Failing:
		return "failing"
	case Failed:
		return "failed"
	case Recovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// HealthThresholds configures how long a worker can go unheartbeated before
// each downgrade, and how many consecutive heartbeats a Recovering worker
// needs before it is trusted as Healthy again.
type HealthThresholds struct {
	DegradedAfter       time.Duration
	FailingAfter        time.Duration
	FailedAfter         time.Duration
	RecoveryHeartbeats  int
}

func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		DegradedAfter:      5 * time.Second,
		FailingAfter:       15 * time.Second,
		FailedAfter:        30 * time.Second,
		RecoveryHeartbeats: 3,
	}
}

// nextHealth computes the state transition given the elapsed time since the
// last heartbeat and the current state. A Degraded, Failing or Failed worker
// that is heartbeating again moves to Recovering, never straight to Healthy.
// Registry.Sweep does not call it for a Recovering worker: promotion from
// Recovering to Healthy happens in Registry.Heartbeat once
// RecoveryHeartbeats consecutive heartbeats (WorkerState.recoveryCount)
// have landed.
func (t HealthThresholds) nextHealth(current Health, sinceHeartbeat time.Duration) Health {
	if sinceHeartbeat < t.DegradedAfter {
		if current == Failed || current == Failing || current == Degraded {
			return Recovering
		}
		return Healthy
	}
	switch {
	case sinceHeartbeat >= t.FailedAfter:
		return Failed
	case sinceHeartbeat >= t.FailingAfter:
		return Failing
	default:
		return Degraded
	}
}
