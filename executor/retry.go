package executor

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/buildforge/engine/errdefs"
)

// categoryPolicy holds the backoff knobs for one error category (spec §4.9:
// "initial, multiplier, max-delay, jitter are configurable per category").
type categoryPolicy struct {
	maxAttempts int
	initial     time.Duration
	multiplier  float64
	maxDelay    time.Duration
	jitter      float64
}

// RetryPolicy maps an error category to its retry budget and backoff shape.
// Categories absent from perCategory never retry (build/parse/analysis, per
// spec §4.9).
type RetryPolicy struct {
	perCategory map[errdefs.Category]categoryPolicy
}

// DefaultRetryPolicy implements the exact budgets spec §4.9 names: 5
// attempts for system/network errors, 3 for cache errors, 3 for I/O, zero
// (no entry, so MaxAttempts below returns 0) for build/parse/analysis.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{perCategory: map[errdefs.Category]categoryPolicy{
		errdefs.SystemProcess: {maxAttempts: 5, initial: 200 * time.Millisecond, multiplier: 2, maxDelay: 10 * time.Second, jitter: 0.2},
		errdefs.Remote:        {maxAttempts: 5, initial: 200 * time.Millisecond, multiplier: 2, maxDelay: 10 * time.Second, jitter: 0.2},
		errdefs.Cache:         {maxAttempts: 3, initial: 100 * time.Millisecond, multiplier: 2, maxDelay: 2 * time.Second, jitter: 0.2},
		errdefs.IO:            {maxAttempts: 3, initial: 100 * time.Millisecond, multiplier: 2, maxDelay: 2 * time.Second, jitter: 0.2},
	}}
}

// MaxAttempts returns the total attempt budget (including the first,
// non-retry attempt) for an error of the given category. Zero means never
// retry.
func (p RetryPolicy) MaxAttempts(cat errdefs.Category) int {
	return p.perCategory[cat].maxAttempts
}

// nextBackOff returns the delay before the given retry attempt (1-indexed:
// attempt 1 is the first retry after the initial try), built fresh each
// call since backoff.ExponentialBackOff is stateful and this package needs
// a deterministic attempt->delay mapping rather than a running iterator.
func (p RetryPolicy) nextBackOff(cat errdefs.Category, attempt int) time.Duration {
	cp, ok := p.perCategory[cat]
	if !ok {
		return 0
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cp.initial
	b.Multiplier = cp.multiplier
	b.MaxInterval = cp.maxDelay
	b.RandomizationFactor = cp.jitter
	b.MaxElapsedTime = 0 // this package enforces the attempt cap itself
	b.Reset()            // NewExponentialBackOff already reset to its own 500ms default

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d > cp.maxDelay {
		d = cp.maxDelay
	}
	return d
}
