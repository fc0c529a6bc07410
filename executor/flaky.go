package executor

import "sync"

// FlakyConfidence is the Bayesian flakiness band a test-id is placed in
// (spec §4.9). Retry budget is the band's index plus one: {1,2,3,4,5}.
type FlakyConfidence int

const (
	FlakyNone FlakyConfidence = iota
	FlakyLow
	FlakyMedium
	FlakyHigh
	FlakyVeryHigh
)

// RetryBudget implements the {None,Low,Medium,High,VeryHigh} -> {1,2,3,4,5}
// mapping. The mapping is fixed: RetryPolicy has no setting that changes it
// and a caller cannot substitute another one.
func (c FlakyConfidence) RetryBudget() int { return int(c) + 1 }

// testStats is a Beta-Bernoulli posterior (Beta(1,1) prior, i.e. Laplace
// smoothing) over one test-id's pass/fail history: the simplest Bayesian
// estimator that gives a stable probability estimate from a handful of
// samples without needing a model library.
type testStats struct {
	runs     int
	failures int
}

// FlakyEstimator tracks a Bayesian flakiness estimate per test-id across a
// build (or longer, if the caller persists and reloads it — persistence is
// the caller's concern, not this package's).
type FlakyEstimator struct {
	mu    sync.Mutex
	stats map[string]*testStats
}

func NewFlakyEstimator() *FlakyEstimator {
	return &FlakyEstimator{stats: make(map[string]*testStats)}
}

// Record folds one more observed outcome for testID into its posterior.
// failed=true on a run that eventually failed before any retry succeeded is
// NOT what should be recorded here — record every individual attempt's
// outcome, so a test that fails once then passes on retry still contributes
// a failure data point to its flakiness estimate.
func (e *FlakyEstimator) Record(testID string, failed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.stats[testID]
	if !ok {
		s = &testStats{}
		e.stats[testID] = s
	}
	s.runs++
	if failed {
		s.failures++
	}
}

// Confidence returns the current flakiness band for testID. A test with no
// recorded failures (including one never seen before) is FlakyNone.
func (e *FlakyEstimator) Confidence(testID string) FlakyConfidence {
	e.mu.Lock()
	s, ok := e.stats[testID]
	e.mu.Unlock()
	if !ok || s.failures == 0 {
		return FlakyNone
	}

	// posterior mean failure probability under a Beta(1,1) prior
	p := float64(s.failures+1) / float64(s.runs+2)
	switch {
	case p < 0.05:
		return FlakyLow
	case p < 0.15:
		return FlakyMedium
	case p < 0.35:
		return FlakyHigh
	default:
		return FlakyVeryHigh
	}
}

// RetryBudget is a convenience wrapper over Confidence(testID).RetryBudget().
func (e *FlakyEstimator) RetryBudget(testID string) int {
	return e.Confidence(testID).RetryBudget()
}
