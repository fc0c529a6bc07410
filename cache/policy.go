package cache

import "time"

// Policy is the hybrid eviction policy's three knobs (spec §4.5).
type Policy struct {
	MaxAge     time.Duration
	MaxEntries int
	MaxSize    int64

	// FailedTTLFraction shrinks MaxAge for failed-action entries so they
	// expire sooner than successful ones (spec §4.5).
	FailedTTLFraction float64
}

// DefaultPolicy matches common defaults seen in the teacher's daemon config
// style: generous but bounded, favoring correctness (never silently grow
// unbounded) over aggressive eviction.
func DefaultPolicy() Policy {
	return Policy{
		MaxAge:            14 * 24 * time.Hour,
		MaxEntries:        100_000,
		MaxSize:           10 << 30, // 10 GiB
		FailedTTLFraction: 0.1,
	}
}

func (p Policy) failedMaxAge() time.Duration {
	if p.FailedTTLFraction <= 0 {
		return p.MaxAge
	}
	return time.Duration(float64(p.MaxAge) * p.FailedTTLFraction)
}
