// Package cache implements C5 (target cache) and C6 (action cache): the two
// fingerprint-keyed result caches backed by the CAS (package cas). Both
// share the same skeleton (spec §3 CacheEntry) and the same hybrid eviction
// policy (spec §4.5); TargetCache and ActionCache are thin, type-specific
// wrappers over the shared bbolt-backed engine in engine.go.
package cache

import (
	"time"

	"github.com/buildforge/engine/digest"
)

const schemaVersion = 1

// TargetEntry maps a target fingerprint to its recorded output (spec §3).
type TargetEntry struct {
	Fingerprint digest.Digest
	OutputDigest digest.Digest
	Timestamp   time.Time
	Size        int64
}

// ActionEntry maps an action fingerprint to its recorded result (spec §3).
type ActionEntry struct {
	Fingerprint   digest.Digest
	OutputDigests []digest.Digest
	StdoutDigest  digest.Digest
	StderrDigest  digest.Digest
	ExitCode      int
	Duration      time.Duration
	Failed        bool // failed-action entries expire faster, per spec §4.5
	Timestamp     time.Time
}
