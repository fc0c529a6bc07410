package cluster

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Blacklist tracks per-worker exponential backoff after a failure (spec
// §4.10: "blacklisted with exponential backoff, initial 5s, capped at
// 5 min"). A fresh backoff.ExponentialBackOff is kept per worker so repeated
// failures keep growing that worker's specific delay instead of resetting.
type Blacklist struct {
	mu      sync.Mutex
	entries map[string]*blacklistEntry
}

type blacklistEntry struct {
	backoff   *backoff.ExponentialBackOff
	retryAt   time.Time
}

func NewBlacklist() *Blacklist {
	return &Blacklist{entries: make(map[string]*blacklistEntry)}
}

func newEntryBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Second
	b.MaxInterval = 5 * time.Minute
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset() // NewExponentialBackOff already reset to its own 500ms default
	return b
}

// Mark blacklists workerID, pushing its next eligible retry time further out
// than the previous mark (exponential growth per repeated failure).
func (bl *Blacklist) Mark(workerID string) {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	e, ok := bl.entries[workerID]
	if !ok {
		e = &blacklistEntry{backoff: newEntryBackoff()}
		bl.entries[workerID] = e
	}
	e.retryAt = time.Now().Add(e.backoff.NextBackOff())
}

// Blacklisted reports whether workerID is still within its backoff window.
func (bl *Blacklist) Blacklisted(workerID string) bool {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	e, ok := bl.entries[workerID]
	if !ok {
		return false
	}
	return time.Now().Before(e.retryAt)
}

// Clear resets workerID's backoff entirely, used once it has proven healthy
// again (spec §4.10's Recovering -> Healthy transition).
func (bl *Blacklist) Clear(workerID string) {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	delete(bl.entries, workerID)
}
