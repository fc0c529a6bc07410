package cache

import (
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/buildforge/engine/cas"
	"github.com/buildforge/engine/digest"
	"github.com/buildforge/engine/errdefs"
)

// validator is supplied by TargetCache/ActionCache: given a decoded record's
// raw payload, it must report whether every output blob the entry names is
// still present in the CAS (spec §4.5 lookup validation, part b).
type validator func(payload []byte) bool

// engine is the shared bbolt-backed skeleton behind both C5 and C6. bbolt
// already gives single-writer/multi-reader transactions, satisfying spec
// §5's "one exclusive write lock per file; readers take a shared lock".
type engine struct {
	db     *bolt.DB
	bucket []byte
	policy Policy
	store  *cas.Store

	mu      sync.RWMutex
	access  map[digest.Digest]time.Time // LRU tracking, kept in memory for eviction ordering
}

type record struct {
	schema    byte
	fp        digest.Digest
	createdAt time.Time
	failed    bool
	size      int64
	payload   []byte
}

func openEngine(path string, bucket []byte, policy Policy, store *cas.Store) (*engine, error) {
	db, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, errdefs.WithContext(errdefs.AsIO(err), "cache.openEngine")
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		db.Close()
		return nil, errdefs.WithContext(errdefs.AsIO(err), "cache.openEngine.bucket")
	}
	e := &engine{db: db, bucket: bucket, policy: policy, store: store, access: make(map[digest.Digest]time.Time)}
	return e, nil
}

func (e *engine) close() error { return e.db.Close() }

// isCached takes the engine's shared (read) path.
func (e *engine) isCached(key digest.Digest, valid validator) bool {
	_, ok := e.lookup(key, valid)
	return ok
}

func (e *engine) lookup(key digest.Digest, valid validator) (record, bool) {
	var rec record
	var found bool
	_ = e.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(e.bucket).Get(key.Bytes())
		if raw == nil {
			return nil
		}
		r, err := decodeRecord(raw)
		if err != nil {
			return nil // corrupt entry: treated as miss
		}
		if !r.fp.Equal(key) || r.schema != schemaVersion {
			return nil
		}
		if valid != nil && !valid(r.payload) {
			return nil
		}
		if e.expired(r) {
			return nil
		}
		rec = r
		found = true
		return nil
	})
	if found {
		e.mu.Lock()
		e.access[key] = time.Now()
		e.mu.Unlock()
	} else {
		_ = e.invalidate(key) // evict anything that failed validation
	}
	return rec, found
}

func (e *engine) expired(r record) bool {
	maxAge := e.policy.MaxAge
	if r.failed {
		maxAge = e.policy.failedMaxAge()
	}
	if maxAge <= 0 {
		return false
	}
	return time.Since(r.createdAt) > maxAge
}

// update takes the engine's exclusive path (bbolt's single-writer Tx).
func (e *engine) update(key digest.Digest, rec record) error {
	raw := encodeRecord(rec)
	if err := e.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(e.bucket).Put(key.Bytes(), raw)
	}); err != nil {
		return errdefs.WithContext(errdefs.AsIO(err), "cache.engine.update")
	}
	e.mu.Lock()
	e.access[key] = time.Now()
	e.mu.Unlock()
	e.enforcePolicy()
	return nil
}

func (e *engine) invalidate(key digest.Digest) error {
	e.mu.Lock()
	delete(e.access, key)
	e.mu.Unlock()
	return e.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(e.bucket).Delete(key.Bytes())
	})
}

func (e *engine) clear() error {
	e.mu.Lock()
	e.access = make(map[digest.Digest]time.Time)
	e.mu.Unlock()
	return e.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(e.bucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(e.bucket)
		return err
	})
}

func (e *engine) flush() error { return e.db.Sync() }

// allRecords enumerates every stored record (used for eviction sweeps and
// LiveDigests computation by the wrapping TargetCache/ActionCache).
func (e *engine) allRecords() map[digest.Digest]record {
	out := make(map[digest.Digest]record)
	_ = e.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(e.bucket).ForEach(func(k, v []byte) error {
			d, err := digest.FromRawBytes(k)
			if err != nil {
				return nil
			}
			r, err := decodeRecord(v)
			if err != nil {
				return nil
			}
			out[d] = r
			return nil
		})
	})
	return out
}

// enforcePolicy applies the §4.5 hybrid eviction: expired-by-age first, then
// LRU for count/size overflow.
func (e *engine) enforcePolicy() {
	records := e.allRecords()

	// phase 1: age-based expiry
	for d, r := range records {
		if e.expired(r) {
			_ = e.invalidate(d)
			delete(records, d)
		}
	}

	if e.policy.MaxEntries <= 0 && e.policy.MaxSize <= 0 {
		return
	}

	type withAccess struct {
		d    digest.Digest
		last time.Time
		size int64
	}
	e.mu.RLock()
	ordered := make([]withAccess, 0, len(records))
	var totalSize int64
	for d, r := range records {
		last := e.access[d]
		if last.IsZero() {
			last = r.createdAt
		}
		ordered = append(ordered, withAccess{d: d, last: last, size: r.size})
		totalSize += r.size
	}
	e.mu.RUnlock()

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].last.Before(ordered[j].last) })

	i := 0
	for (e.policy.MaxEntries > 0 && len(ordered)-i > e.policy.MaxEntries) ||
		(e.policy.MaxSize > 0 && totalSize > e.policy.MaxSize) {
		if i >= len(ordered) {
			break
		}
		_ = e.invalidate(ordered[i].d)
		totalSize -= ordered[i].size
		i++
	}
}
