package cache

import (
	"encoding/binary"

	"github.com/buildforge/engine/cas"
	"github.com/buildforge/engine/digest"
)

var targetBucket = []byte("targets")

// TargetCache is C5: fingerprint(Target) -> recorded output digest.
type TargetCache struct {
	e *engine
}

// OpenTargetCache opens (creating if absent) the target cache database at
// path, validating lookups against store's CAS contents.
func OpenTargetCache(path string, policy Policy, store *cas.Store) (*TargetCache, error) {
	e, err := openEngine(path, targetBucket, policy, store)
	if err != nil {
		return nil, err
	}
	return &TargetCache{e: e}, nil
}

func (c *TargetCache) Close() error { return c.e.close() }

// Lookup returns the recorded entry for fingerprint if present and its
// output is still backed by a live CAS blob (spec §4.5 validation).
func (c *TargetCache) Lookup(fingerprint digest.Digest) (TargetEntry, bool) {
	rec, ok := c.e.lookup(fingerprint, func(payload []byte) bool {
		entry, err := decodeTargetPayload(payload)
		if err != nil {
			return false
		}
		return c.e.store.Has(entry.OutputDigest)
	})
	if !ok {
		return TargetEntry{}, false
	}
	entry, err := decodeTargetPayload(rec.payload)
	if err != nil {
		return TargetEntry{}, false
	}
	return entry, true
}

func (c *TargetCache) IsCached(fingerprint digest.Digest) bool {
	_, ok := c.Lookup(fingerprint)
	return ok
}

// Update records entry under its own fingerprint.
func (c *TargetCache) Update(entry TargetEntry) error {
	rec := record{
		schema:    schemaVersion,
		fp:        entry.Fingerprint,
		createdAt: entry.Timestamp,
		size:      entry.Size,
		payload:   encodeTargetPayload(entry),
	}
	return c.e.update(entry.Fingerprint, rec)
}

func (c *TargetCache) Invalidate(fingerprint digest.Digest) error { return c.e.invalidate(fingerprint) }
func (c *TargetCache) Clear() error                               { return c.e.clear() }
func (c *TargetCache) Flush() error                               { return c.e.flush() }

// LiveDigests implements cas.LiveSet: every output digest this cache
// currently references is a GC root.
func (c *TargetCache) LiveDigests() []digest.Digest {
	records := c.e.allRecords()
	out := make([]digest.Digest, 0, len(records))
	for _, r := range records {
		entry, err := decodeTargetPayload(r.payload)
		if err != nil {
			continue
		}
		out = append(out, entry.OutputDigest)
	}
	return out
}

// EncodeTargetEntry/DecodeTargetEntry expose the payload codec for callers
// outside this package (the coordinator, to mirror entries to C7 under the
// same fingerprint key).
func EncodeTargetEntry(e TargetEntry) []byte { return encodeTargetPayload(e) }

func DecodeTargetEntry(b []byte) (TargetEntry, error) { return decodeTargetPayload(b) }

func encodeTargetPayload(e TargetEntry) []byte {
	buf := make([]byte, digest.Size+8)
	copy(buf[:digest.Size], e.OutputDigest.Bytes())
	binary.BigEndian.PutUint64(buf[digest.Size:], uint64(e.Timestamp.UnixNano()))
	return buf
}

func decodeTargetPayload(b []byte) (TargetEntry, error) {
	if len(b) < digest.Size+8 {
		return TargetEntry{}, errShortRecord
	}
	out, err := digest.FromRawBytes(b[:digest.Size])
	if err != nil {
		return TargetEntry{}, err
	}
	ts := nanoToTime(int64(binary.BigEndian.Uint64(b[digest.Size:])))
	return TargetEntry{OutputDigest: out, Timestamp: ts}, nil
}
