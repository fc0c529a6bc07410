package cache

import (
	"encoding/binary"
	"time"

	"github.com/buildforge/engine/cas"
	"github.com/buildforge/engine/digest"
)

var actionBucket = []byte("actions")

// ActionCache is C6: fingerprint(Action) -> recorded result, including
// stdout/stderr blobs and every declared output. Failed-action entries are
// still cached (spec §4.5) but expire on the policy's shorter failed TTL.
type ActionCache struct {
	e *engine
}

func OpenActionCache(path string, policy Policy, store *cas.Store) (*ActionCache, error) {
	e, err := openEngine(path, actionBucket, policy, store)
	if err != nil {
		return nil, err
	}
	return &ActionCache{e: e}, nil
}

func (c *ActionCache) Close() error { return c.e.close() }

func (c *ActionCache) Lookup(fingerprint digest.Digest) (ActionEntry, bool) {
	rec, ok := c.e.lookup(fingerprint, func(payload []byte) bool {
		entry, err := decodeActionPayload(payload)
		if err != nil {
			return false
		}
		for _, d := range entry.OutputDigests {
			if !c.e.store.Has(d) {
				return false
			}
		}
		if !entry.StdoutDigest.Zero() && !c.e.store.Has(entry.StdoutDigest) {
			return false
		}
		if !entry.StderrDigest.Zero() && !c.e.store.Has(entry.StderrDigest) {
			return false
		}
		return true
	})
	if !ok {
		return ActionEntry{}, false
	}
	entry, err := decodeActionPayload(rec.payload)
	if err != nil {
		return ActionEntry{}, false
	}
	return entry, true
}

func (c *ActionCache) IsCached(fingerprint digest.Digest) bool {
	_, ok := c.Lookup(fingerprint)
	return ok
}

func (c *ActionCache) Update(entry ActionEntry) error {
	rec := record{
		schema:    schemaVersion,
		fp:        entry.Fingerprint,
		createdAt: entry.Timestamp,
		failed:    entry.Failed,
		payload:   encodeActionPayload(entry),
	}
	return c.e.update(entry.Fingerprint, rec)
}

func (c *ActionCache) Invalidate(fingerprint digest.Digest) error { return c.e.invalidate(fingerprint) }
func (c *ActionCache) Clear() error                               { return c.e.clear() }
func (c *ActionCache) Flush() error                               { return c.e.flush() }

// LiveDigests implements cas.LiveSet over every output and log blob this
// cache references.
func (c *ActionCache) LiveDigests() []digest.Digest {
	records := c.e.allRecords()
	out := make([]digest.Digest, 0, len(records)*2)
	for _, r := range records {
		entry, err := decodeActionPayload(r.payload)
		if err != nil {
			continue
		}
		out = append(out, entry.OutputDigests...)
		if !entry.StdoutDigest.Zero() {
			out = append(out, entry.StdoutDigest)
		}
		if !entry.StderrDigest.Zero() {
			out = append(out, entry.StderrDigest)
		}
	}
	return out
}

// EncodeActionEntry/DecodeActionEntry expose the payload codec for the
// coordinator to mirror entries to C7 under the same fingerprint key.
func EncodeActionEntry(e ActionEntry) []byte { return encodeActionPayload(e) }

func DecodeActionEntry(b []byte) (ActionEntry, error) { return decodeActionPayload(b) }

func encodeActionPayload(e ActionEntry) []byte {
	buf := make([]byte, 0, 8+digest.Size*2+8+4+len(e.OutputDigests)*digest.Size)
	var tmp [8]byte

	binary.BigEndian.PutUint32(tmp[:4], uint32(len(e.OutputDigests)))
	buf = append(buf, tmp[:4]...)
	for _, d := range e.OutputDigests {
		buf = append(buf, d.Bytes()...)
	}
	buf = append(buf, e.StdoutDigest.Bytes()...)
	buf = append(buf, e.StderrDigest.Bytes()...)

	binary.BigEndian.PutUint32(tmp[:4], uint32(e.ExitCode))
	buf = append(buf, tmp[:4]...)
	binary.BigEndian.PutUint64(tmp[:8], uint64(e.Duration))
	buf = append(buf, tmp[:8]...)
	return buf
}

func decodeActionPayload(b []byte) (ActionEntry, error) {
	if len(b) < 4 {
		return ActionEntry{}, errShortRecord
	}
	n := int(binary.BigEndian.Uint32(b[:4]))
	off := 4
	outs := make([]digest.Digest, 0, n)
	for i := 0; i < n; i++ {
		if len(b) < off+digest.Size {
			return ActionEntry{}, errShortRecord
		}
		d, err := digest.FromRawBytes(b[off : off+digest.Size])
		if err != nil {
			return ActionEntry{}, err
		}
		outs = append(outs, d)
		off += digest.Size
	}
	if len(b) < off+digest.Size*2+4+8 {
		return ActionEntry{}, errShortRecord
	}
	stdout, err := digest.FromRawBytes(b[off : off+digest.Size])
	if err != nil {
		return ActionEntry{}, err
	}
	off += digest.Size
	stderr, err := digest.FromRawBytes(b[off : off+digest.Size])
	if err != nil {
		return ActionEntry{}, err
	}
	off += digest.Size
	exitCode := int(int32(binary.BigEndian.Uint32(b[off:])))
	off += 4
	duration := int64(binary.BigEndian.Uint64(b[off:]))

	return ActionEntry{
		OutputDigests: outs,
		StdoutDigest:  stdout,
		StderrDigest:  stderr,
		ExitCode:      exitCode,
		Duration:      time.Duration(duration),
	}, nil
}
