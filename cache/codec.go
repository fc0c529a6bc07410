package cache

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/buildforge/engine/digest"
)

func nanoToTime(ns int64) time.Time { return time.Unix(0, ns).UTC() }

// Wire layout for a stored record: a fixed header followed by the
// type-specific payload (a TargetEntry or ActionEntry encoding, produced by
// target.go / action.go). Keeping the header schema-stable independent of
// the payload lets lookup() reject a stale schema before it ever tries to
// decode a payload shape it no longer understands.
const recordHeaderLen = 1 + digest.Size + 8 + 1 + 8

var errShortRecord = errors.New("cache: truncated record")

func encodeRecord(r record) []byte {
	buf := make([]byte, recordHeaderLen+len(r.payload))
	buf[0] = r.schema
	copy(buf[1:1+digest.Size], r.fp.Bytes())
	off := 1 + digest.Size
	binary.BigEndian.PutUint64(buf[off:], uint64(r.createdAt.UnixNano()))
	off += 8
	if r.failed {
		buf[off] = 1
	}
	off++
	binary.BigEndian.PutUint64(buf[off:], uint64(r.size))
	off += 8
	copy(buf[off:], r.payload)
	return buf
}

func decodeRecord(buf []byte) (record, error) {
	if len(buf) < recordHeaderLen {
		return record{}, errShortRecord
	}
	var r record
	r.schema = buf[0]
	fp, err := digest.FromRawBytes(buf[1 : 1+digest.Size])
	if err != nil {
		return record{}, err
	}
	r.fp = fp
	off := 1 + digest.Size
	r.createdAt = nanoToTime(int64(binary.BigEndian.Uint64(buf[off:])))
	off += 8
	r.failed = buf[off] != 0
	off++
	r.size = int64(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	r.payload = append([]byte(nil), buf[off:]...)
	return r, nil
}
