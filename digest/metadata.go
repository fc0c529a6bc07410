package digest

import (
	"encoding/binary"
	"os"

	"github.com/cespare/xxhash/v2"
)

// Metadata is the cheap, stat-based tier-one signal for change detection
// (spec §4.2). It is deliberately not collision-resistant: a false positive
// here only triggers a redundant content hash, never a wrong cache hit —
// the content digest (tier two) is the source of truth.
type Metadata struct {
	Size    int64
	ModTime int64 // unix nanos
	Mode    uint32
}

// MetadataOf stats path and returns its tier-one signal.
func MetadataOf(path string) (Metadata, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		Size:    fi.Size(),
		ModTime: fi.ModTime().UnixNano(),
		Mode:    uint32(fi.Mode()),
	}, nil
}

// Hash returns a fast, non-cryptographic digest of the metadata tuple, used
// purely as a short-circuit: if it is unchanged since the last analysis, the
// content digest is assumed unchanged too, per spec §4.2.
func (m Metadata) Hash() uint64 {
	var buf [20]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(m.Size))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(m.ModTime))
	binary.LittleEndian.PutUint32(buf[16:20], m.Mode)
	return xxhash.Sum64(buf[:])
}

// Unchanged reports whether m and other have the same metadata hash.
func (m Metadata) Unchanged(other Metadata) bool { return m.Hash() == other.Hash() }
