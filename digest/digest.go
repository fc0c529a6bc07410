// Package digest implements C2: content hashing and composite fingerprints.
//
// The primary content hash is BLAKE3 (github.com/zeebo/blake3), chosen for its
// SIMD-friendly tree structure and >=128-bit collision resistance, matching
// spec §4.2. A cheap, non-cryptographic xxhash variant backs the first tier of
// the two-tier file-change detector, where speed matters more than collision
// resistance: a stat change that alters the hash only costs a re-hash, while
// a change whose hash collides with the previous one leaves the previous
// content digest in place.
package digest

import (
	"encoding/hex"
	"errors"
	"io"

	"github.com/zeebo/blake3"
)

// Size is the digest width in bytes (spec §3: "32 bytes, hex-encodable").
const Size = 32

// Algorithm is recorded alongside every Digest so that a future algorithm
// migration can coexist with entries written under the old one.
const Algorithm = "blake3"

// Digest is a fixed-width cryptographic content identifier.
type Digest struct {
	sum [Size]byte
}

// Zero reports whether d is the unset digest.
func (d Digest) Zero() bool { return d.sum == [Size]byte{} }

// Bytes returns the raw digest bytes. The returned slice aliases internal
// storage and must not be mutated.
func (d Digest) Bytes() []byte { return d.sum[:] }

// String renders the digest as "blake3:<hex>", mirroring
// opencontainers/go-digest's "<algorithm>:<hex>" convention.
func (d Digest) String() string {
	return Algorithm + ":" + hex.EncodeToString(d.sum[:])
}

// Hex returns only the hex-encoded digest, used for CAS path construction.
func (d Digest) Hex() string { return hex.EncodeToString(d.sum[:]) }

// Equal reports byte-wise equality.
func (d Digest) Equal(o Digest) bool { return d.sum == o.sum }

// Parse decodes a "blake3:<hex>" string produced by String, or a bare hex
// string (accepted for the CAS's directory-scan recovery path, which only
// ever sees hex names).
func Parse(s string) (Digest, error) {
	hexPart := s
	if len(s) > len(Algorithm)+1 && s[:len(Algorithm)] == Algorithm && s[len(Algorithm)] == ':' {
		hexPart = s[len(Algorithm)+1:]
	}
	if len(hexPart) != Size*2 {
		return Digest{}, errors.New("digest: invalid length")
	}
	var d Digest
	n, err := hex.Decode(d.sum[:], []byte(hexPart))
	if err != nil {
		return Digest{}, err
	}
	if n != Size {
		return Digest{}, errors.New("digest: short decode")
	}
	return d, nil
}

// FromBytes computes the content digest of b.
func FromBytes(b []byte) Digest {
	sum := blake3.Sum256(b)
	return Digest{sum: sum}
}

// FromRawBytes reconstructs a Digest from exactly Size previously-computed
// digest bytes (e.g. a bbolt key or a wire field), without re-hashing.
func FromRawBytes(b []byte) (Digest, error) {
	if len(b) != Size {
		return Digest{}, errors.New("digest: invalid raw length")
	}
	var d Digest
	copy(d.sum[:], b)
	return d, nil
}

// FromReader streams r through the hash without buffering the whole input,
// for large blobs where FromBytes would force a full read into memory first.
func FromReader(r io.Reader) (Digest, error) {
	h := blake3.New()
	if _, err := io.Copy(h, r); err != nil {
		return Digest{}, err
	}
	var out [Size]byte
	copy(out[:], h.Sum(nil))
	return Digest{sum: out}, nil
}

// Hasher is an incremental writer that yields a Digest on Sum, for callers
// that build up content across several writes (e.g. the executor streaming
// subprocess stdout into a blob while also computing its digest).
type Hasher struct {
	h *blake3.Hasher
}

func NewHasher() *Hasher { return &Hasher{h: blake3.New()} }

func (h *Hasher) Write(p []byte) (int, error) { return h.h.Write(p) }

func (h *Hasher) Sum() Digest {
	var out [Size]byte
	copy(out[:], h.h.Sum(nil))
	return Digest{sum: out}
}
