package digest

import "encoding/binary"

// HashSequence computes H(concat(length-prefixed elements)), the §4.2
// construction used for every composite fingerprint (target, action) to
// avoid prefix-collision attacks: without the length prefix, H("ab"+"c") and
// H("a"+"bc") would collide trivially.
func HashSequence(elements ...[]byte) Digest {
	h := NewHasher()
	var lenBuf [8]byte
	for _, e := range elements {
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(e)))
		h.Write(lenBuf[:])
		h.Write(e)
	}
	return h.Sum()
}

// HashStrings is a convenience wrapper over HashSequence for the common case
// of hashing a list of strings (e.g. a canonicalized flag list).
func HashStrings(ss ...string) Digest {
	elems := make([][]byte, len(ss))
	for i, s := range ss {
		elems[i] = []byte(s)
	}
	return HashSequence(elems...)
}

// HashDigests composes a sequence of digests into one, used for e.g. summing
// dependency fingerprints into a parent fingerprint. Order matters — callers
// must sort first if order should not be significant (see SortedDigests).
func HashDigests(ds ...Digest) Digest {
	elems := make([][]byte, len(ds))
	for i, d := range ds {
		elems[i] = d.Bytes()
	}
	return HashSequence(elems...)
}

// SortedDigests returns a copy of ds sorted by hex value, so that a set of
// dependency fingerprints hashes the same way regardless of declaration
// order — part of the §4.2 determinism rule ("all maps are serialized in
// sorted-key order").
func SortedDigests(ds []Digest) []Digest {
	out := make([]Digest, len(ds))
	copy(out, ds)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Hex() > out[j].Hex(); j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
