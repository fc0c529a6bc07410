// Package cas implements C1: the content-addressable blob store. Blobs live
// under a root directory fanned out by the first two hex characters of their
// digest (256-way), the same layout moby-moby's image filesystem backend
// uses for its digest-keyed store, and writes land in a sibling .tmp/ before
// an atomic rename commits them.
package cas

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buildforge/engine/digest"
	"github.com/buildforge/engine/errdefs"
)

const tmpDirName = ".tmp"

// Store is a disk-backed, content-addressable blob store. All methods are
// safe for concurrent use: writes land via atomic rename (multi-writer,
// no global lock) and reads never observe a partial file.
type Store struct {
	root string
	log  logrus.FieldLogger

	mu   sync.Mutex // guards refs only; blob I/O is lock-free
	refs map[digest.Digest]*refEntry
}

type refEntry struct {
	count      int
	lastAccess time.Time
}

// Open creates or opens a Store rooted at root, recovering any interrupted
// writes left in .tmp/ from a prior crash.
func Open(root string, log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := os.MkdirAll(filepath.Join(root, tmpDirName), 0o755); err != nil {
		return nil, errdefs.WithContext(errdefs.AsIO(err), "cas.Open")
	}
	s := &Store{root: root, log: log, refs: make(map[digest.Digest]*refEntry)}
	if err := s.recoverTmp(); err != nil {
		return nil, err
	}
	return s, nil
}

// recoverTmp scans .tmp/ at startup for partial writes abandoned by a crash;
// per spec §4.1 these are simply discarded since the writer never observed a
// successful commit.
func (s *Store) recoverTmp() error {
	entries, err := os.ReadDir(filepath.Join(s.root, tmpDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errdefs.WithContext(errdefs.AsIO(err), "cas.recoverTmp")
	}
	for _, e := range entries {
		_ = os.Remove(filepath.Join(s.root, tmpDirName, e.Name()))
	}
	return nil
}

func (s *Store) path(d digest.Digest) string {
	hex := d.Hex()
	return filepath.Join(s.root, hex[:2], hex)
}

// BlobPath returns the on-disk path of the blob named by d, without
// checking for its existence. Callers that need to bind a blob into another
// process's view of the filesystem (the executor staging sandbox inputs)
// use this instead of reading the blob through Get just to re-write it.
func (s *Store) BlobPath(d digest.Digest) string { return s.path(d) }

// Put writes b to the store and returns its digest. Put is idempotent:
// writing identical content twice returns the same digest and does not
// duplicate the blob on disk (spec §4.1).
func (s *Store) Put(b []byte) (digest.Digest, error) {
	d := digest.FromBytes(b)
	if s.Has(d) {
		return d, nil
	}
	if err := s.writeAtomic(d, b); err != nil {
		return digest.Digest{}, err
	}
	return d, nil
}

func (s *Store) writeAtomic(d digest.Digest, b []byte) error {
	dir := filepath.Dir(s.path(d))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errdefs.WithContext(errdefs.AsIO(err), "cas.writeAtomic.mkdir")
	}
	tmp, err := os.CreateTemp(filepath.Join(s.root, tmpDirName), "blob-*")
	if err != nil {
		return errdefs.WithContext(errdefs.AsIO(err), "cas.writeAtomic.create")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errdefs.WithContext(errdefs.AsIO(err), "cas.writeAtomic.write")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errdefs.WithContext(errdefs.AsIO(err), "cas.writeAtomic.sync")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errdefs.WithContext(errdefs.AsIO(err), "cas.writeAtomic.close")
	}
	if err := os.Rename(tmpName, s.path(d)); err != nil {
		os.Remove(tmpName)
		return errdefs.WithContext(errdefs.AsIO(err), "cas.writeAtomic.rename")
	}
	return nil
}

// Get returns the blob named by d. It recomputes the digest of the bytes
// read and, on mismatch (bit rot), quarantines the blob and reports NotFound
// rather than returning corrupt data, per spec §4.1's IntegrityError rule.
func (s *Store) Get(d digest.Digest) ([]byte, error) {
	b, err := os.ReadFile(s.path(d))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFound(errdefs.Newf(errdefs.Cache, "blob %s not found", d))
		}
		return nil, errdefs.WithContext(errdefs.AsIO(err), "cas.Get")
	}
	if !digest.FromBytes(b).Equal(d) {
		s.quarantine(d)
		return nil, errdefs.NotFound(errdefs.Newf(errdefs.Internal, "blob %s failed integrity check", d))
	}
	s.touch(d)
	return b, nil
}

func (s *Store) quarantine(d digest.Digest) {
	s.log.WithField("digest", d.String()).Warn("cas: quarantining corrupt blob")
	_ = os.Remove(s.path(d))
}

// Has reports whether d is present without reading its content.
func (s *Store) Has(d digest.Digest) bool {
	_, err := os.Stat(s.path(d))
	return err == nil
}

// PutReader streams r into the store without buffering it twice; used by the
// executor when capturing large subprocess output.
func (s *Store) PutReader(r io.Reader) (digest.Digest, error) {
	tmp, err := os.CreateTemp(filepath.Join(s.root, tmpDirName), "blob-*")
	if err != nil {
		return digest.Digest{}, errdefs.WithContext(errdefs.AsIO(err), "cas.PutReader.create")
	}
	tmpName := tmp.Name()
	h := digest.NewHasher()
	if _, err := io.Copy(io.MultiWriter(tmp, h), r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return digest.Digest{}, errdefs.WithContext(errdefs.AsIO(err), "cas.PutReader.copy")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return digest.Digest{}, errdefs.WithContext(errdefs.AsIO(err), "cas.PutReader.sync")
	}
	tmp.Close()
	d := h.Sum()
	if s.Has(d) {
		os.Remove(tmpName)
		return d, nil
	}
	dir := filepath.Dir(s.path(d))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		os.Remove(tmpName)
		return digest.Digest{}, errdefs.WithContext(errdefs.AsIO(err), "cas.PutReader.mkdir")
	}
	if err := os.Rename(tmpName, s.path(d)); err != nil {
		os.Remove(tmpName)
		return digest.Digest{}, errdefs.WithContext(errdefs.AsIO(err), "cas.PutReader.rename")
	}
	return d, nil
}

// --- reference counting (GC bookkeeping) -----------------------------------

// Reference increments the in-process live-reference count for d. The cache
// tiers do not call it (GC marks from their LiveDigests instead); a nonzero
// count keeps an otherwise unmarked blob from being swept.
func (s *Store) Reference(d digest.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.refs[d]
	if !ok {
		e = &refEntry{}
		s.refs[d] = e
	}
	e.count++
	e.lastAccess = time.Now()
}

// Release decrements the live-reference count for d.
func (s *Store) Release(d digest.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.refs[d]
	if !ok || e.count == 0 {
		return
	}
	e.count--
}

func (s *Store) touch(d digest.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.refs[d]; ok {
		e.lastAccess = time.Now()
	}
}

// RefCount returns the current live-reference count for d (0 if never
// referenced, or already released down to zero).
func (s *Store) RefCount(d digest.Digest) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.refs[d]; ok {
		return e.count
	}
	return 0
}

// --- batch variants ---------------------------------------------------------

func (s *Store) PutBatch(blobs [][]byte) ([]digest.Digest, error) {
	out := make([]digest.Digest, len(blobs))
	for i, b := range blobs {
		d, err := s.Put(b)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

func (s *Store) HasBatch(ds []digest.Digest) []bool {
	out := make([]bool, len(ds))
	for i, d := range ds {
		out[i] = s.Has(d)
	}
	return out
}

// Root returns the store's root directory, for components (GC, diagnostics)
// that need to walk it directly.
func (s *Store) Root() string { return s.root }
