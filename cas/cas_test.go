package cas

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/buildforge/engine/digest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, logrus.StandardLogger())
	require.NoError(t, err)
	return s
}

func TestPutGetIdempotent(t *testing.T) {
	s := newTestStore(t)
	d1, err := s.Put([]byte("foobar"))
	require.NoError(t, err)
	d2, err := s.Put([]byte("foobar"))
	require.NoError(t, err)
	require.True(t, d1.Equal(d2))

	got, err := s.Get(d1)
	require.NoError(t, err)
	require.Equal(t, []byte("foobar"), got)
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(digest.FromBytes([]byte("never written")))
	require.Error(t, err)
}

func TestGetIntegrityFailureQuarantines(t *testing.T) {
	s := newTestStore(t)
	d, err := s.Put([]byte("original"))
	require.NoError(t, err)

	// simulate bit rot by corrupting the blob on disk directly
	require.NoError(t, os.WriteFile(s.path(d), []byte("corrupted"), 0o644))

	_, err = s.Get(d)
	require.Error(t, err)
	require.False(t, s.Has(d))
}

func TestRecoversPartialWritesFromTmp(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, tmpDirName), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, tmpDirName, "blob-leftover"), []byte("partial"), 0o644))

	s, err := Open(dir, logrus.StandardLogger())
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, tmpDirName))
	require.NoError(t, err)
	require.Empty(t, entries)
	_ = s
}

func TestGCPreservesReferencedBlobs(t *testing.T) {
	s := newTestStore(t)
	keep, err := s.Put([]byte("keep me"))
	require.NoError(t, err)
	drop, err := s.Put([]byte("drop me"))
	require.NoError(t, err)
	s.Reference(keep)

	res, err := s.GC(0, fakeLiveSet{})
	require.NoError(t, err)
	require.True(t, s.Has(keep))
	require.False(t, s.Has(drop))
	require.Equal(t, 1, res.Evicted)
}

func TestGCRespectsGraceWindow(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put([]byte("brand new"))
	require.NoError(t, err)

	res, err := s.GC(time.Hour, fakeLiveSet{})
	require.NoError(t, err)
	require.Equal(t, 0, res.Evicted)
	require.Equal(t, 1, res.GraceApplied)
}

func TestGCMarksFromLiveSets(t *testing.T) {
	s := newTestStore(t)
	d, err := s.Put([]byte("content"))
	require.NoError(t, err)

	res, err := s.GC(0, fakeLiveSet{digests: []digest.Digest{d}})
	require.NoError(t, err)
	require.True(t, s.Has(d))
	require.Equal(t, 1, res.Marked)
}

func TestPutReaderMatchesPut(t *testing.T) {
	s := newTestStore(t)
	d1, err := s.Put([]byte("stream me"))
	require.NoError(t, err)
	d2, err := s.PutReader(bytes.NewReader([]byte("stream me")))
	require.NoError(t, err)
	require.True(t, d1.Equal(d2))
}

type fakeLiveSet struct {
	digests []digest.Digest
}

func (f fakeLiveSet) LiveDigests() []digest.Digest { return f.digests }
