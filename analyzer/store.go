package analyzer

import (
	"bytes"
	"encoding/binary"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/buildforge/engine/digest"
	"github.com/buildforge/engine/errdefs"
)

const schemaVersionByte = 1

var (
	bucketName     = []byte("analysis")
	metaBucketName = []byte("filemeta")
)

// Store persists FileAnalysis entries keyed by content digest, as the
// length-prefixed binary records described in spec §4.3 ("schema-version
// byte, path, content-digest, error list, import list. ~200-500 bytes per
// file"). A bbolt-backed single file replaces a hand-rolled append log: it
// already gives us atomic batched writes and crash-safe recovery, so the
// ambient persistence story here reuses the same library C5/C6 use.
type Store struct {
	db  *bolt.DB
	hot *lru.Cache[digest.Digest, FileAnalysis]
}

// OpenStore opens (creating if absent) the bbolt file at path.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, errdefs.WithContext(errdefs.AsIO(err), "analyzer.OpenStore")
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketName); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, errdefs.WithContext(errdefs.AsIO(err), "analyzer.OpenStore.bucket")
	}
	hot, _ := lru.New[digest.Digest, FileAnalysis](4096)
	return &Store{db: db, hot: hot}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Lookup returns the stored analysis for content digest d, if present.
func (s *Store) Lookup(d digest.Digest) (FileAnalysis, bool) {
	if fa, ok := s.hot.Get(d); ok {
		return fa, true
	}
	var fa FileAnalysis
	var found bool
	_ = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		raw := b.Get(d.Bytes())
		if raw == nil {
			return nil
		}
		decoded, err := decodeEntry(raw)
		if err != nil {
			return nil // corrupt entry treated as miss, per spec §4.5-style validation
		}
		fa = decoded
		found = true
		return nil
	})
	if found {
		s.hot.Add(d, fa)
	}
	return fa, found
}

// Store persists fa under its own content digest.
func (s *Store) Store(fa FileAnalysis) error {
	raw, err := encodeEntry(fa)
	if err != nil {
		return errdefs.AsInternal(err)
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(fa.Content.Bytes(), raw)
	}); err != nil {
		return errdefs.WithContext(errdefs.AsIO(err), "analyzer.Store.Store")
	}
	s.hot.Add(fa.Content, fa)
	return nil
}

// Invalidate removes the entry for d, used by the proactive-watch mode to
// eagerly drop entries when the host reports a file-system event (spec
// §4.3 "Optional proactive mode").
func (s *Store) Invalidate(d digest.Digest) error {
	s.hot.Remove(d)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(d.Bytes())
	})
}

// LookupMeta returns the tier-one metadata record last observed for path, if
// any. Keyed by path rather than content digest, since the whole point of
// tier one (spec §4.2) is to decide whether it's even worth recomputing the
// content digest.
func (s *Store) LookupMeta(path string) (FileMeta, bool) {
	var fm FileMeta
	var found bool
	_ = s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(metaBucketName).Get([]byte(path))
		if raw == nil {
			return nil
		}
		decoded, err := decodeMeta(raw)
		if err != nil {
			return nil // corrupt entry treated as miss
		}
		fm = decoded
		found = true
		return nil
	})
	return fm, found
}

// StoreMeta persists the tier-one record for path, overwriting whatever was
// there before.
func (s *Store) StoreMeta(path string, fm FileMeta) error {
	raw := encodeMeta(fm)
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucketName).Put([]byte(path), raw)
	}); err != nil {
		return errdefs.WithContext(errdefs.AsIO(err), "analyzer.Store.StoreMeta")
	}
	return nil
}

func encodeMeta(fm FileMeta) []byte {
	var buf bytes.Buffer
	var hashBytes [8]byte
	binary.BigEndian.PutUint64(hashBytes[:], fm.MetadataHash)
	buf.Write(hashBytes[:])
	buf.Write(fm.Content.Bytes())
	return buf.Bytes()
}

func decodeMeta(raw []byte) (FileMeta, error) {
	if len(raw) < 8+digest.Size {
		return FileMeta{}, errdefs.New(errdefs.Internal, "analyzer: truncated filemeta record")
	}
	hash := binary.BigEndian.Uint64(raw[:8])
	d, err := digest.Parse(hexOf(raw[8 : 8+digest.Size]))
	if err != nil {
		return FileMeta{}, err
	}
	return FileMeta{MetadataHash: hash, Content: d}, nil
}

func encodeEntry(fa FileAnalysis) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(schemaVersionByte)
	writeLenPrefixed(&buf, []byte(fa.Path))
	buf.Write(fa.Content.Bytes())
	writeBool(&buf, fa.Valid)

	writeVarintTo(&buf, uint64(len(fa.Errors)))
	for _, e := range fa.Errors {
		writeLenPrefixed(&buf, []byte(e))
	}

	writeVarintTo(&buf, uint64(len(fa.Imports)))
	for _, imp := range fa.Imports {
		writeLenPrefixed(&buf, []byte(imp.Raw))
		buf.WriteByte(byte(imp.Kind))
		writeVarintTo(&buf, uint64(imp.Location.Line))
		writeVarintTo(&buf, uint64(imp.Location.Column))
	}
	return buf.Bytes(), nil
}

func decodeEntry(raw []byte) (FileAnalysis, error) {
	r := bytes.NewReader(raw)
	version, err := r.ReadByte()
	if err != nil {
		return FileAnalysis{}, err
	}
	if version != schemaVersionByte {
		return FileAnalysis{}, errdefs.Newf(errdefs.Internal, "analyzer: unknown entry schema %d", version)
	}
	path, err := readLenPrefixed(r)
	if err != nil {
		return FileAnalysis{}, err
	}
	var digBytes [digest.Size]byte
	if _, err := io.ReadFull(r, digBytes[:]); err != nil {
		return FileAnalysis{}, err
	}
	valid, err := readBool(r)
	if err != nil {
		return FileAnalysis{}, err
	}
	errCount, err := binary.ReadUvarint(byteReaderOf(r))
	if err != nil {
		return FileAnalysis{}, err
	}
	errs := make([]string, 0, errCount)
	for i := uint64(0); i < errCount; i++ {
		e, err := readLenPrefixed(r)
		if err != nil {
			return FileAnalysis{}, err
		}
		errs = append(errs, e)
	}
	impCount, err := binary.ReadUvarint(byteReaderOf(r))
	if err != nil {
		return FileAnalysis{}, err
	}
	imports := make([]Import, 0, impCount)
	for i := uint64(0); i < impCount; i++ {
		raw, err := readLenPrefixed(r)
		if err != nil {
			return FileAnalysis{}, err
		}
		kindByte, err := r.ReadByte()
		if err != nil {
			return FileAnalysis{}, err
		}
		lineNum, err := binary.ReadUvarint(byteReaderOf(r))
		if err != nil {
			return FileAnalysis{}, err
		}
		col, err := binary.ReadUvarint(byteReaderOf(r))
		if err != nil {
			return FileAnalysis{}, err
		}
		imports = append(imports, Import{
			Raw:      raw,
			Kind:     ImportKind(kindByte),
			Location: SourceLocation{Line: int(lineNum), Column: int(col)},
		})
	}

	fp, err := digest.Parse(hexOf(digBytes[:]))
	if err != nil {
		return FileAnalysis{}, err
	}
	return FileAnalysis{Path: path, Content: fp, Imports: imports, Errors: errs, Valid: valid}, nil
}

func hexOf(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0xf]
	}
	return string(out)
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	writeVarintTo(buf, uint64(len(b)))
	buf.Write(b)
}

func readLenPrefixed(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(byteReaderOf(r))
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeVarintTo(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeBool(buf *bytes.Buffer, b bool) {
	if b {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

func byteReaderOf(r *bytes.Reader) io.ByteReader { return r }
