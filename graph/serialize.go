package graph

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"

	"github.com/buildforge/engine/digest"
)

// schemaMagic and schemaVersion gate the on-disk format (spec §6: "All index
// files start with {magic(4), schema-version(u8)}; readers refuse unknown
// versions and rebuild from CAS" — here, from the frontend's target list).
var schemaMagic = [4]byte{'B', 'G', 'R', 'F'}

const schemaVersion = 1

// ErrUnknownSchema is returned by Deserialize when the stream's schema
// version is newer (or corrupt) relative to what this build understands.
var ErrUnknownSchema = errors.New("graph: unknown schema version")

// Serialize writes the entire graph (nodes, edges, status) as a compact
// binary form with stable ordering, for checkpoint/resume (spec §4.4). The
// external recovery/checkpoint persistence layer itself is out of scope;
// this only defines the wire shape it would write.
func (d *DAG) Serialize(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(schemaMagic[:]); err != nil {
		return err
	}
	if err := bw.WriteByte(schemaVersion); err != nil {
		return err
	}

	labels := make([]Label, 0, len(d.nodes))
	for l := range d.nodes {
		labels = append(labels, l)
	}
	sortLabels(labels)

	if err := writeVarint(bw, uint64(len(labels))); err != nil {
		return err
	}
	for _, l := range labels {
		n := d.nodes[l]
		if err := writeString(bw, string(l)); err != nil {
			return err
		}
		if err := bw.WriteByte(byte(n.Target.Type)); err != nil {
			return err
		}
		if err := writeVarint(bw, uint64(n.Status())); err != nil {
			return err
		}
		if err := writeVarint(bw, uint64(n.RetryCount())); err != nil {
			return err
		}
		if _, err := bw.Write(n.Fingerprint.Bytes()); err != nil {
			return err
		}
		deps := append([]Label{}, n.DependencyIDs...)
		sortLabels(deps)
		if err := writeVarint(bw, uint64(len(deps))); err != nil {
			return err
		}
		for _, dep := range deps {
			if err := writeString(bw, string(dep)); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// Deserialize reconstructs node status and retry count from a stream
// previously written by Serialize (the stored fingerprint is read and
// discarded), applying them onto an already-built DAG
// whose node set (edges, targets) came fresh from the current frontend
// output. Only runtime state is restored; structural data is always
// recomputed from the live target list, since a stale checkpoint's edges may
// no longer match a changed DSL.
func (d *DAG) Deserialize(r io.Reader) error {
	br := bufio.NewReader(r)
	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return err
	}
	if magic != schemaMagic {
		return ErrUnknownSchema
	}
	version, err := br.ReadByte()
	if err != nil {
		return err
	}
	if version != schemaVersion {
		return ErrUnknownSchema
	}

	count, err := readVarint(br)
	if err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		label, err := readString(br)
		if err != nil {
			return err
		}
		if _, err := br.ReadByte(); err != nil { // target type, informational only
			return err
		}
		status, err := readVarint(br)
		if err != nil {
			return err
		}
		retries, err := readVarint(br)
		if err != nil {
			return err
		}
		var fpBytes [digest.Size]byte
		if _, err := io.ReadFull(br, fpBytes[:]); err != nil {
			return err
		}
		depCount, err := readVarint(br)
		if err != nil {
			return err
		}
		for j := uint64(0); j < depCount; j++ {
			if _, err := readString(br); err != nil {
				return err
			}
		}

		if n := d.Get(Label(label)); n != nil {
			n.setStatus(Status(status))
			for n.RetryCount() < int(retries) {
				n.incRetry()
			}
		}
	}
	return nil
}

func sortLabels(ls []Label) {
	for i := 1; i < len(ls); i++ {
		for j := i; j > 0 && ls[j-1] > ls[j]; j-- {
			ls[j-1], ls[j] = ls[j], ls[j-1]
		}
	}
}

func writeVarint(w *bufio.Writer, v uint64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	_, err := w.Write(buf[:n])
	return err
}

func readVarint(r *bufio.Reader) (uint64, error) {
	return binary.ReadUvarint(r)
}

func writeString(w *bufio.Writer, s string) error {
	if err := writeVarint(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(r *bufio.Reader) (string, error) {
	n, err := readVarint(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
