package cas

import (
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"

	"github.com/buildforge/engine/digest"
)

// LiveSet is anything that can enumerate the digests a cache tier currently
// references — C5 and C6 each implement it, so GC can mark from both without
// this package importing either.
type LiveSet interface {
	LiveDigests() []digest.Digest
}

// GCResult summarizes one mark-sweep pass.
type GCResult struct {
	Scanned      int
	Marked       int
	Evicted      int
	BytesFreed   int64
	GraceApplied int
}

func (r GCResult) String() string {
	return humanize.Bytes(uint64(r.BytesFreed)) + " freed, " + humanize.Comma(int64(r.Evicted)) + " blobs evicted of " + humanize.Comma(int64(r.Scanned)) + " scanned"
}

// GC runs the two-phase mark-sweep described in spec §4.1: mark every digest
// referenced by any live cache entry (across all given tiers), then sweep
// every blob on disk whose digest isn't marked and whose file modification
// time (the time it was committed) is older than grace. Reads do not extend
// a blob's grace window. A blob with a nonzero in-process RefCount is never swept
// even if unmarked, since a concurrent writer may be mid-commit of an entry
// naming it.
func (s *Store) GC(grace time.Duration, tiers ...LiveSet) (GCResult, error) {
	marked := make(map[digest.Digest]struct{})
	for _, t := range tiers {
		for _, d := range t.LiveDigests() {
			marked[d] = struct{}{}
		}
	}

	var result GCResult
	var errs *multierror.Error
	cutoff := time.Now().Add(-grace)

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return result, err
	}
	for _, shard := range entries {
		if !shard.IsDir() || shard.Name() == tmpDirName {
			continue
		}
		shardPath := filepath.Join(s.root, shard.Name())
		blobs, err := os.ReadDir(shardPath)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		for _, b := range blobs {
			result.Scanned++
			d, err := digest.Parse(b.Name())
			if err != nil {
				continue // not a blob we wrote; leave it alone
			}
			if _, live := marked[d]; live {
				result.Marked++
				continue
			}
			if s.RefCount(d) > 0 {
				continue
			}
			info, err := b.Info()
			if err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			if info.ModTime().After(cutoff) {
				result.GraceApplied++
				continue
			}
			blobPath := filepath.Join(shardPath, b.Name())
			size := info.Size()
			if err := os.Remove(blobPath); err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			result.Evicted++
			result.BytesFreed += size
		}
	}
	return result, errs.ErrorOrNil()
}
