package analyzer

import (
	"os"
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/buildforge/engine/digest"
	"github.com/buildforge/engine/errdefs"
)

// FileMeta tracks the two-tier change-detection state for one source path
// across builds (spec §4.2): metadata digest first, content digest second.
type FileMeta struct {
	MetadataHash uint64
	Content      digest.Digest
}

// Analyzer implements C3's analyze(target) -> TargetAnalysis contract.
type Analyzer struct {
	store *Store
	group singleflight.Group
}

// Analyzer is intentionally free of a graph-package dependency: it is handed
// plain source paths and a language tag by whichever caller owns the target
// model (the coordinator), keeping C3 and C4 decoupled per the package doc.
func New(store *Store) *Analyzer {
	return &Analyzer{store: store}
}

// Analyze scans sources (already-resolved file paths) tagged with language,
// consulting the two-tier change detector and the content-addressed cache
// before falling back to a language scanner.
func (a *Analyzer) Analyze(sources []string, language string) (*TargetAnalysis, error) {
	scanner, ok := Scanners[language]
	if !ok {
		scanner = NoopScanner
	}

	files := make([]FileAnalysis, len(sources))
	var metrics Metrics

	g := new(errgroup.Group)
	g.SetLimit(8)
	for i, path := range sources {
		i, path := i, path
		g.Go(func() error {
			fa, hit, err := a.analyzeOne(path, scanner)
			if err != nil {
				return err
			}
			files[i] = fa
			if hit {
				metrics.CacheHits++
			} else {
				metrics.CacheMisses++
			}
			metrics.FilesScanned++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &TargetAnalysis{
		Files:            files,
		AggregatedImport: dedupeImports(files),
		Metrics:          metrics,
	}, nil
}

func (a *Analyzer) analyzeOne(path string, scanner Scanner) (FileAnalysis, bool, error) {
	prevMeta, _ := a.store.LookupMeta(path)

	// Tier one: a cheap stat-based check decides whether tier two (reading
	// and hashing the whole file) is even necessary (spec §4.2).
	fresh, _, err := CheckMetadata(path, prevMeta)
	if err != nil {
		return FileAnalysis{Path: path, Valid: false, Errors: []string{err.Error()}}, false, nil
	}
	if err := a.store.StoreMeta(path, fresh); err != nil {
		return FileAnalysis{}, false, errdefs.AsInternal(err)
	}
	contentDigest := fresh.Content

	if fa, ok := a.store.Lookup(contentDigest); ok {
		fa.Path = path
		return fa, true, nil
	}

	// singleflight collapses concurrent misses for the same content digest
	// (e.g. two targets sharing an identical generated file).
	v, err, _ := a.group.Do(contentDigest.String(), func() (interface{}, error) {
		content, err := os.ReadFile(path)
		if err != nil {
			return FileAnalysis{}, errdefs.AsIO(err)
		}
		imports, scanErrs := scanner(content)
		result := FileAnalysis{
			Path:    path,
			Content: contentDigest,
			Imports: imports,
			Errors:  scanErrs,
			Valid:   len(scanErrs) == 0,
		}
		if err := a.store.Store(result); err != nil {
			return FileAnalysis{}, err
		}
		return result, nil
	})
	if err != nil {
		return FileAnalysis{}, false, errdefs.AsParseAnalysis(err)
	}
	fa := v.(FileAnalysis)
	fa.Path = path
	return fa, false, nil
}

// CheckMetadata implements the tier-one check: if path's cheap metadata hash
// matches prev, the caller can skip even computing the content digest (spec
// §4.2). It returns the fresh FileMeta either way so the caller can persist
// it for next time.
func CheckMetadata(path string, prev FileMeta) (fresh FileMeta, unchanged bool, err error) {
	meta, err := digest.MetadataOf(path)
	if err != nil {
		return FileMeta{}, false, errdefs.AsIO(err)
	}
	h := meta.Hash()
	if h == prev.MetadataHash && !prev.Content.Zero() {
		return FileMeta{MetadataHash: h, Content: prev.Content}, true, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return FileMeta{}, false, errdefs.AsIO(err)
	}
	d := digest.FromBytes(content)
	return FileMeta{MetadataHash: h, Content: d}, d.Equal(prev.Content), nil
}

func dedupeImports(files []FileAnalysis) []Import {
	seen := make(map[string]bool)
	var out []Import
	for _, f := range files {
		for _, imp := range f.Imports {
			if seen[imp.Raw] {
				continue
			}
			seen[imp.Raw] = true
			out = append(out, imp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Raw < out[j].Raw })
	return out
}
