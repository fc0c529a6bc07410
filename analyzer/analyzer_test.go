package analyzer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "analysis.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestAnalyzeGoImports(t *testing.T) {
	a := newTestAnalyzer(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "main.go", `package main

import (
	"fmt"
	"./local"
	"github.com/foo/bar"
)

func main() { fmt.Println("hi") }
`)

	result, err := a.Analyze([]string{path}, "go")
	require.NoError(t, err)
	require.Len(t, result.Files, 1)
	require.True(t, result.Files[0].Valid)
	require.Len(t, result.AggregatedImport, 3)
}

func TestAnalyzeCachesByContentNotPath(t *testing.T) {
	a := newTestAnalyzer(t)
	dir := t.TempDir()
	p1 := writeFile(t, dir, "a.go", `package a

import "fmt"
`)
	p2 := writeFile(t, dir, "b.go", `package a

import "fmt"
`)

	r1, err := a.Analyze([]string{p1}, "go")
	require.NoError(t, err)
	r2, err := a.Analyze([]string{p2}, "go")
	require.NoError(t, err)

	require.Equal(t, r1.Files[0].Content, r2.Files[0].Content)
	require.Equal(t, 0, r1.Metrics.CacheHits)
	require.Equal(t, 1, r2.Metrics.CacheHits)
}

func TestAnalyzeReanalyzesOnContentChange(t *testing.T) {
	a := newTestAnalyzer(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "a.go", `package a

import "fmt"
`)
	r1, err := a.Analyze([]string{path}, "go")
	require.NoError(t, err)

	writeFile(t, dir, "a.go", `package a

import "os"
`)
	r2, err := a.Analyze([]string{path}, "go")
	require.NoError(t, err)

	require.NotEqual(t, r1.Files[0].Content, r2.Files[0].Content)
	require.Equal(t, 0, r2.Metrics.CacheHits)
}

func TestUnknownLanguageFallsBackToNoop(t *testing.T) {
	a := newTestAnalyzer(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "a.unknown", "whatever content")

	result, err := a.Analyze([]string{path}, "cobol")
	require.NoError(t, err)
	require.Empty(t, result.Files[0].Imports)
	require.True(t, result.Files[0].Valid)
}

func TestCheckMetadataUnchangedOnTouchWithoutContentChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.go", "package a\n")

	fresh1, _, err := CheckMetadata(path, FileMeta{})
	require.NoError(t, err)

	// touch: bump mtime without changing content
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	fresh2, unchanged, err := CheckMetadata(path, fresh1)
	require.NoError(t, err)
	require.True(t, unchanged)
	require.Equal(t, fresh1.Content, fresh2.Content)
	require.NotEqual(t, fresh1.MetadataHash, fresh2.MetadataHash)
}

func TestInvalidateRemovesEntry(t *testing.T) {
	a := newTestAnalyzer(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "a.go", "package a\n")

	r1, err := a.Analyze([]string{path}, "go")
	require.NoError(t, err)

	require.NoError(t, a.store.Invalidate(r1.Files[0].Content))
	r2, err := a.Analyze([]string{path}, "go")
	require.NoError(t, err)
	require.Equal(t, 0, r2.Metrics.CacheHits)
}
