package analyzer

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"
)

// Scanner extracts imports from one source file's content. Per spec §4.3,
// scanning is "a language-specific scanner (regex or minimal parser per
// language tag)". Real per-language nuance is an external handler's concern
// (spec §6 analyze_imports); the scanners here are the minimal regex form
// the spec names explicitly, enough to exercise the cache end to end.
type Scanner func(content []byte) ([]Import, []string)

// Scanners maps a language tag to its import scanner. A caller may register
// additional tags; languages without a registered scanner fall back to
// NoopScanner (valid, zero imports) rather than failing the analysis.
var Scanners = map[string]Scanner{
	"go":         scanGo,
	"c":          scanCLike,
	"cpp":        scanCLike,
	"python":     scanPython,
	"javascript": scanJSLike,
	"typescript": scanJSLike,
}

var (
	goImportRe   = regexp.MustCompile(`^\s*(?:_|\w+\s+)?"([^"]+)"\s*$`)
	goImportLine = regexp.MustCompile(`^\s*import\s+(?:\(|"([^"]+)")`)
	cIncludeRe   = regexp.MustCompile(`^\s*#\s*include\s*([<"])([^>"]+)[>"]`)
	pyImportRe   = regexp.MustCompile(`^\s*(?:from\s+(\S+)\s+import|import\s+(\S+))`)
	jsImportRe   = regexp.MustCompile(`(?:import\s+.*?from\s+|require\()\s*['"]([^'"]+)['"]`)
)

func scanGo(content []byte) ([]Import, []string) {
	var imports []Import
	sc := bufio.NewScanner(bytes.NewReader(content))
	inBlock := false
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if !inBlock {
			if m := goImportLine.FindStringSubmatch(text); m != nil {
				if m[1] != "" {
					imports = append(imports, classifyImport(m[1], line))
					continue
				}
				inBlock = true
			}
			continue
		}
		trimmed := strings.TrimSpace(text)
		if trimmed == ")" {
			inBlock = false
			continue
		}
		if m := goImportRe.FindStringSubmatch(text); m != nil {
			imports = append(imports, classifyImport(m[1], line))
		}
	}
	return imports, nil
}

func classifyImport(path string, line int) Import {
	kind := External
	switch {
	case strings.HasPrefix(path, "."):
		kind = Relative
	case !strings.Contains(path, "."):
		kind = Stdlib
	}
	return Import{Raw: path, Kind: kind, Location: SourceLocation{Line: line}}
}

func scanCLike(content []byte) ([]Import, []string) {
	var imports []Import
	sc := bufio.NewScanner(bytes.NewReader(content))
	line := 0
	for sc.Scan() {
		line++
		if m := cIncludeRe.FindStringSubmatch(sc.Text()); m != nil {
			kind := External
			if m[1] == `"` {
				kind = Relative
			}
			imports = append(imports, Import{Raw: m[2], Kind: kind, Location: SourceLocation{Line: line}})
		}
	}
	return imports, nil
}

func scanPython(content []byte) ([]Import, []string) {
	var imports []Import
	sc := bufio.NewScanner(bytes.NewReader(content))
	line := 0
	for sc.Scan() {
		line++
		m := pyImportRe.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		module := m[1]
		if module == "" {
			module = m[2]
		}
		kind := External
		if strings.HasPrefix(module, ".") {
			kind = Relative
		}
		imports = append(imports, Import{Raw: module, Kind: kind, Location: SourceLocation{Line: line}})
	}
	return imports, nil
}

func scanJSLike(content []byte) ([]Import, []string) {
	var imports []Import
	sc := bufio.NewScanner(bytes.NewReader(content))
	line := 0
	for sc.Scan() {
		line++
		m := jsImportRe.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		kind := External
		if strings.HasPrefix(m[1], ".") {
			kind = Relative
		}
		imports = append(imports, Import{Raw: m[1], Kind: kind, Location: SourceLocation{Line: line}})
	}
	return imports, nil
}

// NoopScanner is used for unrecognized language tags.
func NoopScanner(_ []byte) ([]Import, []string) { return nil, nil }
