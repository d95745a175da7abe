// Package repomap builds the project summary injected into the agent's
// system prompt at session start (spec.md §4.5). Go source is parsed with
// go/parser for accurate imports/exports/declarations; every other
// extension falls back to a regex-based skim.
package repomap

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/nexus/internal/infra"
	"github.com/haasonsaas/nexus/internal/observability"
)

// CharBudget is the output truncation budget (spec.md §9 repoMapCharBudget).
const CharBudget = 16000

var ignoredDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	".next":        true,
	".cache":       true,
}

// extensionPriority orders UI source first, data files last; files sharing
// a priority are then sorted alphabetically (spec.md §4.5).
var extensionPriority = map[string]int{
	".tsx": 0, ".jsx": 0,
	".ts": 1, ".js": 1,
	".go": 2,
	".py": 3, ".rb": 3,
	".css": 4, ".scss": 4,
	".json": 5, ".yaml": 5, ".yml": 5,
	".md": 6,
}

const defaultPriority = 3

var sourceExtensions = func() map[string]bool {
	m := make(map[string]bool, len(extensionPriority)+2)
	for ext := range extensionPriority {
		m[ext] = true
	}
	m[".java"] = true
	m[".rs"] = true
	return m
}()

// fileSummary is one file's extracted shape.
type fileSummary struct {
	relPath string
	imports []string
	exports []string
	symbols []string
}

// Build walks root and returns the Markdown-like repo-map summary described
// in spec.md §4.5, truncated to CharBudget characters.
func Build(root string) (string, error) {
	paths, err := collectPaths(root)
	if err != nil {
		return "", err
	}
	sortByPriorityThenName(paths)

	var b strings.Builder
	included := 0
	for i, relPath := range paths {
		summary := summarizeFile(root, relPath)
		block := renderFileBlock(summary)
		if b.Len()+len(block) > CharBudget {
			remaining := len(paths) - i
			b.WriteString(fmt.Sprintf("… and %d more file(s) omitted for brevity.", remaining))
			return b.String(), nil
		}
		b.WriteString(block)
		included++
	}
	return b.String(), nil
}

// rebuildTTL is how long a built summary is served from cache before the
// next request triggers a fresh walk. Short enough that a rebuild still
// picks up the Bash-mutated files changedetector reports within a turn or
// two, long enough to absorb the same session asking for several builds in
// a row (e.g. Task sub-agents each priming their own system prompt).
const rebuildTTL = 2 * time.Second

// Builder rebuilds a project's repo-map summary on demand. Concurrent
// rebuild requests for the same root (e.g. several file_changed
// notifications arriving in a burst) collapse into a single Build call via
// singleflight; a short-TTL cache then serves repeat requests for the same
// root without walking the tree again. Every rebuild's duration is recorded
// through the tracer and metrics so it shows up next to the turn and tool
// spans it feeds.
type Builder struct {
	group   infra.Group[string, string]
	cache   *infra.TTLCache[string, string]
	tracer  *observability.Tracer
	metrics *observability.Metrics
}

// NewBuilder constructs a Builder. tracer and metrics may be nil to disable
// the corresponding instrumentation (e.g. in tests).
func NewBuilder(tracer *observability.Tracer, metrics *observability.Metrics) *Builder {
	return &Builder{
		cache:   infra.NewTTLCache[string, string](infra.CacheConfig{DefaultTTL: rebuildTTL, MaxSize: 64}),
		tracer:  tracer,
		metrics: metrics,
	}
}

// Build returns root's repo-map summary, serving a cached result when one is
// still fresh and otherwise reusing an in-flight build for the same root
// rather than walking the tree twice.
func (b *Builder) Build(ctx context.Context, root string) (string, error) {
	if cached, ok := b.cache.Get(root); ok {
		return cached, nil
	}

	start := time.Now()

	var span trace.Span
	if b.tracer != nil {
		_, span = b.tracer.TraceRepoMapBuild(ctx, root)
	}

	summary, err, _ := b.group.Do(root, func() (string, error) {
		return Build(root)
	})

	if span != nil {
		if err != nil {
			b.tracer.RecordError(span, err)
		}
		span.End()
	}
	if b.metrics != nil {
		b.metrics.RecordRepoMapBuild(time.Since(start).Seconds())
	}
	if err == nil {
		b.cache.Set(root, summary)
	}

	return summary, err
}

// Invalidate drops any cached summary for root, forcing the next Build to
// walk the tree. Callers reset this after a batch of changedetector
// notifications lands, so the next system-prompt refresh reflects them
// immediately instead of waiting out rebuildTTL.
func (b *Builder) Invalidate(root string) {
	b.cache.Delete(root)
}

func collectPaths(root string) ([]string, error) {
	var paths []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if info.IsDir() {
			if path != root && ignoredDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(path)
		if !sourceExtensions[ext] {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	return paths, err
}

func sortByPriorityThenName(paths []string) {
	sort.Slice(paths, func(i, j int) bool {
		pi, pj := priorityOf(paths[i]), priorityOf(paths[j])
		if pi != pj {
			return pi < pj
		}
		return paths[i] < paths[j]
	})
}

func priorityOf(relPath string) int {
	if p, ok := extensionPriority[filepath.Ext(relPath)]; ok {
		return p
	}
	return defaultPriority
}

func renderFileBlock(s fileSummary) string {
	var b strings.Builder
	b.WriteString("### ")
	b.WriteString(s.relPath)
	b.WriteString("\n")
	if len(s.imports) > 0 {
		b.WriteString("imports: ")
		b.WriteString(strings.Join(dedup(s.imports), ", "))
		b.WriteString("\n")
	}
	if len(s.exports) > 0 {
		b.WriteString("exports: ")
		b.WriteString(strings.Join(dedup(s.exports), ", "))
		b.WriteString("\n")
	}
	if len(s.symbols) > 0 {
		b.WriteString("symbols: ")
		b.WriteString(strings.Join(dedup(s.symbols), ", "))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func dedup(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

func summarizeFile(root, relPath string) fileSummary {
	full := filepath.Join(root, relPath)
	summary := fileSummary{relPath: relPath}

	if filepath.Ext(relPath) == ".go" {
		if s, ok := summarizeGoFile(full); ok {
			s.relPath = relPath
			return s
		}
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return summary
	}
	return summarizeByRegex(relPath, string(data))
}

func summarizeGoFile(full string) (fileSummary, bool) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, full, nil, parser.ParseComments)
	if err != nil {
		return fileSummary{}, false
	}

	summary := fileSummary{}
	for _, imp := range file.Imports {
		summary.imports = append(summary.imports, strings.Trim(imp.Path.Value, `"`))
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			name := d.Name.Name
			summary.symbols = append(summary.symbols, name)
			if ast.IsExported(name) {
				summary.exports = append(summary.exports, name)
			}
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					summary.symbols = append(summary.symbols, s.Name.Name)
					if ast.IsExported(s.Name.Name) {
						summary.exports = append(summary.exports, s.Name.Name)
					}
				case *ast.ValueSpec:
					for _, name := range s.Names {
						if ast.IsExported(name.Name) {
							summary.exports = append(summary.exports, name.Name)
						}
					}
				}
			}
		}
	}
	return summary, true
}

var (
	importRe = regexp.MustCompile(`(?m)^\s*import\s+.*?["']([^"']+)["']`)
	fromRe   = regexp.MustCompile(`(?m)^\s*(?:import\s+.*?\s+from|from)\s+["']([^"']+)["']`)
	exportRe = regexp.MustCompile(`(?m)^\s*export\s+(?:default\s+)?(?:async\s+)?(?:function|class|const|let|var)\s+([A-Za-z0-9_$]+)`)
	funcRe   = regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s+([A-Za-z0-9_$]+)`)
	classRe  = regexp.MustCompile(`(?m)^\s*(?:export\s+)?class\s+([A-Za-z0-9_$]+)`)
	defRe    = regexp.MustCompile(`(?m)^\s*def\s+([A-Za-z0-9_]+)`)
)

// summarizeByRegex is the foreign-language fallback: best-effort import,
// export, and top-level declaration extraction via regex, used for any
// extension go/parser can't handle.
func summarizeByRegex(relPath, content string) fileSummary {
	summary := fileSummary{relPath: relPath}
	for _, m := range importRe.FindAllStringSubmatch(content, -1) {
		summary.imports = append(summary.imports, m[1])
	}
	for _, m := range fromRe.FindAllStringSubmatch(content, -1) {
		summary.imports = append(summary.imports, m[1])
	}
	for _, m := range exportRe.FindAllStringSubmatch(content, -1) {
		summary.exports = append(summary.exports, m[1])
		summary.symbols = append(summary.symbols, m[1])
	}
	for _, m := range funcRe.FindAllStringSubmatch(content, -1) {
		summary.symbols = append(summary.symbols, m[1])
	}
	for _, m := range classRe.FindAllStringSubmatch(content, -1) {
		summary.symbols = append(summary.symbols, m[1])
	}
	for _, m := range defRe.FindAllStringSubmatch(content, -1) {
		summary.symbols = append(summary.symbols, m[1])
	}
	return summary
}
