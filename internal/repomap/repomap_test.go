package repomap

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestBuildExtractsGoSymbols(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pkg/widget.go", `package pkg

import "fmt"

func Widget() string {
	return fmt.Sprintf("widget")
}

type Config struct{}
`)

	summary, err := Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(summary, "pkg/widget.go") {
		t.Fatalf("expected file heading, got %s", summary)
	}
	if !strings.Contains(summary, "Widget") || !strings.Contains(summary, "Config") {
		t.Fatalf("expected exported symbols, got %s", summary)
	}
	if !strings.Contains(summary, "fmt") {
		t.Fatalf("expected import, got %s", summary)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n\nfunc A() {}\n")
	writeFile(t, root, "b/b.go", "package b\n\nfunc B() {}\n")

	first, err := Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	second, err := Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if first != second {
		t.Fatalf("expected repeated build to be byte-identical")
	}
}

func TestBuildSkipsIgnoredDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "node_modules/dep.js", "export function Dep() {}\n")
	writeFile(t, root, "src/app.js", "export function App() {}\n")

	summary, err := Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(summary, "node_modules") {
		t.Fatalf("expected node_modules to be skipped, got %s", summary)
	}
	if !strings.Contains(summary, "src/app.js") {
		t.Fatalf("expected src/app.js included, got %s", summary)
	}
}

func TestBuilderCoalescesConcurrentBuilds(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pkg/widget.go", `package pkg

func Widget() string { return "widget" }
`)

	builder := NewBuilder(nil, nil)

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			summary, err := builder.Build(context.Background(), root)
			if err != nil {
				t.Errorf("build: %v", err)
			}
			results[i] = summary
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		if !strings.Contains(r, "pkg/widget.go") {
			t.Fatalf("result %d missing pkg/widget.go: %s", i, r)
		}
	}
}
