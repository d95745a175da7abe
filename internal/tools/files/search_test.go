package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestSearchToolFindsMatchesAcrossFiles(t *testing.T) {
	root := t.TempDir()
	cfg := Config{Workspace: root}

	if err := os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n\nfunc Foo() {}\n"), 0o644); err != nil {
		t.Fatalf("write a.go: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "b.go"), []byte("package b\n\nfunc Bar() {}\n"), 0o644); err != nil {
		t.Fatalf("write b.go: %v", err)
	}
	if err := os.Mkdir(filepath.Join(root, "node_modules"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "node_modules", "c.go"), []byte("func Foo() {}\n"), 0o644); err != nil {
		t.Fatalf("write c.go: %v", err)
	}

	tool := NewSearchTool(cfg)
	params, _ := json.Marshal(map[string]interface{}{"pattern": "func (Foo|Bar)"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute returned error: %v", err)
	}

	if !strings.Contains(result.Content, "a.go:3: func Foo() {}") {
		t.Errorf("expected match from a.go, got: %s", result.Content)
	}
	if !strings.Contains(result.Content, "b.go:3: func Bar() {}") {
		t.Errorf("expected match from b.go, got: %s", result.Content)
	}
	if strings.Contains(result.Content, "node_modules") {
		t.Errorf("expected node_modules to be skipped, got: %s", result.Content)
	}
}

func TestSearchToolReportsNoMatches(t *testing.T) {
	root := t.TempDir()
	cfg := Config{Workspace: root}
	if err := os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tool := NewSearchTool(cfg)
	params, _ := json.Marshal(map[string]interface{}{"pattern": "nothingmatchesthis"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute returned error: %v", err)
	}
	if !strings.Contains(result.Content, "no matches for") {
		t.Errorf("expected a no-matches diagnostic, got: %s", result.Content)
	}
}

func TestSearchToolRejectsBadRegex(t *testing.T) {
	root := t.TempDir()
	cfg := Config{Workspace: root}

	tool := NewSearchTool(cfg)
	params, _ := json.Marshal(map[string]interface{}{"pattern": "("})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute returned error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an invalid-regex error result")
	}
}

// TestGrepFilesPreservesPathOrder exercises grepFiles directly with enough
// files to cross the searchWorkers() concurrency bound, verifying that
// parallel scanning still returns matches grouped in the same order as the
// input paths regardless of which worker finishes first.
func TestGrepFilesPreservesPathOrder(t *testing.T) {
	root := t.TempDir()
	var paths []string
	for i := 0; i < 30; i++ {
		name := fmt.Sprintf("file%02d.txt", i)
		full := filepath.Join(root, name)
		if err := os.WriteFile(full, []byte(fmt.Sprintf("needle %d\n", i)), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		paths = append(paths, full)
	}

	re := regexp.MustCompile("needle")
	matches := grepFiles(context.Background(), root, paths, re)
	if len(matches) != len(paths) {
		t.Fatalf("got %d matches, want %d", len(matches), len(paths))
	}
	for i, m := range matches {
		want := fmt.Sprintf("file%02d.txt:1: needle %d", i, i)
		if m != want {
			t.Errorf("match %d = %q, want %q", i, m, want)
		}
	}
}
