package files

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/infra"
)

// searchWorkers bounds how many files are grep'd concurrently, so a search
// over a large tree doesn't spawn one goroutine per file.
func searchWorkers() int {
	if n := runtime.NumCPU(); n > 1 {
		if n > 8 {
			return 8
		}
		return n
	}
	return 1
}

// SearchTool greps a regex pattern across project files (spec.md §4.3
// search_files / Grep), skipping the standard ignore set.
type SearchTool struct {
	resolver Resolver
}

// NewSearchTool creates a search_files tool scoped to the workspace.
func NewSearchTool(cfg Config) *SearchTool {
	return &SearchTool{resolver: Resolver{Root: cfg.Workspace}}
}

// Name returns the tool name.
func (t *SearchTool) Name() string {
	return "search_files"
}

// Description returns the tool description.
func (t *SearchTool) Description() string {
	return "Search project files for a regex pattern, returning matching lines."
}

// Schema returns the JSON schema for the tool parameters.
func (t *SearchTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Regular expression to search for.",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to search, relative to the project root (default: root).",
			},
		},
		"required": []string{"pattern"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute searches for pattern across text files under path, returning
// "relpath:lineno: line" per match. An empty result set returns a
// diagnostic string rather than an empty one, so the model can tell a
// zero-match search apart from a broken one.
func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Pattern) == "" {
		return toolError("pattern is required"), nil
	}

	re, err := regexp.Compile(input.Pattern)
	if err != nil {
		return toolError(fmt.Sprintf("invalid regex: %v", err)), nil
	}

	rel := input.Path
	if strings.TrimSpace(rel) == "" {
		rel = "."
	}
	resolved, err := t.resolver.Resolve(rel)
	if err != nil {
		return toolError(err.Error()), nil
	}

	var paths []string
	err = filepath.Walk(resolved, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if info.IsDir() {
			if ignoredDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return toolError(fmt.Sprintf("search: %v", err)), nil
	}

	matches := grepFiles(ctx, resolved, paths, re)

	if len(matches) == 0 {
		return &agent.ToolResult{Content: fmt.Sprintf("no matches for %q under %s", input.Pattern, rel)}, nil
	}
	return &agent.ToolResult{Content: strings.Join(matches, "\n")}, nil
}

// grepFiles scans every path in paths for re, fanning the scan out across a
// bounded worker pool (internal/infra.ParallelMap) since a project tree
// can carry thousands of files and grep-ing them one at a time is the
// slowest part of a search_files call. Results preserve paths order
// regardless of which worker finished first.
func grepFiles(ctx context.Context, root string, paths []string, re *regexp.Regexp) []string {
	perFile := infra.ParallelMap(ctx, paths, searchWorkers(), func(path string) []string {
		return grepOneFile(root, path, re)
	})

	var matches []string
	for _, fileMatches := range perFile {
		matches = append(matches, fileMatches...)
	}
	return matches
}

func grepOneFile(root, path string, re *regexp.Regexp) []string {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	relPath, err := filepath.Rel(root, path)
	if err != nil {
		return nil
	}
	relPath = filepath.ToSlash(relPath)

	var matches []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if re.MatchString(line) {
			matches = append(matches, fmt.Sprintf("%s:%d: %s", relPath, lineNo, line))
		}
	}
	return matches
}

// GlobTool resolves a glob pattern to matching relative project paths
// (spec.md §4.3 Glob).
type GlobTool struct {
	resolver Resolver
}

// NewGlobTool creates a Glob tool scoped to the workspace.
func NewGlobTool(cfg Config) *GlobTool {
	return &GlobTool{resolver: Resolver{Root: cfg.Workspace}}
}

// Name returns the tool name.
func (t *GlobTool) Name() string {
	return "Glob"
}

// Description returns the tool description.
func (t *GlobTool) Description() string {
	return "Find project files matching a glob pattern."
}

// Schema returns the JSON schema for the tool parameters.
func (t *GlobTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Glob pattern, relative to the project root (e.g. \"**/*.go\").",
			},
		},
		"required": []string{"pattern"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute matches pattern against the project tree. Go's filepath.Glob has
// no "**" support, so a leading "**/" is treated as "match at any depth" by
// walking the tree and matching the remainder against each candidate's base.
func (t *GlobTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Pattern string `json:"pattern"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Pattern) == "" {
		return toolError("pattern is required"), nil
	}

	root, err := t.resolver.Resolve(".")
	if err != nil {
		return toolError(err.Error()), nil
	}

	pattern := input.Pattern
	var matches []string

	if strings.HasPrefix(pattern, "**/") {
		suffix := strings.TrimPrefix(pattern, "**/")
		err = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return nil
			}
			if info.IsDir() {
				if ignoredDirs[info.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			relPath, err := filepath.Rel(root, path)
			if err != nil {
				return nil
			}
			relPath = filepath.ToSlash(relPath)
			if ok, _ := filepath.Match(suffix, filepath.Base(path)); ok {
				matches = append(matches, relPath)
			}
			return nil
		})
	} else {
		found, globErr := filepath.Glob(filepath.Join(root, pattern))
		err = globErr
		for _, f := range found {
			relPath, relErr := filepath.Rel(root, f)
			if relErr != nil {
				continue
			}
			matches = append(matches, filepath.ToSlash(relPath))
		}
	}
	if err != nil {
		return toolError(fmt.Sprintf("glob: %v", err)), nil
	}

	return &agent.ToolResult{Content: strings.Join(matches, "\n")}, nil
}
