package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/nexus/internal/agent"
)

var ignoredDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	".next":        true,
	".cache":       true,
}

// ListTool lists project files and directories up to a fixed depth
// (spec.md §4.3 list_files).
type ListTool struct {
	resolver Resolver
}

// NewListTool creates a list_files tool scoped to the workspace.
func NewListTool(cfg Config) *ListTool {
	return &ListTool{resolver: Resolver{Root: cfg.Workspace}}
}

// Name returns the tool name.
func (t *ListTool) Name() string {
	return "list_files"
}

// Description returns the tool description.
func (t *ListTool) Description() string {
	return "List files and directories under a project path, up to depth 2."
}

// Schema returns the JSON schema for the tool parameters.
func (t *ListTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to list, relative to the project root (default: root).",
			},
		},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute walks the requested directory to a maximum depth of 2, returning
// a newline-joined list of relative paths with directories suffixed "/".
func (t *ListTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
		}
	}
	rel := input.Path
	if strings.TrimSpace(rel) == "" {
		rel = "."
	}

	resolved, err := t.resolver.Resolve(rel)
	if err != nil {
		return toolError(err.Error()), nil
	}

	const maxDepth = 2
	var entries []string
	var walk func(dir string, depth int) error
	walk = func(dir string, depth int) error {
		if depth > maxDepth {
			return nil
		}
		items, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, item := range items {
			if ignoredDirs[item.Name()] {
				continue
			}
			full := filepath.Join(dir, item.Name())
			relPath, err := filepath.Rel(resolved, full)
			if err != nil {
				continue
			}
			relPath = filepath.ToSlash(relPath)
			if item.IsDir() {
				entries = append(entries, relPath+"/")
				if err := walk(full, depth+1); err != nil {
					return err
				}
			} else {
				entries = append(entries, relPath)
			}
		}
		return nil
	}

	if err := walk(resolved, 1); err != nil {
		return toolError(fmt.Sprintf("list directory: %v", err)), nil
	}

	sort.Strings(entries)
	return &agent.ToolResult{Content: strings.Join(entries, "\n")}, nil
}
