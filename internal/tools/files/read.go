package files

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/infra"
)

// maxLineChars bounds how much of a single line read_file will emit. A
// minified bundle or a generated data file can pack an entire file onto one
// line; without this, maxLines alone doesn't bound the response size.
const maxLineChars = 2000

// Config controls filesystem tool defaults.
type Config struct {
	Workspace string
	MaxLines  int
}

// ReadTool implements a sandboxed, line-numbered file reader (spec.md §4.3
// read_file). Lines are 1-indexed and prefixed "N\t", matching how the
// model sees file content when deciding where to target an edit_file call.
type ReadTool struct {
	resolver Resolver
	maxLines int
}

// NewReadTool creates a read tool scoped to the workspace.
func NewReadTool(cfg Config) *ReadTool {
	limit := cfg.MaxLines
	if limit <= 0 {
		limit = 2000
	}
	return &ReadTool{
		resolver: Resolver{Root: cfg.Workspace},
		maxLines: limit,
	}
}

// Name returns the tool name.
func (t *ReadTool) Name() string {
	return "read_file"
}

// Description returns the tool description.
func (t *ReadTool) Description() string {
	return "Read a file from the project, returned as 1-indexed, tab-prefixed lines."
}

// Schema returns the JSON schema for the tool parameters.
func (t *ReadTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file, relative to the project root.",
			},
			"offset": map[string]interface{}{
				"type":        "integer",
				"description": "1-indexed line to start reading from (default: 1).",
				"minimum":     1,
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of lines to return (capped by tool default).",
				"minimum":     0,
			},
		},
		"required": []string{"path"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute reads a file and returns its content as 1-indexed, tab-prefixed
// lines (spec.md §4.3). Binary content that cannot be decoded as UTF-8 text
// is surfaced as an "unreadable" tool error rather than mangled output.
func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path   string `json:"path"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	data, err := readFileSandboxed(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("read file: %v", err)), nil
	}
	if !isProbablyText(data) {
		return toolError("file is binary or unreadable as text"), nil
	}

	offset := input.Offset
	if offset < 1 {
		offset = 1
	}
	limit := t.maxLines
	if input.Limit > 0 && input.Limit < limit {
		limit = input.Limit
	}

	lines := strings.Split(string(data), "\n")
	var b strings.Builder
	emitted := 0
	for i, line := range lines {
		lineNo := i + 1
		if lineNo < offset {
			continue
		}
		if emitted >= limit {
			break
		}
		b.WriteString(strconv.Itoa(lineNo))
		b.WriteByte('\t')
		b.WriteString(infra.TruncateWithEllipsis(line, maxLineChars))
		b.WriteByte('\n')
		emitted++
	}

	return &agent.ToolResult{Content: b.String()}, nil
}
