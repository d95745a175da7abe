package files

import (
	"encoding/json"
	"os"
	"unicode/utf8"

	"github.com/haasonsaas/nexus/internal/agent"
)

// toolError builds the uniform {"error": "<message>"} tool result shape
// (spec.md §4.3 "Error shape").
func toolError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}

// readFileSandboxed reads an already-resolved, in-root path.
func readFileSandboxed(resolved string) ([]byte, error) {
	return os.ReadFile(resolved)
}

// isProbablyText rejects content containing a NUL byte or invalid UTF-8,
// the same rough heuristic the teacher's display tooling uses to decide
// whether a file is safe to render as text.
func isProbablyText(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	for _, b := range data {
		if b == 0 {
			return false
		}
	}
	return utf8.Valid(data)
}
