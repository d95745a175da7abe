// Package preview exposes the restart_preview tool (spec.md §4.3), backed by
// internal/preview.Manager's single-slot child lifecycle.
package preview

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/nexus/internal/agent"
	previewmgr "github.com/haasonsaas/nexus/internal/preview"
)

// Tool restarts the project's preview dev-server child.
type Tool struct {
	manager *previewmgr.Manager
}

// NewTool creates a restart_preview tool around the given manager.
func NewTool(manager *previewmgr.Manager) *Tool {
	return &Tool{manager: manager}
}

func (t *Tool) Name() string { return "restart_preview" }

func (t *Tool) Description() string {
	return "Restart the live-preview dev-server: terminate any running instance and start a fresh one."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.manager == nil {
		return toolError("preview manager unavailable"), nil
	}
	pid, err := t.manager.Restart(ctx)
	if err != nil {
		return toolError(fmt.Sprintf("restart preview: %v", err)), nil
	}
	payload, err := json.Marshal(map[string]interface{}{"status": "ok", "pid": pid})
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

func toolError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
