// Package task provides the catalog descriptor for the Task tool. Task is
// intercepted by the agent loop before ordinary tool dispatch (spec.md
// §4.2.1): this Tool exists only so its name/description/schema appear in
// the catalog passed to the model. Its Execute is never called on the
// success path; it is a safety net for a tool dispatch wired without the
// loop's interception (e.g. a direct Executor.Execute call from a test).
package task

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/nexus/internal/agent"
)

// Tool is the Task sub-agent's catalog descriptor.
type Tool struct{}

// NewTool creates the Task tool descriptor.
func NewTool() *Tool { return &Tool{} }

func (t *Tool) Name() string { return "Task" }

func (t *Tool) Description() string {
	return "Delegate a self-contained piece of work to a sub-agent with its own conversation history, returning its final answer as text."
}

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"prompt": map[string]interface{}{
				"type":        "string",
				"description": "The task for the sub-agent to complete.",
			},
		},
		"required": []string{"prompt"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	payload, _ := json.Marshal(map[string]string{"error": "Sub-agent error: Task must be dispatched by the agent loop"})
	return &agent.ToolResult{Content: string(payload), IsError: true}, nil
}
