package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/nexus/pkg/models"
)

// LLMProvider defines the interface for streaming chat-completion backends.
//
// Implementations handle the specifics of talking to a concrete API
// (Anthropic, Bedrock) while presenting the unified streaming vocabulary
// described in spec.md §6 to the agent loop: content-block-start,
// content-block-delta (text / tool-use input / reasoning text+signature),
// content-block-stop, message-stop.
//
// Thread Safety: implementations must be safe for concurrent use; a single
// provider instance may be shared across a parent loop and its sub-agents.
type LLMProvider interface {
	// Complete sends a request and returns a channel of streaming chunks.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider identifier ("anthropic", "bedrock").
	Name() string

	// Models returns the catalog of models this provider can serve.
	Models() []Model

	// SupportsTools reports whether the provider accepts a tool catalog.
	SupportsTools() bool
}

// CompletionRequest is a single streaming model call: system prompt, full
// history, tool catalog, and inference limits. maxOutput > reasoningBudget
// is an invariant enforced by the caller (internal/agent.Loop), not here.
type CompletionRequest struct {
	Model    string           `json:"model"`
	System   string           `json:"system,omitempty"`
	Messages []models.Message `json:"messages"`
	Tools    []Tool           `json:"tools,omitempty"`

	MaxTokens            int  `json:"max_tokens,omitempty"`
	EnableThinking       bool `json:"enable_thinking,omitempty"`
	ThinkingBudgetTokens int  `json:"thinking_budget_tokens,omitempty"`
}

// ToolCallChunk is a fully-assembled tool call decoded from a provider
// stream: its JSON input buffer has already been parsed (or degraded to an
// empty object per spec.md B1 on parse failure).
type ToolCallChunk struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// CompletionChunk is one event out of a provider's stream. Exactly one of
// the mutually-exclusive groups below carries data for a given chunk:
// Text, (Thinking/ThinkingStart/ThinkingEnd/Signature), ToolCall, or
// Done/Error.
//
// Signature arrives attached to the ThinkingEnd chunk once the provider has
// delivered the full reasoning signature_delta sequence; it must be copied
// onto the finalized Reasoning block by the decoder in internal/agent/loop.go.
type CompletionChunk struct {
	Text string `json:"text,omitempty"`

	Thinking      string `json:"thinking,omitempty"`
	ThinkingStart bool   `json:"thinking_start,omitempty"`
	ThinkingEnd   bool   `json:"thinking_end,omitempty"`
	Signature     string `json:"signature,omitempty"`

	ToolCall *ToolCallChunk `json:"tool_call,omitempty"`

	Done       bool   `json:"done,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
	Error      error  `json:"-"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Model describes an available LLM model and its capabilities.
type Model struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ContextSize    int    `json:"context_size"`
	SupportsVision bool   `json:"supports_vision"`
}

// Tool defines the interface for a sandboxed tool in C3's catalog. The
// input schema is the contract the model's ToolUse.input must satisfy.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is every tool's uniform return shape (spec.md §4.3 "Error
// shape"): on failure Content is the JSON string {"error": "<message>"}
// and IsError is true; the loop passes it through to the model unchanged.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}
