package models

import "time"

// AgentEvent is the unified outbound event model the Session Gateway (C1)
// frames as JSON and forwards to the client. One sink per session; no
// dynamic listener juggling.
//
// Design principles:
//   - Single Type discriminator with optional payload pointers
//   - Monotonic Sequence for ordering guarantees within a turn
//   - Exactly one payload field is non-nil for a given Type
type AgentEvent struct {
	Type     AgentEventType `json:"type"`
	Time     time.Time      `json:"time"`
	Sequence uint64         `json:"seq"`

	Thinking    *ThinkingPayload    `json:"thinking,omitempty"`
	Text        *TextPayload        `json:"text_payload,omitempty"`
	ToolCall    *ToolCallPayload    `json:"tool_call,omitempty"`
	ToolResult  *ToolResultPayload  `json:"tool_result,omitempty"`
	FileChanged *FileChangedPayload `json:"file_changed,omitempty"`
	Prefill     *PrefillPayload     `json:"prefill,omitempty"`
	Error       *ErrorPayload       `json:"error_payload,omitempty"`
}

// AgentEventType identifies the kind of outbound event, matching spec.md
// §4.1's wire vocabulary exactly (the `agent:` prefix is applied at framing
// time by the gateway, not stored here).
type AgentEventType string

const (
	EventThinking    AgentEventType = "thinking"
	EventText        AgentEventType = "text"
	EventToolCall    AgentEventType = "tool_call"
	EventToolResult  AgentEventType = "tool_result"
	EventFileChanged AgentEventType = "file_changed"
	EventDone        AgentEventType = "done"
	EventPrefill     AgentEventType = "prefill"
	EventError       AgentEventType = "error"
)

// ThinkingPayload carries a streamed reasoning or partial-text chunk.
// Per spec.md §4.2 step 3, both Reasoning deltas and in-progress Text deltas
// are emitted as `agent:thinking` until the block finalizes.
type ThinkingPayload struct {
	Text string `json:"text"`
}

// TextPayload carries finalized assistant prose.
type TextPayload struct {
	Content string `json:"content"`
}

// ToolCallPayload announces a dispatched tool call.
type ToolCallPayload struct {
	ToolUseID string `json:"toolUseId"`
	Name      string `json:"name"`
	Input     any    `json:"input"`
}

// ToolResultPayload announces the outcome of a tool call.
type ToolResultPayload struct {
	ToolUseID string `json:"toolUseId"`
	Name      string `json:"name"`
	Result    string `json:"result"`
}

// FileChangedPayload announces a file mutation detected by C4.
type FileChangedPayload struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

// PrefillPayload carries a synthesized prompt from an `element_click`.
type PrefillPayload struct {
	Message string `json:"message"`
}

// ErrorPayload carries a protocol, provider, or fatal error message.
type ErrorPayload struct {
	Message string `json:"message"`
}
