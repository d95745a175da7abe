// Package models provides the conversation data model for the agent runtime:
// content blocks, messages, and the append-only history an AgentLoop owns.
package models

import "encoding/json"

// Role identifies who authored a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockKind discriminates the ContentBlock union.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockReasoning  BlockKind = "reasoning"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
)

// ContentBlock is a tagged union: exactly one field group is meaningful,
// selected by Kind. Reasoning.Signature is opaque and MUST be preserved
// verbatim across turns; some providers reject unsigned reasoning on replay.
type ContentBlock struct {
	Kind BlockKind `json:"kind"`

	// Text / Reasoning
	Text      string `json:"text,omitempty"`
	Signature string `json:"signature,omitempty"`

	// ToolUse
	ToolUseID string          `json:"tool_use_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`

	// ToolResult — ToolUseID above doubles as the result's correlating id.
	ToolResultContent string `json:"tool_result_content,omitempty"`
	IsError           bool   `json:"is_error,omitempty"`
}

// NewTextBlock constructs a finalized Text block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Kind: BlockText, Text: text}
}

// NewReasoningBlock constructs a Reasoning block. signature may be empty if
// the provider never delivered one for this block.
func NewReasoningBlock(text, signature string) ContentBlock {
	return ContentBlock{Kind: BlockReasoning, Text: text, Signature: signature}
}

// NewToolUseBlock constructs a requested tool call.
func NewToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Kind: BlockToolUse, ToolUseID: id, ToolName: name, ToolInput: input}
}

// NewToolResultBlock constructs the outcome of a ToolUse, addressed by id.
func NewToolResultBlock(id, content string, isError bool) ContentBlock {
	return ContentBlock{Kind: BlockToolResult, ToolUseID: id, ToolResultContent: content, IsError: isError}
}

// Message is one turn's contribution: a role plus an ordered block sequence.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ToolUses returns the ToolUse blocks in this message, in order.
func (m Message) ToolUses() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Kind == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// Texts returns the Text blocks in this message, in order.
func (m Message) Texts() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Kind == BlockText {
			out = append(out, b)
		}
	}
	return out
}

// History is an append-only ordered sequence of Message, owned by one
// AgentLoop instance. Cleared on explicit reset; never shared across
// sub-agents (each sub-agent constructs its own History).
type History struct {
	messages []Message
}

// Append adds a message to the end of history.
func (h *History) Append(msg Message) {
	h.messages = append(h.messages, msg)
}

// Messages returns the current history. Callers must not mutate the
// returned slice's backing array.
func (h *History) Messages() []Message {
	return h.messages
}

// Len returns the number of messages in history.
func (h *History) Len() int {
	return len(h.messages)
}

// Reset clears history back to empty.
func (h *History) Reset() {
	h.messages = nil
}

// ToolDescriptor is the machine-readable shape of a tool as exposed to the
// model. The set is fixed at startup; the union is exposed on every turn.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ChangeNotification is emitted by the Change Detector (C4) and forwarded to
// the client as agent:file_changed. Path is project-relative, forward-slash.
// ContentRead is false (Content absent) when the file could not be read back.
type ChangeNotification struct {
	Path        string
	Content     string
	ContentRead bool
}
