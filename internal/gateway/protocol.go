// Package gateway implements C1, the Session Gateway (spec.md §4.1): a
// duplex WebSocket connection per participant, parsing inbound control
// messages and fanning out agent.Loop events to the client as framed JSON.
// Style grounded on the teacher's gorilla/websocket upgrade pattern and its
// jsonschema-validated frame envelope.
package gateway

import (
	"encoding/json"
)

// InboundType enumerates the client-to-server control messages (spec.md
// §4.1).
type InboundType string

const (
	InboundChat         InboundType = "chat"
	InboundCancel       InboundType = "cancel"
	InboundReset        InboundType = "reset"
	InboundElementClick InboundType = "element_click"
	InboundPreviewError InboundType = "preview_error"
)

// InboundMessage is one client-to-server frame.
type InboundMessage struct {
	Type InboundType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ChatData is InboundMessage.Data for type "chat".
type ChatData struct {
	Content string `json:"content"`
}

// ElementClickData is InboundMessage.Data for type "element_click"; Selector
// identifies what was clicked in the live preview, synthesized into a
// prefilled chat prompt.
type ElementClickData struct {
	Selector    string `json:"selector"`
	Description string `json:"description,omitempty"`
}

// PreviewErrorData is InboundMessage.Data for type "preview_error".
type PreviewErrorData struct {
	Error string `json:"error"`
}

// OutboundMessage wraps an agent.AgentEvent with its wire "agent:" prefix
// applied (spec.md §4.1's wire vocabulary), the shape the client actually
// receives over the socket.
type OutboundMessage struct {
	Type string `json:"type"`
	Body any    `json:"body"`
}
