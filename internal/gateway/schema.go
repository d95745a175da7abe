package gateway

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaRegistry compiles and caches the inbound frame schema plus each
// per-type data schema, grounded on the teacher's ws_schema.go pattern but
// trimmed to the five message types spec.md §4.1 actually defines.
type schemaRegistry struct {
	once    sync.Once
	initErr error
	frame   *jsonschema.Schema
	types   map[InboundType]*jsonschema.Schema
}

var schemas schemaRegistry

func initSchemas() error {
	schemas.once.Do(func() {
		frameSchema, err := jsonschema.CompileString("inbound_frame", inboundFrameSchema)
		if err != nil {
			schemas.initErr = err
			return
		}
		schemas.frame = frameSchema

		dataSchemas := map[InboundType]string{
			InboundChat:         chatDataSchema,
			InboundElementClick: elementClickDataSchema,
			InboundPreviewError: previewErrorDataSchema,
		}
		schemas.types = make(map[InboundType]*jsonschema.Schema, len(dataSchemas))
		for typ, raw := range dataSchemas {
			compiled, err := jsonschema.CompileString("inbound_"+string(typ), raw)
			if err != nil {
				schemas.initErr = err
				return
			}
			schemas.types[typ] = compiled
		}
	})
	return schemas.initErr
}

// validateInbound checks a raw client frame against the envelope schema and,
// for message types that carry a Data payload, the type-specific schema.
// "cancel" and "reset" carry no data and are valid with an empty frame.
func validateInbound(raw []byte) (*InboundMessage, error) {
	if err := initSchemas(); err != nil {
		return nil, err
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schemas.frame.Validate(generic); err != nil {
		return nil, err
	}

	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}

	if schema, ok := schemas.types[msg.Type]; ok {
		var data any
		if len(msg.Data) == 0 {
			data = map[string]any{}
		} else if err := json.Unmarshal(msg.Data, &data); err != nil {
			return nil, err
		}
		if err := schema.Validate(data); err != nil {
			return nil, err
		}
	}

	return &msg, nil
}

const inboundFrameSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {
      "type": "string",
      "enum": ["chat", "cancel", "reset", "element_click", "preview_error"]
    },
    "data": { "type": "object" }
  }
}`

const chatDataSchema = `{
  "type": "object",
  "required": ["content"],
  "properties": {
    "content": { "type": "string", "minLength": 1 }
  }
}`

const elementClickDataSchema = `{
  "type": "object",
  "required": ["selector"],
  "properties": {
    "selector": { "type": "string", "minLength": 1 },
    "description": { "type": "string" }
  }
}`

const previewErrorDataSchema = `{
  "type": "object",
  "required": ["error"],
  "properties": {
    "error": { "type": "string", "minLength": 1 }
  }
}`
