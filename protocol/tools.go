package protocol

// ToolDefinition declares one tool a backend may invoke. It is used both to
// build backend-native tool declarations and, for the CLI adapter, to render
// a textual tool catalog embedded in the prompt.
type ToolDefinition struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	InputSchema ToolSchema `json:"input_schema"`
}

// ToolSchema is a JSON-Schema-like object schema for a tool's input.
type ToolSchema struct {
	Type       string                  `json:"type"`
	Properties map[string]ToolProperty `json:"properties,omitempty"`
	Required   []string                `json:"required,omitempty"`
}

// ToolProperty describes one named input parameter.
type ToolProperty struct {
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	Items       any    `json:"items,omitempty"`
}

// SchemaMap returns the schema as a generic JSON-Schema map, the form the
// OpenAI-style and Gemini wire formats expect.
func (s ToolSchema) SchemaMap() map[string]any {
	m := map[string]any{"type": s.Type}
	if s.Type == "" {
		m["type"] = "object"
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			prop := map[string]any{}
			if p.Type != "" {
				prop["type"] = p.Type
			}
			if p.Description != "" {
				prop["description"] = p.Description
			}
			if len(p.Enum) > 0 {
				prop["enum"] = p.Enum
			}
			if p.Items != nil {
				prop["items"] = p.Items
			}
			props[name] = prop
		}
		m["properties"] = props
	}
	if len(s.Required) > 0 {
		m["required"] = s.Required
	}
	return m
}

// IsRequired reports whether the named parameter is in the schema's
// required list.
func (s ToolSchema) IsRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}
