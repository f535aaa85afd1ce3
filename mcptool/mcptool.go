// Package mcptool bridges MCP tool definitions and results to the protocol
// types, so tools discovered from MCP servers can be offered to any provider.
package mcptool

import (
	"encoding/json"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"switchboard/protocol"
)

// FromMCPTools converts MCP tools to protocol tool definitions.
func FromMCPTools(mcpTools []mcptypes.Tool) []protocol.ToolDefinition {
	if len(mcpTools) == 0 {
		return nil
	}
	result := make([]protocol.ToolDefinition, len(mcpTools))
	for i, tool := range mcpTools {
		result[i] = FromMCP(tool)
	}
	return result
}

// FromMCP converts one MCP tool to a protocol tool definition.
func FromMCP(tool mcptypes.Tool) protocol.ToolDefinition {
	schema := protocol.ToolSchema{
		Type:       tool.InputSchema.Type,
		Required:   tool.InputSchema.Required,
		Properties: make(map[string]protocol.ToolProperty, len(tool.InputSchema.Properties)),
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	for name, value := range tool.InputSchema.Properties {
		schema.Properties[name] = convertPropertyValue(value)
	}
	return protocol.ToolDefinition{
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: schema,
	}
}

// convertPropertyValue converts one MCP property (a free-form JSON Schema
// map) to a protocol tool property.
func convertPropertyValue(propValue any) protocol.ToolProperty {
	var prop protocol.ToolProperty

	propMap, ok := propValue.(map[string]any)
	if !ok {
		// Not a map; round-trip through JSON as a fallback.
		bytes, err := json.Marshal(propValue)
		if err != nil {
			return prop
		}
		var m map[string]any
		if err := json.Unmarshal(bytes, &m); err != nil {
			return prop
		}
		propMap = m
	}

	// Type can be a string or a list of strings; the protocol keeps the
	// first entry.
	if typeVal, ok := propMap["type"]; ok {
		switch t := typeVal.(type) {
		case string:
			prop.Type = t
		case []string:
			if len(t) > 0 {
				prop.Type = t[0]
			}
		case []any:
			if len(t) > 0 {
				if s, ok := t[0].(string); ok {
					prop.Type = s
				}
			}
		}
	}

	if desc, ok := propMap["description"].(string); ok {
		prop.Description = desc
	}

	if enumVal, ok := propMap["enum"]; ok {
		if enumSlice, ok := enumVal.([]any); ok {
			prop.Enum = enumSlice
		}
	}

	if items, ok := propMap["items"]; ok {
		prop.Items = items
	}

	return prop
}

// ToMCP converts a protocol tool definition back to an MCP tool.
func ToMCP(def protocol.ToolDefinition) mcptypes.Tool {
	properties := make(map[string]any, len(def.InputSchema.Properties))
	for name, prop := range def.InputSchema.Properties {
		m := map[string]any{"type": prop.Type}
		if prop.Description != "" {
			m["description"] = prop.Description
		}
		if len(prop.Enum) > 0 {
			m["enum"] = prop.Enum
		}
		if prop.Items != nil {
			m["items"] = prop.Items
		}
		properties[name] = m
	}

	schemaType := def.InputSchema.Type
	if schemaType == "" {
		schemaType = "object"
	}

	return mcptypes.Tool{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: mcptypes.ToolInputSchema{
			Type:       schemaType,
			Properties: properties,
			Required:   def.InputSchema.Required,
		},
	}
}

// ResultBlock converts an MCP tool-call result into a tool_result block tied
// to the originating tool_use id. Text contents concatenate; anything else
// is carried as its JSON encoding.
func ResultBlock(toolUseID string, result *mcptypes.CallToolResult) protocol.ContentBlock {
	if result == nil || len(result.Content) == 0 {
		return protocol.NewToolResultBlock(toolUseID, "Tool executed successfully (no output)", false)
	}

	text := ""
	for _, content := range result.Content {
		switch c := content.(type) {
		case mcptypes.TextContent:
			text += c.Text
		case *mcptypes.TextContent:
			text += c.Text
		default:
			if bytes, err := json.Marshal(content); err == nil {
				text += string(bytes)
			}
		}
	}

	return protocol.NewToolResultBlock(toolUseID, text, result.IsError)
}
