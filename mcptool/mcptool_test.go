package mcptool

import (
	"testing"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"switchboard/protocol"
)

func TestFromMCPTools(t *testing.T) {
	tests := []struct {
		name     string
		input    []mcptypes.Tool
		expected int
		validate func(t *testing.T, result []protocol.ToolDefinition)
	}{
		{
			name:     "empty tools",
			input:    []mcptypes.Tool{},
			expected: 0,
			validate: func(t *testing.T, result []protocol.ToolDefinition) {
				if len(result) != 0 {
					t.Errorf("expected empty slice, got %d tools", len(result))
				}
			},
		},
		{
			name: "single simple tool",
			input: []mcptypes.Tool{
				{
					Name:        "get_weather",
					Description: "Get current weather",
					InputSchema: mcptypes.ToolInputSchema{
						Type:       "object",
						Properties: map[string]any{},
						Required:   []string{},
					},
				},
			},
			expected: 1,
			validate: func(t *testing.T, result []protocol.ToolDefinition) {
				if result[0].Name != "get_weather" {
					t.Errorf("expected name 'get_weather', got %q", result[0].Name)
				}
				if result[0].Description != "Get current weather" {
					t.Errorf("expected description 'Get current weather', got %q", result[0].Description)
				}
				if result[0].InputSchema.Type != "object" {
					t.Errorf("expected schema type 'object', got %q", result[0].InputSchema.Type)
				}
			},
		},
		{
			name: "tool with properties",
			input: []mcptypes.Tool{
				{
					Name:        "calculate",
					Description: "Perform calculation",
					InputSchema: mcptypes.ToolInputSchema{
						Type: "object",
						Properties: map[string]any{
							"operation": map[string]any{
								"type":        "string",
								"description": "The operation to perform",
								"enum":        []any{"add", "subtract", "multiply", "divide"},
							},
							"a": map[string]any{
								"type":        "number",
								"description": "First operand",
							},
						},
						Required: []string{"operation", "a"},
					},
				},
			},
			expected: 1,
			validate: func(t *testing.T, result []protocol.ToolDefinition) {
				schema := result[0].InputSchema
				if len(schema.Required) != 2 {
					t.Errorf("expected 2 required fields, got %d", len(schema.Required))
				}
				op, ok := schema.Properties["operation"]
				if !ok {
					t.Fatal("expected 'operation' property")
				}
				if op.Type != "string" {
					t.Errorf("expected type 'string', got %q", op.Type)
				}
				if op.Description != "The operation to perform" {
					t.Errorf("unexpected description %q", op.Description)
				}
				if len(op.Enum) != 4 {
					t.Errorf("expected 4 enum values, got %d", len(op.Enum))
				}
				if schema.Properties["a"].Type != "number" {
					t.Errorf("expected type 'number', got %q", schema.Properties["a"].Type)
				}
			},
		},
		{
			name: "union type keeps first entry",
			input: []mcptypes.Tool{
				{
					Name: "lookup",
					InputSchema: mcptypes.ToolInputSchema{
						Type: "object",
						Properties: map[string]any{
							"key": map[string]any{
								"type": []any{"string", "null"},
							},
						},
					},
				},
			},
			expected: 1,
			validate: func(t *testing.T, result []protocol.ToolDefinition) {
				if got := result[0].InputSchema.Properties["key"].Type; got != "string" {
					t.Errorf("expected type 'string', got %q", got)
				}
			},
		},
		{
			name: "missing schema type defaults to object",
			input: []mcptypes.Tool{
				{
					Name:        "noop",
					InputSchema: mcptypes.ToolInputSchema{},
				},
			},
			expected: 1,
			validate: func(t *testing.T, result []protocol.ToolDefinition) {
				if result[0].InputSchema.Type != "object" {
					t.Errorf("expected schema type 'object', got %q", result[0].InputSchema.Type)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FromMCPTools(tt.input)
			if len(result) != tt.expected {
				t.Fatalf("expected %d tools, got %d", tt.expected, len(result))
			}
			tt.validate(t, result)
		})
	}
}

func TestToMCPRoundTrip(t *testing.T) {
	def := protocol.ToolDefinition{
		Name:        "get_weather",
		Description: "Get the current weather for a location",
		InputSchema: protocol.ToolSchema{
			Type: "object",
			Properties: map[string]protocol.ToolProperty{
				"location": {Type: "string", Description: "The city and state"},
				"unit":     {Type: "string", Enum: []any{"celsius", "fahrenheit"}},
			},
			Required: []string{"location"},
		},
	}

	back := FromMCP(ToMCP(def))

	if back.Name != def.Name {
		t.Errorf("name changed: %q", back.Name)
	}
	if back.Description != def.Description {
		t.Errorf("description changed: %q", back.Description)
	}
	if len(back.InputSchema.Required) != 1 || back.InputSchema.Required[0] != "location" {
		t.Errorf("required changed: %v", back.InputSchema.Required)
	}
	loc := back.InputSchema.Properties["location"]
	if loc.Type != "string" || loc.Description != "The city and state" {
		t.Errorf("location property changed: %+v", loc)
	}
	if len(back.InputSchema.Properties["unit"].Enum) != 2 {
		t.Errorf("unit enum changed: %+v", back.InputSchema.Properties["unit"])
	}
}

func TestResultBlock(t *testing.T) {
	tests := []struct {
		name        string
		result      *mcptypes.CallToolResult
		wantContent string
		wantIsError bool
	}{
		{
			name:        "nil result",
			result:      nil,
			wantContent: "Tool executed successfully (no output)",
		},
		{
			name: "text content",
			result: &mcptypes.CallToolResult{
				Content: []mcptypes.Content{
					mcptypes.TextContent{Type: "text", Text: "sunny, 22C"},
				},
			},
			wantContent: "sunny, 22C",
		},
		{
			name: "error result",
			result: &mcptypes.CallToolResult{
				IsError: true,
				Content: []mcptypes.Content{
					mcptypes.TextContent{Type: "text", Text: "city not found"},
				},
			},
			wantContent: "city not found",
			wantIsError: true,
		},
		{
			name: "multiple text contents concatenate",
			result: &mcptypes.CallToolResult{
				Content: []mcptypes.Content{
					mcptypes.TextContent{Type: "text", Text: "part one; "},
					mcptypes.TextContent{Type: "text", Text: "part two"},
				},
			},
			wantContent: "part one; part two",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blk := ResultBlock("toolu_123", tt.result)
			if blk.Type != protocol.BlockToolResult {
				t.Fatalf("expected tool_result block, got %q", blk.Type)
			}
			if blk.ToolUseID != "toolu_123" {
				t.Errorf("expected tool use id 'toolu_123', got %q", blk.ToolUseID)
			}
			if blk.Content != tt.wantContent {
				t.Errorf("expected content %q, got %q", tt.wantContent, blk.Content)
			}
			if blk.IsError != tt.wantIsError {
				t.Errorf("expected isError=%v, got %v", tt.wantIsError, blk.IsError)
			}
		})
	}
}
