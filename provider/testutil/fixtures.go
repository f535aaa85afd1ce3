package testutil

import (
	"encoding/json"

	"switchboard/protocol"
)

// TestMessages returns a sample conversation for testing.
func TestMessages() []protocol.Message {
	return []protocol.Message{
		{Role: protocol.RoleUser, Content: "Hello, how are you?"},
		{Role: protocol.RoleAssistant, Content: "I'm doing well, thank you!"},
		{Role: protocol.RoleUser, Content: "Can you help me with a task?"},
	}
}

// SingleUserMessage returns a single user message for simple tests.
func SingleUserMessage(content string) []protocol.Message {
	return []protocol.Message{
		{Role: protocol.RoleUser, Content: content},
	}
}

// TestTools returns sample tool definitions for testing.
func TestTools() []protocol.ToolDefinition {
	return []protocol.ToolDefinition{
		{
			Name:        "get_weather",
			Description: "Get the current weather for a location",
			InputSchema: protocol.ToolSchema{
				Type: "object",
				Properties: map[string]protocol.ToolProperty{
					"location": {
						Type:        "string",
						Description: "The city and state, e.g. San Francisco, CA",
					},
				},
				Required: []string{"location"},
			},
		},
		{
			Name:        "calculate",
			Description: "Perform a mathematical calculation",
			InputSchema: protocol.ToolSchema{
				Type: "object",
				Properties: map[string]protocol.ToolProperty{
					"expression": {
						Type:        "string",
						Description: "The mathematical expression to evaluate",
					},
				},
				Required: []string{"expression"},
			},
		},
	}
}

// ToolConversation returns a conversation containing a full tool round trip:
// user ask, assistant tool_use, user tool_result.
func ToolConversation() []protocol.Message {
	return []protocol.Message{
		{Role: protocol.RoleUser, Content: "What's the weather in Paris?"},
		{
			Role: protocol.RoleAssistant,
			Blocks: []protocol.ContentBlock{
				protocol.NewTextBlock("Let me check."),
				protocol.NewToolUseBlock("toolu_abc123", "get_weather", json.RawMessage(`{"location":"Paris"}`)),
			},
		},
		{
			Role: protocol.RoleUser,
			Blocks: []protocol.ContentBlock{
				protocol.NewToolResultBlock("toolu_abc123", "Sunny, 22C", false),
			},
		},
	}
}
