package provider

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"switchboard/protocol"
)

// Fence markers for tool invocations in CLI output. The backend has no
// native tool-calling support, so the prompt instructs it to emit calls as
// fenced JSON blocks which extractToolCalls parses back out.
const (
	toolCallFenceOpen  = "```tool_call"
	toolCallFenceClose = "```"
)

// buildCLIPrompt serializes a request into the single prompt string fed to
// the CLI's stdin: system prompt, then the rendered tool catalog, then the
// conversation history as Human:/Assistant: turns.
func buildCLIPrompt(req protocol.ChatRequest) string {
	var sections []string

	if req.System != "" {
		sections = append(sections, req.System)
	}
	if len(req.Tools) > 0 {
		sections = append(sections, renderToolCatalog(req.Tools))
	}
	if history := renderHistory(req.Messages); history != "" {
		sections = append(sections, history)
	}

	return strings.Join(sections, "\n\n")
}

// renderToolCatalog renders the tool definitions and the calling convention
// the backend must follow.
func renderToolCatalog(tools []protocol.ToolDefinition) string {
	var b strings.Builder
	b.WriteString("# Available Tools\n\n")

	for _, tool := range tools {
		fmt.Fprintf(&b, "## %s\n", tool.Name)
		if tool.Description != "" {
			b.WriteString(tool.Description + "\n")
		}
		if required := tool.InputSchema.Required; len(required) > 0 {
			fmt.Fprintf(&b, "Required parameters: %s\n", strings.Join(required, ", "))
		}
		for _, name := range sortedPropertyNames(tool.InputSchema) {
			prop := tool.InputSchema.Properties[name]
			fmt.Fprintf(&b, "- %s (%s): %s\n", name, orUnknown(prop.Type), prop.Description)
		}
		b.WriteString("\n")
	}

	b.WriteString(strings.Join([]string{
		"To call a tool, emit a block of this exact form:",
		"",
		toolCallFenceOpen,
		`{"name": "<tool name>", "input": {<parameters>}}`,
		toolCallFenceClose,
		"",
		"You may emit several blocks to call several tools.",
		"After emitting tool calls, STOP and wait for the results.",
	}, "\n"))

	return b.String()
}

func sortedPropertyNames(schema protocol.ToolSchema) []string {
	// Required parameters first, in declaration order, then the rest.
	names := make([]string, 0, len(schema.Properties))
	seen := make(map[string]bool, len(schema.Properties))
	for _, name := range schema.Required {
		if _, ok := schema.Properties[name]; ok && !seen[name] {
			names = append(names, name)
			seen[name] = true
		}
	}
	rest := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

func orUnknown(t string) string {
	if t == "" {
		return "any"
	}
	return t
}

// renderHistory renders the conversation as Human:/Assistant: turns.
// System-role messages are skipped; they are already folded into the
// prompt's system section.
func renderHistory(messages []protocol.Message) string {
	var turns []string
	for _, msg := range messages {
		switch msg.Role {
		case protocol.RoleSystem:
			continue
		case protocol.RoleAssistant:
			turns = append(turns, "Assistant: "+renderMessageContent(msg))
		default:
			turns = append(turns, "Human: "+renderMessageContent(msg))
		}
	}
	return strings.Join(turns, "\n\n")
}

// renderMessageContent flattens a message's blocks in insertion order.
// Tool results render as tagged lines; past tool calls replay as the same
// fenced blocks the backend emitted them in. Blocks the prompt format
// cannot represent (images) are skipped.
func renderMessageContent(msg protocol.Message) string {
	if len(msg.Blocks) == 0 {
		return msg.Content
	}

	var parts []string
	for _, blk := range msg.Blocks {
		switch blk.Type {
		case protocol.BlockText:
			parts = append(parts, blk.Text)
		case protocol.BlockToolResult:
			content := blk.Content
			if blk.IsError {
				content = "ERROR: " + content
			}
			parts = append(parts, fmt.Sprintf("[Tool Result for %s]: %s", blk.ToolUseID, content))
		case protocol.BlockToolUse:
			input := blk.Input
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			call, err := json.Marshal(cliToolCall{Name: blk.Name, Input: input})
			if err != nil {
				continue
			}
			parts = append(parts, toolCallFenceOpen+"\n"+string(call)+"\n"+toolCallFenceClose)
		}
	}
	return strings.Join(parts, "\n")
}

// cliToolCall is the parsed body of one fenced tool_call block.
type cliToolCall struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// extractToolCalls scans free-form CLI output for fenced tool_call blocks.
// Parsed blocks are stripped from the text; fences that do not parse as a
// tool call stay in the text untouched. Returns the leftover text and the
// calls in emission order.
func extractToolCalls(text string) (string, []cliToolCall) {
	var textParts []string
	var calls []cliToolCall

	remaining := text
	for {
		start := strings.Index(remaining, toolCallFenceOpen)
		if start == -1 {
			break
		}
		before := remaining[:start]
		rest := remaining[start+len(toolCallFenceOpen):]
		end := strings.Index(rest, toolCallFenceClose)
		if end == -1 {
			// Unterminated fence: leave the remainder as text.
			break
		}

		body := strings.TrimSpace(rest[:end])
		var call cliToolCall
		if err := json.Unmarshal([]byte(body), &call); err == nil && call.Name != "" {
			calls = append(calls, call)
			if s := strings.TrimSpace(before); s != "" {
				textParts = append(textParts, s)
			}
		} else {
			kept := strings.TrimSpace(before + toolCallFenceOpen + rest[:end] + toolCallFenceClose)
			if kept != "" {
				textParts = append(textParts, kept)
			}
		}
		remaining = rest[end+len(toolCallFenceClose):]
	}

	if s := strings.TrimSpace(remaining); s != "" {
		textParts = append(textParts, s)
	}
	return strings.Join(textParts, "\n"), calls
}
