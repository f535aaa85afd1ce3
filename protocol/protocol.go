// Package protocol defines the provider-agnostic chat vocabulary shared by
// every backend adapter.
//
// Switchboard lets the agent runtime issue chat requests against
// interchangeable model backends (a local CLI subprocess, a local Ollama
// server, hosted aggregators) without knowing which one is in use. This
// package is the shared contract: one request type, one response type, one
// incremental event stream. Adapters in the provider package translate these
// types to and from each backend's wire format; nothing in this package
// depends on any adapter.
//
// # Why a Protocol Layer?
//
// The protocol layer exists to:
//   - Give callers a single request/response/event shape across backends
//   - Isolate backend-specific wire types inside their adapters
//   - Allow easy testing with mock providers
//   - Make adding new backends straightforward (just implement Provider)
//
// # Usage
//
//	req := protocol.ChatRequest{
//	    Model:    "llama3.1",
//	    Messages: []protocol.Message{{Role: "user", Content: "Hello"}},
//	}
//	resp, err := p.Chat(ctx, req)
//	if err != nil {
//	    // handle error
//	}
//	for _, block := range resp.Blocks {
//	    // ...
//	}
package protocol

import (
	"context"
	"encoding/json"
	"strings"
)

// Message roles. System-role messages inside the history are folded into the
// request's System field by adapters whose backend has no system turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Block type tags. Adapters that cannot represent a tag ignore the block
// rather than erroring, so new block types degrade gracefully.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockImage      = "image"
)

// ContentBlock is one tagged unit of message content. Exactly one
// discriminant Type per block; the populated fields depend on it.
type ContentBlock struct {
	Type string `json:"type"`

	// For text blocks
	Text string `json:"text,omitempty"`

	// For tool_use blocks
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// For tool_result blocks
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// For image blocks
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
}

// NewTextBlock returns a text content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// NewToolUseBlock returns a tool_use content block.
func NewToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// NewToolResultBlock returns a tool_result content block.
func NewToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// NewImageBlock returns an image content block with base64-encoded data.
func NewImageBlock(mediaType, data string) ContentBlock {
	return ContentBlock{Type: BlockImage, MediaType: mediaType, Data: data}
}

// Message is one conversation turn. Content carries plain text; Blocks, when
// non-empty, carries structured content and takes precedence. Block order is
// meaningful and is replayed verbatim to the backend.
type Message struct {
	Role    string         `json:"role"`
	Content string         `json:"content,omitempty"`
	Blocks  []ContentBlock `json:"blocks,omitempty"`
}

// FlatText returns the message's textual content: Content for plain
// messages, the concatenated text blocks otherwise.
func (m Message) FlatText() string {
	if len(m.Blocks) == 0 {
		return m.Content
	}
	var b strings.Builder
	for _, blk := range m.Blocks {
		if blk.Type == BlockText {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

// ChatRequest is one complete request against a backend. It is immutable per
// call; adapters build their own wire representation from it and discard
// that representation when the call ends.
type ChatRequest struct {
	Model         string
	System        string
	Messages      []Message
	Tools         []ToolDefinition
	Temperature   float64
	MaxTokens     int
	StopSequences []string
}

// StopReason is the normalized enumeration of why generation ended.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// ChatResponse is the terminal result of a non-streaming call. Immutable
// once returned.
type ChatResponse struct {
	Blocks     []ContentBlock
	StopReason StopReason
	Usage      TokenUsage
	Model      string
}

// ToolCalls returns the tool_use blocks of the response, in order.
func (r *ChatResponse) ToolCalls() []ContentBlock {
	var calls []ContentBlock
	for _, blk := range r.Blocks {
		if blk.Type == BlockToolUse {
			calls = append(calls, blk)
		}
	}
	return calls
}

// PlaceholderText is the content of the single text block adapters return
// when a backend produces neither text nor tool calls.
const PlaceholderText = "(no content)"

// EnsureContent guarantees a response never carries an empty block list.
func EnsureContent(blocks []ContentBlock) []ContentBlock {
	if len(blocks) == 0 {
		return []ContentBlock{NewTextBlock(PlaceholderText)}
	}
	return blocks
}

// ModelInfo describes one model a provider can serve. Constructed at adapter
// initialization or fetched from the backend's listing endpoint; never
// mutated after construction.
type ModelInfo struct {
	ID              string // full name used in API calls
	Name            string // display name
	Provider        string // owning provider id: "claude-cli", "ollama", ...
	ContextWindow   int
	MaxOutputTokens int
	SupportsTools   bool
	SupportsVision  bool

	// Optional cost per million tokens, 0 when unknown.
	InputCostPer1M  float64
	OutputCostPer1M float64
}

// Provider is the capability interface every backend adapter implements.
// Adapters are stateless across calls except for an optional
// overwrite-on-refresh cache of the last fetched model list; concurrent
// calls to the same adapter are independent.
type Provider interface {
	// IsAvailable reports whether the backend is reachable and configured.
	// Availability problems are reported here, never as Chat errors at
	// construction time.
	IsAvailable(ctx context.Context) bool

	// ListModels returns the models this provider can serve.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// Chat blocks until the backend produced a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream returns the response as a finite, non-restartable chunk
	// stream. The caller must drain or Close the stream; Close releases
	// the underlying process or connection.
	ChatStream(ctx context.Context, req ChatRequest) (*Stream, error)
}
