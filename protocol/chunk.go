package protocol

// Chunk type tags. A stream is a finite ordered sequence of chunks
// terminated by exactly one ChunkMessageEnd, or by a ChunkError that aborts
// the sequence (never both).
const (
	ChunkTextDelta     = "text_delta"
	ChunkThinkingStart = "thinking_start"
	ChunkThinkingDelta = "thinking_delta"
	ChunkThinkingEnd   = "thinking_end"
	ChunkToolUseStart  = "tool_use_start"
	ChunkToolUseDelta  = "tool_use_delta"
	ChunkToolUseEnd    = "tool_use_end"
	ChunkMessageEnd    = "message_end"
	ChunkError         = "error"
)

// ToolCallChunk carries the state of one in-progress tool invocation. Input
// is always the full serialized arguments accumulated so far, not just the
// latest fragment, so consumers can render or parse it at any point.
type ToolCallChunk struct {
	ID    string
	Name  string
	Input string
}

// Chunk is one unit of a streaming response. The populated fields depend on
// Type; consumers must ignore chunk types they do not recognize.
type Chunk struct {
	Type string

	// For text_delta and thinking_delta
	Text string

	// For tool_use_start / tool_use_delta / tool_use_end
	ToolCall *ToolCallChunk

	// For message_end
	StopReason StopReason
	Usage      *TokenUsage

	// For error
	Err error
}

// TextDeltaChunk returns a text_delta chunk.
func TextDeltaChunk(text string) Chunk {
	return Chunk{Type: ChunkTextDelta, Text: text}
}

// MessageEndChunk returns the terminal message_end chunk.
func MessageEndChunk(reason StopReason, usage TokenUsage) Chunk {
	resolved := usage.Resolved()
	return Chunk{Type: ChunkMessageEnd, StopReason: reason, Usage: &resolved}
}

// ErrorChunk returns an error chunk that aborts the stream.
func ErrorChunk(err error) Chunk {
	return Chunk{Type: ChunkError, Err: err}
}
