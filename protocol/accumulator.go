package protocol

import (
	"encoding/json"
	"errors"
	"strings"
)

// Accumulator folds a chunk stream back into a ChatResponse, so that a
// streamed call yields the same blocks and stop reason as its blocking
// counterpart. Thinking chunks are consumed but not represented in the
// response; tool_use deltas are overwritten rather than appended because
// every delta carries the full arguments so far.
type Accumulator struct {
	blocks []ContentBlock
	text   *strings.Builder
	tools  map[string]int // tool-use id -> index in blocks
	order  []string

	stop  StopReason
	usage TokenUsage
	model string
	done  bool
	err   error
}

// AddChunk incorporates one chunk. Unknown chunk types are ignored.
func (a *Accumulator) AddChunk(c Chunk) {
	switch c.Type {
	case ChunkTextDelta:
		if a.text == nil {
			a.text = &strings.Builder{}
			a.blocks = append(a.blocks, NewTextBlock(""))
		}
		a.text.WriteString(c.Text)
		a.blocks[len(a.blocks)-1].Text = a.text.String()

	case ChunkToolUseStart:
		if c.ToolCall == nil {
			return
		}
		if a.tools == nil {
			a.tools = make(map[string]int)
		}
		a.text = nil // a subsequent text delta starts a new block
		a.tools[c.ToolCall.ID] = len(a.blocks)
		a.order = append(a.order, c.ToolCall.ID)
		a.blocks = append(a.blocks, NewToolUseBlock(c.ToolCall.ID, c.ToolCall.Name, nil))

	case ChunkToolUseDelta, ChunkToolUseEnd:
		if c.ToolCall == nil {
			return
		}
		idx, ok := a.tools[c.ToolCall.ID]
		if !ok {
			return
		}
		if c.ToolCall.Name != "" {
			a.blocks[idx].Name = c.ToolCall.Name
		}
		if c.ToolCall.Input != "" {
			a.blocks[idx].Input = json.RawMessage(c.ToolCall.Input)
		}

	case ChunkMessageEnd:
		a.stop = c.StopReason
		if c.Usage != nil {
			a.usage = *c.Usage
		}
		a.done = true

	case ChunkError:
		a.err = c.Err
	}
}

// Response returns the accumulated result. It errors when the stream carried
// an error chunk or never reached a message_end.
func (a *Accumulator) Response() (*ChatResponse, error) {
	if a.err != nil {
		return nil, a.err
	}
	if !a.done {
		return nil, errors.New("stream ended without message_end")
	}
	return &ChatResponse{
		Blocks:     EnsureContent(a.blocks),
		StopReason: a.stop,
		Usage:      a.usage.Resolved(),
		Model:      a.model,
	}, nil
}

// Collect drains a stream to completion and folds it into a ChatResponse.
// The stream is closed before returning.
func Collect(s *Stream) (*ChatResponse, error) {
	defer s.Close()
	var acc Accumulator
	for s.Next() {
		acc.AddChunk(s.Current())
	}
	return acc.Response()
}
