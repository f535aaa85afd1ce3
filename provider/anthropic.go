package provider

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"switchboard/protocol"
)

// AnthropicProvider implements the Provider interface using Anthropic's
// official Go SDK for direct Claude API access. Unlike the CLI adapter, this
// one gets native tool use and block-structured content on the wire.
type AnthropicProvider struct {
	client  anthropic.Client
	model   anthropic.Model
	baseURL string
	apiKey  string
}

// NewAnthropicProvider creates a new Anthropic provider instance.
//
// Parameters:
//   - baseURL: Anthropic API base URL (default "https://api.anthropic.com")
//   - apiKey: Anthropic API key (required)
//   - model: initial model to use (default "claude-sonnet-4-5-20250929")
//
// Returns an error if the API key is missing.
func NewAnthropicProvider(baseURL, apiKey, model string) (*AnthropicProvider, error) {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}

	anthropicModel := anthropic.ModelClaudeSonnet4_5_20250929
	if model != "" {
		anthropicModel = anthropic.Model(model)
	}

	client := anthropic.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)

	return &AnthropicProvider{
		client:  client,
		model:   anthropicModel,
		baseURL: baseURL,
		apiKey:  apiKey,
	}, nil
}

// IsAvailable reports whether an API key is configured. Anthropic has no
// free health endpoint, so no request is made.
func (p *AnthropicProvider) IsAvailable(ctx context.Context) bool {
	return p.apiKey != ""
}

// ListModels returns a curated list of known Claude models.
func (p *AnthropicProvider) ListModels(ctx context.Context) ([]protocol.ModelInfo, error) {
	models := []anthropic.Model{
		anthropic.ModelClaudeSonnet4_5_20250929,
		anthropic.ModelClaude3_5Haiku20241022,
		anthropic.ModelClaude_3_Opus_20240229,
		anthropic.ModelClaude_3_Haiku_20240307,
	}

	result := make([]protocol.ModelInfo, 0, len(models))
	for _, m := range models {
		result = append(result, protocol.ModelInfo{
			ID:             string(m),
			Name:           string(m),
			Provider:       string(ProviderTypeAnthropic),
			ContextWindow:  200000,
			SupportsTools:  true,
			SupportsVision: true,
		})
	}
	return result, nil
}

// Chat sends one blocking messages request.
func (p *AnthropicProvider) Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	msg, err := p.client.Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, wrapCallError(ctx, string(ProviderTypeAnthropic), "chat", chatTimeout, err)
	}

	var blocks []protocol.ContentBlock
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			blocks = append(blocks, protocol.NewTextBlock(variant.Text))
		case anthropic.ToolUseBlock:
			blocks = append(blocks, protocol.NewToolUseBlock(variant.ID, variant.Name, variant.Input))
		}
	}

	return &protocol.ChatResponse{
		Blocks:     protocol.EnsureContent(blocks),
		StopReason: normalizeAnthropicStop(string(msg.StopReason)),
		Usage:      anthropicUsage(msg.Usage),
		Model:      string(msg.Model),
	}, nil
}

// ChatStream sends a streaming messages request.
func (p *AnthropicProvider) ChatStream(ctx context.Context, req protocol.ChatRequest) (*protocol.Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, streamTimeout)

	sse := p.client.Messages.NewStreaming(ctx, p.buildParams(req))
	if err := sse.Err(); err != nil {
		cancel()
		return nil, wrapCallError(ctx, string(ProviderTypeAnthropic), "chat stream", streamTimeout, err)
	}

	stream, w := protocol.NewStream(cancel)
	go p.pumpEvents(ctx, cancel, sse, w)
	return stream, nil
}

// pumpEvents converts SDK stream events into protocol chunks. Tool-call
// arguments arrive as partial JSON deltas keyed by block index; each delta
// re-emits the full argument text accumulated so far.
func (p *AnthropicProvider) pumpEvents(ctx context.Context, cancel context.CancelFunc, sse *ssestream.Stream[anthropic.MessageStreamEventUnion], w *protocol.StreamWriter) {
	defer w.Close()
	defer cancel()
	defer sse.Close()

	tools := make(map[int64]*toolCallState)
	thinking := make(map[int64]bool)
	stop := protocol.StopEndTurn
	var usage protocol.TokenUsage

	for sse.Next() {
		event := sse.Current()

		switch variant := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			usage = mergeUsage(usage, anthropicUsage(variant.Message.Usage))

		case anthropic.ContentBlockStartEvent:
			switch block := variant.ContentBlock.AsAny().(type) {
			case anthropic.ToolUseBlock:
				state := &toolCallState{id: block.ID, name: block.Name}
				if state.id == "" {
					state.id = newToolUseID()
				}
				tools[variant.Index] = state
				if !w.Send(protocol.Chunk{
					Type:     protocol.ChunkToolUseStart,
					ToolCall: &protocol.ToolCallChunk{ID: state.id, Name: state.name},
				}) {
					return
				}
			case anthropic.ThinkingBlock:
				thinking[variant.Index] = true
				if !w.Send(protocol.Chunk{Type: protocol.ChunkThinkingStart}) {
					return
				}
			}

		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if !w.Send(protocol.TextDeltaChunk(delta.Text)) {
					return
				}
			case anthropic.ThinkingDelta:
				if !w.Send(protocol.Chunk{Type: protocol.ChunkThinkingDelta, Text: delta.Thinking}) {
					return
				}
			case anthropic.InputJSONDelta:
				state, ok := tools[variant.Index]
				if !ok {
					continue
				}
				state.args.WriteString(delta.PartialJSON)
				if !w.Send(protocol.Chunk{
					Type:     protocol.ChunkToolUseDelta,
					ToolCall: &protocol.ToolCallChunk{ID: state.id, Name: state.name, Input: state.args.String()},
				}) {
					return
				}
			}

		case anthropic.ContentBlockStopEvent:
			if state, ok := tools[variant.Index]; ok {
				delete(tools, variant.Index)
				input := state.args.String()
				if input == "" {
					input = "{}"
				}
				if !w.Send(protocol.Chunk{
					Type:     protocol.ChunkToolUseEnd,
					ToolCall: &protocol.ToolCallChunk{ID: state.id, Name: state.name, Input: input},
				}) {
					return
				}
			}
			if thinking[variant.Index] {
				delete(thinking, variant.Index)
				if !w.Send(protocol.Chunk{Type: protocol.ChunkThinkingEnd}) {
					return
				}
			}

		case anthropic.MessageDeltaEvent:
			if variant.Delta.StopReason != "" {
				stop = normalizeAnthropicStop(string(variant.Delta.StopReason))
			}
			usage = mergeUsage(usage, protocol.TokenUsage{OutputTokens: int(variant.Usage.OutputTokens)})
		}
	}

	if err := sse.Err(); err != nil {
		w.Error(wrapCallError(ctx, string(ProviderTypeAnthropic), "chat stream", streamTimeout, err))
		return
	}
	w.Send(protocol.MessageEndChunk(stop, usage))
}

// buildParams converts a protocol request into SDK message parameters.
func (p *AnthropicProvider) buildParams(req protocol.ChatRequest) anthropic.MessageNewParams {
	model := p.model
	if req.Model != "" {
		model = anthropic.Model(req.Model)
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 4096 // Required by Anthropic API
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		Messages:  toAnthropicMessages(req.Messages),
		MaxTokens: maxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}
	if req.Temperature != 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}
	return params
}

// toAnthropicMessages converts protocol messages to SDK message params.
// Anthropic's block model matches the protocol's almost 1:1, so every block
// maps to a native block of the same kind.
func toAnthropicMessages(messages []protocol.Message) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		if len(msg.Blocks) == 0 {
			blocks = []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)}
		}
		for _, blk := range msg.Blocks {
			switch blk.Type {
			case protocol.BlockText:
				blocks = append(blocks, anthropic.NewTextBlock(blk.Text))

			case protocol.BlockToolUse:
				input := blk.Input
				if len(input) == 0 {
					input = []byte("{}")
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(blk.ID, input, blk.Name))

			case protocol.BlockToolResult:
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: blk.ToolUseID,
						IsError:   anthropic.Bool(blk.IsError),
						Content: []anthropic.ToolResultBlockParamContentUnion{
							{OfText: &anthropic.TextBlockParam{Text: blk.Content}},
						},
					},
				})

			case protocol.BlockImage:
				blocks = append(blocks, anthropic.NewImageBlockBase64(blk.MediaType, blk.Data))
			}
		}
		if len(blocks) == 0 {
			continue
		}

		if msg.Role == protocol.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(blocks...))
			continue
		}
		result = append(result, anthropic.NewUserMessage(blocks...))
	}
	return result
}

// toAnthropicTools converts protocol tool definitions to SDK tool params.
func toAnthropicTools(tools []protocol.ToolDefinition) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		schema := anthropic.ToolInputSchemaParam{
			Properties: tool.InputSchema.SchemaMap()["properties"],
			Required:   tool.InputSchema.Required,
		}
		union := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if tool.Description != "" {
			union.OfTool.Description = anthropic.String(tool.Description)
		}
		result = append(result, union)
	}
	return result
}

func anthropicUsage(u anthropic.Usage) protocol.TokenUsage {
	return protocol.TokenUsage{
		InputTokens:      int(u.InputTokens),
		OutputTokens:     int(u.OutputTokens),
		CacheReadTokens:  int(u.CacheReadInputTokens),
		CacheWriteTokens: int(u.CacheCreationInputTokens),
	}.Resolved()
}

// normalizeAnthropicStop maps API stop reasons onto protocol stop reasons.
// stop_sequence folds into end_turn.
func normalizeAnthropicStop(reason string) protocol.StopReason {
	switch reason {
	case "tool_use":
		return protocol.StopToolUse
	case "max_tokens":
		return protocol.StopMaxTokens
	default:
		return protocol.StopEndTurn
	}
}
