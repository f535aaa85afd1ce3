package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"

	"switchboard/protocol"
)

// OpenRouterProvider implements the Provider interface using OpenAI's official
// Go SDK. It connects to OpenRouter's API which is OpenAI-compatible on the
// wire.
//
// OpenRouter streams tool calls as indexed argument fragments; the adapter
// keeps one accumulator per tool-call index and re-emits every fragment as
// the full argument text seen so far.
type OpenRouterProvider struct {
	client  openai.Client
	model   string
	baseURL string
	apiKey  string
}

// NewOpenRouterProvider creates a new OpenRouter provider instance.
//
// Parameters:
//   - baseURL: OpenRouter API base URL (default "https://openrouter.ai/api/v1")
//   - apiKey: OpenRouter API key (required)
//   - model: initial model to use
//
// Returns an error if no API key is configured.
func NewOpenRouterProvider(baseURL, apiKey, model string) (*OpenRouterProvider, error) {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenRouter API key is required")
	}
	if model == "" {
		model = "meta-llama/llama-3.2-90b-instruct"
	}

	// Create OpenAI client with custom base URL for OpenRouter
	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)

	return &OpenRouterProvider{
		client:  client,
		model:   model,
		baseURL: baseURL,
		apiKey:  apiKey,
	}, nil
}

// IsAvailable reports whether the backend answers a model listing request.
func (p *OpenRouterProvider) IsAvailable(ctx context.Context) bool {
	if p.apiKey == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	_, err := p.client.Models.List(ctx)
	return err == nil
}

// ListModels fetches the catalog from OpenRouter with prefix stripping:
// "meta-llama/llama-3.2-90b-instruct" displays as "llama-3.2-90b-instruct"
// while the prefixed id remains the API name.
func (p *OpenRouterProvider) ListModels(ctx context.Context) ([]protocol.ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	modelsPage, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list OpenRouter models: %w", err)
	}

	result := make([]protocol.ModelInfo, 0, len(modelsPage.Data))
	for _, m := range modelsPage.Data {
		result = append(result, protocol.ModelInfo{
			ID:       m.ID,
			Name:     stripProviderPrefix(m.ID),
			Provider: string(ProviderTypeOpenRouter),
		})
	}
	return result, nil
}

// Chat sends one blocking chat request.
func (p *OpenRouterProvider) Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	completion, err := p.client.Chat.Completions.New(ctx, p.buildParams(req, false))
	if err != nil {
		return nil, wrapCallError(ctx, string(ProviderTypeOpenRouter), "chat", chatTimeout, err)
	}
	if len(completion.Choices) == 0 {
		return nil, newBackendError(string(ProviderTypeOpenRouter), 0, "response contained no choices")
	}

	choice := completion.Choices[0]
	var blocks []protocol.ContentBlock
	if choice.Message.Content != "" {
		blocks = append(blocks, protocol.NewTextBlock(choice.Message.Content))
	}
	for _, call := range choice.Message.ToolCalls {
		id := call.ID
		if id == "" {
			id = newToolUseID()
		}
		args := call.Function.Arguments
		if args == "" {
			args = "{}"
		}
		blocks = append(blocks, protocol.NewToolUseBlock(id, call.Function.Name, []byte(args)))
	}

	return &protocol.ChatResponse{
		Blocks:     protocol.EnsureContent(blocks),
		StopReason: normalizeOpenRouterFinish(choice.FinishReason),
		Usage:      openRouterUsage(completion.Usage),
		Model:      completion.Model,
	}, nil
}

// ChatStream sends a streaming chat request over SSE.
func (p *OpenRouterProvider) ChatStream(ctx context.Context, req protocol.ChatRequest) (*protocol.Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, streamTimeout)

	sse := p.client.Chat.Completions.NewStreaming(ctx, p.buildParams(req, true))
	if err := sse.Err(); err != nil {
		cancel()
		return nil, wrapCallError(ctx, string(ProviderTypeOpenRouter), "chat stream", streamTimeout, err)
	}

	stream, w := protocol.NewStream(cancel)
	go p.pumpSSE(ctx, cancel, sse, w)
	return stream, nil
}

// toolCallState is the per-index accumulator for one streamed tool call.
// OpenRouter sends id and name on the first fragment only; later fragments
// carry argument text keyed solely by index.
type toolCallState struct {
	id   string
	name string
	args strings.Builder
}

// pumpSSE converts SDK chunks into protocol chunks. The finish reason and
// the usage block arrive on separate events, so message_end is emitted only
// once the stream is exhausted.
func (p *OpenRouterProvider) pumpSSE(ctx context.Context, cancel context.CancelFunc, sse *ssestream.Stream[openai.ChatCompletionChunk], w *protocol.StreamWriter) {
	defer w.Close()
	defer cancel()
	defer sse.Close()

	calls := make(map[int64]*toolCallState)
	var order []int64
	stop := protocol.StopEndTurn
	var usage protocol.TokenUsage
	finished := false

	for sse.Next() {
		chunk := sse.Current()

		if chunk.Usage.TotalTokens > 0 || chunk.Usage.PromptTokens > 0 {
			usage = openRouterUsage(chunk.Usage)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			if !w.Send(protocol.TextDeltaChunk(choice.Delta.Content)) {
				return
			}
		}

		for _, frag := range choice.Delta.ToolCalls {
			state, seen := calls[frag.Index]
			if !seen {
				state = &toolCallState{id: frag.ID, name: frag.Function.Name}
				if state.id == "" {
					state.id = newToolUseID()
				}
				calls[frag.Index] = state
				order = append(order, frag.Index)
				if !w.Send(protocol.Chunk{
					Type:     protocol.ChunkToolUseStart,
					ToolCall: &protocol.ToolCallChunk{ID: state.id, Name: state.name},
				}) {
					return
				}
			}
			if frag.Function.Name != "" && state.name == "" {
				state.name = frag.Function.Name
			}
			if frag.Function.Arguments != "" {
				state.args.WriteString(frag.Function.Arguments)
				if !w.Send(protocol.Chunk{
					Type:     protocol.ChunkToolUseDelta,
					ToolCall: &protocol.ToolCallChunk{ID: state.id, Name: state.name, Input: state.args.String()},
				}) {
					return
				}
			}
		}

		if choice.FinishReason != "" && !finished {
			finished = true
			stop = normalizeOpenRouterFinish(choice.FinishReason)
			// Close out accumulators in the order their indices first appeared.
			for _, idx := range order {
				state := calls[idx]
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
			calls = make(map[int64]*toolCallState)
			order = nil
		}
	}

	if err := sse.Err(); err != nil {
		w.Error(wrapCallError(ctx, string(ProviderTypeOpenRouter), "chat stream", streamTimeout, err))
		return
	}
	w.Send(protocol.MessageEndChunk(stop, usage))
}

// buildParams converts a protocol request into SDK request parameters.
func (p *OpenRouterProvider) buildParams(req protocol.ChatRequest, stream bool) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}

	params := openai.ChatCompletionNewParams{
		Messages: toOpenRouterMessages(req),
		Model:    openai.ChatModel(model),
	}
	if len(req.Tools) > 0 {
		params.Tools = toOpenRouterTools(req.Tools)
	}
	if req.Temperature != 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.StopSequences) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.StopSequences}
	}
	if stream {
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}
	}
	return params
}

// toOpenRouterMessages converts protocol messages to OpenAI chat messages.
// Tool results become `tool` role messages keyed by the originating call id;
// assistant tool_use blocks become the assistant turn's tool_calls array.
func toOpenRouterMessages(req protocol.ChatRequest) []openai.ChatCompletionMessageParamUnion {
	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}

	for _, msg := range req.Messages {
		if len(msg.Blocks) == 0 {
			switch msg.Role {
			case protocol.RoleAssistant:
				msgs = append(msgs, openai.AssistantMessage(msg.Content))
			case protocol.RoleSystem:
				msgs = append(msgs, openai.SystemMessage(msg.Content))
			default:
				msgs = append(msgs, openai.UserMessage(msg.Content))
			}
			continue
		}

		if msg.Role == protocol.RoleAssistant {
			msgs = append(msgs, openRouterAssistantTurn(msg))
			continue
		}

		// User turn. Result blocks are peeled off into their own tool
		// messages; remaining text and images form one user message.
		var parts []openai.ChatCompletionContentPartUnionParam
		for _, blk := range msg.Blocks {
			switch blk.Type {
			case protocol.BlockText:
				parts = append(parts, openai.TextContentPart(blk.Text))

			case protocol.BlockToolResult:
				content := blk.Content
				if blk.IsError {
					content = "ERROR: " + content
				}
				msgs = append(msgs, openai.ToolMessage(content, blk.ToolUseID))

			case protocol.BlockImage:
				uri := fmt.Sprintf("data:%s;base64,%s", blk.MediaType, blk.Data)
				parts = append(parts, openai.ImageContentPart(
					openai.ChatCompletionContentPartImageImageURLParam{URL: uri},
				))
			}
		}
		if len(parts) > 0 {
			msgs = append(msgs, openai.UserMessage(parts))
		}
	}
	return msgs
}

// openRouterAssistantTurn builds one assistant message from a block-structured
// turn, carrying prior tool calls so the backend can match results to them.
func openRouterAssistantTurn(msg protocol.Message) openai.ChatCompletionMessageParamUnion {
	var text strings.Builder
	var toolCalls []openai.ChatCompletionMessageToolCallUnionParam

	for _, blk := range msg.Blocks {
		switch blk.Type {
		case protocol.BlockText:
			text.WriteString(blk.Text)
		case protocol.BlockToolUse:
			args := string(blk.Input)
			if args == "" {
				args = "{}"
			}
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID: blk.ID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      blk.Name,
						Arguments: args,
					},
				},
			})
		}
	}

	if len(toolCalls) == 0 {
		return openai.AssistantMessage(text.String())
	}
	asst := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
	if text.Len() > 0 {
		asst.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: openai.String(text.String()),
		}
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
}

// toOpenRouterTools converts protocol tool definitions to OpenAI function
// tools. Both sides are JSON Schema, so the conversion is a map rebuild.
func toOpenRouterTools(tools []protocol.ToolDefinition) []openai.ChatCompletionToolUnionParam {
	result := make([]openai.ChatCompletionToolUnionParam, len(tools))
	for i, tool := range tools {
		result[i] = openai.ChatCompletionFunctionTool(
			openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  openai.FunctionParameters(tool.InputSchema.SchemaMap()),
			},
		)
	}
	return result
}

func openRouterUsage(u openai.CompletionUsage) protocol.TokenUsage {
	return protocol.TokenUsage{
		InputTokens:     int(u.PromptTokens),
		OutputTokens:    int(u.CompletionTokens),
		TotalTokens:     int(u.TotalTokens),
		CacheReadTokens: int(u.PromptTokensDetails.CachedTokens),
	}.Resolved()
}

// normalizeOpenRouterFinish maps OpenAI finish reasons onto protocol stop
// reasons. Unknown reasons default to end_turn.
func normalizeOpenRouterFinish(reason string) protocol.StopReason {
	switch reason {
	case "tool_calls":
		return protocol.StopToolUse
	case "length":
		return protocol.StopMaxTokens
	default:
		return protocol.StopEndTurn
	}
}

// stripProviderPrefix removes vendor prefixes from OpenRouter model names.
// "meta-llama/llama-3.2-90b-instruct" → "llama-3.2-90b-instruct"
// "anthropic/claude-sonnet-4" → "claude-sonnet-4"
func stripProviderPrefix(modelName string) string {
	if idx := strings.Index(modelName, "/"); idx != -1 {
		return modelName[idx+1:]
	}
	return modelName
}
