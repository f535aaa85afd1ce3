package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/ollama/ollama/api"

	"switchboard/config"
	"switchboard/protocol"
)

// OllamaProvider talks to a local Ollama server over HTTP. Requests and
// responses use the Ollama API wire structs; the streaming body is
// newline-delimited JSON which this adapter splits itself so partial lines
// are never dropped or parsed prematurely.
//
// Ollama does not deltize tool calls: each call arrives whole in one stream
// object.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client

	mu     sync.Mutex
	cached []protocol.ModelInfo
}

// NewOllamaProvider creates an Ollama provider instance.
//
// Parameters:
//   - baseURL: the Ollama server URL (default "http://localhost:11434")
//   - model: the model name to use (default "llama3.1:latest")
func NewOllamaProvider(baseURL, model string) (*OllamaProvider, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.1:latest"
	}
	return &OllamaProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
	}, nil
}

// IsAvailable probes the server's model listing endpoint.
func (p *OllamaProvider) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// ListModels fetches the server's model list. The last successful fetch is
// kept as an overwrite-on-refresh cache and returned when a refresh fails.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]protocol.ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if cached := p.cachedModels(); cached != nil {
			return cached, nil
		}
		return nil, wrapCallError(ctx, string(ProviderTypeOllama), "list models", probeTimeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, newBackendError(string(ProviderTypeOllama), resp.StatusCode, string(body))
	}

	var list api.ListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}

	models := make([]protocol.ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, protocol.ModelInfo{
			ID:            m.Name,
			Name:          m.Name,
			Provider:      string(ProviderTypeOllama),
			SupportsTools: ModelSupportsToolCalling(m.Name),
		})
	}

	p.mu.Lock()
	p.cached = models
	p.mu.Unlock()
	return models, nil
}

func (p *OllamaProvider) cachedModels() []protocol.ModelInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cached
}

// Chat sends one blocking chat request.
func (p *OllamaProvider) Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	resp, err := p.postChat(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var chat api.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, wrapCallError(ctx, string(ProviderTypeOllama), "chat", chatTimeout, err)
	}

	var blocks []protocol.ContentBlock
	if chat.Message.Content != "" {
		blocks = append(blocks, protocol.NewTextBlock(chat.Message.Content))
	}
	stop := normalizeOllamaDone(chat.DoneReason)
	for _, call := range chat.Message.ToolCalls {
		args, err := json.Marshal(call.Function.Arguments)
		if err != nil {
			continue
		}
		blocks = append(blocks, protocol.NewToolUseBlock(newToolUseID(), call.Function.Name, args))
		stop = protocol.StopToolUse
	}

	return &protocol.ChatResponse{
		Blocks:     protocol.EnsureContent(blocks),
		StopReason: stop,
		Usage:      ollamaUsage(chat),
		Model:      chat.Model,
	}, nil
}

// ChatStream sends a streaming chat request and converts the NDJSON body
// into protocol chunks.
func (p *OllamaProvider) ChatStream(ctx context.Context, req protocol.ChatRequest) (*protocol.Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, streamTimeout)

	resp, err := p.postChat(ctx, req, true)
	if err != nil {
		cancel()
		return nil, err
	}

	stream, w := protocol.NewStream(cancel)
	go p.pumpLines(ctx, cancel, resp.Body, w)
	return stream, nil
}

// pumpLines owns the response body for one streaming call. Each complete
// line is one chat response object; the trailing partial line is held in the
// call-local lineBuffer until its remainder arrives.
func (p *OllamaProvider) pumpLines(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser, w *protocol.StreamWriter) {
	defer w.Close()
	defer cancel()
	defer body.Close()

	var lb lineBuffer
	toolSeen := false
	buf := make([]byte, 4096)

	for {
		n, readErr := body.Read(buf)
		for _, line := range lb.Feed(buf[:n]) {
			done, ok := p.handleStreamLine(line, &toolSeen, w)
			if done || !ok {
				return
			}
		}
		if readErr == io.EOF {
			if line := lb.Flush(); line != nil {
				done, ok := p.handleStreamLine(line, &toolSeen, w)
				if done || !ok {
					return
				}
			}
			// The body ended before the terminal object arrived. The consumer
			// needs a deterministic end-of-stream signal either way, so a
			// truncated stream terminates with an error chunk.
			w.Error(newBackendError(string(ProviderTypeOllama), 0, "stream ended before completion"))
			return
		}
		if readErr != nil {
			w.Error(wrapCallError(ctx, string(ProviderTypeOllama), "chat stream", streamTimeout, readErr))
			return
		}
	}
}

// handleStreamLine translates one NDJSON line. Malformed lines are skipped.
// Returns done=true once the terminal object was handled, ok=false when the
// consumer closed the stream.
func (p *OllamaProvider) handleStreamLine(line []byte, toolSeen *bool, w *protocol.StreamWriter) (done, ok bool) {
	var chunk api.ChatResponse
	if err := json.Unmarshal(line, &chunk); err != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Ollama] Skipping malformed stream line: %v", err)
		}
		return false, true
	}

	if chunk.Message.Content != "" {
		if !w.Send(protocol.TextDeltaChunk(chunk.Message.Content)) {
			return false, false
		}
	}

	// Tool calls arrive whole, one object per call.
	for _, call := range chunk.Message.ToolCalls {
		*toolSeen = true
		args, err := json.Marshal(call.Function.Arguments)
		if err != nil {
			continue
		}
		tc := &protocol.ToolCallChunk{ID: newToolUseID(), Name: call.Function.Name, Input: string(args)}
		if !w.Send(protocol.Chunk{Type: protocol.ChunkToolUseStart, ToolCall: &protocol.ToolCallChunk{ID: tc.ID, Name: tc.Name}}) {
			return false, false
		}
		if !w.Send(protocol.Chunk{Type: protocol.ChunkToolUseDelta, ToolCall: tc}) {
			return false, false
		}
		if !w.Send(protocol.Chunk{Type: protocol.ChunkToolUseEnd, ToolCall: tc}) {
			return false, false
		}
	}

	if chunk.Done {
		stop := normalizeOllamaDone(chunk.DoneReason)
		if *toolSeen {
			stop = protocol.StopToolUse
		}
		w.Send(protocol.MessageEndChunk(stop, ollamaUsage(chunk)))
		return true, true
	}
	return false, true
}

// postChat issues the chat request. The caller owns the returned body.
func (p *OllamaProvider) postChat(ctx context.Context, req protocol.ChatRequest, stream bool) (*http.Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	wire := api.ChatRequest{
		Model:    model,
		Messages: toOllamaMessages(req),
		Stream:   &stream,
		Tools:    toOllamaTools(req.Tools),
		Options:  ollamaOptions(req),
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, wrapCallError(ctx, string(ProviderTypeOllama), "chat", chatTimeout, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, newBackendError(string(ProviderTypeOllama), resp.StatusCode, string(body))
	}
	return resp, nil
}

// toOllamaMessages converts protocol messages to the backend's flat
// role-tagged turns. Ollama cannot embed result blocks in a turn, so each
// tool_result becomes its own `tool` role message; text blocks concatenate
// into the turn's content; tool_use blocks become the assistant turn's
// tool_calls array.
func toOllamaMessages(req protocol.ChatRequest) []api.Message {
	var msgs []api.Message
	if req.System != "" {
		msgs = append(msgs, api.Message{Role: "system", Content: req.System})
	}

	for _, msg := range req.Messages {
		if len(msg.Blocks) == 0 {
			msgs = append(msgs, api.Message{Role: msg.Role, Content: msg.Content})
			continue
		}

		var text strings.Builder
		var toolCalls []api.ToolCall
		var images []api.ImageData

		for _, blk := range msg.Blocks {
			switch blk.Type {
			case protocol.BlockText:
				text.WriteString(blk.Text)

			case protocol.BlockToolResult:
				content := blk.Content
				if blk.IsError {
					content = "ERROR: " + content
				}
				msgs = append(msgs, api.Message{Role: "tool", Content: content})

			case protocol.BlockToolUse:
				var args map[string]any
				if err := json.Unmarshal(blk.Input, &args); err != nil {
					args = map[string]any{}
				}
				toolCalls = append(toolCalls, api.ToolCall{
					Function: api.ToolCallFunction{
						Name:      blk.Name,
						Arguments: api.ToolCallFunctionArguments(args),
					},
				})

			case protocol.BlockImage:
				if data, err := base64.StdEncoding.DecodeString(blk.Data); err == nil {
					images = append(images, api.ImageData(data))
				}
			}
		}

		if text.Len() > 0 || len(toolCalls) > 0 || len(images) > 0 {
			msgs = append(msgs, api.Message{
				Role:      msg.Role,
				Content:   text.String(),
				ToolCalls: toolCalls,
				Images:    images,
			})
		}
	}
	return msgs
}

// toOllamaTools converts protocol tool definitions to the Ollama tool
// declaration format.
func toOllamaTools(tools []protocol.ToolDefinition) []api.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]api.Tool, 0, len(tools))
	for _, tool := range tools {
		params := api.ToolFunctionParameters{
			Type:       "object",
			Required:   tool.InputSchema.Required,
			Properties: make(map[string]api.ToolProperty, len(tool.InputSchema.Properties)),
		}
		if tool.InputSchema.Type != "" {
			params.Type = tool.InputSchema.Type
		}
		for name, prop := range tool.InputSchema.Properties {
			params.Properties[name] = api.ToolProperty{
				Type:        api.PropertyType{prop.Type},
				Description: prop.Description,
				Enum:        prop.Enum,
				Items:       prop.Items,
			}
		}
		result = append(result, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return result
}

func ollamaOptions(req protocol.ChatRequest) map[string]any {
	opts := make(map[string]any)
	if req.Temperature != 0 {
		opts["temperature"] = req.Temperature
	}
	if req.MaxTokens != 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if len(req.StopSequences) > 0 {
		opts["stop"] = req.StopSequences
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

func ollamaUsage(resp api.ChatResponse) protocol.TokenUsage {
	return protocol.TokenUsage{
		InputTokens:  resp.Metrics.PromptEvalCount,
		OutputTokens: resp.Metrics.EvalCount,
	}.Resolved()
}

func normalizeOllamaDone(reason string) protocol.StopReason {
	switch reason {
	case "length":
		return protocol.StopMaxTokens
	default:
		return protocol.StopEndTurn
	}
}

// Model families known to support Ollama's tool calling API. Curated from
// Ollama documentation and community testing.
var toolCallingModels = map[string]bool{
	"qwen":      true,
	"llama3.1":  true,
	"llama3.2":  true,
	"llama3.3":  true,
	"mistral":   true,
	"command-r": true,
	"nemotron":  true,
	"granite3":  true,

	"llama3-gradient": false,
	"llama3":          false,
	"phi":             false,
	"gemma":           false,
	"codellama":       false,
	"deepseek":        false,
}

// Most specific prefixes first, so llama3.2 is not matched as generic llama3.
var orderedPrefixes = []string{
	"llama3.3", "llama3.2", "llama3.1",
	"llama3-gradient",
	"command-r", "qwen", "mistral", "nemotron", "granite3",
	"codellama",
	"llama3",
	"deepseek", "phi", "gemma",
}

// ModelSupportsToolCalling reports whether the named model is known to
// support Ollama tool calling. Unknown models default to no support.
func ModelSupportsToolCalling(modelName string) bool {
	modelName = strings.ToLower(modelName)
	for _, prefix := range orderedPrefixes {
		if strings.HasPrefix(modelName, prefix) {
			if supported, exists := toolCallingModels[prefix]; exists {
				return supported
			}
		}
	}
	return false
}
