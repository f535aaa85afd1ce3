package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"switchboard/config"
	"switchboard/protocol"
)

// GeminiProvider talks to Google's Generative Language API. Gemini models
// content as ordered parts instead of blocks: text parts, inline binary
// parts, function-call parts and function-response parts. Tool calls arrive
// whole per part, so streaming needs no delta accumulation.
type GeminiProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewGeminiProvider creates a Gemini provider instance.
//
// Parameters:
//   - baseURL: API base URL (default "https://generativelanguage.googleapis.com/v1beta")
//   - apiKey: Gemini API key (required)
//   - model: initial model to use (default "gemini-2.0-flash")
func NewGeminiProvider(baseURL, apiKey, model string) (*GeminiProvider, error) {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{},
	}, nil
}

// Wire types mirror the generateContent request and response bodies.

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools             []geminiTool            `json:"tools,omitempty"`
}

// geminiContent is a single turn. Role is "user" or "model".
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// geminiPart carries exactly one of its fields.
type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	InlineData       *geminiBlob             `json:"inlineData,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata,omitempty"`
	ModelVersion  string            `json:"modelVersion,omitempty"`
	Error         *geminiAPIError   `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiUsage struct {
	PromptTokenCount        int `json:"promptTokenCount"`
	CandidatesTokenCount    int `json:"candidatesTokenCount"`
	TotalTokenCount         int `json:"totalTokenCount"`
	CachedContentTokenCount int `json:"cachedContentTokenCount"`
}

type geminiAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type geminiModelList struct {
	Models []struct {
		Name             string `json:"name"` // "models/gemini-2.0-flash"
		DisplayName      string `json:"displayName"`
		InputTokenLimit  int    `json:"inputTokenLimit"`
		OutputTokenLimit int    `json:"outputTokenLimit"`
	} `json:"models"`
}

// IsAvailable probes the model listing endpoint with the configured key.
func (p *GeminiProvider) IsAvailable(ctx context.Context) bool {
	if p.apiKey == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := p.newRequest(ctx, http.MethodGet, p.baseURL+"/models", nil)
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

// ListModels fetches the model catalog. Gemini names models as
// "models/gemini-2.0-flash"; the prefix is stripped for the id.
func (p *GeminiProvider) ListModels(ctx context.Context) ([]protocol.ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := p.newRequest(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, wrapCallError(ctx, string(ProviderTypeGemini), "list models", probeTimeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, newBackendError(string(ProviderTypeGemini), resp.StatusCode, string(body))
	}

	var list geminiModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}

	models := make([]protocol.ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		id := strings.TrimPrefix(m.Name, "models/")
		models = append(models, protocol.ModelInfo{
			ID:              id,
			Name:            m.DisplayName,
			Provider:        string(ProviderTypeGemini),
			ContextWindow:   m.InputTokenLimit,
			MaxOutputTokens: m.OutputTokenLimit,
			SupportsTools:   true,
			SupportsVision:  true,
		})
	}
	return models, nil
}

// Chat sends one blocking generateContent request.
func (p *GeminiProvider) Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	model := p.resolveModel(req)
	resp, err := p.postGenerate(ctx, model, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, wrapCallError(ctx, string(ProviderTypeGemini), "chat", chatTimeout, err)
	}
	if body.Error != nil {
		return nil, newReportedError(string(ProviderTypeGemini), body.Error.Code, body.Error.Message)
	}
	if len(body.Candidates) == 0 {
		return nil, newBackendError(string(ProviderTypeGemini), 0, "response contained no candidates")
	}

	cand := body.Candidates[0]
	var blocks []protocol.ContentBlock
	stop := normalizeGeminiFinish(cand.FinishReason)
	for _, part := range cand.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			args := part.FunctionCall.Args
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			blocks = append(blocks, protocol.NewToolUseBlock(newToolUseID(), part.FunctionCall.Name, args))
			stop = protocol.StopToolUse
		case part.Text != "":
			blocks = append(blocks, protocol.NewTextBlock(part.Text))
		}
	}

	var usage protocol.TokenUsage
	if body.UsageMetadata != nil {
		usage = geminiTokenUsage(*body.UsageMetadata)
	}
	respModel := body.ModelVersion
	if respModel == "" {
		respModel = model
	}

	return &protocol.ChatResponse{
		Blocks:     protocol.EnsureContent(blocks),
		StopReason: stop,
		Usage:      usage,
		Model:      respModel,
	}, nil
}

// ChatStream sends a streaming generateContent request over SSE.
func (p *GeminiProvider) ChatStream(ctx context.Context, req protocol.ChatRequest) (*protocol.Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, streamTimeout)

	model := p.resolveModel(req)
	resp, err := p.postGenerate(ctx, model, req, true)
	if err != nil {
		cancel()
		return nil, err
	}

	stream, w := protocol.NewStream(cancel)
	go p.pumpEvents(ctx, cancel, resp.Body, w)
	return stream, nil
}

// pumpEvents owns the response body for one streaming call. Each SSE event
// carries one generateContent response fragment.
func (p *GeminiProvider) pumpEvents(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser, w *protocol.StreamWriter) {
	defer w.Close()
	defer cancel()
	defer body.Close()

	dec := newSSEDecoder(body)
	stop := protocol.StopEndTurn
	var usage protocol.TokenUsage
	toolSeen := false

	for {
		data, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			w.Error(wrapCallError(ctx, string(ProviderTypeGemini), "chat stream", streamTimeout, err))
			return
		}

		var event geminiResponse
		if err := json.Unmarshal(data, &event); err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Gemini] Skipping malformed stream event: %v", err)
			}
			continue
		}
		if event.Error != nil {
			w.Error(newReportedError(string(ProviderTypeGemini), event.Error.Code, event.Error.Message))
			return
		}
		if event.UsageMetadata != nil {
			usage = geminiTokenUsage(*event.UsageMetadata)
		}
		if len(event.Candidates) == 0 {
			continue
		}

		cand := event.Candidates[0]
		for _, part := range cand.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				// Function calls arrive whole, one part per call.
				toolSeen = true
				args := string(part.FunctionCall.Args)
				if args == "" {
					args = "{}"
				}
				tc := &protocol.ToolCallChunk{ID: newToolUseID(), Name: part.FunctionCall.Name, Input: args}
				if !w.Send(protocol.Chunk{Type: protocol.ChunkToolUseStart, ToolCall: &protocol.ToolCallChunk{ID: tc.ID, Name: tc.Name}}) {
					return
				}
				if !w.Send(protocol.Chunk{Type: protocol.ChunkToolUseDelta, ToolCall: tc}) {
					return
				}
				if !w.Send(protocol.Chunk{Type: protocol.ChunkToolUseEnd, ToolCall: tc}) {
					return
				}
			case part.Text != "":
				if !w.Send(protocol.TextDeltaChunk(part.Text)) {
					return
				}
			}
		}
		if cand.FinishReason != "" {
			stop = normalizeGeminiFinish(cand.FinishReason)
		}
	}

	if toolSeen {
		stop = protocol.StopToolUse
	}
	w.Send(protocol.MessageEndChunk(stop, usage))
}

// postGenerate issues a generateContent or streamGenerateContent request.
// The caller owns the returned body.
func (p *GeminiProvider) postGenerate(ctx context.Context, model string, req protocol.ChatRequest, stream bool) (*http.Response, error) {
	wire := geminiRequest{
		Contents:         toGeminiContents(req),
		GenerationConfig: geminiConfig(req),
		Tools:            toGeminiTools(req.Tools),
	}
	if req.System != "" {
		wire.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}

	payload, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, model)
	if stream {
		url = fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", p.baseURL, model)
	}

	httpReq, err := p.newRequest(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, wrapCallError(ctx, string(ProviderTypeGemini), "chat", chatTimeout, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, newBackendError(string(ProviderTypeGemini), resp.StatusCode, string(body))
	}
	return resp, nil
}

func (p *GeminiProvider) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-goog-api-key", p.apiKey)
	return req, nil
}

func (p *GeminiProvider) resolveModel(req protocol.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.model
}

// toGeminiContents converts protocol messages into Gemini turns. Assistant
// turns map to the "model" role, everything else to "user". Tool results
// become functionResponse parts; Gemini matches them to calls by function
// name, so ids are resolved through the preceding tool_use blocks.
func toGeminiContents(req protocol.ChatRequest) []geminiContent {
	// id → function name, for function-response parts.
	callNames := make(map[string]string)
	for _, msg := range req.Messages {
		for _, blk := range msg.Blocks {
			if blk.Type == protocol.BlockToolUse {
				callNames[blk.ID] = blk.Name
			}
		}
	}

	var contents []geminiContent
	for _, msg := range req.Messages {
		role := "user"
		if msg.Role == protocol.RoleAssistant {
			role = "model"
		}

		if len(msg.Blocks) == 0 {
			if msg.Content == "" {
				continue
			}
			contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: msg.Content}}})
			continue
		}

		var parts []geminiPart
		for _, blk := range msg.Blocks {
			switch blk.Type {
			case protocol.BlockText:
				parts = append(parts, geminiPart{Text: blk.Text})

			case protocol.BlockToolUse:
				args := blk.Input
				if len(args) == 0 {
					args = json.RawMessage("{}")
				}
				parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{Name: blk.Name, Args: args}})

			case protocol.BlockToolResult:
				response := map[string]any{"result": blk.Content}
				if blk.IsError {
					response = map[string]any{"error": blk.Content}
				}
				parts = append(parts, geminiPart{FunctionResponse: &geminiFunctionResponse{
					Name:     callNames[blk.ToolUseID],
					Response: response,
				}})

			case protocol.BlockImage:
				parts = append(parts, geminiPart{InlineData: &geminiBlob{
					MimeType: blk.MediaType,
					Data:     blk.Data,
				}})
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, geminiContent{Role: role, Parts: parts})
	}
	return contents
}

func toGeminiTools(tools []protocol.ToolDefinition) []geminiTool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]geminiFunctionDeclaration, len(tools))
	for i, tool := range tools {
		decls[i] = geminiFunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.InputSchema.SchemaMap(),
		}
	}
	return []geminiTool{{FunctionDeclarations: decls}}
}

func geminiConfig(req protocol.ChatRequest) *geminiGenerationConfig {
	cfg := &geminiGenerationConfig{
		MaxOutputTokens: req.MaxTokens,
		StopSequences:   req.StopSequences,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		cfg.Temperature = &t
	}
	if cfg.Temperature == nil && cfg.MaxOutputTokens == 0 && len(cfg.StopSequences) == 0 {
		return nil
	}
	return cfg
}

// geminiTokenUsage maps usageMetadata fields 1:1 into TokenUsage.
func geminiTokenUsage(u geminiUsage) protocol.TokenUsage {
	return protocol.TokenUsage{
		InputTokens:     u.PromptTokenCount,
		OutputTokens:    u.CandidatesTokenCount,
		TotalTokens:     u.TotalTokenCount,
		CacheReadTokens: u.CachedContentTokenCount,
	}.Resolved()
}

// normalizeGeminiFinish maps Gemini finish reasons onto protocol stop
// reasons. SAFETY and RECITATION still return content; the caller decides
// how to react, so they map to end_turn.
func normalizeGeminiFinish(reason string) protocol.StopReason {
	switch reason {
	case "MAX_TOKENS":
		return protocol.StopMaxTokens
	default:
		return protocol.StopEndTurn
	}
}
