package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"switchboard/protocol"
)

func TestOllamaChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if stream, _ := body["stream"].(bool); stream {
			t.Error("expected stream=false")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"model": "llama3.1:latest",
			"message": {
				"role": "assistant",
				"content": "Let me check.",
				"tool_calls": [{"function": {"name": "get_weather", "arguments": {"location": "Paris"}}}]
			},
			"done": true,
			"done_reason": "stop",
			"prompt_eval_count": 12,
			"eval_count": 7
		}`))
	}))
	defer server.Close()

	p, err := NewOllamaProvider(server.URL, "llama3.1:latest")
	if err != nil {
		t.Fatal(err)
	}

	resp, err := p.Chat(context.Background(), protocol.ChatRequest{
		Messages: []protocol.Message{{Role: protocol.RoleUser, Content: "Weather in Paris?"}},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if resp.StopReason != protocol.StopToolUse {
		t.Errorf("expected stop tool_use, got %q", resp.StopReason)
	}
	if len(resp.Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(resp.Blocks))
	}
	if resp.Blocks[0].Type != protocol.BlockText || resp.Blocks[0].Text != "Let me check." {
		t.Errorf("unexpected text block: %+v", resp.Blocks[0])
	}
	call := resp.Blocks[1]
	if call.Type != protocol.BlockToolUse || call.Name != "get_weather" {
		t.Errorf("unexpected tool_use block: %+v", call)
	}
	var args map[string]any
	if err := json.Unmarshal(call.Input, &args); err != nil {
		t.Fatalf("tool input not valid JSON: %v", err)
	}
	if args["location"] != "Paris" {
		t.Errorf("expected location Paris, got %v", args["location"])
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 7 || resp.Usage.TotalTokens != 19 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestOllamaChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Write([]byte(`{"model":"llama3.1:latest","message":{"role":"assistant","content":"Hel"},"done":false}
{"model":"llama3.1:latest","message":{"role":"assistant","content":"lo"},"done":false}
{"model":"llama3.1:latest","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":4,"eval_count":2}
`))
	}))
	defer server.Close()

	p, err := NewOllamaProvider(server.URL, "llama3.1:latest")
	if err != nil {
		t.Fatal(err)
	}

	stream, err := p.ChatStream(context.Background(), protocol.ChatRequest{
		Messages: []protocol.Message{{Role: protocol.RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	defer stream.Close()

	var chunks []protocol.Chunk
	for stream.Next() {
		chunks = append(chunks, stream.Current())
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].Type != protocol.ChunkTextDelta || chunks[0].Text != "Hel" {
		t.Errorf("unexpected first chunk: %+v", chunks[0])
	}
	if chunks[1].Type != protocol.ChunkTextDelta || chunks[1].Text != "lo" {
		t.Errorf("unexpected second chunk: %+v", chunks[1])
	}
	end := chunks[2]
	if end.Type != protocol.ChunkMessageEnd {
		t.Fatalf("expected message_end, got %q", end.Type)
	}
	if end.StopReason != protocol.StopEndTurn {
		t.Errorf("expected end_turn, got %q", end.StopReason)
	}
	if end.Usage == nil || end.Usage.TotalTokens != 6 {
		t.Errorf("unexpected usage: %+v", end.Usage)
	}
}

func TestOllamaChatStreamToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"role":"assistant","content":""},"done":false}
this line is not JSON and must be skipped
{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"calculate","arguments":{"expression":"2+2"}}}]},"done":false}
{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}
`))
	}))
	defer server.Close()

	p, err := NewOllamaProvider(server.URL, "llama3.1:latest")
	if err != nil {
		t.Fatal(err)
	}

	stream, err := p.ChatStream(context.Background(), protocol.ChatRequest{
		Messages: []protocol.Message{{Role: protocol.RoleUser, Content: "2+2?"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	var types []string
	var end protocol.Chunk
	for stream.Next() {
		c := stream.Current()
		types = append(types, c.Type)
		if c.Type == protocol.ChunkMessageEnd {
			end = c
		}
		if c.ToolCall != nil {
			if c.ToolCall.Name != "calculate" {
				t.Errorf("unexpected tool name %q", c.ToolCall.Name)
			}
			if c.Type != protocol.ChunkToolUseStart && c.ToolCall.Input != `{"expression":"2+2"}` {
				t.Errorf("unexpected tool input %q", c.ToolCall.Input)
			}
		}
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}

	want := []string{
		protocol.ChunkToolUseStart,
		protocol.ChunkToolUseDelta,
		protocol.ChunkToolUseEnd,
		protocol.ChunkMessageEnd,
	}
	if len(types) != len(want) {
		t.Fatalf("expected %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, types)
		}
	}
	// A whole tool call flips the mapped stop reason even when the backend
	// says "stop".
	if end.StopReason != protocol.StopToolUse {
		t.Errorf("expected stop tool_use, got %q", end.StopReason)
	}
}

func TestOllamaChatStreamTruncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Body ends cleanly without ever sending the terminal object.
		w.Write([]byte(`{"message":{"role":"assistant","content":"Hel"},"done":false}
{"message":{"role":"assistant","content":"lo"},"done":false}
`))
	}))
	defer server.Close()

	p, err := NewOllamaProvider(server.URL, "llama3.1:latest")
	if err != nil {
		t.Fatal(err)
	}

	stream, err := p.ChatStream(context.Background(), protocol.ChatRequest{
		Messages: []protocol.Message{{Role: protocol.RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	var text string
	for stream.Next() {
		c := stream.Current()
		if c.Type == protocol.ChunkMessageEnd {
			t.Fatal("truncated stream must not end with message_end")
		}
		if c.Type == protocol.ChunkTextDelta {
			text += c.Text
		}
	}

	// A stream cut off mid-response terminates with an error chunk, never
	// silently.
	err = stream.Err()
	if err == nil {
		t.Fatal("expected an error for a stream without a terminal object")
	}
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected BackendError, got %T: %v", err, err)
	}
	if text != "Hello" {
		t.Errorf("deltas before the cut must still arrive, got %q", text)
	}
}

func TestOllamaChatStreamDeadline(t *testing.T) {
	released := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"role":"assistant","content":"Hel"},"done":false}` + "\n"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		// Block until the client abandons the request.
		<-r.Context().Done()
		close(released)
	}))
	defer server.Close()

	p, err := NewOllamaProvider(server.URL, "llama3.1:latest")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	stream, err := p.ChatStream(ctx, protocol.ChatRequest{
		Messages: []protocol.Message{{Role: protocol.RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	for stream.Next() {
		if stream.Current().Type == protocol.ChunkMessageEnd {
			t.Fatal("expired stream must not end with message_end")
		}
	}
	if !IsTimeout(stream.Err()) {
		t.Fatalf("expected TimeoutError, got %v", stream.Err())
	}

	// The underlying request is released when the deadline aborts the call.
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("backend request was not cancelled")
	}
}

func TestOllamaListModelsCachesLastFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"models":[{"name":"llama3.1:latest"},{"name":"gemma:2b"}]}`))
	}))

	p, err := NewOllamaProvider(server.URL, "llama3.1:latest")
	if err != nil {
		t.Fatal(err)
	}

	models, err := p.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	if !models[0].SupportsTools {
		t.Error("llama3.1 should support tools")
	}
	if models[1].SupportsTools {
		t.Error("gemma should not support tools")
	}

	// Server goes away; the last successful fetch is served instead.
	server.Close()
	cached, err := p.ListModels(context.Background())
	if err != nil {
		t.Fatalf("expected cached models, got error %v", err)
	}
	if len(cached) != 2 {
		t.Fatalf("expected 2 cached models, got %d", len(cached))
	}
}

func TestToOllamaMessages(t *testing.T) {
	req := protocol.ChatRequest{
		System: "You are helpful.",
		Messages: []protocol.Message{
			{Role: protocol.RoleUser, Content: "What's the weather in Paris?"},
			{
				Role: protocol.RoleAssistant,
				Blocks: []protocol.ContentBlock{
					protocol.NewTextBlock("Let me check."),
					protocol.NewToolUseBlock("toolu_1", "get_weather", json.RawMessage(`{"location":"Paris"}`)),
				},
			},
			{
				Role: protocol.RoleUser,
				Blocks: []protocol.ContentBlock{
					protocol.NewToolResultBlock("toolu_1", "Sunny, 22C", false),
				},
			},
		},
	}

	msgs := toOllamaMessages(req)

	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != "system" || msgs[0].Content != "You are helpful." {
		t.Errorf("unexpected system message: %+v", msgs[0])
	}
	if msgs[1].Role != "user" {
		t.Errorf("unexpected role %q", msgs[1].Role)
	}
	asst := msgs[2]
	if asst.Role != "assistant" || asst.Content != "Let me check." {
		t.Errorf("unexpected assistant message: %+v", asst)
	}
	if len(asst.ToolCalls) != 1 || asst.ToolCalls[0].Function.Name != "get_weather" {
		t.Errorf("unexpected tool calls: %+v", asst.ToolCalls)
	}
	if msgs[3].Role != "tool" || msgs[3].Content != "Sunny, 22C" {
		t.Errorf("unexpected tool message: %+v", msgs[3])
	}
}

func TestToOllamaMessagesErrorResult(t *testing.T) {
	req := protocol.ChatRequest{
		Messages: []protocol.Message{
			{
				Role: protocol.RoleUser,
				Blocks: []protocol.ContentBlock{
					protocol.NewToolResultBlock("toolu_1", "city not found", true),
				},
			},
		},
	}

	msgs := toOllamaMessages(req)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Content != "ERROR: city not found" {
		t.Errorf("error flag not rendered: %q", msgs[0].Content)
	}
}

func TestModelSupportsToolCalling(t *testing.T) {
	tests := []struct {
		model string
		want  bool
	}{
		{"llama3.1:latest", true},
		{"llama3.2:3b", true},
		{"qwen2.5:7b", true},
		{"mistral:latest", true},
		{"llama3:latest", false},
		{"llama3-gradient:8b", false},
		{"gemma:2b", false},
		{"some-unknown-model", false},
	}

	for _, tt := range tests {
		if got := ModelSupportsToolCalling(tt.model); got != tt.want {
			t.Errorf("ModelSupportsToolCalling(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}

func TestNormalizeOllamaDone(t *testing.T) {
	if got := normalizeOllamaDone("length"); got != protocol.StopMaxTokens {
		t.Errorf("length → %q, want max_tokens", got)
	}
	if got := normalizeOllamaDone("stop"); got != protocol.StopEndTurn {
		t.Errorf("stop → %q, want end_turn", got)
	}
	if got := normalizeOllamaDone("weird"); got != protocol.StopEndTurn {
		t.Errorf("unknown reason must fold to end_turn, got %q", got)
	}
}
