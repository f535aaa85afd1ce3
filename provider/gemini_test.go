package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"switchboard/protocol"
)

func TestGeminiChat(t *testing.T) {
	var gotBody geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Error("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		w.Write([]byte(`{
			"candidates": [{
				"content": {
					"role": "model",
					"parts": [
						{"text": "Checking."},
						{"functionCall": {"name": "get_weather", "args": {"location": "Paris"}}}
					]
				},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 11, "candidatesTokenCount": 6, "totalTokenCount": 17}
		}`))
	}))
	defer server.Close()

	p, err := NewGeminiProvider(server.URL, "test-key", "gemini-2.0-flash")
	if err != nil {
		t.Fatal(err)
	}

	resp, err := p.Chat(context.Background(), protocol.ChatRequest{
		System:   "Be brief.",
		Messages: []protocol.Message{{Role: protocol.RoleUser, Content: "Weather in Paris?"}},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	// System prompt rides in its own request field, never as a turn.
	if gotBody.SystemInstruction == nil || gotBody.SystemInstruction.Parts[0].Text != "Be brief." {
		t.Errorf("system instruction not carried: %+v", gotBody.SystemInstruction)
	}
	if len(gotBody.Contents) != 1 || gotBody.Contents[0].Role != "user" {
		t.Errorf("unexpected contents: %+v", gotBody.Contents)
	}

	// A function-call part forces the tool_use stop reason.
	if resp.StopReason != protocol.StopToolUse {
		t.Errorf("expected tool_use, got %q", resp.StopReason)
	}
	if len(resp.Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(resp.Blocks))
	}
	call := resp.Blocks[1]
	if call.Name != "get_weather" || !strings.HasPrefix(call.ID, "toolu_") {
		t.Errorf("unexpected tool_use block: %+v", call)
	}
	if resp.Usage.InputTokens != 11 || resp.Usage.OutputTokens != 6 || resp.Usage.TotalTokens != 17 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestGeminiChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":streamGenerateContent") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.URL.Query().Get("alt") != "sse" {
			t.Error("expected alt=sse")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Hel"}]}}]}` + "\n\n"))
		w.Write([]byte("not a data line, ignored\n\n"))
		w.Write([]byte(`data: {"candidates":[{"content":{"role":"model","parts":[{"text":"lo"}]}}]}` + "\n\n"))
		w.Write([]byte(`data: {"candidates":[{"content":{"role":"model","parts":[]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2,"totalTokenCount":5}}` + "\n\n"))
	}))
	defer server.Close()

	p, err := NewGeminiProvider(server.URL, "test-key", "gemini-2.0-flash")
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

	resp, err := protocol.Collect(stream)
	if err != nil {
		t.Fatalf("collect error: %v", err)
	}
	if len(resp.Blocks) != 1 || resp.Blocks[0].Text != "Hello" {
		t.Errorf("unexpected blocks: %+v", resp.Blocks)
	}
	if resp.StopReason != protocol.StopEndTurn {
		t.Errorf("expected end_turn, got %q", resp.StopReason)
	}
	if resp.Usage.TotalTokens != 5 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestGeminiChatStreamFunctionCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"calculate","args":{"expression":"2+2"}}}]},"finishReason":"STOP"}]}` + "\n\n"))
	}))
	defer server.Close()

	p, err := NewGeminiProvider(server.URL, "test-key", "")
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
		if c.Type == protocol.ChunkToolUseDelta {
			var args map[string]any
			if err := json.Unmarshal([]byte(c.ToolCall.Input), &args); err != nil {
				t.Fatalf("delta input not valid JSON: %v", err)
			}
			if args["expression"] != "2+2" {
				t.Errorf("unexpected args: %v", args)
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
	if end.StopReason != protocol.StopToolUse {
		t.Errorf("expected tool_use, got %q", end.StopReason)
	}
}

func TestGeminiReportedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer server.Close()

	p, err := NewGeminiProvider(server.URL, "test-key", "")
	if err != nil {
		t.Fatal(err)
	}

	_, err = p.Chat(context.Background(), protocol.ChatRequest{
		Messages: []protocol.Message{{Role: protocol.RoleUser, Content: "Hi"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected BackendError, got %T: %v", err, err)
	}
	if !be.Reported {
		t.Error("expected a backend-reported error")
	}
	if be.StatusCode != 429 {
		t.Errorf("expected code 429, got %d", be.StatusCode)
	}
}

func TestToGeminiContents(t *testing.T) {
	req := protocol.ChatRequest{
		Messages: []protocol.Message{
			{Role: protocol.RoleUser, Content: "What's the weather in Paris?"},
			{
				Role: protocol.RoleAssistant,
				Blocks: []protocol.ContentBlock{
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

	contents := toGeminiContents(req)
	if len(contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(contents))
	}
	if contents[1].Role != "model" {
		t.Errorf("assistant turn must map to model role, got %q", contents[1].Role)
	}
	fc := contents[1].Parts[0].FunctionCall
	if fc == nil || fc.Name != "get_weather" {
		t.Fatalf("expected functionCall part: %+v", contents[1].Parts)
	}
	fr := contents[2].Parts[0].FunctionResponse
	if fr == nil {
		t.Fatalf("expected functionResponse part: %+v", contents[2].Parts)
	}
	// Results match calls by function name, resolved through the call id.
	if fr.Name != "get_weather" {
		t.Errorf("expected response name get_weather, got %q", fr.Name)
	}
	if fr.Response["result"] != "Sunny, 22C" {
		t.Errorf("unexpected response payload: %v", fr.Response)
	}
}

func TestNormalizeGeminiFinish(t *testing.T) {
	tests := []struct {
		reason string
		want   protocol.StopReason
	}{
		{"STOP", protocol.StopEndTurn},
		{"MAX_TOKENS", protocol.StopMaxTokens},
		{"SAFETY", protocol.StopEndTurn},
		{"RECITATION", protocol.StopEndTurn},
		{"OTHER", protocol.StopEndTurn},
	}
	for _, tt := range tests {
		if got := normalizeGeminiFinish(tt.reason); got != tt.want {
			t.Errorf("normalizeGeminiFinish(%q) = %q, want %q", tt.reason, got, tt.want)
		}
	}
}
