package testutil

import (
	"context"

	"switchboard/protocol"
)

// MockProvider implements protocol.Provider for testing.
type MockProvider struct {
	// Configurable responses
	ChatFunc        func(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error)
	ChatStreamFunc  func(ctx context.Context, req protocol.ChatRequest) (*protocol.Stream, error)
	ListModelsFunc  func(ctx context.Context) ([]protocol.ModelInfo, error)
	IsAvailableFunc func(ctx context.Context) bool

	// Recorded calls
	ChatRequests []protocol.ChatRequest
}

// NewMockProvider creates a mock provider with default implementations.
func NewMockProvider() *MockProvider {
	mock := &MockProvider{}
	mock.ChatFunc = mock.defaultChat
	mock.ChatStreamFunc = mock.defaultChatStream
	mock.ListModelsFunc = mock.defaultListModels
	mock.IsAvailableFunc = func(ctx context.Context) bool { return true }
	return mock
}

func (m *MockProvider) defaultChat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error) {
	return &protocol.ChatResponse{
		Blocks:     []protocol.ContentBlock{protocol.NewTextBlock("Mock response")},
		StopReason: protocol.StopEndTurn,
		Usage:      protocol.TokenUsage{InputTokens: 3, OutputTokens: 2}.Resolved(),
		Model:      "mock-model",
	}, nil
}

func (m *MockProvider) defaultChatStream(ctx context.Context, req protocol.ChatRequest) (*protocol.Stream, error) {
	stream, w := protocol.NewStream(func() {})
	go func() {
		defer w.Close()
		if !w.Send(protocol.TextDeltaChunk("Mock ")) {
			return
		}
		if !w.Send(protocol.TextDeltaChunk("response")) {
			return
		}
		w.Send(protocol.MessageEndChunk(protocol.StopEndTurn, protocol.TokenUsage{InputTokens: 3, OutputTokens: 2}))
	}()
	return stream, nil
}

func (m *MockProvider) defaultListModels(ctx context.Context) ([]protocol.ModelInfo, error) {
	return []protocol.ModelInfo{
		{ID: "mock-model-1", Name: "mock-model-1", Provider: "mock"},
		{ID: "mock-model-2", Name: "mock-model-2", Provider: "mock"},
	}, nil
}

func (m *MockProvider) IsAvailable(ctx context.Context) bool {
	return m.IsAvailableFunc(ctx)
}

func (m *MockProvider) ListModels(ctx context.Context) ([]protocol.ModelInfo, error) {
	return m.ListModelsFunc(ctx)
}

func (m *MockProvider) Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error) {
	m.ChatRequests = append(m.ChatRequests, req)
	return m.ChatFunc(ctx, req)
}

func (m *MockProvider) ChatStream(ctx context.Context, req protocol.ChatRequest) (*protocol.Stream, error) {
	m.ChatRequests = append(m.ChatRequests, req)
	return m.ChatStreamFunc(ctx, req)
}
