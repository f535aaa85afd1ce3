// Package provider implements the backend adapters behind the
// protocol.Provider interface.
//
// Each adapter translates the shared protocol types to and from one
// backend's wire format: the claude CLI subprocess, a local Ollama server,
// the OpenRouter aggregator, the Gemini API, and the Anthropic Messages API.
// Adapters are stateless across calls; within one streaming call they hold
// only transient state (line buffers, tool-call accumulators) scoped to that
// call, so concurrent calls never share buffers and need no locking.
package provider

import "time"

// ProviderType identifies the adapter implementation.
type ProviderType string

const (
	ProviderTypeClaudeCLI  ProviderType = "claude-cli"
	ProviderTypeOllama     ProviderType = "ollama"
	ProviderTypeOpenRouter ProviderType = "openrouter"
	ProviderTypeGemini     ProviderType = "gemini"
	ProviderTypeAnthropic  ProviderType = "anthropic"
)

// Config holds provider-specific configuration.
type Config struct {
	Type    ProviderType
	BaseURL string
	Model   string
	APIKey  string // unused for Ollama and the CLI
	Binary  string // CLI executable path, claude-cli only
}

// Call deadlines. Every adapter call is bounded; on expiry the underlying
// process or connection is aborted and a TimeoutError surfaced.
const (
	chatTimeout    = 5 * time.Minute
	streamTimeout  = 10 * time.Minute
	processTimeout = 10 * time.Minute
	probeTimeout   = 10 * time.Second
)
