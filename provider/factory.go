package provider

import (
	"fmt"

	"switchboard/protocol"
)

// NewProvider creates a provider based on configuration.
//
// This is the centralized factory function for creating any provider type.
// It handles dispatching to the appropriate provider constructor based on
// the Config.Type field.
//
// Returns an error if:
//   - The provider type is unknown
//   - The provider-specific constructor fails (e.g., missing API key)
//
// Example (Ollama):
//
//	cfg := provider.Config{
//	    Type:    provider.ProviderTypeOllama,
//	    BaseURL: "http://localhost:11434",
//	    Model:   "llama3.1",
//	}
//	p, err := provider.NewProvider(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
func NewProvider(cfg Config) (protocol.Provider, error) {
	switch cfg.Type {
	case ProviderTypeClaudeCLI:
		return NewClaudeCLIProvider(cfg.Binary, cfg.Model)
	case ProviderTypeOllama:
		return NewOllamaProvider(cfg.BaseURL, cfg.Model)
	case ProviderTypeOpenRouter:
		return NewOpenRouterProvider(cfg.BaseURL, cfg.APIKey, cfg.Model)
	case ProviderTypeGemini:
		return NewGeminiProvider(cfg.BaseURL, cfg.APIKey, cfg.Model)
	case ProviderTypeAnthropic:
		return NewAnthropicProvider(cfg.BaseURL, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}

// MapProviderIDToType converts config provider ID to factory ProviderType.
//
// User-facing provider IDs happen to match the ProviderType constants, so
// unknown IDs pass through as-is and the factory rejects them.
func MapProviderIDToType(id string) ProviderType {
	switch id {
	case "claude-cli":
		return ProviderTypeClaudeCLI
	case "ollama":
		return ProviderTypeOllama
	case "openrouter":
		return ProviderTypeOpenRouter
	case "gemini":
		return ProviderTypeGemini
	case "anthropic":
		return ProviderTypeAnthropic
	default:
		return ProviderType(id)
	}
}
