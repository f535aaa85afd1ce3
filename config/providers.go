package config

import (
	"os"
	"strings"
)

// ProviderConfig is one [[providers]] entry in the user config.
type ProviderConfig struct {
	ID      string `toml:"id"`
	Name    string `toml:"name,omitempty"`
	Enabled bool   `toml:"enabled"`
	BaseURL string `toml:"base_url,omitempty"`
	Model   string `toml:"model,omitempty"`
	Binary  string `toml:"binary,omitempty"` // subprocess providers only
}

// APIKeyFor returns the API key for a provider, taken from the environment.
// Keys are never stored in config files. The lookup is <PROVIDER>_API_KEY
// with dashes mapped to underscores: "claude-cli" → CLAUDE_CLI_API_KEY.
func APIKeyFor(providerID string) string {
	name := strings.ToUpper(strings.ReplaceAll(providerID, "-", "_")) + "_API_KEY"
	return os.Getenv(name)
}

// ProviderDisplayName returns the display name for a provider id.
func ProviderDisplayName(providerID string) string {
	switch providerID {
	case "claude-cli":
		return "Claude CLI"
	case "ollama":
		return "Ollama"
	case "openrouter":
		return "OpenRouter"
	case "gemini":
		return "Gemini"
	case "anthropic":
		return "Anthropic"
	default:
		return providerID
	}
}

// ProviderDefaultBaseURL returns the default base URL for a provider id.
// Subprocess providers have no URL.
func ProviderDefaultBaseURL(providerID string) string {
	switch providerID {
	case "ollama":
		return "http://localhost:11434"
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	case "gemini":
		return "https://generativelanguage.googleapis.com/v1beta"
	case "anthropic":
		return "https://api.anthropic.com"
	default:
		return ""
	}
}
