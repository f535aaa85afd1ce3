package config

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDirectory: "~/.local/share/switchboard",
	}
}

func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		DefaultProvider: "ollama",
		Providers: []ProviderConfig{
			{
				ID:      "claude-cli",
				Name:    ProviderDisplayName("claude-cli"),
				Enabled: true,
				Binary:  "claude",
			},
			{
				ID:      "ollama",
				Name:    ProviderDisplayName("ollama"),
				Enabled: true,
				BaseURL: ProviderDefaultBaseURL("ollama"),
				Model:   "llama3.1:latest",
			},
			{
				ID:      "openrouter",
				Name:    ProviderDisplayName("openrouter"),
				Enabled: false,
				BaseURL: ProviderDefaultBaseURL("openrouter"),
			},
			{
				ID:      "gemini",
				Name:    ProviderDisplayName("gemini"),
				Enabled: false,
				BaseURL: ProviderDefaultBaseURL("gemini"),
			},
			{
				ID:      "anthropic",
				Name:    ProviderDisplayName("anthropic"),
				Enabled: false,
				BaseURL: ProviderDefaultBaseURL("anthropic"),
			},
		},
	}
}

func GenerateSystemConfigTemplate() string {
	return `# Switchboard System Configuration
# Location: ~/.config/switchboard/settings.toml
# This file uses TOML format: https://toml.io

# Directory where user config and logs are stored
data_directory = "~/.local/share/switchboard"
`
}

func GenerateUserConfigTemplate() string {
	return `# Switchboard User Configuration
# Location: <data_directory>/config.toml
# This file uses TOML format: https://toml.io

# Provider used when none is named on the command line
default_provider = "ollama"

# Default system prompt for new conversations (optional)
# Example: "You are a helpful coding assistant."
default_system_prompt = ""

# API keys are NOT stored here. Set them in the environment:
#   OPENROUTER_API_KEY, GEMINI_API_KEY, ANTHROPIC_API_KEY

[[providers]]
id = "claude-cli"
name = "Claude CLI"
enabled = true
binary = "claude"

[[providers]]
id = "ollama"
name = "Ollama"
enabled = true
base_url = "http://localhost:11434"
model = "llama3.1:latest"

[[providers]]
id = "openrouter"
name = "OpenRouter"
enabled = false
base_url = "https://openrouter.ai/api/v1"

[[providers]]
id = "gemini"
name = "Gemini"
enabled = false
base_url = "https://generativelanguage.googleapis.com/v1beta"

[[providers]]
id = "anthropic"
name = "Anthropic"
enabled = false
base_url = "https://api.anthropic.com"
`
}
