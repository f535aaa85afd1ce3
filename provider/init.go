package provider

import (
	"switchboard/config"
	"switchboard/protocol"
)

// InitializeProviders creates provider instances for every enabled entry in
// the configuration.
//
// It handles:
//   - Mapping provider IDs to provider types
//   - Loading API keys from the environment
//   - Graceful degradation (a provider that fails to construct is skipped
//     with a debug log line, the rest still come up)
//
// The provider package owns the complete provider lifecycle, so all
// initialization logic lives here, not in config or the CLI.
//
// Returns a map of provider ID to provider instance. Availability is NOT
// probed here; callers use Provider.IsAvailable when they need liveness.
func InitializeProviders(cfg *config.Config) map[string]protocol.Provider {
	providers := make(map[string]protocol.Provider)

	for _, providerCfg := range cfg.Providers {
		if !providerCfg.Enabled {
			continue
		}

		providerType := MapProviderIDToType(providerCfg.ID)

		p, err := NewProvider(Config{
			Type:    providerType,
			BaseURL: providerCfg.BaseURL,
			APIKey:  config.APIKeyFor(providerCfg.ID),
			Model:   providerCfg.Model,
			Binary:  providerCfg.Binary,
		})
		if err != nil {
			// Log and move on so one bad entry doesn't take the rest down.
			if config.Debug {
				config.DebugLog.Printf("[Provider] Warning: failed to initialize provider %s: %v", providerCfg.ID, err)
			}
			continue
		}

		providers[providerCfg.ID] = p
		if config.Debug {
			config.DebugLog.Printf("[Provider] Initialized provider: %s (type: %s)", providerCfg.ID, providerType)
		}
	}

	return providers
}
