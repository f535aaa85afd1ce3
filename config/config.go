package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
)

type SystemConfig struct {
	DataDirectory string `toml:"data_directory"`
}

type UserConfig struct {
	DefaultProvider     string           `toml:"default_provider"`
	DefaultSystemPrompt string           `toml:"default_system_prompt,omitempty"`
	Providers           []ProviderConfig `toml:"providers"`
}

type Config struct {
	DataDirectory       string
	DefaultProvider     string
	DefaultSystemPrompt string
	Providers           []ProviderConfig
}

var Debug = false
var DebugLog *log.Logger

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

// Provider returns the configuration for the given provider id, or nil when
// the id is not configured.
func (c *Config) Provider(id string) *ProviderConfig {
	for i := range c.Providers {
		if c.Providers[i].ID == id {
			return &c.Providers[i]
		}
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if dataDir := os.Getenv("SWITCHBOARD_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
	if provider := os.Getenv("SWITCHBOARD_PROVIDER"); provider != "" {
		c.DefaultProvider = provider
	}
	if model := os.Getenv("SWITCHBOARD_MODEL"); model != "" {
		if p := c.Provider(c.DefaultProvider); p != nil {
			p.Model = model
		}
	}
}

func CheckDebug() bool {
	debug := os.Getenv("SWITCHBOARD_DEBUG")
	return debug == "true" || debug == "1"
}

func InitDebugLog(dataDir string) {
	if !CheckDebug() {
		return
	}

	Debug = true
	logPath := filepath.Join(dataDir, "debug.log")

	// 0600: debug output can include request payloads
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		return
	}

	DebugLog = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	DebugLog.Printf("=== Debug logging started (SWITCHBOARD_DEBUG=%s) ===", os.Getenv("SWITCHBOARD_DEBUG"))
	DebugLog.Printf("Log path: %s", logPath)
}

func Load() (*Config, error) {
	systemCfg, err := LoadSystemConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load system config: %w", err)
	}

	cfg := &Config{
		DataDirectory: systemCfg.DataDirectory,
	}

	dataDir := cfg.DataDir()
	userCfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	cfg.DefaultProvider = userCfg.DefaultProvider
	cfg.DefaultSystemPrompt = userCfg.DefaultSystemPrompt
	cfg.Providers = userCfg.Providers

	cfg.applyEnvOverrides()

	dataDir = cfg.DataDir()
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return cfg, nil
}
