package config

import (
	"fmt"
	"sync/atomic"
)

// current is the process-wide configuration. Commands set it once after
// loading; the watcher swaps it on reload.
var current atomic.Pointer[Config]

// GetConfig returns the active configuration, nil before SetConfig.
func GetConfig() *Config {
	return current.Load()
}

// SetConfig makes cfg the active configuration.
func SetConfig(cfg *Config) {
	current.Store(cfg)
}

// ReloadConfig loads path and makes it the active configuration. On error
// the previous configuration stays active.
func ReloadConfig(path string) (*Config, error) {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return nil, fmt.Errorf("failed to reload configuration: %w", err)
	}
	SetConfig(cfg)
	return cfg, nil
}
