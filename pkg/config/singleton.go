package config

import (
	"fmt"
	"sync"
)

// The process-wide configuration. Commands load it once with Initialize;
// the Watcher swaps it on reload. Components receive their sections
// explicitly and never read it themselves.
var (
	globalConfig *Config
	configMutex  sync.RWMutex
	initOnce     sync.Once
)

// Initialize loads path with environment overrides and secret resolution
// and installs it as the process configuration. Only the first call loads;
// later calls return nil.
func Initialize(path string) error {
	var initErr error
	initOnce.Do(func() {
		cfg, err := LoadConfigWithEnvOverrides(path)
		if err != nil {
			initErr = err
			return
		}
		SetConfig(cfg)
	})
	return initErr
}

// GetConfig returns the process configuration, or nil before Initialize.
func GetConfig() *Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return globalConfig
}

// SetConfig installs cfg as the process configuration.
func SetConfig(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()
	globalConfig = cfg
}

// ReloadConfig loads path and installs it. On error the active
// configuration is kept.
func ReloadConfig(path string) (*Config, error) {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return nil, fmt.Errorf("failed to reload configuration: %w", err)
	}
	SetConfig(cfg)
	return cfg, nil
}
