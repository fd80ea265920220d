package config

import "time"

// ConfigBuilder provides a fluent API for building Config instances in tests.
// It starts with default values and allows selective overrides.
type ConfigBuilder struct {
	cfg Config
}

// NewTestConfig creates a new ConfigBuilder with one provider and one agent.
// The resulting configuration is valid and can be used immediately.
func NewTestConfig() *ConfigBuilder {
	cfg := NewDefault()
	cfg.Pool.Providers = []PoolProviderConfig{{
		ID:              "openai",
		BaseURL:         "https://api.openai.com",
		MaxConnections:  DefaultMaxConnectionsPerProvider,
		HealthCheckPath: DefaultHealthCheckPath,
	}}
	cfg.Agents = []AgentConfig{{
		ID:              "gpt-fast",
		Provider:        "openai",
		CostPer1KTokens: 0.002,
		ModelComplexity: "low",
		Reliability:     0.99,
		QualityScore:    0.8,
		CapabilityLevel: 0.7,
		AvgResponseTime: 800 * time.Millisecond,
	}}
	return &ConfigBuilder{cfg: *cfg}
}

// MinimalConfig returns the smallest valid configuration.
func MinimalConfig() *Config {
	return NewDefault()
}

// Build returns the built Config instance.
func (b *ConfigBuilder) Build() *Config {
	return &b.cfg
}

// WithBackend sets the usage store backend.
func (b *ConfigBuilder) WithBackend(backend string) *ConfigBuilder {
	b.cfg.UsageStore.Backend = backend
	return b
}

// WithProvider appends a provider.
func (b *ConfigBuilder) WithProvider(p PoolProviderConfig) *ConfigBuilder {
	b.cfg.Pool.Providers = append(b.cfg.Pool.Providers, p)
	return b
}

// WithFailurePolicy sets the limits failure policy.
func (b *ConfigBuilder) WithFailurePolicy(policy string) *ConfigBuilder {
	b.cfg.Limits.FailurePolicy = policy
	return b
}

// WithLogLevel sets the logging level.
func (b *ConfigBuilder) WithLogLevel(level string) *ConfigBuilder {
	b.cfg.Telemetry.Logging.Level = level
	return b
}
