package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML configuration and applies defaults without validating.
func Parse(data []byte) (*Config, error) {
	// Fields yaml leaves untouched keep these pre-set values.
	cfg := Config{}
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention RELAY_SECTION_FIELD (e.g., RELAY_POOL_MAX_CONNECTIONS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Resolve ${secret:...} and ${file:...} references
// 5. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := ResolveSecrets(cfg); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables use the format RELAY_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	// Limits overrides
	envString("RELAY_LIMITS_DEFAULT_TIER", &cfg.Limits.DefaultTier)
	envFloat("RELAY_LIMITS_COST_PER_1K_TOKENS", &cfg.Limits.CostPer1KTokens)
	envString("RELAY_LIMITS_FAILURE_POLICY", &cfg.Limits.FailurePolicy)
	envBool("RELAY_LIMITS_LOAD_SHEDDING_ENABLED", &cfg.Limits.LoadShedding.Enabled)
	envFloat("RELAY_LIMITS_LOAD_SHEDDING_THRESHOLD", &cfg.Limits.LoadShedding.Threshold)
	if val := os.Getenv("RELAY_LIMITS_LOAD_SHEDDING_TIERS"); val != "" {
		cfg.Limits.LoadShedding.Tiers = splitList(val)
	}

	// Scoring overrides
	envFloat("RELAY_SCORING_ADAPTATION_RATE", &cfg.Scoring.AdaptationRate)
	envFloat("RELAY_SCORING_EXPLORATION_RATE", &cfg.Scoring.ExplorationRate)
	envFloat("RELAY_SCORING_MIN_SCORE", &cfg.Scoring.MinScore)
	if val := os.Getenv("RELAY_SCORING_SEED"); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Scoring.Seed = i
		}
	}

	// Pool overrides
	envInt("RELAY_POOL_MAX_CONNECTIONS", &cfg.Pool.MaxConnections)
	envInt("RELAY_POOL_MIN_CONNECTIONS", &cfg.Pool.MinConnections)
	envDuration("RELAY_POOL_CONNECT_TIMEOUT", &cfg.Pool.ConnectTimeout)
	envDuration("RELAY_POOL_ACQUIRE_TIMEOUT", &cfg.Pool.AcquireTimeout)
	envDuration("RELAY_POOL_IDLE_TIMEOUT", &cfg.Pool.IdleTimeout)
	envDuration("RELAY_POOL_DRAIN_TIMEOUT", &cfg.Pool.DrainTimeout)

	// Usage store overrides
	envString("RELAY_USAGE_STORE_BACKEND", &cfg.UsageStore.Backend)
	envString("RELAY_USAGE_STORE_SQLITE_PATH", &cfg.UsageStore.SQLite.Path)
	envString("RELAY_USAGE_STORE_SQLITE_DRIVER", &cfg.UsageStore.SQLite.Driver)
	envString("RELAY_USAGE_STORE_REDIS_ADDR", &cfg.UsageStore.Redis.Addr)
	envString("RELAY_USAGE_STORE_REDIS_PASSWORD", &cfg.UsageStore.Redis.Password)
	envInt("RELAY_USAGE_STORE_REDIS_DB", &cfg.UsageStore.Redis.DB)

	// Telemetry overrides
	envString("RELAY_TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("RELAY_TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("RELAY_TELEMETRY_LOGGING_REDACT_PII", &cfg.Telemetry.Logging.RedactPII)
	envBool("RELAY_TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("RELAY_TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("RELAY_TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("RELAY_TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envFloat("RELAY_TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)

	// Admin overrides
	envString("RELAY_ADMIN_LISTEN_ADDRESS", &cfg.Admin.ListenAddress)

	// Provider overrides
	for i := range cfg.Pool.Providers {
		applyProviderEnvOverrides(&cfg.Pool.Providers[i])
	}
}

// applyProviderEnvOverrides applies environment variable overrides for a specific provider.
// Provider environment variables follow the format RELAY_PROVIDERS_<ID>_<FIELD>
// where ID is the uppercase provider id with dashes replaced by underscores.
func applyProviderEnvOverrides(p *PoolProviderConfig) {
	id := strings.ToUpper(strings.ReplaceAll(p.ID, "-", "_"))
	prefix := fmt.Sprintf("RELAY_PROVIDERS_%s_", id)

	envString(prefix+"BASE_URL", &p.BaseURL)
	envInt(prefix+"MAX_CONNECTIONS", &p.MaxConnections)
	envInt(prefix+"PRIORITY", &p.Priority)
	if val := os.Getenv(prefix + "ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			p.Enabled = &b
		}
	}
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envFloat(key string, dst *float64) {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
