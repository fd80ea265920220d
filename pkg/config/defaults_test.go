package config

import (
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	tests := []struct {
		name  string
		input Config
		check func(*testing.T, *Config)
	}{
		{
			name:  "empty config gets all defaults",
			input: Config{},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Limits.DefaultTier != DefaultTier {
					t.Errorf("expected default tier %q, got %q", DefaultTier, cfg.Limits.DefaultTier)
				}
				if cfg.Limits.CostPer1KTokens != DefaultCostPer1KTokens {
					t.Errorf("expected cost %v, got %v", DefaultCostPer1KTokens, cfg.Limits.CostPer1KTokens)
				}
				if cfg.Limits.FailurePolicy != DefaultFailurePolicy {
					t.Errorf("expected failure policy %q, got %q", DefaultFailurePolicy, cfg.Limits.FailurePolicy)
				}
				if cfg.Scoring.ExplorationRate != DefaultExplorationRate {
					t.Errorf("expected exploration rate %v, got %v", DefaultExplorationRate, cfg.Scoring.ExplorationRate)
				}
				if cfg.Scoring.HistorySize != DefaultHistorySize {
					t.Errorf("expected history size %d, got %d", DefaultHistorySize, cfg.Scoring.HistorySize)
				}
				if cfg.Pool.MaxConnections != DefaultMaxConnections {
					t.Errorf("expected max connections %d, got %d", DefaultMaxConnections, cfg.Pool.MaxConnections)
				}
				if cfg.Pool.HealthCheckOnConnect == nil || !*cfg.Pool.HealthCheckOnConnect {
					t.Error("expected health check on connect to default to true")
				}
				if cfg.UsageStore.Backend != DefaultUsageBackend {
					t.Errorf("expected backend %q, got %q", DefaultUsageBackend, cfg.UsageStore.Backend)
				}
				if cfg.Telemetry.Logging.Level != DefaultLoggingLevel {
					t.Errorf("expected logging level %q, got %q", DefaultLoggingLevel, cfg.Telemetry.Logging.Level)
				}
				if cfg.Admin.ListenAddress != DefaultAdminListenAddress {
					t.Errorf("expected admin address %q, got %q", DefaultAdminListenAddress, cfg.Admin.ListenAddress)
				}
			},
		},
		{
			name: "existing values are preserved",
			input: Config{
				Limits: LimitsConfig{DefaultTier: "premium", FailurePolicy: "fail_closed"},
				Pool:   PoolConfig{MaxConnections: 7, AcquireTimeout: time.Second},
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Limits.DefaultTier != "premium" {
					t.Errorf("expected tier premium, got %q", cfg.Limits.DefaultTier)
				}
				if cfg.Limits.FailurePolicy != "fail_closed" {
					t.Errorf("expected fail_closed, got %q", cfg.Limits.FailurePolicy)
				}
				if cfg.Pool.MaxConnections != 7 {
					t.Errorf("expected max connections 7, got %d", cfg.Pool.MaxConnections)
				}
				if cfg.Pool.AcquireTimeout != time.Second {
					t.Errorf("expected acquire timeout 1s, got %v", cfg.Pool.AcquireTimeout)
				}
			},
		},
		{
			name: "provider defaults inherit pool settings",
			input: Config{
				Pool: PoolConfig{
					MaxConnectionsPerProvider: 3,
					Providers:                 []PoolProviderConfig{{ID: "a", BaseURL: "http://a"}},
				},
			},
			check: func(t *testing.T, cfg *Config) {
				p := cfg.Pool.Providers[0]
				if p.MaxConnections != 3 {
					t.Errorf("expected provider max connections 3, got %d", p.MaxConnections)
				}
				if p.HealthCheckPath != DefaultHealthCheckPath {
					t.Errorf("expected health check path %q, got %q", DefaultHealthCheckPath, p.HealthCheckPath)
				}
				if !p.IsEnabled() {
					t.Error("expected provider to be enabled by default")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.input
			ApplyDefaults(&cfg)
			tt.check(t, &cfg)
		})
	}
}

func TestApplyDefaults_Idempotent(t *testing.T) {
	cfg := Config{}
	ApplyDefaults(&cfg)
	first := cfg.Pool
	ApplyDefaults(&cfg)

	if cfg.Pool.MaxConnections != first.MaxConnections || cfg.Pool.DrainTimeout != first.DrainTimeout {
		t.Error("expected ApplyDefaults to be idempotent")
	}
}
