package config

import "time"

// Config is the root configuration structure for Relay.
// It contains the admission limits, scoring engine, connection pool, usage
// store, event bus, telemetry and admin server sections.
type Config struct {
	// Limits contains per-user admission control settings.
	Limits LimitsConfig `yaml:"limits"`

	// Scoring contains the dynamic scoring engine settings.
	Scoring ScoringConfig `yaml:"scoring"`

	// Pool contains the upstream connection pool settings and providers.
	Pool PoolConfig `yaml:"pool"`

	// UsageStore selects and configures the usage counter backend.
	UsageStore UsageStoreConfig `yaml:"usage_store"`

	// Agents is the catalog of candidate agents offered to the scoring engine.
	Agents []AgentConfig `yaml:"agents"`

	// Tokens configures prompt token estimation.
	Tokens TokensConfig `yaml:"tokens"`

	// Events configures the notification bus.
	Events EventsConfig `yaml:"events"`

	// Telemetry contains logging, metrics and tracing configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Admin configures the operations HTTP server.
	Admin AdminConfig `yaml:"admin"`
}

// LimitsConfig contains admission control configuration.
type LimitsConfig struct {
	// DefaultTier is assigned to users without a persisted custom record.
	// Options: "free", "basic", "premium", "enterprise"
	// Default: "free"
	DefaultTier string `yaml:"default_tier"`

	// CostPer1KTokens is the flat rate used to estimate request cost for the
	// monthly budget check.
	// Default: 0.002
	CostPer1KTokens float64 `yaml:"cost_per_1k_tokens"`

	// FailurePolicy decides what happens when the usage store fails during a
	// check. Options: "fail_open", "fail_closed"
	// Default: "fail_open"
	FailurePolicy string `yaml:"failure_policy"`

	// CustomLimitsTTL is how long persisted custom limit records live.
	// Default: 720h (30 days)
	CustomLimitsTTL time.Duration `yaml:"custom_limits_ttl"`

	// Tiers overrides entries of the built-in tier table.
	Tiers map[string]TierConfig `yaml:"tiers"`

	// LoadShedding configures the dynamic-load adjustment step.
	LoadShedding LoadSheddingConfig `yaml:"load_shedding"`
}

// TierConfig holds the numeric defaults of one tier.
type TierConfig struct {
	RequestsPerMinute  int64   `yaml:"requests_per_minute"`
	RequestsPerHour    int64   `yaml:"requests_per_hour"`
	RequestsPerDay     int64   `yaml:"requests_per_day"`
	TokensPerRequest   int64   `yaml:"tokens_per_request"`
	TokensPerDay       int64   `yaml:"tokens_per_day"`
	ConcurrentRequests int64   `yaml:"concurrent_requests"`
	MaxContextLength   int64   `yaml:"max_context_length"`
	MonthlyBudget      float64 `yaml:"monthly_budget"`
}

// LoadSheddingConfig configures load-based admission.
type LoadSheddingConfig struct {
	// Enabled turns on the threshold load adjuster.
	// Default: false (no-op adjuster)
	Enabled bool `yaml:"enabled"`

	// Threshold is the pool utilization (0.0-1.0) above which the listed
	// tiers are denied.
	// Default: 0.9
	Threshold float64 `yaml:"threshold"`

	// Tiers lists the tiers shed under load.
	// Default: ["free"]
	Tiers []string `yaml:"tiers"`
}

// ScoringConfig contains dynamic scoring engine configuration.
type ScoringConfig struct {
	// Weights maps factor names to their initial weights. Missing factors keep
	// their default; the result is renormalized to sum to 1.
	Weights map[string]float64 `yaml:"weights"`

	// AdaptationRate scales each weight adaptation step.
	// Default: 0.1
	AdaptationRate float64 `yaml:"adaptation_rate"`

	// ExplorationRate is the probability of applying the exploration bonus.
	// Default: 0.1
	ExplorationRate float64 `yaml:"exploration_rate"`

	// MinConfidence flags scores below it as risky.
	// Default: 0.5
	MinConfidence float64 `yaml:"min_confidence"`

	// ExcellentScore and AcceptableScore band the recommendation text.
	// Defaults: 80, 60
	ExcellentScore  float64 `yaml:"excellent_score"`
	AcceptableScore float64 `yaml:"acceptable_score"`

	// MinScore is the lowest normalized score the dispatcher will execute.
	// Default: 20
	MinScore float64 `yaml:"min_score"`

	// HistorySize bounds the in-memory scoring history.
	// Default: 1000
	HistorySize int `yaml:"history_size"`

	// AdaptEvery triggers weight adaptation after this many outcomes.
	// Default: 50
	AdaptEvery int `yaml:"adapt_every"`

	// Seed seeds the exploration random source. Zero uses the current time.
	Seed int64 `yaml:"seed"`
}

// PoolConfig contains connection pool configuration.
type PoolConfig struct {
	// MaxConnections is the global cap on live connections.
	// Default: 50
	MaxConnections int `yaml:"max_connections"`

	// MinConnections is kept open per enabled provider.
	// Default: 0
	MinConnections int `yaml:"min_connections"`

	// MaxConnectionsPerProvider is used for providers that do not set their own.
	// Default: 10
	MaxConnectionsPerProvider int `yaml:"max_connections_per_provider"`

	// ConnectTimeout bounds the connection handshake.
	// Default: 5s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// HealthCheckTimeout bounds a single health check.
	// Default: 3s
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout"`

	// HealthCheckOnConnect runs a health check right after the handshake.
	// Default: true
	HealthCheckOnConnect *bool `yaml:"health_check_on_connect"`

	// AcquireTimeout is used when an acquire does not specify one.
	// Default: 30s
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`

	// IdleTimeout evicts connections idle longer than this.
	// Default: 5m
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// MaintenanceInterval is how often health checks, eviction and top-up run.
	// Default: 30s
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`

	// HealthCheckConcurrency bounds parallel health checks.
	// Default: 4
	HealthCheckConcurrency int `yaml:"health_check_concurrency"`

	// RetryAttempts is how many errors a connection survives before closing.
	// Default: 3
	RetryAttempts int `yaml:"retry_attempts"`

	// DrainTimeout bounds how long Drain waits for active connections.
	// Default: 30s
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	// Breaker configures the per-provider circuit breaker.
	Breaker BreakerConfig `yaml:"breaker"`

	// Providers lists the upstream providers.
	Providers []PoolProviderConfig `yaml:"providers"`
}

// BreakerConfig configures per-provider circuit breakers.
type BreakerConfig struct {
	// ConsecutiveFailures opens the breaker.
	// Default: 5
	ConsecutiveFailures uint32 `yaml:"consecutive_failures"`

	// OpenTimeout is how long the breaker stays open before half-open.
	// Default: 30s
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// PoolProviderConfig describes one upstream provider.
type PoolProviderConfig struct {
	ID              string `yaml:"id"`
	BaseURL         string `yaml:"base_url"`
	MaxConnections  int    `yaml:"max_connections"`
	HealthCheckPath string `yaml:"health_check_path"`
	Priority        int    `yaml:"priority"`
	Enabled         *bool  `yaml:"enabled"`
}

// IsEnabled reports whether the provider is enabled; unset means enabled.
func (p PoolProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// UsageStoreConfig selects the usage counter backend.
type UsageStoreConfig struct {
	// Backend options: "memory", "sqlite", "redis"
	// Default: "memory"
	Backend string `yaml:"backend"`

	// SweepSchedule is the cron expression for expired-key sweeps on the
	// memory and sqlite backends.
	// Default: "*/5 * * * *"
	SweepSchedule string `yaml:"sweep_schedule"`

	SQLite SQLiteStoreConfig `yaml:"sqlite"`
	Redis  RedisStoreConfig  `yaml:"redis"`
}

// SQLiteStoreConfig configures the SQLite usage store.
type SQLiteStoreConfig struct {
	// Path is the database file path.
	// Default: "data/usage.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait on locks.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// Driver selects the database/sql driver: "sqlite" (pure Go) or
	// "sqlite3" (cgo).
	// Default: "sqlite"
	Driver string `yaml:"driver"`
}

// RedisStoreConfig configures the Redis usage store.
type RedisStoreConfig struct {
	// Addr is host:port.
	// Default: "localhost:6379"
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// KeyPrefix namespaces every key.
	// Default: "relay:"
	KeyPrefix string `yaml:"key_prefix"`
}

// AgentConfig describes one candidate agent.
type AgentConfig struct {
	ID              string        `yaml:"id"`
	Provider        string        `yaml:"provider"`
	Model           string        `yaml:"model"`
	Capabilities    []string      `yaml:"capabilities"`
	Specializations []string      `yaml:"specializations"`
	CostPer1KTokens float64       `yaml:"cost_per_1k_tokens"`
	ModelComplexity string        `yaml:"model_complexity"`
	CapabilityLevel float64       `yaml:"capability_level"`
	AvgResponseTime time.Duration `yaml:"avg_response_time"`
	TokensPerSecond float64       `yaml:"tokens_per_second"`
	Reliability     float64       `yaml:"reliability"`
	QualityScore    float64       `yaml:"quality_score"`
}

// TokensConfig configures prompt token estimation for requests that do not
// carry a token count.
type TokensConfig struct {
	// CharsPerToken maps model names or prefixes to characters per token.
	// The "default" entry applies to unmatched models; without it 4.0 is used.
	CharsPerToken map[string]float64 `yaml:"chars_per_token"`
}

// EventsConfig configures the event bus.
type EventsConfig struct {
	// BufferSize is the number of queued events before publishes are dropped.
	// Default: 1024
	BufferSize int `yaml:"buffer_size"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	AddSource bool `yaml:"add_source"`

	// RedactPII masks e-mail addresses and credentials in string values.
	RedactPII bool `yaml:"redact_pii"`
}

// MetricsConfig contains Prometheus configuration.
type MetricsConfig struct {
	// Enabled turns metric recording on.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the scrape path on the admin server.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace and Subsystem prefix every metric name.
	// Defaults: "relay", "core"
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`

	// LatencyBuckets are histogram buckets in seconds.
	LatencyBuckets []float64 `yaml:"latency_buckets"`
}

// TracingConfig contains OpenTelemetry configuration.
type TracingConfig struct {
	// Enabled turns span export on. When false a noop tracer is used.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is reported as service.name.
	// Default: "relay"
	ServiceName string `yaml:"service_name"`

	// SampleRatio is the parent-based trace id ratio (0.0-1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure"`

	// Timeout bounds exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// AdminConfig configures the operations HTTP server.
type AdminConfig struct {
	// ListenAddress is host:port for /metrics, /healthz and /readyz.
	// Default: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}
