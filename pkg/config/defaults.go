package config

import "time"

// Default values for configuration fields.
const (
	// Limits defaults
	DefaultTier            = "free"
	DefaultCostPer1KTokens = 0.002
	DefaultFailurePolicy   = "fail_open"
	DefaultCustomLimitsTTL = 30 * 24 * time.Hour
	DefaultLoadThreshold   = 0.9

	// Scoring defaults
	DefaultAdaptationRate  = 0.1
	DefaultExplorationRate = 0.1
	DefaultMinConfidence   = 0.5
	DefaultExcellentScore  = 80.0
	DefaultAcceptableScore = 60.0
	DefaultMinScore        = 20.0
	DefaultHistorySize     = 1000
	DefaultAdaptEvery      = 50

	// Pool defaults
	DefaultMaxConnections            = 50
	DefaultMaxConnectionsPerProvider = 10
	DefaultConnectTimeout            = 5 * time.Second
	DefaultHealthCheckTimeout        = 3 * time.Second
	DefaultAcquireTimeout            = 30 * time.Second
	DefaultIdleTimeout               = 5 * time.Minute
	DefaultMaintenanceInterval       = 30 * time.Second
	DefaultHealthCheckConcurrency    = 4
	DefaultRetryAttempts             = 3
	DefaultDrainTimeout              = 30 * time.Second
	DefaultBreakerFailures           = 5
	DefaultBreakerOpenTimeout        = 30 * time.Second
	DefaultHealthCheckPath           = "/health"

	// Usage store defaults
	DefaultUsageBackend      = "memory"
	DefaultSweepSchedule     = "*/5 * * * *"
	DefaultSQLitePath        = "data/usage.db"
	DefaultSQLiteBusyTimeout = 5 * time.Second
	DefaultSQLiteDriver      = "sqlite"
	DefaultRedisAddr         = "localhost:6379"
	DefaultRedisKeyPrefix    = "relay:"

	// Events defaults
	DefaultEventBufferSize = 1024

	// Telemetry defaults
	DefaultLoggingLevel      = "info"
	DefaultLoggingFormat     = "json"
	DefaultMetricsEnabled    = true
	DefaultMetricsPath       = "/metrics"
	DefaultMetricsNamespace  = "relay"
	DefaultMetricsSubsystem  = "core"
	DefaultTracingEndpoint   = "localhost:4317"
	DefaultTracingService    = "relay"
	DefaultTracingSampleRate = 1.0
	DefaultTracingTimeout    = 10 * time.Second

	// Admin defaults
	DefaultAdminListenAddress = "127.0.0.1:9090"
	DefaultShutdownTimeout    = 30 * time.Second
)

// NewDefault returns a configuration with every default applied.
func NewDefault() *Config {
	cfg := &Config{}
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	applyLimitsDefaults(&cfg.Limits)
	applyScoringDefaults(&cfg.Scoring)
	applyPoolDefaults(&cfg.Pool)
	applyUsageStoreDefaults(&cfg.UsageStore)

	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = DefaultEventBufferSize
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Metrics.Subsystem == "" {
		cfg.Telemetry.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if len(cfg.Telemetry.Metrics.LatencyBuckets) == 0 {
		// Admission and scoring run in microseconds to milliseconds; acquires
		// may wait seconds in the queue.
		cfg.Telemetry.Metrics.LatencyBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30}
	}
	if cfg.Telemetry.Tracing.Endpoint == "" {
		cfg.Telemetry.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingService
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRate
	}
	if cfg.Telemetry.Tracing.Timeout == 0 {
		cfg.Telemetry.Tracing.Timeout = DefaultTracingTimeout
	}

	// Admin defaults
	if cfg.Admin.ListenAddress == "" {
		cfg.Admin.ListenAddress = DefaultAdminListenAddress
	}
	if cfg.Admin.ShutdownTimeout == 0 {
		cfg.Admin.ShutdownTimeout = DefaultShutdownTimeout
	}
}

func applyLimitsDefaults(cfg *LimitsConfig) {
	if cfg.DefaultTier == "" {
		cfg.DefaultTier = DefaultTier
	}
	if cfg.CostPer1KTokens == 0 {
		cfg.CostPer1KTokens = DefaultCostPer1KTokens
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = DefaultFailurePolicy
	}
	if cfg.CustomLimitsTTL == 0 {
		cfg.CustomLimitsTTL = DefaultCustomLimitsTTL
	}
	if cfg.LoadShedding.Threshold == 0 {
		cfg.LoadShedding.Threshold = DefaultLoadThreshold
	}
	if len(cfg.LoadShedding.Tiers) == 0 {
		cfg.LoadShedding.Tiers = []string{"free"}
	}
}

func applyScoringDefaults(cfg *ScoringConfig) {
	if cfg.AdaptationRate == 0 {
		cfg.AdaptationRate = DefaultAdaptationRate
	}
	if cfg.ExplorationRate == 0 {
		cfg.ExplorationRate = DefaultExplorationRate
	}
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	if cfg.ExcellentScore == 0 {
		cfg.ExcellentScore = DefaultExcellentScore
	}
	if cfg.AcceptableScore == 0 {
		cfg.AcceptableScore = DefaultAcceptableScore
	}
	if cfg.MinScore == 0 {
		cfg.MinScore = DefaultMinScore
	}
	if cfg.HistorySize == 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.AdaptEvery == 0 {
		cfg.AdaptEvery = DefaultAdaptEvery
	}
}

func applyPoolDefaults(cfg *PoolConfig) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.MaxConnectionsPerProvider == 0 {
		cfg.MaxConnectionsPerProvider = DefaultMaxConnectionsPerProvider
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.HealthCheckTimeout == 0 {
		cfg.HealthCheckTimeout = DefaultHealthCheckTimeout
	}
	if cfg.HealthCheckOnConnect == nil {
		enabled := true
		cfg.HealthCheckOnConnect = &enabled
	}
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.MaintenanceInterval == 0 {
		cfg.MaintenanceInterval = DefaultMaintenanceInterval
	}
	if cfg.HealthCheckConcurrency == 0 {
		cfg.HealthCheckConcurrency = DefaultHealthCheckConcurrency
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.Breaker.ConsecutiveFailures == 0 {
		cfg.Breaker.ConsecutiveFailures = DefaultBreakerFailures
	}
	if cfg.Breaker.OpenTimeout == 0 {
		cfg.Breaker.OpenTimeout = DefaultBreakerOpenTimeout
	}

	// Provider defaults - applied to each provider
	for i := range cfg.Providers {
		if cfg.Providers[i].MaxConnections == 0 {
			cfg.Providers[i].MaxConnections = cfg.MaxConnectionsPerProvider
		}
		if cfg.Providers[i].HealthCheckPath == "" {
			cfg.Providers[i].HealthCheckPath = DefaultHealthCheckPath
		}
	}
}

func applyUsageStoreDefaults(cfg *UsageStoreConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultUsageBackend
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = DefaultSweepSchedule
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = DefaultSQLitePath
	}
	if cfg.SQLite.BusyTimeout == 0 {
		cfg.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.SQLite.Driver == "" {
		cfg.SQLite.Driver = DefaultSQLiteDriver
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
}
