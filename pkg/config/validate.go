package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "pool.max_connections").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// ScoringFactors lists the factor names accepted in scoring.weights.
var ScoringFactors = []string{
	"performance", "cost", "availability", "quality",
	"context", "user", "temporal", "strategic",
}

// knownTiers are the built-in tier names.
var knownTiers = map[string]bool{"free": true, "basic": true, "premium": true, "enterprise": true}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateLimits(&cfg.Limits)...)
	errs = append(errs, validateScoring(&cfg.Scoring)...)
	errs = append(errs, validatePool(&cfg.Pool)...)
	errs = append(errs, validateUsageStore(&cfg.UsageStore)...)
	errs = append(errs, validateAgents(cfg.Agents)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	for model, ratio := range cfg.Tokens.CharsPerToken {
		if ratio <= 0 {
			errs = append(errs, FieldError{
				Field:   "tokens.chars_per_token." + model,
				Message: "ratio must be positive",
			})
		}
	}

	if cfg.Events.BufferSize < 0 {
		errs = append(errs, FieldError{
			Field:   "events.buffer_size",
			Message: "buffer size must be non-negative",
		})
	}
	if cfg.Admin.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "admin.listen_address",
			Message: "listen address is required",
		})
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateLimits validates limits configuration.
func validateLimits(cfg *LimitsConfig) []FieldError {
	var errs []FieldError

	if _, ok := cfg.Tiers[cfg.DefaultTier]; !knownTiers[cfg.DefaultTier] && !ok {
		errs = append(errs, FieldError{
			Field:   "limits.default_tier",
			Message: fmt.Sprintf("unknown tier %q", cfg.DefaultTier),
		})
	}
	if cfg.CostPer1KTokens < 0 {
		errs = append(errs, FieldError{
			Field:   "limits.cost_per_1k_tokens",
			Message: "cost per 1K tokens must be non-negative",
		})
	}
	if cfg.FailurePolicy != "fail_open" && cfg.FailurePolicy != "fail_closed" {
		errs = append(errs, FieldError{
			Field:   "limits.failure_policy",
			Message: fmt.Sprintf("invalid failure policy %q: must be 'fail_open' or 'fail_closed'", cfg.FailurePolicy),
		})
	}
	if cfg.CustomLimitsTTL < 0 {
		errs = append(errs, FieldError{
			Field:   "limits.custom_limits_ttl",
			Message: "custom limits TTL must be positive",
		})
	}

	for name, tier := range cfg.Tiers {
		prefix := fmt.Sprintf("limits.tiers.%s", name)
		checks := map[string]int64{
			"requests_per_minute": tier.RequestsPerMinute,
			"requests_per_hour":   tier.RequestsPerHour,
			"requests_per_day":    tier.RequestsPerDay,
			"tokens_per_request":  tier.TokensPerRequest,
			"tokens_per_day":      tier.TokensPerDay,
			"concurrent_requests": tier.ConcurrentRequests,
			"max_context_length":  tier.MaxContextLength,
		}
		for field, v := range checks {
			if v < 0 {
				errs = append(errs, FieldError{
					Field:   prefix + "." + field,
					Message: "must be non-negative",
				})
			}
		}
		if tier.MonthlyBudget < 0 {
			errs = append(errs, FieldError{
				Field:   prefix + ".monthly_budget",
				Message: "must be non-negative",
			})
		}
	}

	if cfg.LoadShedding.Threshold <= 0 || cfg.LoadShedding.Threshold > 1 {
		errs = append(errs, FieldError{
			Field:   "limits.load_shedding.threshold",
			Message: "threshold must be in (0.0, 1.0]",
		})
	}

	return errs
}

// validateScoring validates scoring engine configuration.
func validateScoring(cfg *ScoringConfig) []FieldError {
	var errs []FieldError

	valid := make(map[string]bool, len(ScoringFactors))
	for _, f := range ScoringFactors {
		valid[f] = true
	}
	for name, w := range cfg.Weights {
		if !valid[name] {
			errs = append(errs, FieldError{
				Field:   "scoring.weights." + name,
				Message: fmt.Sprintf("unknown factor %q", name),
			})
			continue
		}
		if w < 0 {
			errs = append(errs, FieldError{
				Field:   "scoring.weights." + name,
				Message: "weight must be non-negative",
			})
		}
	}

	if cfg.AdaptationRate < 0 || cfg.AdaptationRate > 1 {
		errs = append(errs, FieldError{
			Field:   "scoring.adaptation_rate",
			Message: "adaptation rate must be between 0.0 and 1.0",
		})
	}
	if cfg.ExplorationRate < 0 || cfg.ExplorationRate > 1 {
		errs = append(errs, FieldError{
			Field:   "scoring.exploration_rate",
			Message: "exploration rate must be between 0.0 and 1.0",
		})
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		errs = append(errs, FieldError{
			Field:   "scoring.min_confidence",
			Message: "min confidence must be between 0.0 and 1.0",
		})
	}
	if cfg.AcceptableScore > cfg.ExcellentScore {
		errs = append(errs, FieldError{
			Field:   "scoring.acceptable_score",
			Message: "acceptable score must not exceed excellent score",
		})
	}
	if cfg.MinScore < 0 || cfg.MinScore > 100 {
		errs = append(errs, FieldError{
			Field:   "scoring.min_score",
			Message: "min score must be between 0 and 100",
		})
	}
	if cfg.HistorySize < 1 {
		errs = append(errs, FieldError{
			Field:   "scoring.history_size",
			Message: "history size must be at least 1",
		})
	}
	if cfg.AdaptEvery < 1 {
		errs = append(errs, FieldError{
			Field:   "scoring.adapt_every",
			Message: "adapt every must be at least 1",
		})
	}

	return errs
}

// validatePool validates connection pool configuration.
func validatePool(cfg *PoolConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxConnections < 1 {
		errs = append(errs, FieldError{
			Field:   "pool.max_connections",
			Message: "max connections must be at least 1",
		})
	}
	if cfg.MinConnections < 0 {
		errs = append(errs, FieldError{
			Field:   "pool.min_connections",
			Message: "min connections must be non-negative",
		})
	}
	if cfg.ConnectTimeout < 0 || cfg.AcquireTimeout < 0 || cfg.IdleTimeout < 0 || cfg.DrainTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "pool",
			Message: "timeouts must be positive",
		})
	}
	if cfg.HealthCheckConcurrency < 1 {
		errs = append(errs, FieldError{
			Field:   "pool.health_check_concurrency",
			Message: "health check concurrency must be at least 1",
		})
	}

	seen := make(map[string]bool)
	for i, p := range cfg.Providers {
		prefix := fmt.Sprintf("pool.providers[%d]", i)
		if p.ID == "" {
			errs = append(errs, FieldError{
				Field:   prefix + ".id",
				Message: "provider id is required",
			})
		} else if seen[p.ID] {
			errs = append(errs, FieldError{
				Field:   prefix + ".id",
				Message: fmt.Sprintf("duplicate provider id %q", p.ID),
			})
		}
		seen[p.ID] = true

		if p.BaseURL == "" {
			errs = append(errs, FieldError{
				Field:   prefix + ".base_url",
				Message: "base URL is required",
			})
		} else if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, FieldError{
				Field:   prefix + ".base_url",
				Message: fmt.Sprintf("invalid base URL %q", p.BaseURL),
			})
		}
		if p.MaxConnections < 1 {
			errs = append(errs, FieldError{
				Field:   prefix + ".max_connections",
				Message: "max connections must be at least 1",
			})
		}
		if p.HealthCheckPath != "" && !strings.HasPrefix(p.HealthCheckPath, "/") {
			errs = append(errs, FieldError{
				Field:   prefix + ".health_check_path",
				Message: "health check path must start with /",
			})
		}
	}

	return errs
}

// validateUsageStore validates usage store configuration.
func validateUsageStore(cfg *UsageStoreConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "usage_store.sqlite.path",
				Message: "sqlite path is required",
			})
		}
		if cfg.SQLite.Driver != "sqlite" && cfg.SQLite.Driver != "sqlite3" {
			errs = append(errs, FieldError{
				Field:   "usage_store.sqlite.driver",
				Message: fmt.Sprintf("invalid driver %q: must be 'sqlite' or 'sqlite3'", cfg.SQLite.Driver),
			})
		}
	case "redis":
		if cfg.Redis.Addr == "" {
			errs = append(errs, FieldError{
				Field:   "usage_store.redis.addr",
				Message: "redis address is required",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "usage_store.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory', 'sqlite', or 'redis'", cfg.Backend),
		})
	}

	if _, err := cron.ParseStandard(cfg.SweepSchedule); err != nil {
		errs = append(errs, FieldError{
			Field:   "usage_store.sweep_schedule",
			Message: fmt.Sprintf("invalid cron expression: %v", err),
		})
	}

	return errs
}

// validateAgents validates the agent catalog.
func validateAgents(agents []AgentConfig) []FieldError {
	var errs []FieldError

	seen := make(map[string]bool)
	for i, a := range agents {
		prefix := fmt.Sprintf("agents[%d]", i)
		if a.ID == "" {
			errs = append(errs, FieldError{Field: prefix + ".id", Message: "agent id is required"})
		} else if seen[a.ID] {
			errs = append(errs, FieldError{Field: prefix + ".id", Message: fmt.Sprintf("duplicate agent id %q", a.ID)})
		}
		seen[a.ID] = true

		if a.Provider == "" {
			errs = append(errs, FieldError{Field: prefix + ".provider", Message: "provider is required"})
		}
		if a.CostPer1KTokens < 0 {
			errs = append(errs, FieldError{Field: prefix + ".cost_per_1k_tokens", Message: "must be non-negative"})
		}
		for field, v := range map[string]float64{
			"reliability":      a.Reliability,
			"quality_score":    a.QualityScore,
			"capability_level": a.CapabilityLevel,
		} {
			if v < 0 || v > 1 {
				errs = append(errs, FieldError{Field: prefix + "." + field, Message: "must be between 0.0 and 1.0"})
			}
		}
		switch a.ModelComplexity {
		case "", "low", "medium", "high":
		default:
			errs = append(errs, FieldError{
				Field:   prefix + ".model_complexity",
				Message: fmt.Sprintf("invalid complexity %q: must be 'low', 'medium', or 'high'", a.ModelComplexity),
			})
		}
	}

	return errs
}

// validateTelemetry validates telemetry configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with /",
		})
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	return errs
}
