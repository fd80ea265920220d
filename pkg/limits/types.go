package limits

import (
	"errors"
	"fmt"
	"time"
)

// Reason identifies which check denied a request.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonMinute     Reason = "minute"
	ReasonHour       Reason = "hour"
	ReasonDay        Reason = "day"
	ReasonTokens     Reason = "tokens"
	ReasonConcurrent Reason = "concurrent"
	ReasonBudget     Reason = "budget"
	ReasonEndpoint   Reason = "endpoint"
	ReasonLoad       Reason = "load"
)

// Unlimited is reported as remaining quota for caps that are disabled (zero).
const Unlimited int64 = -1

// UserLimitConfig is the resolved policy for one user. A zero cap disables
// that check.
type UserLimitConfig struct {
	UserID string `json:"user_id"`
	Tier   string `json:"tier"`

	RequestsPerMinute  int64   `json:"requests_per_minute"`
	RequestsPerHour    int64   `json:"requests_per_hour"`
	RequestsPerDay     int64   `json:"requests_per_day"`
	TokensPerRequest   int64   `json:"tokens_per_request"`
	TokensPerDay       int64   `json:"tokens_per_day"`
	ConcurrentRequests int64   `json:"concurrent_requests"`
	MaxContextLength   int64   `json:"max_context_length"`
	MonthlyBudget      float64 `json:"monthly_budget"`

	EndpointLimits map[string]EndpointLimit `json:"endpoint_limits,omitempty"`
	OverrideRules  []OverrideRule           `json:"override_rules,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (c *UserLimitConfig) Clone() *UserLimitConfig {
	if c == nil {
		return nil
	}
	out := *c
	if c.EndpointLimits != nil {
		out.EndpointLimits = make(map[string]EndpointLimit, len(c.EndpointLimits))
		for k, v := range c.EndpointLimits {
			out.EndpointLimits[k] = v
		}
	}
	if c.OverrideRules != nil {
		out.OverrideRules = append([]OverrideRule(nil), c.OverrideRules...)
	}
	return &out
}

// EndpointLimit caps requests to one endpoint.
type EndpointLimit struct {
	RequestsPerMinute int64 `json:"requests_per_minute"`
}

// OverrideRule records a temporary boost.
type OverrideRule struct {
	Multiplier float64   `json:"multiplier"`
	ValidUntil time.Time `json:"valid_until"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// LimitPatch carries the fields SetUserLimits should change. Nil fields are
// left as they are. EndpointLimits entries are merged; a zero entry removes
// the endpoint cap.
type LimitPatch struct {
	Tier               *string
	RequestsPerMinute  *int64
	RequestsPerHour    *int64
	RequestsPerDay     *int64
	TokensPerRequest   *int64
	TokensPerDay       *int64
	ConcurrentRequests *int64
	MaxContextLength   *int64
	MonthlyBudget      *float64
	EndpointLimits     map[string]EndpointLimit
}

// Remaining is the quota left after a check.
type Remaining struct {
	RequestsThisMinute int64   `json:"requests_this_minute"`
	RequestsThisHour   int64   `json:"requests_this_hour"`
	RequestsToday      int64   `json:"requests_today"`
	TokensToday        int64   `json:"tokens_today"`
	ConcurrentRequests int64   `json:"concurrent_requests"`
	BudgetThisMonth    float64 `json:"budget_this_month"`
}

// Resets holds the next boundary of every window.
type Resets struct {
	Minute time.Time `json:"minute"`
	Hour   time.Time `json:"hour"`
	Day    time.Time `json:"day"`
	Month  time.Time `json:"month"`
}

// Result is the verdict of one check.
type Result struct {
	Allowed           bool          `json:"allowed"`
	Reason            Reason        `json:"reason,omitempty"`
	Message           string        `json:"message,omitempty"`
	WaitTime          time.Duration `json:"wait_time"`
	Remaining         Remaining     `json:"remaining"`
	Resets            Resets        `json:"resets"`
	RecommendedAction string        `json:"recommended_action,omitempty"`
	Tier              string        `json:"tier"`

	// Degraded is set when the usage store failed and the request was
	// admitted under FailOpen.
	Degraded bool `json:"degraded,omitempty"`
}

// Err returns nil for an allowed result and a *LimitExceededError otherwise.
func (r *Result) Err() error {
	if r == nil || r.Allowed {
		return nil
	}
	return &LimitExceededError{Reason: r.Reason, WaitTime: r.WaitTime, Message: r.Message}
}

// Utilization holds usage as a percentage (0-100) of each cap.
type Utilization struct {
	Minute     float64 `json:"minute"`
	Hour       float64 `json:"hour"`
	Day        float64 `json:"day"`
	Tokens     float64 `json:"tokens"`
	Concurrent float64 `json:"concurrent"`
	Budget     float64 `json:"budget"`
}

// UsageStats joins current counters with the user's limits.
type UsageStats struct {
	RequestsThisMinute int64       `json:"requests_this_minute"`
	RequestsThisHour   int64       `json:"requests_this_hour"`
	RequestsToday      int64       `json:"requests_today"`
	TokensToday        int64       `json:"tokens_today"`
	CostToday          float64     `json:"cost_today"`
	RequestsThisMonth  int64       `json:"requests_this_month"`
	TokensThisMonth    int64       `json:"tokens_this_month"`
	CostThisMonth      float64     `json:"cost_this_month"`
	ConcurrentRequests int64       `json:"concurrent_requests"`
	Utilization        Utilization `json:"utilization"`
}

// Summary is the read-only view returned by GetUserLimitSummary.
type Summary struct {
	UserID       string           `json:"user_id"`
	Limits       *UserLimitConfig `json:"limits"`
	Usage        UsageStats       `json:"usage"`
	Resets       Resets           `json:"resets"`
	ActiveBoosts []OverrideRule   `json:"active_boosts,omitempty"`
}

// DeniedEvent is published on events.TopicLimitDenied.
type DeniedEvent struct {
	UserID   string
	Tier     string
	Reason   Reason
	WaitTime time.Duration
	Endpoint string
}

// UpdatedEvent is published on events.TopicLimitsUpdated.
type UpdatedEvent struct {
	UserID string
	Limits *UserLimitConfig
	Cause  string
}

// Error types for limit violations and system errors.
var (
	// ErrLimitExceeded is matched by every *LimitExceededError.
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrInvalidUser is returned for empty or malformed user ids.
	ErrInvalidUser = errors.New("invalid user id")

	// ErrUnknownTier is returned when a tier is not in the tier table.
	ErrUnknownTier = errors.New("unknown tier")

	// ErrInvalidEndpoint is returned for an endpoint name that cannot be
	// used in a usage key.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidBoost is returned for a multiplier not above 1 or a
	// non-positive duration.
	ErrInvalidBoost = errors.New("invalid boost")

	// ErrStorageUnavailable wraps usage store failures under FailClosed and
	// in management operations.
	ErrStorageUnavailable = errors.New("usage store unavailable")
)

// LimitExceededError describes a denied check.
type LimitExceededError struct {
	Reason   Reason
	WaitTime time.Duration
	Message  string
}

func (e *LimitExceededError) Error() string {
	if e.WaitTime > 0 {
		return fmt.Sprintf("limit exceeded (%s): %s; retry in %s", e.Reason, e.Message, e.WaitTime.Round(time.Millisecond))
	}
	return fmt.Sprintf("limit exceeded (%s): %s", e.Reason, e.Message)
}

// Is reports ErrLimitExceeded.
func (e *LimitExceededError) Is(target error) bool {
	return target == ErrLimitExceeded
}
