package limits

import (
	"sort"

	"mercator-hq/relay/pkg/config"
)

// TierDefaults holds the numeric caps of one tier.
type TierDefaults struct {
	RequestsPerMinute  int64
	RequestsPerHour    int64
	RequestsPerDay     int64
	TokensPerRequest   int64
	TokensPerDay       int64
	ConcurrentRequests int64
	MaxContextLength   int64
	MonthlyBudget      float64
}

// TierTable maps tier names to their defaults.
type TierTable map[string]TierDefaults

// DefaultTiers returns the built-in tier table.
func DefaultTiers() TierTable {
	return TierTable{
		"free": {
			RequestsPerMinute:  10,
			RequestsPerHour:    100,
			RequestsPerDay:     1000,
			TokensPerRequest:   4000,
			TokensPerDay:       50_000,
			ConcurrentRequests: 2,
			MaxContextLength:   4096,
			MonthlyBudget:      5,
		},
		"basic": {
			RequestsPerMinute:  30,
			RequestsPerHour:    500,
			RequestsPerDay:     5000,
			TokensPerRequest:   8000,
			TokensPerDay:       200_000,
			ConcurrentRequests: 5,
			MaxContextLength:   8192,
			MonthlyBudget:      25,
		},
		"premium": {
			RequestsPerMinute:  100,
			RequestsPerHour:    2000,
			RequestsPerDay:     20_000,
			TokensPerRequest:   32_000,
			TokensPerDay:       1_000_000,
			ConcurrentRequests: 10,
			MaxContextLength:   32_768,
			MonthlyBudget:      100,
		},
		"enterprise": {
			RequestsPerMinute:  1000,
			RequestsPerHour:    20_000,
			RequestsPerDay:     200_000,
			TokensPerRequest:   128_000,
			TokensPerDay:       10_000_000,
			ConcurrentRequests: 50,
			MaxContextLength:   131_072,
			MonthlyBudget:      1000,
		},
	}
}

// TiersFromConfig overlays configured tiers on the built-in table. Non-zero
// fields of a configured tier replace the built-in value; unknown names add
// new tiers.
func TiersFromConfig(overrides map[string]config.TierConfig) TierTable {
	table := DefaultTiers()
	for name, o := range overrides {
		t := table[name]
		overrideInt(&t.RequestsPerMinute, o.RequestsPerMinute)
		overrideInt(&t.RequestsPerHour, o.RequestsPerHour)
		overrideInt(&t.RequestsPerDay, o.RequestsPerDay)
		overrideInt(&t.TokensPerRequest, o.TokensPerRequest)
		overrideInt(&t.TokensPerDay, o.TokensPerDay)
		overrideInt(&t.ConcurrentRequests, o.ConcurrentRequests)
		overrideInt(&t.MaxContextLength, o.MaxContextLength)
		if o.MonthlyBudget != 0 {
			t.MonthlyBudget = o.MonthlyBudget
		}
		table[name] = t
	}
	return table
}

func overrideInt(dst *int64, v int64) {
	if v != 0 {
		*dst = v
	}
}

// Names returns the tier names in sorted order.
func (t TierTable) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config builds a UserLimitConfig for userID from the named tier.
func (t TierTable) Config(userID, tier string) (*UserLimitConfig, bool) {
	d, ok := t[tier]
	if !ok {
		return nil, false
	}
	cfg := &UserLimitConfig{UserID: userID, Tier: tier}
	applyTier(cfg, d)
	return cfg, true
}

func applyTier(cfg *UserLimitConfig, d TierDefaults) {
	cfg.RequestsPerMinute = d.RequestsPerMinute
	cfg.RequestsPerHour = d.RequestsPerHour
	cfg.RequestsPerDay = d.RequestsPerDay
	cfg.TokensPerRequest = d.TokensPerRequest
	cfg.TokensPerDay = d.TokensPerDay
	cfg.ConcurrentRequests = d.ConcurrentRequests
	cfg.MaxContextLength = d.MaxContextLength
	cfg.MonthlyBudget = d.MonthlyBudget
}
