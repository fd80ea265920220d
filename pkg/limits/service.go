package limits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"mercator-hq/relay/pkg/clock"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/events"
	"mercator-hq/relay/pkg/usage"
)

// concurrentRetry is the wait time reported for a concurrency denial, which
// has no window boundary.
const concurrentRetry = time.Second

// Options configures a Service.
type Options struct {
	// Store holds counters and custom limit records. Required.
	Store usage.Store

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Tiers defaults to DefaultTiers().
	Tiers TierTable

	// DefaultTier is assigned to users without a custom record. Default "free".
	DefaultTier string

	// CostPer1KTokens estimates request cost for the budget check. Default 0.002.
	CostPer1KTokens float64

	// FailurePolicy defaults to FailOpen.
	FailurePolicy FailurePolicy

	// CustomLimitsTTL is the TTL of persisted custom records. Default 30 days.
	CustomLimitsTTL time.Duration

	// LoadAdjuster defaults to NoopLoadAdjuster.
	LoadAdjuster LoadAdjuster

	Bus      events.Bus
	Recorder Recorder
	Logger   *slog.Logger
}

// OptionsFromConfig maps the limits configuration section onto Options.
// Store, Bus, Recorder and LoadAdjuster are left for the caller.
func OptionsFromConfig(cfg config.LimitsConfig) Options {
	return Options{
		Tiers:           TiersFromConfig(cfg.Tiers),
		DefaultTier:     cfg.DefaultTier,
		CostPer1KTokens: cfg.CostPer1KTokens,
		FailurePolicy:   FailurePolicy(cfg.FailurePolicy),
		CustomLimitsTTL: cfg.CustomLimitsTTL,
	}
}

// Service is the per-user admission gate.
type Service struct {
	store         usage.Store
	clock         clock.Clock
	tiers         TierTable
	defaultTier   string
	costPer1K     float64
	failurePolicy FailurePolicy
	customTTL     time.Duration
	load          LoadAdjuster
	bus           events.Bus
	recorder      Recorder
	logger        *slog.Logger

	locks *keyedMutex

	cacheMu sync.RWMutex
	cache   map[string]*UserLimitConfig
}

// NewService creates a Service.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("limits: usage store is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Tiers == nil {
		opts.Tiers = DefaultTiers()
	}
	if opts.DefaultTier == "" {
		opts.DefaultTier = "free"
	}
	if _, ok := opts.Tiers[opts.DefaultTier]; !ok {
		return nil, fmt.Errorf("%w: default tier %q", ErrUnknownTier, opts.DefaultTier)
	}
	if opts.CostPer1KTokens == 0 {
		opts.CostPer1KTokens = config.DefaultCostPer1KTokens
	}
	switch opts.FailurePolicy {
	case "":
		opts.FailurePolicy = FailOpen
	case FailOpen, FailClosed:
	default:
		return nil, fmt.Errorf("limits: unknown failure policy %q", opts.FailurePolicy)
	}
	if opts.CustomLimitsTTL == 0 {
		opts.CustomLimitsTTL = config.DefaultCustomLimitsTTL
	}
	if opts.LoadAdjuster == nil {
		opts.LoadAdjuster = NoopLoadAdjuster{}
	}
	if opts.Bus == nil {
		opts.Bus = events.Nop{}
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Service{
		store:         opts.Store,
		clock:         opts.Clock,
		tiers:         opts.Tiers,
		defaultTier:   opts.DefaultTier,
		costPer1K:     opts.CostPer1KTokens,
		failurePolicy: opts.FailurePolicy,
		customTTL:     opts.CustomLimitsTTL,
		load:          opts.LoadAdjuster,
		bus:           opts.Bus,
		recorder:      opts.Recorder,
		logger:        opts.Logger.With("component", "limits"),
		locks:         newKeyedMutex(),
		cache:         make(map[string]*UserLimitConfig),
	}, nil
}

// Tiers returns the tier table in use.
func (s *Service) Tiers() TierTable {
	return s.tiers
}

// CheckUserLimits decides whether userID may send a request of requestTokens
// tokens, optionally to endpoint. An admitted request is recorded before
// returning. A denial is a Result with Allowed=false, not an error.
func (s *Service) CheckUserLimits(ctx context.Context, userID string, requestTokens int64, endpoint string) (*Result, error) {
	start := time.Now()

	if !validID(userID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUser, userID)
	}
	if requestTokens < 0 {
		return nil, fmt.Errorf("limits: request tokens must be non-negative, got %d", requestTokens)
	}
	if endpoint != "" && !validID(endpoint) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	now := s.clock.Now().UTC()
	resets := resetsAt(now)

	limits, err := s.resolveLocked(ctx, userID, now)
	if err != nil {
		return s.storageFailure(userID, now, err)
	}

	keys := keysFor(userID, endpoint, now)
	c, err := s.readCounters(ctx, keys)
	if err != nil {
		return s.storageFailure(userID, now, err)
	}

	cost := s.estimateCost(requestTokens)
	if res := s.evaluate(ctx, limits, c, requestTokens, cost, endpoint, now, resets); res != nil {
		s.recorder.RecordLimitDecision(limits.Tier, string(res.Reason), false, time.Since(start))
		s.bus.Publish(events.TopicLimitDenied, DeniedEvent{
			UserID:   userID,
			Tier:     limits.Tier,
			Reason:   res.Reason,
			WaitTime: res.WaitTime,
			Endpoint: endpoint,
		})
		s.logger.Debug("request denied",
			"user", userID,
			"tier", limits.Tier,
			"reason", res.Reason,
			"wait", res.WaitTime,
		)
		return res, nil
	}

	if err := s.record(ctx, keys, requestTokens, cost); err != nil {
		return s.storageFailure(userID, now, err)
	}

	c.minute++
	c.hour++
	c.dayRequests++
	c.dayTokens += requestTokens
	c.monthCost += cost
	c.concurrent++

	s.recorder.RecordLimitDecision(limits.Tier, string(ReasonNone), true, time.Since(start))
	return &Result{
		Allowed:   true,
		Remaining: remainingFor(limits, c),
		Resets:    resets,
		Tier:      limits.Tier,
	}, nil
}

// evaluate runs the checks in order and returns the first denial, or nil.
func (s *Service) evaluate(ctx context.Context, l *UserLimitConfig, c counters, tokens int64, cost float64, endpoint string, now time.Time, resets Resets) *Result {
	untilMinute := resets.Minute.Sub(now)
	untilHour := resets.Hour.Sub(now)
	untilDay := resets.Day.Sub(now)
	untilMonth := resets.Month.Sub(now)

	switch {
	case capHit(l.RequestsPerMinute, c.minute):
		return deny(l, resets, ReasonMinute, untilMinute,
			fmt.Sprintf("per-minute request limit of %d reached", l.RequestsPerMinute),
			"Wait for the next minute or upgrade your tier for a higher per-minute limit")

	case capHit(l.RequestsPerHour, c.hour):
		return deny(l, resets, ReasonHour, untilHour,
			fmt.Sprintf("per-hour request limit of %d reached", l.RequestsPerHour),
			"Wait for the next hour or upgrade your tier for a higher hourly limit")

	case capHit(l.RequestsPerDay, c.dayRequests):
		return deny(l, resets, ReasonDay, untilDay,
			fmt.Sprintf("daily request limit of %d reached", l.RequestsPerDay),
			"Wait until the daily limit resets at 00:00 UTC or upgrade your tier")

	case l.TokensPerRequest > 0 && tokens > l.TokensPerRequest:
		return deny(l, resets, ReasonTokens, 0,
			fmt.Sprintf("request of %d tokens exceeds the per-request limit of %d", tokens, l.TokensPerRequest),
			fmt.Sprintf("Reduce the request to at most %d tokens", l.TokensPerRequest))

	case l.TokensPerDay > 0 && c.dayTokens+tokens > l.TokensPerDay:
		return deny(l, resets, ReasonTokens, untilDay,
			fmt.Sprintf("daily token limit of %d would be exceeded (%d used, %d requested)", l.TokensPerDay, c.dayTokens, tokens),
			"Send a smaller request, wait until 00:00 UTC or upgrade your tier")

	case capHit(l.ConcurrentRequests, c.concurrent):
		return deny(l, resets, ReasonConcurrent, concurrentRetry,
			fmt.Sprintf("concurrent request limit of %d reached", l.ConcurrentRequests),
			"Wait for an in-flight request to finish before sending another")

	case l.MonthlyBudget > 0 && c.monthCost+cost > l.MonthlyBudget:
		return deny(l, resets, ReasonBudget, untilMonth,
			fmt.Sprintf("monthly budget of $%.2f would be exceeded ($%.4f spent, $%.4f estimated)", l.MonthlyBudget, c.monthCost, cost),
			"Wait for the next billing month or raise the monthly budget")
	}

	if endpoint != "" {
		if el, ok := l.EndpointLimits[endpoint]; ok && capHit(el.RequestsPerMinute, c.endpointMinute) {
			return deny(l, resets, ReasonEndpoint, untilMinute,
				fmt.Sprintf("per-minute limit of %d for endpoint %s reached", el.RequestsPerMinute, endpoint),
				fmt.Sprintf("Slow down requests to %s or use another endpoint", endpoint))
		}
	}

	d := s.load.Evaluate(ctx, LoadInput{
		UserID:        l.UserID,
		Tier:          l.Tier,
		RequestTokens: tokens,
		Endpoint:      endpoint,
	})
	if !d.Allowed {
		msg := d.Message
		if msg == "" {
			msg = fmt.Sprintf("rejected by %s load adjuster", s.load.Name())
		}
		return deny(l, resets, ReasonLoad, d.WaitTime, msg,
			"The system is under heavy load; retry shortly")
	}

	return nil
}

func capHit(limit, used int64) bool {
	return limit > 0 && used >= limit
}

func deny(l *UserLimitConfig, resets Resets, reason Reason, wait time.Duration, msg, action string) *Result {
	if wait < 0 {
		wait = 0
	}
	return &Result{
		Allowed:           false,
		Reason:            reason,
		Message:           msg,
		WaitTime:          wait,
		Resets:            resets,
		RecommendedAction: action,
		Tier:              l.Tier,
	}
}

func (s *Service) estimateCost(tokens int64) float64 {
	return float64(tokens) / 1000 * s.costPer1K
}

// storageFailure applies the failure policy to a usage store error.
func (s *Service) storageFailure(userID string, now time.Time, err error) (*Result, error) {
	if s.failurePolicy == FailClosed {
		s.logger.Error("usage store failed, rejecting check", "user", userID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	tier := "free"
	if _, ok := s.tiers[tier]; !ok {
		tier = s.defaultTier
	}
	snapshot, _ := s.tiers.Config(userID, tier)

	s.logger.Warn("usage store failed, admitting request under fail-open",
		"user", userID,
		"error", err,
	)
	s.recorder.RecordLimitDecision(tier, "degraded", true, 0)

	return &Result{
		Allowed:   true,
		Remaining: remainingFor(snapshot, counters{}),
		Resets:    resetsAt(now),
		Tier:      tier,
		Degraded:  true,
	}, nil
}

type counters struct {
	minute, hour               int64
	dayRequests, dayTokens     int64
	monthRequests, monthTokens int64
	concurrent, endpointMinute int64
	dayCost, monthCost         float64
}

func (s *Service) readCounters(ctx context.Context, k counterKeys) (counters, error) {
	var c counters
	ints := []struct {
		key string
		dst *int64
	}{
		{k.minute, &c.minute},
		{k.hour, &c.hour},
		{k.dayRequests, &c.dayRequests},
		{k.dayTokens, &c.dayTokens},
		{k.monthRequests, &c.monthRequests},
		{k.monthTokens, &c.monthTokens},
		{k.concurrent, &c.concurrent},
		{k.endpointMinute, &c.endpointMinute},
	}
	for _, f := range ints {
		if f.key == "" {
			continue
		}
		v, err := s.store.Get(ctx, f.key)
		if err != nil {
			return c, err
		}
		*f.dst = int64(math.Round(v))
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{k.dayCost, &c.dayCost},
		{k.monthCost, &c.monthCost},
	}
	for _, f := range floats {
		v, err := s.store.Get(ctx, f.key)
		if err != nil {
			return c, err
		}
		*f.dst = v
	}

	if c.concurrent < 0 {
		c.concurrent = 0
	}
	return c, nil
}

func (s *Service) record(ctx context.Context, k counterKeys, tokens int64, cost float64) error {
	incs := []struct {
		key    string
		amount float64
		ttl    time.Duration
	}{
		{k.minute, 1, minuteTTL},
		{k.hour, 1, hourTTL},
		{k.dayRequests, 1, dayTTL},
		{k.dayTokens, float64(tokens), dayTTL},
		{k.dayCost, cost, dayTTL},
		{k.monthRequests, 1, monthTTL},
		{k.monthTokens, float64(tokens), monthTTL},
		{k.monthCost, cost, monthTTL},
		{k.concurrent, 1, concurrentTTL},
		{k.endpointMinute, 1, minuteTTL},
	}
	for _, inc := range incs {
		if inc.key == "" || inc.amount == 0 {
			continue
		}
		if _, err := s.store.Increment(ctx, inc.key, inc.amount, inc.ttl); err != nil {
			return err
		}
	}
	return nil
}

func remainingFor(l *UserLimitConfig, c counters) Remaining {
	budget := -1.0
	if l.MonthlyBudget > 0 {
		budget = math.Max(0, l.MonthlyBudget-c.monthCost)
	}
	return Remaining{
		RequestsThisMinute: left(l.RequestsPerMinute, c.minute),
		RequestsThisHour:   left(l.RequestsPerHour, c.hour),
		RequestsToday:      left(l.RequestsPerDay, c.dayRequests),
		TokensToday:        left(l.TokensPerDay, c.dayTokens),
		ConcurrentRequests: left(l.ConcurrentRequests, c.concurrent),
		BudgetThisMonth:    budget,
	}
}

func left(limit, used int64) int64 {
	if limit <= 0 {
		return Unlimited
	}
	if used >= limit {
		return 0
	}
	return limit - used
}

// ReleaseConcurrent returns the concurrent slot taken by an admitted check.
// Extra releases never drive the counter below zero.
func (s *Service) ReleaseConcurrent(ctx context.Context, userID string) error {
	if !validID(userID) {
		return fmt.Errorf("%w: %q", ErrInvalidUser, userID)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	key := concurrentKey(userID)
	v, err := s.store.Increment(ctx, key, -1, concurrentTTL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if v < 0 {
		if _, err := s.store.Increment(ctx, key, -v, concurrentTTL); err != nil {
			return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
	}
	return nil
}

// GetEffectiveLimits returns the limits a check for userID would use now.
func (s *Service) GetEffectiveLimits(ctx context.Context, userID string) (*UserLimitConfig, error) {
	if !validID(userID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUser, userID)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	cfg, err := s.resolveLocked(ctx, userID, s.clock.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return cfg, nil
}

// resolveLocked returns a private copy of userID's limits: the cached or
// persisted custom record with expired boosts reverted, or the default tier.
// The caller holds the user lock.
func (s *Service) resolveLocked(ctx context.Context, userID string, now time.Time) (*UserLimitConfig, error) {
	s.cacheMu.RLock()
	cached := s.cache[userID]
	s.cacheMu.RUnlock()

	if cached == nil {
		raw, ok, err := s.store.Load(ctx, customKey(userID))
		if err != nil {
			return nil, err
		}
		if ok {
			var rec UserLimitConfig
			if err := json.Unmarshal(raw, &rec); err != nil {
				s.logger.Warn("ignoring unreadable custom limits record", "user", userID, "error", err)
			} else {
				rec.UserID = userID
				cached = &rec
				s.setCached(cached)
			}
		}
	}

	if cached == nil {
		cfg, _ := s.tiers.Config(userID, s.defaultTier)
		return cfg, nil
	}

	cfg := cached.Clone()
	if n := expireBoosts(cfg, now); n > 0 {
		cfg.UpdatedAt = now
		if err := s.persistLocked(ctx, cfg); err != nil {
			s.logger.Warn("failed to persist reverted boost", "user", userID, "error", err)
			s.setCached(cfg)
		}
		s.bus.Publish(events.TopicLimitsUpdated, UpdatedEvent{UserID: userID, Limits: cfg.Clone(), Cause: "boost_expired"})
		s.logger.Info("temporary boost expired", "user", userID, "reverted", n)
	}
	return cfg, nil
}

func (s *Service) setCached(cfg *UserLimitConfig) {
	s.cacheMu.Lock()
	s.cache[cfg.UserID] = cfg.Clone()
	s.cacheMu.Unlock()
}

func (s *Service) persistLocked(ctx context.Context, cfg *UserLimitConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal limits: %w", err)
	}
	if err := s.store.SetWithTTL(ctx, customKey(cfg.UserID), data, s.customTTL); err != nil {
		return err
	}
	s.setCached(cfg)
	return nil
}

// expireBoosts reverts and removes override rules whose ValidUntil has
// passed and returns how many were removed.
func expireBoosts(cfg *UserLimitConfig, now time.Time) int {
	if len(cfg.OverrideRules) == 0 {
		return 0
	}

	kept := cfg.OverrideRules[:0]
	removed := 0
	for _, r := range cfg.OverrideRules {
		if !r.ValidUntil.After(now) {
			if r.Multiplier > 0 {
				scaleCaps(cfg, 1/r.Multiplier)
			}
			removed++
			continue
		}
		kept = append(kept, r)
	}
	if len(kept) == 0 {
		kept = nil
	}
	cfg.OverrideRules = kept
	return removed
}

// scaleCaps multiplies the five boostable caps. A positive cap never rounds
// down to zero, which would mean unlimited.
func scaleCaps(cfg *UserLimitConfig, m float64) {
	scale := func(v int64) int64 {
		if v <= 0 {
			return v
		}
		return max(int64(math.Round(float64(v)*m)), 1)
	}
	cfg.RequestsPerMinute = scale(cfg.RequestsPerMinute)
	cfg.RequestsPerHour = scale(cfg.RequestsPerHour)
	cfg.RequestsPerDay = scale(cfg.RequestsPerDay)
	cfg.TokensPerDay = scale(cfg.TokensPerDay)
	cfg.MonthlyBudget = cfg.MonthlyBudget * m
}

// update applies mutate to userID's limits under the user lock and persists
// the result.
func (s *Service) update(ctx context.Context, userID, cause string, mutate func(cfg *UserLimitConfig, now time.Time)) (*UserLimitConfig, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	now := s.clock.Now().UTC()
	cfg, err := s.resolveLocked(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	mutate(cfg, now)
	cfg.UserID = userID
	cfg.UpdatedAt = now

	if err := s.persistLocked(ctx, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	s.bus.Publish(events.TopicLimitsUpdated, UpdatedEvent{UserID: userID, Limits: cfg.Clone(), Cause: cause})
	s.logger.Info("user limits updated", "user", userID, "cause", cause, "tier", cfg.Tier)
	return cfg, nil
}

// SetUserLimits merges patch into userID's limits and persists the result.
func (s *Service) SetUserLimits(ctx context.Context, userID string, patch LimitPatch) (*UserLimitConfig, error) {
	if !validID(userID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUser, userID)
	}
	if err := s.validatePatch(patch); err != nil {
		return nil, err
	}

	return s.update(ctx, userID, "set", func(cfg *UserLimitConfig, _ time.Time) {
		applyPatch(cfg, patch)
	})
}

func (s *Service) validatePatch(p LimitPatch) error {
	if p.Tier != nil {
		if _, ok := s.tiers[*p.Tier]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownTier, *p.Tier)
		}
	}
	for name, v := range map[string]*int64{
		"requests_per_minute": p.RequestsPerMinute,
		"requests_per_hour":   p.RequestsPerHour,
		"requests_per_day":    p.RequestsPerDay,
		"tokens_per_request":  p.TokensPerRequest,
		"tokens_per_day":      p.TokensPerDay,
		"concurrent_requests": p.ConcurrentRequests,
		"max_context_length":  p.MaxContextLength,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("limits: %s must be non-negative", name)
		}
	}
	if p.MonthlyBudget != nil && *p.MonthlyBudget < 0 {
		return errors.New("limits: monthly_budget must be non-negative")
	}
	for ep, el := range p.EndpointLimits {
		if !validID(ep) {
			return fmt.Errorf("%w: %q", ErrInvalidEndpoint, ep)
		}
		if el.RequestsPerMinute < 0 {
			return fmt.Errorf("limits: endpoint %s requests_per_minute must be non-negative", ep)
		}
	}
	return nil
}

func applyPatch(cfg *UserLimitConfig, p LimitPatch) {
	if p.Tier != nil {
		cfg.Tier = *p.Tier
	}
	setInt := func(dst *int64, v *int64) {
		if v != nil {
			*dst = *v
		}
	}
	setInt(&cfg.RequestsPerMinute, p.RequestsPerMinute)
	setInt(&cfg.RequestsPerHour, p.RequestsPerHour)
	setInt(&cfg.RequestsPerDay, p.RequestsPerDay)
	setInt(&cfg.TokensPerRequest, p.TokensPerRequest)
	setInt(&cfg.TokensPerDay, p.TokensPerDay)
	setInt(&cfg.ConcurrentRequests, p.ConcurrentRequests)
	setInt(&cfg.MaxContextLength, p.MaxContextLength)
	if p.MonthlyBudget != nil {
		cfg.MonthlyBudget = *p.MonthlyBudget
	}

	for ep, el := range p.EndpointLimits {
		if el.RequestsPerMinute == 0 {
			delete(cfg.EndpointLimits, ep)
			continue
		}
		if cfg.EndpointLimits == nil {
			cfg.EndpointLimits = make(map[string]EndpointLimit)
		}
		cfg.EndpointLimits[ep] = el
	}
}

// UpgradeUserTier moves userID to tier, replacing every numeric cap with the
// tier's defaults. Active boosts are dropped; endpoint caps are kept.
func (s *Service) UpgradeUserTier(ctx context.Context, userID, tier string) (*UserLimitConfig, error) {
	if !validID(userID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUser, userID)
	}
	defaults, ok := s.tiers[tier]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}

	return s.update(ctx, userID, "upgrade", func(cfg *UserLimitConfig, _ time.Time) {
		cfg.Tier = tier
		applyTier(cfg, defaults)
		cfg.OverrideRules = nil
	})
}

// AddTemporaryBoost multiplies the per-minute, per-hour and per-day request
// caps, the daily token cap and the monthly budget by multiplier until
// duration has passed. multiplier must be greater than 1.
func (s *Service) AddTemporaryBoost(ctx context.Context, userID string, multiplier float64, duration time.Duration, reason string) (*UserLimitConfig, error) {
	if !validID(userID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUser, userID)
	}
	if !(multiplier > 1) || math.IsInf(multiplier, 0) {
		return nil, fmt.Errorf("%w: multiplier must be greater than 1, got %v", ErrInvalidBoost, multiplier)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive, got %s", ErrInvalidBoost, duration)
	}

	return s.update(ctx, userID, "boost", func(cfg *UserLimitConfig, now time.Time) {
		scaleCaps(cfg, multiplier)
		cfg.OverrideRules = append(cfg.OverrideRules, OverrideRule{
			Multiplier: multiplier,
			ValidUntil: now.Add(duration),
			Reason:     reason,
			CreatedAt:  now,
		})
	})
}

// ResetUserUsage deletes every usage counter of userID, including the
// concurrent counter. Custom limits are kept.
func (s *Service) ResetUserUsage(ctx context.Context, userID string) error {
	if !validID(userID) {
		return fmt.Errorf("%w: %q", ErrInvalidUser, userID)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	keys, err := s.store.KeysMatching(ctx, userUsagePattern(userID))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if err := s.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	s.logger.Info("user usage reset", "user", userID, "keys", len(keys))
	return nil
}

// GetUserLimitSummary returns userID's effective limits joined with current
// usage.
func (s *Service) GetUserLimitSummary(ctx context.Context, userID string) (*Summary, error) {
	if !validID(userID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUser, userID)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	now := s.clock.Now().UTC()
	cfg, err := s.resolveLocked(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	c, err := s.readCounters(ctx, keysFor(userID, "", now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	return &Summary{
		UserID: userID,
		Limits: cfg,
		Usage: UsageStats{
			RequestsThisMinute: c.minute,
			RequestsThisHour:   c.hour,
			RequestsToday:      c.dayRequests,
			TokensToday:        c.dayTokens,
			CostToday:          c.dayCost,
			RequestsThisMonth:  c.monthRequests,
			TokensThisMonth:    c.monthTokens,
			CostThisMonth:      c.monthCost,
			ConcurrentRequests: c.concurrent,
			Utilization: Utilization{
				Minute:     percent(float64(c.minute), float64(cfg.RequestsPerMinute)),
				Hour:       percent(float64(c.hour), float64(cfg.RequestsPerHour)),
				Day:        percent(float64(c.dayRequests), float64(cfg.RequestsPerDay)),
				Tokens:     percent(float64(c.dayTokens), float64(cfg.TokensPerDay)),
				Concurrent: percent(float64(c.concurrent), float64(cfg.ConcurrentRequests)),
				Budget:     percent(c.monthCost, cfg.MonthlyBudget),
			},
		},
		Resets:       resetsAt(now),
		ActiveBoosts: append([]OverrideRule(nil), cfg.OverrideRules...),
	}, nil
}

func percent(used, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return math.Min(100, math.Max(0, used/limit*100))
}
