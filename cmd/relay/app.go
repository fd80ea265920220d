package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/dispatch"
	"mercator-hq/relay/pkg/events"
	"mercator-hq/relay/pkg/limits"
	"mercator-hq/relay/pkg/pool"
	"mercator-hq/relay/pkg/scoring"
	"mercator-hq/relay/pkg/telemetry/health"
	"mercator-hq/relay/pkg/telemetry/metrics"
	"mercator-hq/relay/pkg/telemetry/tracing"
	"mercator-hq/relay/pkg/tokens"
	"mercator-hq/relay/pkg/usage"
)

// app is the assembled relay pipeline.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	tracer     *tracing.Tracer
	collector  *metrics.Collector
	bus        *events.AsyncBus
	store      usage.Store
	limits     *limits.Service
	scoring    *scoring.Engine
	pool       *pool.Pool
	dispatcher *dispatch.Dispatcher
	checker    *health.Checker
}

type appOptions struct {
	// connector replaces the HTTP connector.
	connector pool.Connector

	// noTracing skips the OTLP exporter even when tracing is enabled.
	noTracing bool
}

// newApp wires every component from cfg. On error, whatever was already
// opened is closed.
func newApp(cfg *config.Config, logger *slog.Logger, opts appOptions) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
			a = nil
		}
	}()

	a.tracer = tracing.Noop()
	if !opts.noTracing {
		if a.tracer, err = tracing.New(&cfg.Telemetry.Tracing, Version); err != nil {
			return a, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	a.collector = metrics.NewCollector(&cfg.Telemetry.Metrics, prometheus.NewRegistry())
	a.bus = events.NewAsyncBus(cfg.Events.BufferSize)
	a.bus.Subscribe("*", logEvent(logger))

	store, err := usage.Open(cfg.UsageStore, usage.WithLogger(logger))
	if err != nil {
		return a, fmt.Errorf("failed to open usage store: %w", err)
	}
	a.store = store

	if a.pool, err = pool.New(pool.Options{
		Config:    cfg.Pool,
		Connector: opts.connector,
		Bus:       a.bus,
		Recorder:  a.collector,
		Logger:    logger,
	}); err != nil {
		return a, fmt.Errorf("failed to create connection pool: %w", err)
	}

	limitOpts := limits.OptionsFromConfig(cfg.Limits)
	limitOpts.Store = a.store
	limitOpts.Bus = a.bus
	limitOpts.Recorder = a.collector
	limitOpts.Logger = logger
	if ls := cfg.Limits.LoadShedding; ls.Enabled {
		limitOpts.LoadAdjuster = limits.NewThresholdLoadAdjuster(a.pool, ls.Threshold, ls.Tiers)
	}
	if a.limits, err = limits.NewService(limitOpts); err != nil {
		return a, fmt.Errorf("failed to create limits service: %w", err)
	}

	scoringCfg, err := scoring.ConfigFromConfig(cfg.Scoring)
	if err != nil {
		return a, fmt.Errorf("invalid scoring config: %w", err)
	}
	scoringOpts := scoring.Options{
		Config:   scoringCfg,
		Bus:      a.bus,
		Recorder: a.collector,
		Logger:   logger,
	}
	if cfg.Scoring.Seed != 0 {
		scoringOpts.Source = rand.NewSource(cfg.Scoring.Seed)
	}
	if a.scoring, err = scoring.NewEngine(scoringOpts); err != nil {
		return a, fmt.Errorf("failed to create scoring engine: %w", err)
	}

	if a.dispatcher, err = dispatch.New(dispatch.Options{
		Limits:   a.limits,
		Scoring:  a.scoring,
		Pool:     a.pool,
		Agents:   agentsFromConfig(cfg.Agents),
		Tokens:   tokens.New(cfg.Tokens.CharsPerToken),
		Bus:      a.bus,
		Recorder: a.collector,
		Tracer:   a.tracer,
		Logger:   logger,
	}); err != nil {
		return a, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	a.checker = health.New(0)
	a.checker.RegisterCheck("usage_store", a.store.Ping)
	a.checker.RegisterCheck("pool", health.PoolCheck(a.pool))
	return a, nil
}

func agentsFromConfig(configured []config.AgentConfig) []scoring.Agent {
	agents := make([]scoring.Agent, 0, len(configured))
	for _, ac := range configured {
		agents = append(agents, scoring.AgentFromConfig(ac))
	}
	return agents
}

func logEvent(logger *slog.Logger) events.Handler {
	logger = logger.With("component", "events")
	return func(e events.Event) {
		logger.Debug("event", "topic", e.Topic, "payload", fmt.Sprintf("%+v", e.Payload))
	}
}

// statusReport is served on /status and printed by `relay pool status`.
type statusReport struct {
	Version       string          `json:"version"`
	Pool          pool.Stats      `json:"pool"`
	Dispatch      dispatch.Stats  `json:"dispatch"`
	Scoring       scoring.Metrics `json:"scoring"`
	EventsDropped int64           `json:"events_dropped"`
}

func (a *app) status() any {
	return statusReport{
		Version:       Version,
		Pool:          a.pool.Stats(),
		Dispatch:      a.dispatcher.Stats(),
		Scoring:       a.scoring.GetScoringMetrics(),
		EventsDropped: a.bus.Dropped(),
	}
}

// Close releases components in reverse order of construction.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.pool != nil {
		errs = append(errs, a.pool.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.tracer != nil {
		errs = append(errs, a.tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
