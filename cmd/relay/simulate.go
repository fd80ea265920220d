package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mercator-hq/relay/internal/pooltest"
	"mercator-hq/relay/pkg/cli"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/dispatch"
	"mercator-hq/relay/pkg/pool"
	"mercator-hq/relay/pkg/scoring"
)

var simulateFlags struct {
	requests    int
	users       int
	concurrency int
	failureRate float64
	latency     time.Duration
	seed        int64
	quiet       bool
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive synthetic traffic through the full pipeline",
	Long: `Drive synthetic traffic through admission, scoring and the connection pool.

Providers are replaced by in-memory connections and upstream calls by a stub
executor whose quality follows each agent's configured quality score. Limits,
scoring weights and pool behaviour are the real ones from the config file.

Examples:
  # 500 requests from 20 users, 16 in flight
  relay simulate --requests 500 --users 20 --concurrency 16

  # Exercise fallback and weight adaptation with flaky upstreams
  relay simulate --failure-rate 0.2 --output json`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().IntVarP(&simulateFlags.requests, "requests", "n", 200, "number of requests")
	simulateCmd.Flags().IntVar(&simulateFlags.users, "users", 10, "number of distinct users")
	simulateCmd.Flags().IntVar(&simulateFlags.concurrency, "concurrency", 8, "requests in flight")
	simulateCmd.Flags().Float64Var(&simulateFlags.failureRate, "failure-rate", 0.05, "probability an upstream call fails")
	simulateCmd.Flags().DurationVar(&simulateFlags.latency, "latency", 5*time.Millisecond, "mean upstream latency")
	simulateCmd.Flags().Int64Var(&simulateFlags.seed, "seed", 1, "random seed")
	simulateCmd.Flags().BoolVarP(&simulateFlags.quiet, "quiet", "q", false, "hide the progress bar")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	switch {
	case simulateFlags.requests <= 0:
		return cli.Usagef("--requests must be positive")
	case simulateFlags.users <= 0:
		return cli.Usagef("--users must be positive")
	case simulateFlags.concurrency <= 0:
		return cli.Usagef("--concurrency must be positive")
	case simulateFlags.failureRate < 0 || simulateFlags.failureRate > 1:
		return cli.Usagef("--failure-rate must be between 0 and 1")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(cfg.Agents) == 0 {
		cfg.Agents, cfg.Pool.Providers = sampleCatalog()
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}

	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	a, err := newApp(cfg, logger, appOptions{connector: pooltest.New()})
	if err != nil {
		return cli.NewCommandError("simulate", err)
	}
	defer a.Close(context.Background())
	a.pool.Start(ctx)

	sim := newSimulator(simulateFlags.seed, simulateFlags.failureRate, simulateFlags.latency)

	var progress *cli.Progress
	if !simulateFlags.quiet {
		progress = cli.NewProgress(cmd.ErrOrStderr(), simulateFlags.requests)
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(simulateFlags.concurrency)
	for i := 0; i < simulateFlags.requests && gctx.Err() == nil; i++ {
		req := sim.request(i, simulateFlags.users, cfg.Agents)
		g.Go(func() error {
			_, err := a.dispatcher.Dispatch(gctx, req, sim)
			if progress != nil {
				progress.Add(err == nil)
			}
			if errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	err = g.Wait()
	if progress != nil {
		progress.Finish()
	}
	if err != nil {
		return cli.NewCommandError("simulate", err)
	}

	return printer.Print(simulationReport{
		Duration: time.Since(start),
		Dispatch: a.dispatcher.Stats(),
		Scoring:  a.scoring.GetScoringMetrics(),
		Pool:     a.pool.Stats(),
	})
}

// simulator generates requests and plays the upstream.
type simulator struct {
	mu          sync.Mutex
	rand        *rand.Rand
	failureRate float64
	latency     time.Duration
}

func newSimulator(seed int64, failureRate float64, latency time.Duration) *simulator {
	return &simulator{
		rand:        rand.New(rand.NewSource(seed)),
		failureRate: failureRate,
		latency:     latency,
	}
}

func (s *simulator) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Float64()
}

func (s *simulator) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Intn(n)
}

var simPriorities = []pool.Priority{pool.PriorityLow, pool.PriorityNormal, pool.PriorityNormal, pool.PriorityHigh, pool.PriorityCritical}

func (s *simulator) request(i, users int, agents []config.AgentConfig) dispatch.Request {
	var caps []string
	agent := agents[s.intn(len(agents))]
	if len(agent.Capabilities) > 0 {
		caps = []string{agent.Capabilities[s.intn(len(agent.Capabilities))]}
	}
	userID := "sim-user-" + strconv.Itoa(i%users)
	return dispatch.Request{
		UserID:          userID,
		Endpoint:        "/v1/chat",
		Prompt:          strings.Repeat("lorem ipsum ", 20+s.intn(200)),
		Priority:        simPriorities[s.intn(len(simPriorities))],
		Context: &scoring.RequestContext{
			Capabilities: caps,
			Complexity:   scoring.Complexity{Overall: s.float()},
		},
		Profile:        &scoring.UserProfile{UserID: userID},
		AcquireTimeout: time.Second,
	}
}

// Execute implements dispatch.Executor.
func (s *simulator) Execute(ctx context.Context, conn *pool.Connection, agent scoring.Agent) (dispatch.Response, error) {
	wait := time.Duration(float64(s.latency) * (0.5 + s.float()))
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return dispatch.Response{}, ctx.Err()
	case <-t.C:
	}

	if s.float() < s.failureRate {
		return dispatch.Response{}, fmt.Errorf("simulated upstream failure on %s", conn.Provider)
	}

	quality := agent.QualityScore
	if quality == 0 {
		quality = 0.7
	}
	quality = clamp(quality + (s.float()-0.5)*0.2)
	return dispatch.Response{
		Quality:          quality,
		UserSatisfaction: clamp(quality + (s.float()-0.5)*0.3),
		Tokens:           int64(100 + s.intn(900)),
	}, nil
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// sampleCatalog is used when the config lists no agents.
func sampleCatalog() ([]config.AgentConfig, []config.PoolProviderConfig) {
	agents := []config.AgentConfig{
		{ID: "reasoner", Provider: "north", Capabilities: []string{"reasoning", "code"}, CostPer1KTokens: 0.03, ModelComplexity: "high", CapabilityLevel: 0.9, AvgResponseTime: 2 * time.Second, Reliability: 0.97, QualityScore: 0.92},
		{ID: "generalist", Provider: "south", Capabilities: []string{"chat", "summarization"}, CostPer1KTokens: 0.01, ModelComplexity: "medium", CapabilityLevel: 0.7, AvgResponseTime: time.Second, Reliability: 0.95, QualityScore: 0.78},
		{ID: "sprinter", Provider: "south", Capabilities: []string{"chat"}, CostPer1KTokens: 0.002, ModelComplexity: "low", CapabilityLevel: 0.5, AvgResponseTime: 300 * time.Millisecond, Reliability: 0.9, QualityScore: 0.6},
	}
	providers := []config.PoolProviderConfig{
		{ID: "north", BaseURL: "http://north.sim", MaxConnections: 4},
		{ID: "south", BaseURL: "http://south.sim", MaxConnections: 6},
	}
	return agents, providers
}

// simulationReport summarizes a simulation run.
type simulationReport struct {
	Duration time.Duration   `json:"duration"`
	Dispatch dispatch.Stats  `json:"dispatch"`
	Scoring  scoring.Metrics `json:"scoring"`
	Pool     pool.Stats      `json:"pool"`
}

func (r simulationReport) Header() []string { return nil }

func (r simulationReport) Rows() [][]string {
	kv := cli.KeyValues{
		{"duration", r.Duration.Round(time.Millisecond).String()},
		{"requests", strconv.FormatInt(r.Dispatch.Total, 10)},
		{"succeeded", strconv.FormatInt(r.Dispatch.Succeeded, 10)},
		{"denied", strconv.FormatInt(r.Dispatch.Denied, 10)},
		{"failed", strconv.FormatInt(r.Dispatch.Failed, 10)},
		{"errors", strconv.FormatInt(r.Dispatch.Errors, 10)},
		{"fallbacks", strconv.FormatInt(r.Dispatch.Fallbacks, 10)},
		{"weight adaptations", strconv.FormatInt(r.Scoring.Adaptations, 10)},
		{"pool timeouts", strconv.FormatInt(r.Pool.Timeouts, 10)},
	}
	kv = appendSorted(kv, "agent ", r.Dispatch.PerAgent, func(v int64) string { return strconv.FormatInt(v, 10) })
	kv = appendSorted(kv, "denied by ", r.Dispatch.DeniedBy, func(v int64) string { return strconv.FormatInt(v, 10) })
	kv = appendSorted(kv, "weight ", r.Scoring.Weights, func(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) })
	return kv.Rows()
}

func appendSorted[V any](kv cli.KeyValues, prefix string, m map[string]V, format func(V) string) cli.KeyValues {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		kv = append(kv, [2]string{prefix + k, format(m[k])})
	}
	return kv
}
