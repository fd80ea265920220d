package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mercator-hq/relay/pkg/clock"
	"mercator-hq/relay/pkg/events"
)

const (
	// recentOutcomes bounds the per-agent history extractors see.
	recentOutcomes = 20

	// shareWindow is how many past rankings diversification looks at.
	shareWindow = 50
)

// Recorder receives scoring observations. metrics.Collector implements it.
type Recorder interface {
	RecordScoring(agents int, duration time.Duration)
	RecordExtractionFailure(factor string)
	RecordWeights(weights map[string]float64)
	RecordAdaptation()
}

type nopRecorder struct{}

func (nopRecorder) RecordScoring(int, time.Duration) {}

func (nopRecorder) RecordExtractionFailure(string) {}

func (nopRecorder) RecordWeights(map[string]float64) {}

func (nopRecorder) RecordAdaptation() {}

// Options configures an Engine.
type Options struct {
	Config Config

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Source drives the exploration bonus. Defaults to a time-seeded source.
	Source rand.Source

	// Extractors replaces built-in extractors per factor.
	Extractors map[Factor]Extractor

	Bus      events.Bus
	Recorder Recorder
	Logger   *slog.Logger
}

// Engine ranks agents and learns from outcomes. It is safe for concurrent
// use.
type Engine struct {
	cfg        Config
	clock      clock.Clock
	extractors [NumFactors]Extractor
	bus        events.Bus
	recorder   Recorder
	logger     *slog.Logger

	randMu sync.Mutex
	rand   *rand.Rand

	extractionFailures atomic.Int64

	mu            sync.RWMutex
	weights       Weights
	history       []Record
	agentErrors   map[string]float64
	uses          map[string]int64
	totalScored   int64
	totalRankings int64
	totalOutcomes int64
	unmatched     int64
	adaptations   int64
}

// NewEngine creates a scoring engine. Zero Config fields take their defaults.
func NewEngine(opts Options) (*Engine, error) {
	cfg := opts.Config
	def := DefaultConfig()
	if cfg.Weights.Sum() == 0 {
		cfg.Weights = def.Weights
	}
	for i, w := range cfg.Weights {
		if w < 0 || math.IsNaN(w) {
			return nil, fmt.Errorf("scoring: weight for %s must be non-negative", Factor(i))
		}
	}
	cfg.Weights = cfg.Weights.Normalize()
	if cfg.AdaptationRate == 0 {
		cfg.AdaptationRate = def.AdaptationRate
	}
	if cfg.ExplorationRate < 0 || cfg.ExplorationRate > 1 {
		return nil, fmt.Errorf("scoring: exploration rate %v out of range [0, 1]", cfg.ExplorationRate)
	}
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	if cfg.ExcellentScore == 0 {
		cfg.ExcellentScore = def.ExcellentScore
	}
	if cfg.AcceptableScore == 0 {
		cfg.AcceptableScore = def.AcceptableScore
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.AdaptEvery <= 0 {
		cfg.AdaptEvery = def.AdaptEvery
	}

	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Source == nil {
		opts.Source = rand.NewSource(time.Now().UnixNano())
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

	extractors := DefaultExtractors()
	for f, x := range opts.Extractors {
		if f < 0 || int(f) >= NumFactors {
			return nil, fmt.Errorf("scoring: extractor for %s", f)
		}
		if x != nil {
			extractors[f] = x
		}
	}

	return &Engine{
		cfg:         cfg,
		clock:       opts.Clock,
		extractors:  extractors,
		bus:         opts.Bus,
		recorder:    opts.Recorder,
		logger:      opts.Logger.With("component", "scoring"),
		rand:        rand.New(opts.Source),
		weights:     cfg.Weights,
		agentErrors: make(map[string]float64),
		uses:        make(map[string]int64),
	}, nil
}

// Config returns the engine configuration with the current weights.
func (e *Engine) Config() Config {
	cfg := e.cfg
	cfg.Weights = e.Weights()
	return cfg
}

// Weights returns the current factor weights.
func (e *Engine) Weights() Weights {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.weights
}

// CalculateDynamicScores scores every agent for req and returns the scores
// sorted by NormalizedScore, best first. rctx and profile may be nil.
func (e *Engine) CalculateDynamicScores(ctx context.Context, agents []Agent, req Request, rctx *RequestContext, profile *UserProfile) ([]DynamicScore, error) {
	start := time.Now()

	if len(agents) == 0 {
		return nil, &CalculationError{Agents: 0, Err: ErrNoAgents}
	}

	now := e.clock.Now()
	weights, hist := e.snapshot(agents)

	scores := make([]DynamicScore, 0, len(agents))
	for _, a := range agents {
		if err := ctx.Err(); err != nil {
			return nil, &CalculationError{Agents: len(agents), Err: err}
		}
		in := &Input{
			Agent:   a,
			Request: req,
			Context: rctx,
			Profile: profile,
			Now:     now,
			History: hist[a.ID],
		}
		fs := e.extract(ctx, in, weights)
		scores = append(scores, e.score(in, fs, now))
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].NormalizedScore > scores[j].NormalizedScore
	})
	for i := range scores {
		scores[i].Reasoning = e.reason(&scores[i])
		scores[i].Alternatives = alternatives(scores, i)
	}

	e.remember(scores, req, now)

	elapsed := time.Since(start)
	e.recorder.RecordScoring(len(agents), elapsed)
	e.logger.Debug("agents ranked",
		"request", req.ID,
		"agents", len(agents),
		"top", scores[0].AgentID,
		"score", scores[0].NormalizedScore,
		"duration", elapsed,
	)
	return scores, nil
}

// snapshot copies the weights and the per-agent history summaries under the
// read lock.
func (e *Engine) snapshot(agents []Agent) (Weights, map[string]AgentHistory) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	hist := make(map[string]AgentHistory, len(agents))
	for _, a := range agents {
		if _, ok := hist[a.ID]; !ok {
			hist[a.ID] = AgentHistory{LifetimeUses: e.uses[a.ID]}
		}
	}

	var picks int
	for i := len(e.history) - 1; i >= 0; i-- {
		r := e.history[i]
		h, ok := hist[r.AgentID]

		if r.Selected && picks < shareWindow {
			picks++
			if ok {
				h.RecentShare++
			}
		}
		if ok && r.Outcome != nil && len(h.Recent) < recentOutcomes {
			h.Recent = append(h.Recent, r)
		}
		if ok {
			hist[r.AgentID] = h
		}
	}
	if picks > 0 {
		for id, h := range hist {
			h.RecentShare /= float64(picks)
			hist[id] = h
		}
	}

	return e.weights, hist
}

// extract runs the eight extractors for one agent concurrently. A failing
// extractor contributes neutral components.
func (e *Engine) extract(ctx context.Context, in *Input, w Weights) Factors {
	var fs Factors
	var g errgroup.Group
	for i := range e.extractors {
		f := Factor(i)
		g.Go(func() error {
			values, err := e.runExtractor(ctx, f, in)
			if err != nil {
				e.extractionFailures.Add(1)
				e.recorder.RecordExtractionFailure(f.String())
				e.logger.Warn("factor extraction failed, using defaults",
					"agent", in.Agent.ID,
					"factor", f.String(),
					"error", err,
				)
				fs[f] = newFactorScore(f, w[f], neutral(f), true)
				return nil
			}
			fs[f] = newFactorScore(f, w[f], values, false)
			return nil
		})
	}
	_ = g.Wait()
	return fs
}

func (e *Engine) runExtractor(ctx context.Context, f Factor, in *Input) (values []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			values = nil
			err = &ExtractionError{AgentID: in.Agent.ID, Factor: f, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	values, err = e.extractors[f].Extract(ctx, in)
	if err != nil {
		return nil, &ExtractionError{AgentID: in.Agent.ID, Factor: f, Err: err}
	}
	if want := len(componentNames[f]); len(values) != want {
		return nil, &ExtractionError{
			AgentID: in.Agent.ID,
			Factor:  f,
			Err:     fmt.Errorf("got %d components, want %d", len(values), want),
		}
	}
	return values, nil
}

func (e *Engine) score(in *Input, fs Factors, now time.Time) DynamicScore {
	var raw float64
	for _, f := range fs {
		raw += f.Contribution()
	}
	normalized := clamp(raw*100, 0, 100)

	explored := e.chance(e.cfg.ExplorationRate)
	if explored {
		normalized += fs.Component(Strategic, "exploration") * 10
	}
	normalized += fs.Component(Strategic, "diversification")*2 + fs.Component(Strategic, "cost_optimization")*2
	normalized = clamp(normalized, 0, 100)

	return DynamicScore{
		AgentID:         in.Agent.ID,
		Provider:        in.Agent.Provider,
		RawScore:        raw,
		NormalizedScore: normalized,
		Confidence:      confidence(in, &fs),
		Factors:         fs,
		Explored:        explored,
		RecordID:        uuid.NewString(),
		Timestamp:       now,
	}
}

func (e *Engine) chance(p float64) bool {
	if p <= 0 {
		return false
	}
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return e.rand.Float64() < p
}

func confidence(in *Input, fs *Factors) float64 {
	c := 0.6

	n := len(in.History.Recent)
	switch {
	case n >= 10:
		c += 0.2
	case n >= 5:
		c += 0.1
	}

	c += 0.15 * fs.Component(Context, "capability_match")

	if n >= 2 {
		var mean float64
		for _, r := range in.History.Recent {
			mean += r.Outcome.Quality
		}
		mean /= float64(n)
		var variance float64
		for _, r := range in.History.Recent {
			d := r.Outcome.Quality - mean
			variance += d * d
		}
		variance /= float64(n)
		c += 0.05 * (1 - clamp01(variance*4))
	}

	return clamp(c, 0.3, 1)
}

// remember appends one history record per score. The first score is the
// ranking's pick.
func (e *Engine) remember(scores []DynamicScore, req Request, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, s := range scores {
		e.history = append(e.history, Record{
			ID:           s.RecordID,
			AgentID:      s.AgentID,
			UserID:       req.UserID,
			Timestamp:    now,
			Predicted:    s.NormalizedScore / 100,
			FactorScores: s.Factors.Scores(),
			Selected:     i == 0,
		})
	}
	if over := len(e.history) - e.cfg.HistorySize; over > 0 {
		n := copy(e.history, e.history[over:])
		e.history = e.history[:n]
	}

	e.totalScored += int64(len(scores))
	e.totalRankings++
}
