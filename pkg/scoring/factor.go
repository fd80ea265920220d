package scoring

import (
	"fmt"
	"math"
	"sort"
)

// Factor identifies one of the eight scoring dimensions.
type Factor int

const (
	Performance Factor = iota
	Cost
	Availability
	Quality
	Context
	User
	Temporal
	Strategic

	// NumFactors is the number of scoring factors.
	NumFactors = 8
)

var factorNames = [NumFactors]string{
	"performance",
	"cost",
	"availability",
	"quality",
	"context",
	"user",
	"temporal",
	"strategic",
}

// componentNames lists the components each extractor returns, in order.
var componentNames = [NumFactors][]string{
	Performance:  {"response_time", "throughput", "reliability", "success_rate"},
	Cost:         {"token_cost", "compute_cost", "opportunity_cost", "budget_alignment"},
	Availability: {"load", "queue", "health", "capacity"},
	Quality:      {"output_quality", "accuracy", "consistency", "user_satisfaction"},
	Context:      {"capability_match", "domain_expertise", "complexity_alignment", "specialization"},
	User:         {"preference", "history", "feedback", "loyalty"},
	Temporal:     {"time_of_day", "urgency", "seasonality", "trend"},
	Strategic:    {"diversification", "exploration", "cost_optimization", "quality_improvement"},
}

// String returns the factor's configuration name.
func (f Factor) String() string {
	if f < 0 || int(f) >= NumFactors {
		return fmt.Sprintf("factor(%d)", int(f))
	}
	return factorNames[f]
}

// ComponentNames returns the component names of f in extractor order.
func (f Factor) ComponentNames() []string {
	return append([]string(nil), componentNames[f]...)
}

// ParseFactor returns the factor with the given name.
func ParseFactor(name string) (Factor, error) {
	for i, n := range factorNames {
		if n == name {
			return Factor(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFactor, name)
}

// AllFactors returns every factor in order.
func AllFactors() []Factor {
	out := make([]Factor, NumFactors)
	for i := range out {
		out[i] = Factor(i)
	}
	return out
}

// Weights holds one weight per factor. Engine weights always sum to 1.
type Weights [NumFactors]float64

// DefaultWeights returns the initial weight vector.
func DefaultWeights() Weights {
	return Weights{
		Performance:  0.20,
		Cost:         0.15,
		Availability: 0.15,
		Quality:      0.20,
		Context:      0.10,
		User:         0.05,
		Temporal:     0.05,
		Strategic:    0.10,
	}
}

// WeightsFromMap overlays named weights on the defaults and normalizes the
// result.
func WeightsFromMap(m map[string]float64) (Weights, error) {
	w := DefaultWeights()
	for name, v := range m {
		f, err := ParseFactor(name)
		if err != nil {
			return Weights{}, err
		}
		if v < 0 || math.IsNaN(v) {
			return Weights{}, fmt.Errorf("weight for %s must be non-negative", name)
		}
		w[f] = v
	}
	if w.Sum() == 0 {
		return Weights{}, fmt.Errorf("weights must not all be zero")
	}
	return w.Normalize(), nil
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	var s float64
	for _, v := range w {
		s += v
	}
	return s
}

// Normalize returns w scaled to sum to 1. A zero vector normalizes to equal
// weights.
func (w Weights) Normalize() Weights {
	s := w.Sum()
	if s == 0 {
		for i := range w {
			w[i] = 1.0 / NumFactors
		}
		return w
	}
	for i := range w {
		w[i] /= s
	}
	return w
}

// Map returns the weights keyed by factor name.
func (w Weights) Map() map[string]float64 {
	m := make(map[string]float64, NumFactors)
	for i, v := range w {
		m[factorNames[i]] = v
	}
	return m
}

// Component is one named 0-1 sub-score of a factor.
type Component struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// FactorScore is a factor's components, their mean and the weight applied.
type FactorScore struct {
	Factor     Factor      `json:"-"`
	Name       string      `json:"name"`
	Weight     float64     `json:"weight"`
	Score      float64     `json:"score"`
	Components []Component `json:"components"`

	// Defaulted is set when extraction failed and neutral components were
	// used instead.
	Defaulted bool `json:"defaulted,omitempty"`
}

// Contribution returns Score × Weight.
func (f FactorScore) Contribution() float64 {
	return f.Score * f.Weight
}

// Factors holds all eight factor scores for one agent, indexed by Factor.
type Factors [NumFactors]FactorScore

// Component returns the named component of factor f, or 0 when absent.
func (fs *Factors) Component(f Factor, name string) float64 {
	for _, c := range fs[f].Components {
		if c.Name == name {
			return c.Value
		}
	}
	return 0
}

// Scores returns the eight factor scores.
func (fs *Factors) Scores() [NumFactors]float64 {
	var out [NumFactors]float64
	for i := range fs {
		out[i] = fs[i].Score
	}
	return out
}

func newFactorScore(f Factor, weight float64, values []float64, defaulted bool) FactorScore {
	names := componentNames[f]
	comps := make([]Component, len(names))
	var sum float64
	for i, name := range names {
		v := clamp01(values[i])
		comps[i] = Component{Name: name, Value: v}
		sum += v
	}
	return FactorScore{
		Factor:     f,
		Name:       f.String(),
		Weight:     weight,
		Score:      sum / float64(len(names)),
		Components: comps,
		Defaulted:  defaulted,
	}
}

// DefaultFactors returns the neutral bundle used when extraction fails: every
// component 0.5.
func DefaultFactors(w Weights) Factors {
	var fs Factors
	for i := range fs {
		fs[i] = newFactorScore(Factor(i), w[i], neutral(Factor(i)), true)
	}
	return fs
}

func neutral(f Factor) []float64 {
	v := make([]float64, len(componentNames[f]))
	for i := range v {
		v[i] = 0.5
	}
	return v
}

// topContributions returns the n factors with the largest weighted
// contribution.
func (fs *Factors) topContributions(n int) []FactorScore {
	sorted := append([]FactorScore(nil), fs[:]...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Contribution() > sorted[j].Contribution()
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
