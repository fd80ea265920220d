package scoring

import (
	"fmt"
	"strings"
)

const (
	strongComponent = 0.8
	weakComponent   = 0.4

	// tradeoffMargin is the factor score difference worth naming.
	tradeoffMargin = 0.05

	maxAlternatives = 3
)

func (e *Engine) reason(s *DynamicScore) Reasoning {
	var r Reasoning

	for _, f := range s.Factors.topContributions(3) {
		r.PrimaryFactors = append(r.PrimaryFactors, FactorContribution{
			Factor:       f.Name,
			Score:        f.Score,
			Weight:       f.Weight,
			Contribution: f.Contribution(),
		})
	}

	for _, f := range s.Factors {
		if f.Defaulted {
			r.Risks = append(r.Risks, fmt.Sprintf("%s factor unavailable, neutral defaults used", f.Name))
			continue
		}
		for _, c := range f.Components {
			label := fmt.Sprintf("%s %s (%.2f)", f.Name, strings.ReplaceAll(c.Name, "_", " "), c.Value)
			switch {
			case c.Value > strongComponent:
				r.Strengths = append(r.Strengths, label)
			case c.Value < weakComponent:
				r.Weaknesses = append(r.Weaknesses, label)
			}
		}
	}

	if s.Confidence < e.cfg.MinConfidence {
		r.Risks = append(r.Risks, fmt.Sprintf("low confidence (%.2f)", s.Confidence))
	}
	if !s.Factors[Availability].Defaulted && s.Factors.Component(Availability, "health") < 0.5 {
		r.Risks = append(r.Risks, "agent health is poor")
	}
	if !s.Factors[Performance].Defaulted && s.Factors.Component(Performance, "reliability") < 0.5 {
		r.Risks = append(r.Risks, "low reliability")
	}

	switch {
	case s.NormalizedScore > e.cfg.ExcellentScore:
		r.Recommendation = "Excellent match; route to this agent"
	case s.NormalizedScore > e.cfg.AcceptableScore:
		r.Recommendation = "Acceptable match; monitor the outcome"
	default:
		r.Recommendation = "Weak match; consider alternatives"
	}

	return r
}

// alternatives lists up to three agents ranked below scores[i].
func alternatives(scores []DynamicScore, i int) []Alternative {
	base := &scores[i]
	var out []Alternative
	for j := i + 1; j < len(scores) && len(out) < maxAlternatives; j++ {
		alt := &scores[j]
		gap := base.NormalizedScore - alt.NormalizedScore
		out = append(out, Alternative{
			AgentID:         alt.AgentID,
			NormalizedScore: alt.NormalizedScore,
			ScoreGap:        gap,
			GapLabel:        gapLabel(gap),
			Tradeoffs:       tradeoffs(base, alt),
		})
	}
	return out
}

func gapLabel(gap float64) string {
	switch {
	case gap < 5:
		return "marginal"
	case gap < 15:
		return "moderate"
	default:
		return "significant"
	}
}

// tradeoffs describes alt relative to base.
func tradeoffs(base, alt *DynamicScore) []string {
	pairs := []struct {
		f             Factor
		better, worse string
	}{
		{Cost, "lower cost", "higher cost"},
		{Performance, "faster", "slower"},
		{Quality, "higher quality", "lower quality"},
		{Availability, "more available", "less available"},
	}

	var out []string
	for _, p := range pairs {
		d := alt.Factors[p.f].Score - base.Factors[p.f].Score
		switch {
		case d > tradeoffMargin:
			out = append(out, p.better)
		case d < -tradeoffMargin:
			out = append(out, p.worse)
		}
	}
	return out
}
