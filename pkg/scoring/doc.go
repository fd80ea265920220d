// Package scoring ranks candidate agents for a request.
//
// Each agent is scored on eight factors: performance, cost, availability,
// quality, context, user, temporal and strategic. Every factor is the mean of
// a small set of 0-1 components produced by an Extractor; the eight factor
// scores are combined with the engine's weights into a 0-100 score that is
// then nudged by exploration, diversification and cost-optimization bonuses.
//
// # Learning
//
// Callers report what actually happened with LearnFromOutcome. The outcome is
// matched to the newest unmatched score for the agent made in the last five
// minutes and updates a smoothed per-agent prediction error. Every
// AdaptEvery outcomes the engine re-weights its factors by how well each one
// predicted the observed results, keeping the weights summing to 1.
//
// # Failures
//
// An extractor that fails or panics is replaced by a neutral bundle of 0.5
// components for that agent and factor; the ranking call continues. Only a
// call that cannot rank at all (no agents, cancelled context) returns a
// *CalculationError.
//
// # Usage
//
//	engine, err := scoring.NewEngine(scoring.Options{Config: scoring.DefaultConfig()})
//	scores, err := engine.CalculateDynamicScores(ctx, agents, req, rctx, profile)
//	best := scores[0]
//	...
//	engine.LearnFromOutcome(best.AgentID, scoring.Outcome{Success: true, Quality: 0.9})
package scoring
