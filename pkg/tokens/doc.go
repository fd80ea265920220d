// Package tokens estimates token counts from prompt text.
//
// The estimator is character based: each model family has a
// characters-per-token ratio, matched by exact name, then by prefix, then
// the "default" entry, then 4.0. It is fast enough to run on every
// admission check and is within a few percent for English prose.
//
//	est := tokens.New(map[string]float64{"claude": 3.5, "default": 4.0})
//	e := est.EstimateRequest(prompt, "", 0)
//	// e.Total is prompt plus expected completion tokens
//
// When no completion cap is given, the completion is assumed to be a third
// of the prompt, bounded to [100, 1000].
package tokens
