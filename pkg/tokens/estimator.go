package tokens

import (
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	fallbackCharsPerToken = 4.0

	// messageOverhead covers role and formatting tokens around a prompt.
	messageOverhead = 7

	minCompletion = 100
	maxCompletion = 1000
)

// Estimate is the token estimate of one request.
type Estimate struct {
	Prompt     int64 `json:"prompt"`
	Completion int64 `json:"completion"`
	Total      int64 `json:"total"`
}

// Estimator estimates tokens from text. It is immutable and safe for
// concurrent use.
type Estimator struct {
	ratios   map[string]float64
	prefixes []string
}

// New creates an estimator from model-specific characters-per-token ratios.
// Non-positive ratios are ignored.
func New(charsPerToken map[string]float64) *Estimator {
	e := &Estimator{ratios: make(map[string]float64, len(charsPerToken))}
	for model, ratio := range charsPerToken {
		if ratio > 0 {
			e.ratios[model] = ratio
		}
	}
	for model := range e.ratios {
		if model != "default" {
			e.prefixes = append(e.prefixes, model)
		}
	}
	// Longest prefix first so "gpt-4o" wins over "gpt-4".
	sort.Slice(e.prefixes, func(i, j int) bool {
		if len(e.prefixes[i]) != len(e.prefixes[j]) {
			return len(e.prefixes[i]) > len(e.prefixes[j])
		}
		return e.prefixes[i] < e.prefixes[j]
	})
	return e
}

// EstimateText estimates the tokens in text for model. Non-empty text is at
// least one token.
func (e *Estimator) EstimateText(text, model string) int64 {
	if text == "" {
		return 0
	}
	chars := utf8.RuneCountInString(text)
	tokens := float64(chars) / e.charsPerToken(model)
	if tokens < 1 {
		return 1
	}
	return int64(tokens + 0.5)
}

// EstimateRequest estimates prompt and completion tokens. A positive
// maxCompletion is taken as the completion estimate.
func (e *Estimator) EstimateRequest(prompt, model string, maxCompletionTokens int64) Estimate {
	est := Estimate{Prompt: e.EstimateText(prompt, model)}
	if est.Prompt > 0 {
		est.Prompt += messageOverhead
	}

	switch {
	case maxCompletionTokens > 0:
		est.Completion = maxCompletionTokens
	default:
		est.Completion = min(max(est.Prompt/3, minCompletion), maxCompletion)
	}
	est.Total = est.Prompt + est.Completion
	return est
}

func (e *Estimator) charsPerToken(model string) float64 {
	if ratio, ok := e.ratios[model]; ok {
		return ratio
	}
	for _, prefix := range e.prefixes {
		if strings.HasPrefix(model, prefix) {
			return e.ratios[prefix]
		}
	}
	if ratio, ok := e.ratios["default"]; ok {
		return ratio
	}
	return fallbackCharsPerToken
}
