package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys use the "relay.*" namespace.
const (
	AttrRequestID = "relay.request_id"
	AttrUser      = "relay.user"
	AttrTier      = "relay.tier"
	AttrEndpoint  = "relay.endpoint"
	AttrTokens    = "relay.tokens"

	AttrAllowed  = "relay.limits.allowed"
	AttrReason   = "relay.limits.reason"
	AttrWaitMs   = "relay.limits.wait_ms"
	AttrDegraded = "relay.limits.degraded"

	AttrAgents     = "relay.scoring.agents"
	AttrAgent      = "relay.agent"
	AttrScore      = "relay.scoring.score"
	AttrConfidence = "relay.scoring.confidence"
	AttrExplored   = "relay.scoring.explored"

	AttrProvider     = "relay.provider"
	AttrPriority     = "relay.pool.priority"
	AttrConnectionID = "relay.pool.connection_id"
	AttrQueueTimeMs  = "relay.pool.queue_time_ms"
	AttrAttempts     = "relay.dispatch.attempts"
)

// SetRequestAttributes tags a span with the request identity.
func SetRequestAttributes(span trace.Span, requestID, user string, tokens int64) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRequestID, requestID),
		attribute.Int64(AttrTokens, tokens),
	}
	if user != "" {
		attrs = append(attrs, attribute.String(AttrUser, user))
	}
	span.SetAttributes(attrs...)
}

// SetDecisionAttributes tags a span with an admission verdict.
func SetDecisionAttributes(span trace.Span, allowed bool, reason, tier string, wait time.Duration, degraded bool) {
	attrs := []attribute.KeyValue{
		attribute.Bool(AttrAllowed, allowed),
		attribute.String(AttrTier, tier),
	}
	if !allowed {
		attrs = append(attrs,
			attribute.String(AttrReason, reason),
			attribute.Int64(AttrWaitMs, wait.Milliseconds()),
		)
	}
	if degraded {
		attrs = append(attrs, attribute.Bool(AttrDegraded, true))
	}
	span.SetAttributes(attrs...)
}

// SetScoreAttributes tags a span with the chosen agent's score.
func SetScoreAttributes(span trace.Span, agent string, score, confidence float64, explored bool) {
	span.SetAttributes(
		attribute.String(AttrAgent, agent),
		attribute.Float64(AttrScore, score),
		attribute.Float64(AttrConfidence, confidence),
		attribute.Bool(AttrExplored, explored),
	)
}

// SetConnectionAttributes tags a span with the acquired connection.
func SetConnectionAttributes(span trace.Span, provider, connectionID string, queued time.Duration) {
	span.SetAttributes(
		attribute.String(AttrProvider, provider),
		attribute.String(AttrConnectionID, connectionID),
		attribute.Int64(AttrQueueTimeMs, queued.Milliseconds()),
	)
}

// AddEvent records a named event on span.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// AddFallbackEvent records on the span in ctx that agent was skipped.
// attempt counts the agents skipped so far.
func AddFallbackEvent(ctx context.Context, agent, provider string, attempt int) {
	AddEvent(trace.SpanFromContext(ctx), "agent.skipped",
		attribute.String(AttrAgent, agent),
		attribute.String(AttrProvider, provider),
		attribute.Int(AttrAttempts, attempt),
	)
}
