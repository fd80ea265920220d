package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"mercator-hq/relay/pkg/config"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		config      *config.TracingConfig
		wantErr     bool
		wantEnabled bool
	}{
		{name: "nil config", wantErr: true},
		{name: "disabled", config: &config.TracingConfig{ServiceName: "relay-test"}},
		{
			name:    "ratio out of range",
			config:  &config.TracingConfig{Enabled: true, SampleRatio: 1.5, Endpoint: "localhost:4317"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := New(tt.config, "test")
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if tr.Enabled() != tt.wantEnabled {
				t.Errorf("Enabled() = %v, want %v", tr.Enabled(), tt.wantEnabled)
			}
			if err := tr.Shutdown(context.Background()); err != nil {
				t.Errorf("Shutdown() error = %v", err)
			}
		})
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		ratio   float64
		wantErr bool
	}{
		{ratio: 0},
		{ratio: 0.25},
		{ratio: 1},
		{ratio: -0.1, wantErr: true},
		{ratio: 1.1, wantErr: true},
	}
	for _, tt := range tests {
		if _, err := newSampler(tt.ratio); (err != nil) != tt.wantErr {
			t.Errorf("newSampler(%v) error = %v, wantErr %v", tt.ratio, err, tt.wantErr)
		}
	}
}

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { provider.Shutdown(context.Background()) })
	return &Tracer{tracer: provider.Tracer("test"), provider: provider, enabled: true}, rec
}

func TestEnd_RecordsStatus(t *testing.T) {
	tr, rec := newRecordingTracer(t)

	_, ok := tr.Start(context.Background(), "ok")
	End(ok, nil)
	_, failed := tr.Start(context.Background(), "failed")
	End(failed, errors.New("upstream down"))

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("ok span status = %v", spans[0].Status())
	}
	if spans[1].Status().Code != codes.Error || len(spans[1].Events()) == 0 {
		t.Errorf("failed span status = %v events = %d", spans[1].Status(), len(spans[1].Events()))
	}
}

func TestSetDecisionAttributes(t *testing.T) {
	tr, rec := newRecordingTracer(t)

	_, span := tr.Start(context.Background(), "limits.check")
	SetDecisionAttributes(span, false, "minute_limit", "free", 0, true)
	span.End()

	attrs := map[string]bool{}
	for _, kv := range rec.Ended()[0].Attributes() {
		attrs[string(kv.Key)] = true
	}
	for _, key := range []string{AttrAllowed, AttrTier, AttrReason, AttrWaitMs, AttrDegraded} {
		if !attrs[key] {
			t.Errorf("missing attribute %s", key)
		}
	}
}

func TestAddFallbackEvent(t *testing.T) {
	tr, rec := newRecordingTracer(t)

	ctx, span := tr.Start(context.Background(), "relay.dispatch")
	AddFallbackEvent(ctx, "a1", "alpha", 1)
	span.End()

	events := rec.Ended()[0].Events()
	if len(events) != 1 || events[0].Name != "agent.skipped" {
		t.Fatalf("events = %+v, want one agent.skipped", events)
	}
	if n := len(events[0].Attributes); n != 3 {
		t.Errorf("event attributes = %d, want 3", n)
	}
}

func TestPropagation_RoundTrip(t *testing.T) {
	tr, _ := newRecordingTracer(t)
	prop := propagation.TraceContext{}

	ctx, span := tr.Start(context.Background(), "outbound")
	defer span.End()

	headers := http.Header{}
	prop.Inject(ctx, propagation.HeaderCarrier(headers))
	if headers.Get("traceparent") == "" {
		t.Fatal("traceparent not injected")
	}

	got := prop.Extract(context.Background(), propagation.HeaderCarrier(headers))
	if TraceID(got) != TraceID(ctx) {
		t.Errorf("extracted trace id %q, want %q", TraceID(got), TraceID(ctx))
	}
}

func TestHTTPMiddleware_PassesThrough(t *testing.T) {
	called := false
	h := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if !called {
		t.Error("next handler not called")
	}
	if rr.Header().Get("X-Trace-ID") != "" {
		t.Error("X-Trace-ID set without incoming trace context")
	}
}
