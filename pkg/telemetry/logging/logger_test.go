package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"mercator-hq/relay/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		wantErr bool
	}{
		{name: "defaults", cfg: config.LoggingConfig{}},
		{name: "text debug", cfg: config.LoggingConfig{Level: "debug", Format: "text"}},
		{name: "bad level", cfg: config.LoggingConfig{Level: "verbose"}, wantErr: true},
		{name: "bad format", cfg: config.LoggingConfig{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, &bytes.Buffer{})
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decoding %q: %v", buf.String(), err)
	}
	return entry
}

func TestContextHandler_AddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LoggingConfig{Level: "info"}, &buf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithUser(ctx, "user-7")
	ctx = WithAgent(ctx, "agent-a")
	ctx = WithProvider(ctx, "alpha")

	logger.With("component", "dispatch").InfoContext(ctx, "dispatched", "attempts", 1)

	entry := decode(t, &buf)
	want := map[string]string{
		"request_id": "req-1",
		"user":       "user-7",
		"agent":      "agent-a",
		"provider":   "alpha",
		"component":  "dispatch",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %q", k, entry[k], v)
		}
	}
	if _, ok := entry["trace_id"]; ok {
		t.Error("trace_id logged without an active span")
	}
}

func TestContextHandler_NoContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(config.LoggingConfig{}, &buf)

	logger.Info("plain")

	entry := decode(t, &buf)
	if _, ok := entry["request_id"]; ok {
		t.Error("request_id logged without context")
	}
}

func TestRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(config.LoggingConfig{RedactPII: true}, &buf)

	logger.Info("limits reset",
		"user", "alice@example.com",
		"api_key", "sk-abcdefghijklmnop",
		"note", "Authorization: Bearer abc.def",
	)

	out := buf.String()
	for _, leak := range []string{"alice@example.com", "sk-abcdefghijklmnop", "abc.def"} {
		if strings.Contains(out, leak) {
			t.Errorf("output leaks %q: %s", leak, out)
		}
	}
	entry := decode(t, &buf)
	if entry["user"] != "a***@example.com" {
		t.Errorf("user = %v, want a***@example.com", entry["user"])
	}
}

func TestRedactor_RedactString(t *testing.T) {
	r := NewRedactor()
	tests := []struct {
		in   string
		want string
	}{
		{"user-42", "user-42"},
		{"bob@corp.io", "b***@corp.io"},
		{"key sk-1234567890ab", "key sk-***"},
		{"Bearer eyJhbGciOi", "Bearer ***"},
	}
	for _, tt := range tests {
		if got := r.RedactString(tt.in); got != tt.want {
			t.Errorf("RedactString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
