package config

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_CoalescesBursts(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	var calls atomic.Int32
	for i := 0; i < 10; i++ {
		d.Trigger(func() { calls.Add(1) })
	}

	time.Sleep(120 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 callback, got %d", got)
	}
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)

	var calls atomic.Int32
	d.Trigger(func() { calls.Add(1) })
	d.Stop()
	d.Stop()

	time.Sleep(80 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("expected no callback after Stop, got %d", got)
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	path := writeConfig(t, "pool:\n  max_connections: 5\n")

	w, err := NewWatcher(path, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	reloaded := make(chan *Config, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func(cfg *Config) error {
			reloaded <- cfg
			return nil
		})
	}()

	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("pool:\n  max_connections: 8\n"), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Pool.MaxConnections != 8 {
			t.Errorf("expected reloaded max connections 8, got %d", cfg.Pool.MaxConnections)
		}
		if GetConfig() != cfg {
			t.Error("expected reloaded config to become global")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned error: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
