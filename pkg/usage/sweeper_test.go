package usage

import (
	"context"
	"testing"
	"time"

	"mercator-hq/relay/pkg/clock"
)

func TestSweeper_RunOnce(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	store := NewMemoryStore(WithClock(clk))
	ctx := context.Background()

	store.Increment(ctx, "a", 1, time.Second)
	store.Increment(ctx, "b", 1, time.Hour)
	clk.Advance(time.Minute)

	sweeper := NewSweeper(store, "*/5 * * * *")
	if got := sweeper.RunOnce(ctx); got != 1 {
		t.Errorf("RunOnce removed %d, want 1", got)
	}
	if store.Len() != 1 {
		t.Errorf("Len = %d, want 1", store.Len())
	}
}

func TestSweeper_StartStop(t *testing.T) {
	store := NewMemoryStore()
	sweeper := NewSweeper(store, "*/5 * * * *")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sweeper.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !sweeper.IsRunning() {
		t.Fatal("expected sweeper to be running")
	}
	if next := sweeper.NextRun(); next == nil || !next.After(time.Now()) {
		t.Errorf("NextRun = %v, want a future time", next)
	}

	sweeper.Stop()
	if sweeper.IsRunning() {
		t.Error("expected sweeper to be stopped")
	}
}

func TestSweeper_InvalidSchedule(t *testing.T) {
	sweeper := NewSweeper(NewMemoryStore(), "not a schedule")
	if err := sweeper.Start(context.Background()); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestSweeper_EmptyScheduleDisabled(t *testing.T) {
	sweeper := NewSweeper(NewMemoryStore(), "")
	if err := sweeper.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sweeper.IsRunning() {
		t.Error("expected empty schedule to leave the sweeper idle")
	}
}
