package scheduler

import (
	"context"
	"testing"
	"time"

	logx "nftwatch/pkg/logx"
)

func TestSpreadScheduleFirstRunThenBase(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	every := 5 * time.Minute
	sched, spread := intervalWithSpread(every, now, "testers")

	if spread < 0 || spread >= maxStartupSpread {
		t.Fatalf("spread out of range: %v", spread)
	}
	first := sched.Next(now)
	want := now.Add(every + spread)
	if !first.Equal(want) {
		t.Fatalf("first run: expected %v, got %v", want, first)
	}
	// After the first run the plain interval takes over.
	after := sched.Next(first.Add(time.Second))
	if after.Sub(first.Add(time.Second)) > every {
		t.Fatalf("second run too far out: %v", after)
	}
}

func TestAddValidation(t *testing.T) {
	s := New(logx.Nop(), nil)
	noop := func(context.Context) error { return nil }

	if err := s.Add("", time.Minute, 0, noop); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := s.Add("a", 0, 0, noop); err == nil {
		t.Fatal("expected error for zero interval")
	}
	if err := s.Add("a", time.Minute, 0, noop); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("a", time.Minute, 0, noop); err == nil {
		t.Fatal("expected error for duplicate name")
	}
}

func TestRunSkipsWhenInFlight(t *testing.T) {
	s := New(logx.Nop(), nil)
	s.runCtx = context.Background()

	calls := 0
	d := &scheduleDef{
		name:    "testers",
		every:   time.Minute,
		timeout: time.Minute,
		job: func(context.Context) error {
			calls++
			return nil
		},
	}

	d.running.Store(true)
	s.run(d)
	if calls != 0 {
		t.Fatalf("expected skip while in flight, got %d calls", calls)
	}

	d.running.Store(false)
	s.run(d)
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}

func TestRunNoopAfterContextDone(t *testing.T) {
	s := New(logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.runCtx = ctx

	calls := 0
	d := &scheduleDef{
		name:    "testers",
		every:   time.Minute,
		timeout: time.Minute,
		job: func(context.Context) error {
			calls++
			return nil
		},
	}
	s.run(d)
	if calls != 0 {
		t.Fatalf("expected no call after shutdown, got %d", calls)
	}
}
