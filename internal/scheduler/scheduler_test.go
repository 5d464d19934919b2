package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"lead_lifecycle_engine/platform/apperr"
	"lead_lifecycle_engine/platform/logger"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC) // Monday
}

func noop(context.Context, time.Time) error { return nil }

func TestRegisterSameIDReplacesTimer(t *testing.T) {
	s := New(logger.Discard(), Options{Now: fixedNow})
	defer func() { _ = s.Shutdown(context.Background()) }()

	if err := s.Register("wf-1", "0 8 * * *", noop); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := s.Register("wf-1", "0 9 * * 1-5", noop); err != nil {
		t.Fatalf("second register: %v", err)
	}

	if got := s.ActiveCount(); got != 1 {
		t.Fatalf("expected one active timer, got %d", got)
	}
	next, ok := s.NextRun("wf-1")
	if !ok {
		t.Fatal("expected wf-1 to be registered")
	}
	if want := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("expected next run %s from second expression, got %s", want, next)
	}
	entries := s.Entries()
	if len(entries) != 1 || entries[0].Expression != "0 9 * * 1-5" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestRegisterRejectsInvalidExpression(t *testing.T) {
	s := New(logger.Discard(), Options{Now: fixedNow})
	defer func() { _ = s.Shutdown(context.Background()) }()

	if err := s.Register("wf-1", "0 9 * * *", noop); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := s.Register("wf-1", "every tuesday", noop)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if entries := s.Entries(); len(entries) != 1 || entries[0].Expression != "0 9 * * *" {
		t.Fatalf("expected previous timer untouched, got %+v", entries)
	}
}

func TestShutdownLeavesNoTimers(t *testing.T) {
	s := New(logger.Discard(), Options{Now: fixedNow})
	s.Start()
	for _, id := range []string{"a", "b", "c"} {
		if err := s.Register(id, "@every 1h", noop); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if got := s.ActiveCount(); got != 0 {
		t.Fatalf("expected zero timers after shutdown, got %d", got)
	}
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	if err := s.Register("d", "@every 1h", noop); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict after shutdown, got %v", err)
	}
}

func TestUnregister(t *testing.T) {
	s := New(logger.Discard(), Options{Now: fixedNow})
	defer func() { _ = s.Shutdown(context.Background()) }()

	_ = s.Register("a", "@daily", noop)
	if !s.Unregister("a") {
		t.Fatal("expected unregister to report removal")
	}
	if s.Unregister("a") {
		t.Fatal("expected second unregister to be a no-op")
	}
	if _, ok := s.NextRun("a"); ok {
		t.Fatal("expected no next run after unregister")
	}
}

func TestRunNowSurfacesFailuresAndKeepsTimer(t *testing.T) {
	s := New(logger.Discard(), Options{Now: fixedNow})
	defer func() { _ = s.Shutdown(context.Background()) }()

	_ = s.Register("fails", "@daily", func(context.Context, time.Time) error { return errors.New("boom") })
	_ = s.Register("panics", "@daily", func(context.Context, time.Time) error { panic("kaboom") })

	if err := s.RunNow(context.Background(), "fails"); err == nil {
		t.Fatal("expected firing error")
	}
	if err := s.RunNow(context.Background(), "panics"); err == nil {
		t.Fatal("expected recovered panic as error")
	}
	if got := s.ActiveCount(); got != 2 {
		t.Fatalf("expected both timers to survive failures, got %d", got)
	}
	if err := s.RunNow(context.Background(), "missing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFailedFiringDoesNotStopTimer(t *testing.T) {
	s := New(logger.Discard(), Options{})
	var fired atomic.Int32
	if err := s.Register("flaky", "@every 1s", func(context.Context, time.Time) error {
		fired.Add(1)
		return errors.New("downstream unavailable")
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	s.Start()
	defer func() { _ = s.Shutdown(context.Background()) }()

	deadline := time.Now().Add(5 * time.Second)
	for fired.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if fired.Load() < 2 {
		t.Fatalf("expected timer to keep firing after a failure, fired %d times", fired.Load())
	}
}

func TestRunSweepsRepeatsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- RunSweeps(ctx, logger.Discard(), SweepJob{
			Name:     "test",
			Interval: 10 * time.Millisecond,
			Run: func(context.Context, time.Time) error {
				if runs.Add(1) == 1 {
					return errors.New("first pass fails")
				}
				return nil
			},
		})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
	if runs.Load() < 3 {
		t.Fatalf("expected at least 3 passes, got %d", runs.Load())
	}
}
