package lincs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recordingSleep(waits *[]time.Duration) sleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func testPolicy(waits *[]time.Duration) retryPolicy {
	return retryPolicy{
		MaxAttempts: 3,
		Base:        2 * time.Second,
		Max:         30 * time.Second,
		Factor:      2,
		Sleep:       recordingSleep(waits),
	}
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	var waits []time.Duration
	p := testPolicy(&waits)

	attempts, err := p.run(context.Background(), func(int) error { return nil }, func(error) bool { return true })
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if len(waits) != 0 {
		t.Errorf("unexpected waits: %v", waits)
	}
}

func TestRetryRecoversAfterTransientFailures(t *testing.T) {
	var waits []time.Duration
	var notified []time.Duration
	p := testPolicy(&waits)
	p.OnWait = func(attempt int, wait time.Duration, err error) {
		notified = append(notified, wait)
	}

	transient := errors.New("connection reset")
	calls := 0
	attempts, err := p.run(context.Background(), func(int) error {
		calls++
		if calls < 3 {
			return transient
		}
		return nil
	}, func(error) bool { return true })

	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait %d = %v, want %v", i, waits[i], want[i])
		}
	}
	if len(notified) != len(want) {
		t.Errorf("OnWait fired %d times, want %d", len(notified), len(want))
	}
}

func TestRetryStopsOnTerminalError(t *testing.T) {
	var waits []time.Duration
	p := testPolicy(&waits)

	terminal := errors.New("status 404")
	calls := 0
	attempts, err := p.run(context.Background(), func(int) error {
		calls++
		return terminal
	}, func(error) bool { return false })

	if !errors.Is(err, terminal) {
		t.Fatalf("run returned %v, want %v", err, terminal)
	}
	if calls != 1 || attempts != 1 {
		t.Errorf("calls = %d, attempts = %d, want 1 and 1", calls, attempts)
	}
	if len(waits) != 0 {
		t.Errorf("terminal error must not wait, got %v", waits)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	var waits []time.Duration
	p := testPolicy(&waits)

	transient := errors.New("i/o timeout")
	calls := 0
	attempts, err := p.run(context.Background(), func(int) error {
		calls++
		return transient
	}, func(error) bool { return true })

	if !errors.Is(err, transient) {
		t.Fatalf("run returned %v, want last attempt error", err)
	}
	if calls != 3 || attempts != 3 {
		t.Errorf("calls = %d, attempts = %d, want 3 and 3", calls, attempts)
	}
	if len(waits) != 2 {
		t.Errorf("waits = %v, want exactly 2 entries", waits)
	}
}

func TestRetryAbortsWhenSleepCancelled(t *testing.T) {
	p := retryPolicy{
		MaxAttempts: 3,
		Base:        2 * time.Second,
		Max:         30 * time.Second,
		Factor:      2,
		Sleep: func(ctx context.Context, d time.Duration) error {
			return context.Canceled
		},
	}

	calls := 0
	attempts, err := p.run(context.Background(), func(int) error {
		calls++
		return errors.New("transient")
	}, func(error) bool { return true })

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("run returned %v, want context.Canceled", err)
	}
	if calls != 1 || attempts != 1 {
		t.Errorf("calls = %d, attempts = %d, want 1 and 1", calls, attempts)
	}
}

func TestContextSleepReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := contextSleep(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("contextSleep returned %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("contextSleep blocked for %v on a cancelled context", elapsed)
	}
}
