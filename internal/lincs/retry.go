package lincs

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
)

// retryState enumerates the phases of a bounded-retry call. The machine is
// explicit so tests can drive it with a fake sleep instead of wall-clock
// waits.
type retryState int

const (
	stateAttempting retryState = iota
	stateWaiting
	stateSucceeded
	stateFailed
)

// sleepFunc blocks for d or until the context is cancelled.
type sleepFunc func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryPolicy runs an operation up to MaxAttempts times, doubling the wait
// between retryable failures starting from Base. Whether a failure is
// retryable is decided by the caller; non-retryable failures terminate the
// machine immediately.
type retryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
	Factor      float64

	// Sleep is swapped out in tests. Nil means a real context-aware sleep.
	Sleep sleepFunc

	// OnWait observes each backoff wait before it happens.
	OnWait func(attempt int, wait time.Duration, err error)
}

// run drives the state machine. It returns the number of attempts performed
// and the last error when the machine finishes in stateFailed.
func (p retryPolicy) run(ctx context.Context, op func(attempt int) error, retryable func(error) bool) (int, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = contextSleep
	}

	b := &backoff.Backoff{
		Min:    p.Base,
		Max:    p.Max,
		Factor: p.Factor,
	}

	state := stateAttempting
	attempt := 0
	var wait time.Duration
	var lastErr error

	for {
		switch state {
		case stateAttempting:
			attempt++
			lastErr = op(attempt)
			switch {
			case lastErr == nil:
				state = stateSucceeded
			case attempt >= p.MaxAttempts || !retryable(lastErr):
				state = stateFailed
			default:
				wait = b.Duration()
				state = stateWaiting
			}

		case stateWaiting:
			if p.OnWait != nil {
				p.OnWait(attempt, wait, lastErr)
			}
			if err := sleep(ctx, wait); err != nil {
				lastErr = err
				state = stateFailed
			} else {
				state = stateAttempting
			}

		case stateSucceeded:
			return attempt, nil

		case stateFailed:
			return attempt, lastErr
		}
	}
}
