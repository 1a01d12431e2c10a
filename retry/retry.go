// Package retry runs an operation under a bounded attempt budget.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrStopped is reported when the stop hook ends the loop before the
// attempt budget is spent.
var ErrStopped = errors.New("retry: stopped")

// Policy bounds the number of attempts and the wait between them.
type Policy struct {
	MaxAttempts int           // values < 1 are treated as 1
	Delay       time.Duration // wait before the second attempt
	Multiplier  float64       // growth factor for later waits; <= 1 keeps Delay fixed
	MaxDelay    time.Duration // cap for grown waits; 0 means no cap
}

// Outcome describes how a Do call ended.
type Outcome struct {
	Attempts int
	Err      error // last attempt error, nil on success
	Stopped  bool  // stop hook or context ended the loop early
}

// OK reports whether the final attempt succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil && !o.Stopped
}

// Hooks lets call sites observe and interrupt the loop.
type Hooks struct {
	// Stop is checked before every attempt.
	Stop func() bool
	// Interrupt, when closed, cuts a pending delay short.
	Interrupt <-chan struct{}
	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error, wait time.Duration)
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err so that Do stops retrying immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	wait := p.Delay
	if p.Multiplier > 1 {
		for i := 1; i < attempt; i++ {
			wait = time.Duration(float64(wait) * p.Multiplier)
			if p.MaxDelay > 0 && wait >= p.MaxDelay {
				return p.MaxDelay
			}
		}
	}
	if p.MaxDelay > 0 && wait > p.MaxDelay {
		return p.MaxDelay
	}
	return wait
}

// Do calls op until it succeeds, returns a permanent error, the attempt
// budget is spent, or the loop is stopped.
func (p Policy) Do(ctx context.Context, hooks Hooks, op func(ctx context.Context, attempt int) error) Outcome {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}

	var out Outcome
	for attempt := 1; attempt <= max; attempt++ {
		if hooks.Stop != nil && hooks.Stop() {
			out.Stopped = true
			return out
		}
		if err := ctx.Err(); err != nil {
			out.Stopped = true
			if out.Err == nil {
				out.Err = err
			}
			return out
		}

		out.Attempts = attempt
		out.Err = op(ctx, attempt)
		if out.Err == nil || IsPermanent(out.Err) || attempt == max {
			return out
		}

		wait := p.Backoff(attempt)
		if hooks.OnRetry != nil {
			hooks.OnRetry(attempt, out.Err, wait)
		}
		if !sleep(ctx, wait, hooks.Interrupt) {
			out.Stopped = true
			return out
		}
	}
	return out
}

// sleep waits for d and reports false when interrupted.
func sleep(ctx context.Context, d time.Duration, interrupt <-chan struct{}) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-interrupt:
		return false
	}
}
