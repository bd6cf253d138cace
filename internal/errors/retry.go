package errors

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Backoff paces repeated fetches of the same URL after a transient error.
type Backoff struct {
	Initial    time.Duration // Delay before the first retry
	Max        time.Duration // Upper bound for any delay
	Multiplier float64       // Growth factor between attempts
	Jitter     float64       // Random jitter factor (0-1)
}

// DefaultBackoff returns the pacing used between same-URL retries.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    500 * time.Millisecond,
		Max:        10 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.2,
	}
}

// Delay returns the jittered wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	base := BackoffDuration(attempt, b.Initial, b.Max, b.Multiplier)
	if b.Jitter <= 0 || base <= 0 {
		return base
	}

	jitter := b.Jitter * float64(base)
	offset := (rand.Float64() * 2 * jitter) - jitter
	return time.Duration(float64(base) + offset)
}

// Wait blocks for Delay(attempt) or until ctx is done.
func (b Backoff) Wait(ctx context.Context, attempt int) error {
	d := b.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// BackoffDuration calculates the backoff duration for a given attempt.
func BackoffDuration(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	if attempt <= 0 {
		return initial
	}

	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if delay > float64(max) {
		return max
	}

	return time.Duration(delay)
}
