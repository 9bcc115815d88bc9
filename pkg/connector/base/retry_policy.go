package base

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy retries an operation with exponential backoff and jitter.
// Whether an error is worth retrying is the caller's decision, passed as a
// predicate; the policy only owns the attempt budget and the delays.
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// NewRetryPolicy creates a policy with maxAttempts total attempts and
// exponential backoff starting at initialDelay.
func NewRetryPolicy(maxAttempts int, initialDelay time.Duration) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialDelay:    initialDelay,
		MaxDelay:        5 * time.Minute,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// ExecuteWithCondition runs fn until it succeeds, shouldRetry rejects its
// error, or the attempt budget runs out. A rejected error is returned
// unwrapped so the caller can still classify it.
func (rp *RetryPolicy) ExecuteWithCondition(ctx context.Context, fn func() error, shouldRetry func(error) bool) error {
	var lastErr error

	for attempt := 0; attempt < rp.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return err
		}
		if attempt == rp.MaxAttempts-1 {
			break
		}

		timer := time.NewTimer(rp.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", rp.MaxAttempts, lastErr)
}

// delay computes the jittered backoff for one attempt.
func (rp *RetryPolicy) delay(attempt int) time.Duration {
	d := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempt))
	if d > float64(rp.MaxDelay) {
		d = float64(rp.MaxDelay)
	}

	if rp.RandomizeFactor > 0 {
		delta := d * rp.RandomizeFactor
		d = d - delta + rand.Float64()*2*delta
	}

	return time.Duration(d)
}

// GetDelay previews the delay for a given attempt.
func (rp *RetryPolicy) GetDelay(attempt int) time.Duration {
	return rp.delay(attempt)
}
