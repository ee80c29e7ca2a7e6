// Package backoff provides the sleep-and-retry primitive used by the
// dispatch cascade when a candidate is rate limited.
package backoff

import (
	"context"
	"math"
	"time"
)

// Policy computes the delay before retry n. The zero value is unusable;
// use Default for the standard exponential policy.
type Policy struct {
	Initial time.Duration
	Factor  float64
}

// Default doubles a 500ms initial interval on every retry.
var Default = Policy{Initial: 500 * time.Millisecond, Factor: 2}

// Delay returns the interval before retry attempt (0-based). A positive
// hint, such as an upstream Retry-After interval, takes precedence over
// the computed value.
func (p Policy) Delay(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		return hint
	}
	return time.Duration(float64(p.Initial) * math.Pow(p.Factor, float64(attempt)))
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry runs fn up to max times, sleeping between attempts according to
// the policy. fn reports whether its failure is worth retrying and may
// supply a delay hint; a zero hint falls back to the policy. Retry returns
// nil on the first success, the last error once attempts are exhausted or
// the failure is not retryable, and the context error if ctx ends during a
// sleep.
func Retry(ctx context.Context, max int, p Policy, fn func(ctx context.Context) (hint time.Duration, retryable bool, err error)) error {
	var lastErr error
	for attempt := 0; attempt < max; attempt++ {
		hint, retryable, err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || attempt == max-1 {
			return lastErr
		}
		if err := Sleep(ctx, p.Delay(attempt, hint)); err != nil {
			return err
		}
	}
	return lastErr
}
