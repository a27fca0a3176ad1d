// Package retry provides a bounded exponential-backoff policy for transient
// upstream faults. Only errors accepted by the policy's classifier retry;
// everything else returns immediately.
package retry

import (
	"context"
	"time"
)

// Policy describes how an operation retries.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// BaseDelay seeds the backoff; it doubles per attempt up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Classify reports whether an error is transient. Nil retries nothing.
	Classify func(error) bool
}

// DefaultPolicy suits throttled object stores: a few quick tries with a
// capped backoff.
func DefaultPolicy(classify func(error) bool) Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Classify:    classify,
	}
}

// Do runs op until it succeeds, exhausts attempts, fails permanently, or the
// context ends. The last error is returned.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
		if err = op(ctx); err == nil {
			return nil
		}
		if p.Classify == nil || !p.Classify(err) {
			return err
		}
	}
	return err
}
