package generation

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Backoff configures exponential retry with additive jitter.
type Backoff struct {
	Attempts  int // total tries including the first
	Initial   time.Duration
	Max       time.Duration
	Factor    float64
	MaxJitter time.Duration
}

// DefaultGenerateBackoff covers the whole create+poll sequence.
func DefaultGenerateBackoff() Backoff {
	return Backoff{Attempts: 10, Initial: time.Second, Max: 30 * time.Second, Factor: 2, MaxJitter: 250 * time.Millisecond}
}

// DefaultQuotaBackoff is used by FetchQuota.
func DefaultQuotaBackoff() Backoff {
	return Backoff{Attempts: 5, Initial: 1500 * time.Millisecond, Max: 30 * time.Second, Factor: 2, MaxJitter: 250 * time.Millisecond}
}

// DefaultFeedbackBackoff is used by SendFeedback.
func DefaultFeedbackBackoff() Backoff {
	return Backoff{Attempts: 3, Initial: time.Second, Max: 30 * time.Second, Factor: 2, MaxJitter: 250 * time.Millisecond}
}

// Delay returns the wait before retry n (1-based), without jitter.
func (b Backoff) Delay(n int) time.Duration {
	d := b.Initial
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	for i := 1; i < n; i++ {
		d = time.Duration(float64(d) * factor)
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

func (b Backoff) jitter() time.Duration {
	if b.MaxJitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(b.MaxJitter) + 1))
}

type retryFunc func(ctx context.Context, attempt int) error

// retry runs fn until it succeeds, fails terminally, or the budget is spent.
// onRetry is called before each wait.
func retry(ctx context.Context, b Backoff, fn retryFunc, onRetry func(attempt int, wait time.Duration, err error)) error {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !IsRetryable(err) {
			return err
		}
		last = err
		if attempt == attempts {
			break
		}
		wait := b.Delay(attempt) + b.jitter()
		if onRetry != nil {
			onRetry(attempt, wait, err)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, last)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
