package claims

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/ashita-ai/hoken/internal/model"
)

// backoff is jittered exponential backoff capped at max.
type backoff struct {
	base time.Duration
	max  time.Duration
}

// delay returns the wait before retry number attempt (0-based).
func (b backoff) delay(attempt int) time.Duration {
	if b.base <= 0 {
		return 0
	}
	d := b.base << min(attempt, 30)
	if b.max > 0 && (d > b.max || d <= 0) {
		d = b.max
	}
	jitter := time.Duration(rand.Int64N(int64(b.base))) //nolint:gosec // jitter doesn't need crypto-strength randomness
	if b.max > 0 && d+jitter > b.max {
		return b.max
	}
	return d + jitter
}

// sleep waits for d or until ctx is done.
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

// withRetry calls fn up to maxRetries+1 times, each under its own timeout,
// retrying only errors model.Retryable accepts. Cancellation of ctx itself
// stops retrying immediately.
func withRetry[T any](ctx context.Context, maxRetries int, timeout time.Duration, b backoff, fn func(context.Context) (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := range maxRetries + 1 {
		out, err = callWithTimeout(ctx, timeout, fn)
		if err == nil || !model.Retryable(err) || ctx.Err() != nil {
			return out, err
		}
		if attempt == maxRetries {
			break
		}
		if serr := sleep(ctx, b.delay(attempt)); serr != nil {
			return out, serr
		}
	}
	return out, err
}

func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}
