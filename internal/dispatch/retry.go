package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// PermanentError marks a failure that retrying cannot fix (a 4xx from a
// destination, a marshalling bug). Do stops immediately when an operation
// returns one.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so Do will not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Do executes op up to maxAttempts times, sleeping base * 2^(attempt-1) plus
// up to 25% jitter between attempts. It returns the number of attempts made
// and the last error (nil on success). Context cancellation aborts the wait
// and surfaces ctx.Err().
//
// One helper for every downstream collaborator; destinations never implement
// their own backoff.
func Do(ctx context.Context, maxAttempts int, base time.Duration, op func(context.Context) error) (int, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return attempt - 1, lastErr
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return attempt, nil
		}

		var perm *PermanentError
		if errors.As(lastErr, &perm) {
			return attempt, lastErr
		}

		if attempt == maxAttempts {
			break
		}

		delay := backoffDelay(base, attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, lastErr
		case <-timer.C:
		}
	}

	return maxAttempts, lastErr
}

// backoffDelay computes base * 2^(attempt-1) with jitter. attempt is the
// 1-indexed attempt that just failed.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	delay := base << uint(attempt-1)
	// Guard against shift overflow for absurd attempt counts
	if delay < base {
		delay = base
	}

	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
