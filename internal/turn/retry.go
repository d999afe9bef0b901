package turn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aibozo/code-sub000/internal/backoff"
)

// FatalKind marks a provider error as non-retryable: retrying it would
// never help (the session is interrupted, credentials are missing, or a
// usage limit has been hit).
type FatalKind string

const (
	FatalInterrupted       FatalKind = "interrupted"
	FatalEnvVar            FatalKind = "env_var"
	FatalUsageLimitReached FatalKind = "usage_limit_reached"
	FatalUsageNotIncluded  FatalKind = "usage_not_included"
)

// FatalError wraps a provider error that must not be retried.
type FatalError struct {
	Kind FatalKind
	Err  error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// RetryAfterError is a provider error that carries a server-specified
// retry-after duration, taking precedence over the computed backoff.
type RetryAfterError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RetryAfterError) Error() string { return e.Err.Error() }
func (e *RetryAfterError) Unwrap() error { return e.Err }

// StreamFunc performs one provider streaming attempt.
type StreamFunc func(ctx context.Context) (<-chan StreamEvent, error)

// RunWithRetry calls attempt up to maxAttempts times, backing off between
// failures with policy (or the error's own retry-after duration when
// present). onRetry, if non-nil, is called once per retry with the attempt
// number about to be made and the error that triggered it, so callers can
// surface a BackgroundEvent. A *FatalError is never retried.
func RunWithRetry(ctx context.Context, policy backoff.BackoffPolicy, maxAttempts int, attempt StreamFunc, onRetry func(nextAttempt int, err error)) (<-chan StreamEvent, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for n := 1; n <= maxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		events, err := attempt(ctx)
		if err == nil {
			return events, nil
		}
		lastErr = err

		var fatal *FatalError
		if errors.As(err, &fatal) {
			return nil, fatal
		}
		if n == maxAttempts {
			break
		}

		wait := backoff.ComputeBackoff(policy, n)
		var retryAfter *RetryAfterError
		if errors.As(err, &retryAfter) && retryAfter.RetryAfter > 0 {
			wait = retryAfter.RetryAfter
		}
		if onRetry != nil {
			onRetry(n+1, err)
		}
		if sleepErr := backoff.SleepWithContext(ctx, wait); sleepErr != nil {
			return nil, sleepErr
		}
	}
	return nil, fmt.Errorf("turn: %w: %w", backoff.ErrMaxAttemptsExhausted, lastErr)
}

// ParseRetryAfterHeader extracts a Retry-After duration from an HTTP
// response, supporting both the delay-seconds and HTTP-date forms.
func ParseRetryAfterHeader(h http.Header) (time.Duration, bool) {
	value := h.Get("Retry-After")
	if value == "" {
		return 0, false
	}
	if secs, err := time.ParseDuration(value + "s"); err == nil {
		return secs, true
	}
	if when, err := http.ParseTime(value); err == nil {
		d := time.Until(when)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
