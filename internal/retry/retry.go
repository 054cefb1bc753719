// Package retry runs fallible operations with exponential backoff and a
// bounded timeout per attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/outreach-funnel/internal/errors"
)

// Options configures Do. Zero values fall back to DefaultOptions.
type Options struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	// OnRetry is called before sleeping, with the zero-based attempt that failed.
	OnRetry func(attempt int, err error)
}

func DefaultOptions() Options {
	return Options{
		MaxRetries:     3,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

func (o Options) normalized() Options {
	def := DefaultOptions()
	if o.MaxRetries <= 0 {
		o.MaxRetries = def.MaxRetries
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = def.BaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = def.MaxDelay
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = o.BaseDelay
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = def.AttemptTimeout
	}
	return o
}

// NonRetryableError aborts Do on the first occurrence.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return e.Err.Error() }
func (e *NonRetryableError) Unwrap() error { return e.Err }

// RetryableError forces a retry regardless of the wrapped error's kind.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// ExhaustedError is returned once every attempt has failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// IsRetryable classifies an error. Explicit markers win, then attempt
// timeouts, then the appErrors kind. Untagged errors are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var nonRetryable *NonRetryableError
	if errors.As(err, &nonRetryable) {
		return false
	}
	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr.Kind.Retryable() || appErr.Kind == appErrors.KindInternal
	}
	return true
}

// Delay is the backoff before the retry that follows attempt (zero-based):
// min(base * 2^attempt, max).
func Delay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Do runs op up to MaxRetries times. Each attempt gets its own deadline; the
// parent context cancels the whole loop.
func Do[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	opts = opts.normalized()
	var zero T
	var lastErr error

	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				return zero, err
			}
			return zero, &ExhaustedError{Attempts: attempt, Last: lastErr}
		}

		v, err := runAttempt(ctx, opts.AttemptTimeout, op)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return zero, err
		}
		if attempt == opts.MaxRetries-1 {
			break
		}

		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err)
		}
		if err := sleep(ctx, Delay(attempt, opts.BaseDelay, opts.MaxDelay)); err != nil {
			return zero, &ExhaustedError{Attempts: attempt + 1, Last: lastErr}
		}
	}

	return zero, &ExhaustedError{Attempts: opts.MaxRetries, Last: lastErr}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, opts Options, op func(ctx context.Context) error) error {
	_, err := Do(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

type result[T any] struct {
	v   T
	err error
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result[T]{err: Permanent(fmt.Errorf("operation panicked: %v", r))}
			}
		}()
		v, err := op(attemptCtx)
		done <- result[T]{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-attemptCtx.Done():
		var zero T
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("attempt timed out after %s: %w", timeout, context.DeadlineExceeded)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
