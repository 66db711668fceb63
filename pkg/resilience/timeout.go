package resilience

import (
	"context"
	"fmt"
	"time"
)

// TimeoutError reports an operation that did not finish within its limit.
// It matches context.DeadlineExceeded under errors.Is.
type TimeoutError struct {
	Operation string
	Limit     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %v (limit: %v)", e.Operation, context.DeadlineExceeded, e.Limit)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// WithTimeout runs fn under a context that expires after timeout and
// returns as soon as the deadline passes, even if fn has not returned yet;
// fn is expected to abandon its work once its context is done. A
// non-positive timeout runs fn with ctx unchanged.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(timeoutCtx) }()

	select {
	case err := <-done:
		if err != nil && timeoutCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return &TimeoutError{Operation: name, Limit: timeout}
		}
		return err
	case <-timeoutCtx.Done():
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", name, context.Cause(ctx))
		}
		return &TimeoutError{Operation: name, Limit: timeout}
	}
}
