package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rendis/flowengine/pkg/schema"
)

// Backoff strategies understood by ComputeBackoff.
const (
	BackoffConstant    = "constant"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// RetryPolicy bounds the retries of an outbound call.
// Attempts counts retries, not the first try.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
	Backoff  string
	MaxDelay time.Duration
}

// ProgressRetryPolicy is used for progress updates: 200ms, 400ms, 600ms.
var ProgressRetryPolicy = RetryPolicy{Attempts: 3, Delay: 200 * time.Millisecond, Backoff: BackoffLinear}

// StepRetryPolicy is used for step bodies with retryOnFailure enabled.
var StepRetryPolicy = RetryPolicy{Attempts: 3, Delay: 500 * time.Millisecond, Backoff: BackoffExponential, MaxDelay: 10 * time.Second}

// IsRetryableError classifies whether an error should be retried.
// Errors are retryable unless they are cancellations, expired run deadlines
// or EngineErrors with non-retryable codes.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrExecutionTimeout) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Context cancelled is NOT retryable: the run is shutting down.
	if errors.Is(err, context.Canceled) {
		return false
	}

	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		return engErr.IsRetryable()
	}

	// Anything else, network failures included, is retried.
	return true
}

// ComputeBackoff calculates the delay before retry number attempt (0-based).
func ComputeBackoff(policy RetryPolicy, attempt int) time.Duration {
	base := policy.Delay
	if base <= 0 {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case BackoffExponential:
		multiplier := time.Duration(1)
		for i := 0; i < attempt; i++ {
			multiplier *= 2
		}
		delay = base * multiplier
	case BackoffLinear:
		delay = base * time.Duration(attempt+1)
	default:
		delay = base
	}

	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// WaitForBackoff sleeps for delay or returns early if ctx is cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// policy's retries are exhausted. The last error is returned.
// wait defaults to WaitForBackoff.
func Retry(ctx context.Context, policy RetryPolicy, wait func(context.Context, time.Duration) error, fn func(attempt int) error) error {
	if wait == nil {
		wait = WaitForBackoff
	}
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(attempt)
		if err == nil || attempt >= policy.Attempts || !IsRetryableError(err) {
			return err
		}
		if werr := wait(ctx, ComputeBackoff(policy, attempt)); werr != nil {
			return err
		}
	}
}
