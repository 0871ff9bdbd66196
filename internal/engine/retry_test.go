package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/flowengine/pkg/schema"
)

func TestIsRetryableError_Nil(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
}

func TestIsRetryableError_Context(t *testing.T) {
	assert.False(t, IsRetryableError(context.Canceled))
	assert.True(t, IsRetryableError(context.DeadlineExceeded))
}

func TestIsRetryableError_ExecutionTimeout(t *testing.T) {
	assert.False(t, IsRetryableError(ErrExecutionTimeout))
	assert.False(t, IsRetryableError(fmt.Errorf("step: %w", ErrExecutionTimeout)))
}

func TestIsRetryableError_EngineErrorCodes(t *testing.T) {
	for _, code := range []string{schema.ErrCodeExecution, schema.ErrCodeStore, schema.ErrCodeStepFailed, schema.ErrCodeProgress} {
		assert.True(t, IsRetryableError(schema.NewError(code, "x")), code)
	}
	for _, code := range []string{schema.ErrCodeValidation, schema.ErrCodeNotFound, schema.ErrCodeConflict, schema.ErrCodeInterpolation, schema.ErrCodeVault} {
		assert.False(t, IsRetryableError(schema.NewError(code, "x")), code)
	}
}

func TestIsRetryableError_PlainErrors(t *testing.T) {
	for _, p := range []string{"connection refused", "unexpected EOF", "bad gateway", "something went wrong"} {
		assert.True(t, IsRetryableError(errors.New(p)), p)
	}
}

func TestIsRetryableError_WrappedErrors(t *testing.T) {
	netErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("no route to host")}
	assert.True(t, IsRetryableError(fmt.Errorf("call: %w", netErr)))
	assert.False(t, IsRetryableError(fmt.Errorf("call: %w", context.Canceled)))
	assert.False(t, IsRetryableError(fmt.Errorf("step: %w", schema.NewError(schema.ErrCodeValidation, "bad input"))))
}

func TestComputeBackoff(t *testing.T) {
	tests := []struct {
		name   string
		policy RetryPolicy
		want   []time.Duration
	}{
		{"zero delay", RetryPolicy{Backoff: BackoffExponential}, []time.Duration{0, 0}},
		{"constant", RetryPolicy{Delay: 100 * time.Millisecond, Backoff: BackoffConstant},
			[]time.Duration{100 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond}},
		{"linear", RetryPolicy{Delay: 10 * time.Millisecond, Backoff: BackoffLinear},
			[]time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}},
		{"exponential", RetryPolicy{Delay: 10 * time.Millisecond, Backoff: BackoffExponential},
			[]time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 80 * time.Millisecond}},
		{"capped", RetryPolicy{Delay: 10 * time.Millisecond, Backoff: BackoffExponential, MaxDelay: 50 * time.Millisecond},
			[]time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond, 50 * time.Millisecond}},
		{"unknown strategy is constant", RetryPolicy{Delay: 100 * time.Millisecond, Backoff: "none"},
			[]time.Duration{100 * time.Millisecond, 100 * time.Millisecond}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for attempt, want := range tt.want {
				assert.Equal(t, want, ComputeBackoff(tt.policy, attempt), "attempt %d", attempt)
			}
		})
	}
}

func TestProgressRetryPolicy_Delays(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, ComputeBackoff(ProgressRetryPolicy, 0))
	assert.Equal(t, 400*time.Millisecond, ComputeBackoff(ProgressRetryPolicy, 1))
	assert.Equal(t, 600*time.Millisecond, ComputeBackoff(ProgressRetryPolicy, 2))
}

func TestWaitForBackoff(t *testing.T) {
	assert.NoError(t, WaitForBackoff(context.Background(), 0))
	assert.NoError(t, WaitForBackoff(context.Background(), -1))

	start := time.Now()
	assert.NoError(t, WaitForBackoff(context.Background(), 50*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestWaitForBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := WaitForBackoff(ctx, 5*time.Second)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetry_StopsAfterAttempts(t *testing.T) {
	var waits []time.Duration
	wait := func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	calls := 0
	err := Retry(context.Background(), ProgressRetryPolicy, wait, func(int) error {
		calls++
		return errors.New("bad gateway")
	})

	assert.EqualError(t, err, "bad gateway")
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond, 600 * time.Millisecond}, waits)
}

func TestRetry_SucceedsEventually(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{Attempts: 3}, nil, func(attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("temporary failure")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), StepRetryPolicy, nil, func(int) error {
		calls++
		return schema.NewError(schema.ErrCodeValidation, "bad input")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
