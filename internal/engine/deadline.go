package engine

import (
	"errors"
	"time"
)

// ErrExecutionTimeout is returned at a step boundary once the run has
// exhausted its time budget. It is fatal to the run.
var ErrExecutionTimeout = errors.New("execution time exceeded")

// Deadline is the cooperative time budget of one run.
// A zero At never expires. Now defaults to time.Now.
type Deadline struct {
	At  time.Time
	Now func() time.Time
}

// NewDeadline returns a deadline timeout from now, or a zero deadline when
// timeout is not positive.
func NewDeadline(timeout time.Duration) Deadline {
	if timeout <= 0 {
		return Deadline{}
	}
	return Deadline{At: time.Now().Add(timeout)}
}

// DeadlineFromMillis builds a deadline from a unix timestamp in milliseconds.
func DeadlineFromMillis(ms int64) Deadline {
	if ms <= 0 {
		return Deadline{}
	}
	return Deadline{At: time.UnixMilli(ms)}
}

func (d Deadline) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Check returns ErrExecutionTimeout once the deadline has passed.
func (d Deadline) Check() error {
	if d.At.IsZero() {
		return nil
	}
	if d.now().After(d.At) {
		return ErrExecutionTimeout
	}
	return nil
}

// Remaining reports the time left, or 0 for a zero deadline.
func (d Deadline) Remaining() time.Duration {
	if d.At.IsZero() {
		return 0
	}
	if r := d.At.Sub(d.now()); r > 0 {
		return r
	}
	return 0
}
