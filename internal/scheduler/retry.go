package scheduler

import (
	"errors"
	"fmt"
	"time"
)

// RetryError asks the worker to run the job again after Delay as a fresh job instance.
// When Consume is set the new instance carries attempt+1; otherwise the attempt count is
// kept, which is how a local throttle defers work without spending the retry budget.
type RetryError struct {
	Delay   time.Duration
	Reason  string
	Consume bool
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry in %s: %s", e.Delay, e.Reason)
}

func Retry(delay time.Duration, reason string) error {
	return &RetryError{Delay: delay, Reason: reason, Consume: true}
}

func Requeue(delay time.Duration, reason string) error {
	return &RetryError{Delay: delay, Reason: reason}
}

func AsRetry(err error) (*RetryError, bool) {
	var re *RetryError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
