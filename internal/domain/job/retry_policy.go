// Package job holds pure domain policies for the job pipeline.
package job

import (
	"errors"
	"time"
)

// ErrEmptySchedule indicates a retry policy was constructed without delays.
var ErrEmptySchedule = errors.New("retry schedule must contain at least one delay")

// DefaultRetrySchedule is the fixed backoff schedule indexed by attempt
// number. Three entries for three retries; the last entry is reused if more
// attempts are configured than schedule entries.
func DefaultRetrySchedule() []time.Duration {
	return []time.Duration{5 * time.Second, 25 * time.Second, 125 * time.Second}
}

// RetryPolicy decides whether a failed attempt is retried and how long the
// job is held out of the queue before it goes back on.
type RetryPolicy struct {
	schedule []time.Duration
}

// NewRetryPolicy constructs a RetryPolicy from a backoff schedule.
func NewRetryPolicy(schedule []time.Duration) (*RetryPolicy, error) {
	if len(schedule) == 0 {
		return nil, ErrEmptySchedule
	}
	copied := make([]time.Duration, len(schedule))
	copy(copied, schedule)
	return &RetryPolicy{schedule: copied}, nil
}

// MustNewRetryPolicy constructs a RetryPolicy and panics on error.
// Use only where the schedule is known-valid, such as wiring defaults.
func MustNewRetryPolicy(schedule []time.Duration) *RetryPolicy {
	p, err := NewRetryPolicy(schedule)
	if err != nil {
		panic(err)
	}
	return p
}

// RetryDecision captures the outcome of evaluating a failed attempt.
type RetryDecision struct {
	Retry   bool
	Attempt int
	Delay   time.Duration
}

// Evaluate resolves what happens after a handler failure. retries is the
// ledger's counter after the increment for this failure; maxRetries is the
// job's fixed budget. The job is retried while retries < maxRetries and
// moves to failed on the attempt that reaches the budget.
func (p *RetryPolicy) Evaluate(retries, maxRetries int) RetryDecision {
	if p == nil || retries >= maxRetries || retries <= 0 {
		return RetryDecision{Retry: false, Attempt: retries}
	}
	return RetryDecision{
		Retry:   true,
		Attempt: retries,
		Delay:   p.DelayFor(retries),
	}
}

// DelayFor returns the backoff delay for a 1-based attempt number.
// Attempts past the end of the schedule reuse the final entry.
func (p *RetryPolicy) DelayFor(attempt int) time.Duration {
	if p == nil || len(p.schedule) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(p.schedule) {
		return p.schedule[len(p.schedule)-1]
	}
	return p.schedule[attempt-1]
}
