package engine

import (
	"context"
	"time"

	"github.com/rendis/actionkit/pkg/schema"
)

// Backoff kinds.
const (
	BackoffNone        = "none"
	BackoffConstant    = "constant"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// RetryPolicy bounds how a cancelled pass is re-run.
type RetryPolicy struct {
	MaxRetries int           `json:"max_retries"`
	Backoff    string        `json:"backoff"`
	Delay      time.Duration `json:"delay"`
	MaxDelay   time.Duration `json:"max_delay,omitempty"`
}

// DefaultRetryPolicy retries a pass three times with a short exponential
// backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Backoff:    BackoffExponential,
		Delay:      5 * time.Millisecond,
		MaxDelay:   100 * time.Millisecond,
	}
}

// IsRecoverable classifies whether a cancelled pass should be retried.
// Only contention with a pending write and an expired fast track qualify.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	return schema.IsRecoverable(err)
}

// ShouldRetry reports whether attempt (0-based count of retries already
// made) may be followed by another one after err.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	return IsRecoverable(err) && attempt < p.MaxRetries
}

// ComputeBackoff calculates the delay before retry number attempt (0-based).
func ComputeBackoff(policy RetryPolicy, attempt int) time.Duration {
	if policy.Delay <= 0 || policy.Backoff == BackoffNone {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case BackoffExponential:
		delay = policy.Delay
		for i := 0; i < attempt && i < 32; i++ {
			delay *= 2
			if policy.MaxDelay > 0 && delay > policy.MaxDelay {
				break
			}
		}
	case BackoffLinear:
		delay = policy.Delay * time.Duration(attempt+1)
	default:
		delay = policy.Delay
	}

	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// WaitForBackoff sleeps for delay or returns early with the cancellation
// cause.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
