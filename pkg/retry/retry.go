package retry

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
)

// RetryPolicy defines how to retry an operation
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy is a sensible default retry policy
var DefaultPolicy = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// IsTransientFunc defines if an error is transient and should be retried
type IsTransientFunc func(error) bool

// Result reports how a retried operation concluded. Attempts counts every
// invocation of the function, including the successful one. LastErr is nil
// on success.
type Result struct {
	Attempts int
	LastErr  error
}

// Do executes a function with retries according to the policy
func Do(ctx context.Context, policy RetryPolicy, isTransient IsTransientFunc, fn func() error) error {
	return DoWithResult(ctx, policy, isTransient, fn).LastErr
}

// DoWithResult executes a function with retries and reports the attempt
// count alongside the terminal error.
func DoWithResult(ctx context.Context, policy RetryPolicy, isTransient IsTransientFunc, fn func() error) Result {
	res := Result{}
	delay := &backoff.Backoff{
		Min:    policy.InitialBackoff,
		Max:    policy.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		res.Attempts++
		res.LastErr = fn()
		if res.LastErr == nil {
			return res
		}

		if !isTransient(res.LastErr) {
			return res
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			res.LastErr = ctx.Err()
			return res
		case <-time.After(delay.Duration()):
		}
	}

	return res
}
