package provision

import (
	"context"
	"time"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultMaxAttempts  = 10
)

// pollUntil waits one interval, then runs check, repeating until check
// reports done or the attempts are exhausted. Directory reads run behind
// directory writes, so the first check is already delayed.
func pollUntil[T any](ctx context.Context, resource string, interval time.Duration, maxAttempts int, check func(context.Context) (T, bool, error)) (T, error) {
	var zero T
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-ticker.C:
			value, done, err := check(ctx)
			if err != nil {
				return zero, err
			}
			if done {
				return value, nil
			}
		}
	}
	return zero, &TimeoutError{
		Resource: resource,
		Attempts: maxAttempts,
		Elapsed:  time.Duration(maxAttempts) * interval,
	}
}
