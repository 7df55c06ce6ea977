package shared

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy bounds a retry loop with exponential backoff.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	// Retryable reports whether err is worth another attempt. SQLite
	// busy/locked errors are always retried.
	Retryable func(error) bool
}

// DefaultRetryPolicy retries SQLite concurrency errors three times:
// 50ms, 100ms, 200ms.
var DefaultRetryPolicy = RetryPolicy{Attempts: 4, BaseDelay: 50 * time.Millisecond}

// Retry runs fn until it succeeds, returns a non-retryable error or the
// attempts are used up. It stops early when ctx is done.
func Retry(ctx context.Context, op string, p RetryPolicy, fn func() error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	var err error
	for i := 0; i < p.Attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		retryable := IsSQLiteConflictError(err) || (p.Retryable != nil && p.Retryable(err))
		if !retryable || i == p.Attempts-1 {
			break
		}
		delay := p.BaseDelay * time.Duration(1<<i)
		slog.Debug("Retrying after conflict", "op", op, "attempt", i+1, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}
	return err
}
