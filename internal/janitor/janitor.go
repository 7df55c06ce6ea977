// Package janitor periodically purges expired drafts and idempotency records.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/souq-assistant/internal/shared"
	"github.com/ashureev/souq-assistant/internal/store"
)

// DefaultInterval is used when no interval is configured.
const DefaultInterval = 10 * time.Minute

// Sweeper is the store operation the janitor drives.
type Sweeper interface {
	DeleteExpired(ctx context.Context, now time.Time, draftTTL time.Duration) (drafts int64, records int64, err error)
}

var _ Sweeper = store.Repository(nil)

// Start runs a background goroutine that sweeps every interval until ctx is
// done. Drafts untouched for draftTTL are deleted along with expired
// idempotency records.
func Start(ctx context.Context, repo Sweeper, interval, draftTTL time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Janitor started", "interval", interval, "draft_ttl", draftTTL)

		for {
			select {
			case <-ticker.C:
				Sweep(ctx, repo, time.Now(), draftTTL)
			case <-ctx.Done():
				slog.Info("Janitor shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep runs one cleanup pass. Failures are logged and retried on the next
// tick.
func Sweep(ctx context.Context, repo Sweeper, now time.Time, draftTTL time.Duration) (drafts, records int64) {
	err := shared.Retry(ctx, "janitor sweep", shared.DefaultRetryPolicy, func() error {
		var err error
		drafts, records, err = repo.DeleteExpired(ctx, now, draftTTL)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Janitor: context canceled during sweep, cleanup may be incomplete", "error", err)
			return 0, 0
		}
		slog.Error("Janitor sweep failed", "error", err)
		return 0, 0
	}
	if drafts > 0 || records > 0 {
		slog.Info("Janitor sweep completed", "drafts_deleted", drafts, "records_deleted", records)
	}
	return drafts, records
}
