package db

import (
	"context"
	"time"

	"utmrelay/internal/logging"
	"utmrelay/internal/metrics"
)

// RunRetentionOnce performs a single pass of attribution cleanup.
func RunRetentionOnce(ctx context.Context, store *AttributionStore, horizon time.Duration) (int64, error) {
	n, err := store.PurgeOlderThan(ctx, horizon)
	if err != nil {
		return 0, err
	}
	metrics.AttributionPurged.Add(float64(n))
	return n, nil
}

// StartRetentionWorker launches a background goroutine that purges
// attribution records older than horizon once at startup and then every
// interval, until ctx is cancelled. Sale records are never purged.
func StartRetentionWorker(ctx context.Context, store *AttributionStore, horizon, interval time.Duration) {
	log := logging.With("retention")
	run := func(phase string) {
		n, err := RunRetentionOnce(ctx, store, horizon)
		if err != nil {
			log.Error().Err(err).Str("phase", phase).Msg("attribution cleanup failed")
			return
		}
		log.Debug().Int64("deleted", n).Str("phase", phase).Msg("attribution cleanup done")
	}

	go func() {
		run("startup")

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run("tick")
			}
		}
	}()
}
