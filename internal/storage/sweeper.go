package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RunTransientSweeper deletes transients older than maxAge every interval
// until ctx is done.
func RunTransientSweeper(ctx context.Context, store Store, maxAge, interval time.Duration, log zerolog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := store.SweepTransients(ctx, time.Now().Add(-maxAge))
			if err != nil {
				log.Error().Err(err).Msg("transient sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int("removed", n).Dur("max_age", maxAge).Msg("swept stale transients")
			}
		}
	}
}
