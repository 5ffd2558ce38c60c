package risk

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Cleaner deletes persisted windows older than the retention period.
type Cleaner interface {
	Cleanup(ctx context.Context, before time.Time, beforeDay string) (int64, error)
}

// Janitor drops expired buckets from the live store and from persistence.
type Janitor struct {
	store     WindowStore
	cleaner   Cleaner
	clock     Clock
	retention time.Duration
	interval  time.Duration
}

// NewJanitor creates a janitor. cleaner may be nil.
func NewJanitor(store WindowStore, cleaner Cleaner, clock Clock, retention, interval time.Duration) *Janitor {
	return &Janitor{
		store:     store,
		cleaner:   cleaner,
		clock:     clock,
		retention: retention,
		interval:  interval,
	}
}

// Start runs Sweep every interval until ctx is done.
func (j *Janitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.Sweep(ctx)
			}
		}
	}()
}

// Sweep removes everything older than the retention period.
func (j *Janitor) Sweep(ctx context.Context) {
	cutoff := j.clock.Now().Add(-j.retention)
	_, before := j.clock.Hour(cutoff)
	beforeDay := j.clock.Day(cutoff)

	removed, err := j.store.Prune(ctx, before, beforeDay)
	if err != nil {
		log.Error().Err(err).Msg("Failed to prune risk windows")
	}

	var persisted int64
	if j.cleaner != nil {
		persisted, err = j.cleaner.Cleanup(ctx, before, beforeDay)
		if err != nil {
			log.Error().Err(err).Msg("Failed to clean up persisted risk windows")
		}
	}

	if removed > 0 || persisted > 0 {
		log.Info().Int("live", removed).Int64("persisted", persisted).Str("before", beforeDay).
			Msg("Expired risk windows removed")
	}
}
