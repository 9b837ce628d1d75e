// Package services – ExpiryReaper
//
// ExpiryReaper reclaims storage held by expired temporary messages. Reads
// already hide those rows, so the reaper is never needed for correctness.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/observability"
	"github.com/tbourn/go-dm-backend/internal/repo"
)

// ExpiryReaper periodically deletes expired temporary messages.
type ExpiryReaper struct {
	DB       *gorm.DB
	Interval time.Duration
	Now      func() time.Time
	Log      zerolog.Logger
	// Files removes the attachment files of reaped messages. Nil keeps them.
	Files FileRemover
}

// NewExpiryReaper returns a reaper ticking every interval (hourly if <= 0).
func NewExpiryReaper(db *gorm.DB, interval time.Duration, log zerolog.Logger) *ExpiryReaper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ExpiryReaper{
		DB:       db,
		Interval: interval,
		Now:      time.Now,
		Log:      log.With().Str("component", "reaper").Logger(),
	}
}

// Sweep deletes every temporary message whose expiry is before now, with its
// attachment rows and their files, and returns the number of messages
// removed. Expired idempotency records are purged in the same pass.
func (r *ExpiryReaper) Sweep(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	if r.Now != nil {
		now = r.Now().UTC()
	}

	n, stored, err := repo.DeleteExpiredMessages(ctx, r.DB, now)
	if err != nil {
		observability.ReaperRuns.WithLabelValues("error").Inc()
		return 0, storeErr(err)
	}
	observability.ReaperRuns.WithLabelValues("ok").Inc()
	observability.ReapedMessages.Add(float64(n))
	removeStored(ctx, r.Files, stored, &r.Log)

	if purged, err := repo.PurgeIdempotency(ctx, r.DB, now); err != nil {
		r.Log.Warn().Err(err).Msg("idempotency purge failed")
	} else if purged > 0 {
		r.Log.Debug().Int64("purged", purged).Msg("idempotency records purged")
	}
	return n, nil
}

// Run sweeps once immediately and then on every tick until ctx is
// cancelled. A failed sweep is logged and retried on the next tick.
func (r *ExpiryReaper) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	r.sweepAndLog(ctx)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Log.Info().Msg("reaper stopped")
			return
		case <-t.C:
			r.sweepAndLog(ctx)
		}
	}
}

func (r *ExpiryReaper) sweepAndLog(ctx context.Context) {
	start := time.Now()
	n, err := r.Sweep(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.Log.Error().Err(err).Msg("expiry sweep failed")
		return
	}
	r.Log.Info().
		Int64("deleted", n).
		Dur("took", time.Since(start)).
		Msg("expiry sweep done")
}
