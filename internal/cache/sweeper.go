package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// sweepLockKey is the advisory lock key guarding the cleanup sweep.
const sweepLockKey int64 = 0x63616368 // "cach"

// AdvisoryLocker runs a function while holding a session advisory lock.
// *database.DB satisfies this.
type AdvisoryLocker interface {
	WithAdvisoryLock(ctx context.Context, key int64, fn func(ctx context.Context) error) (bool, error)
}

// Sweeper periodically removes expired durable cache entries. Each sweep runs
// under a Postgres advisory lock so concurrent replicas do not duplicate the
// work.
type Sweeper struct {
	locker   AdvisoryLocker
	cache    *TwoTierCache
	interval time.Duration
	logger   zerolog.Logger
}

// NewSweeper creates a sweeper over the given cache.
func NewSweeper(locker AdvisoryLocker, cache *TwoTierCache, interval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		locker:   locker,
		cache:    cache,
		interval: interval,
		logger:   logger.With().Str("component", "cache_sweeper").Logger(),
	}
}

// Run sweeps once immediately and then on the configured interval until ctx
// is cancelled. Blocks until then.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("starting cache sweeper")

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("cache sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	acquired, err := s.locker.WithAdvisoryLock(ctx, sweepLockKey, func(ctx context.Context) error {
		removed, err := s.cache.CleanupExpired(ctx)
		if err != nil {
			return err
		}

		var total int64
		for _, n := range removed {
			total += n
		}
		s.logger.Debug().Int64("removed", total).Msg("cache sweep completed")
		return nil
	})

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error().Err(err).Msg("cache sweep failed")
		return
	}
	if !acquired {
		s.logger.Debug().Msg("cache sweep skipped, lock held elsewhere")
	}
}
