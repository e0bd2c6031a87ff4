package scheduler

import (
	"context"
	"time"

	"github.com/goodtune/intentgate/internal/storage"
	"github.com/rs/zerolog"
)

// RetentionScheduler prunes decision records older than the retention
// period on a fixed interval.
type RetentionScheduler struct {
	store     storage.Store
	retention time.Duration
	interval  time.Duration
	logger    zerolog.Logger
	stopChan  chan struct{}
}

// NewRetentionScheduler creates a retention scheduler. retention is how
// long decision records are kept; a zero or negative retention disables
// pruning.
func NewRetentionScheduler(store storage.Store, retention time.Duration, logger zerolog.Logger) *RetentionScheduler {
	return &RetentionScheduler{
		store:     store,
		retention: retention,
		interval:  time.Hour,
		logger:    logger.With().Str("component", "retention-scheduler").Logger(),
		stopChan:  make(chan struct{}),
	}
}

// Start begins the retention scheduler.
func (rs *RetentionScheduler) Start() {
	if rs.retention <= 0 {
		rs.logger.Info().Msg("Decision log retention disabled")
		return
	}
	go rs.run()
	rs.logger.Info().
		Dur("retention", rs.retention).
		Msg("Decision log retention scheduler started")
}

// Stop stops the retention scheduler.
func (rs *RetentionScheduler) Stop() {
	close(rs.stopChan)
	rs.logger.Info().Msg("Decision log retention scheduler stopped")
}

// run is the main scheduler loop.
func (rs *RetentionScheduler) run() {
	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	rs.prune()
	for {
		select {
		case <-ticker.C:
			rs.prune()
		case <-rs.stopChan:
			return
		}
	}
}

func (rs *RetentionScheduler) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-rs.retention)
	deleted, err := rs.store.Decisions().DeleteBefore(ctx, cutoff)
	if err != nil {
		rs.logger.Error().Err(err).Msg("Failed to prune old decision records")
		return
	}
	if deleted > 0 {
		rs.logger.Info().
			Int("deleted", deleted).
			Time("cutoff", cutoff).
			Msg("Pruned old decision records")
	}
}
