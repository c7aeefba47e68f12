package partition

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Runner drives partition maintenance on a schedule independent of the write
// path. Creation failures are logged for operator attention rather than
// surfaced to ingestion.
type Runner struct {
	manager      *Manager
	interval     time.Duration
	orderHorizon int // months ahead
	tradeHorizon int // days ahead
}

func NewRunner(manager *Manager, interval time.Duration, orderHorizonMonths, tradeHorizonDays int) *Runner {
	return &Runner{
		manager:      manager,
		interval:     interval,
		orderHorizon: orderHorizonMonths,
		tradeHorizon: tradeHorizonDays,
	}
}

func (r *Runner) Start(ctx context.Context) {
	logger := log.With().Str("component", "partition_runner").Logger()
	logger.Info().Dur("interval", r.interval).Msg("starting partition maintenance")

	// Run once at startup so a fresh deployment has partitions before the
	// first tick.
	r.runOnce()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down partition maintenance")
			return
		case <-ticker.C:
			r.runOnce()
		}
	}
}

func (r *Runner) runOnce() {
	logger := log.With().Str("component", "partition_runner").Logger()

	if _, err := r.manager.EnsureOrderPartitions(r.orderHorizon); err != nil {
		logger.Error().Err(err).Msg("order partition creation incomplete")
	}
	if _, err := r.manager.EnsureTradePartitions(r.tradeHorizon); err != nil {
		logger.Error().Err(err).Msg("trade partition creation incomplete")
	}
	if _, err := r.manager.ApplyRetention(); err != nil {
		logger.Error().Err(err).Msg("retention pass incomplete")
	}
}
