package alerts

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coinpeak/exchange-core/internal/notify"
	"github.com/coinpeak/exchange-core/internal/ticker"
	"github.com/coinpeak/exchange-core/internal/types"
)

// Evaluator periodically checks active alerts against live market prices.
// Alerts are grouped by symbol so each cycle makes one ticker call per
// distinct symbol, however many users watch it, and every alert on a symbol
// sees the same point-in-time price within a cycle.
type Evaluator struct {
	db           *Database
	source       ticker.Source
	dispatcher   *notify.Dispatcher
	interval     time.Duration
	fetchTimeout time.Duration
}

func NewEvaluator(db *Database, source ticker.Source, dispatcher *notify.Dispatcher, interval time.Duration) *Evaluator {
	return &Evaluator{
		db:           db,
		source:       source,
		dispatcher:   dispatcher,
		interval:     interval,
		fetchTimeout: 5 * time.Second,
	}
}

// Start runs the evaluation loop until the context is cancelled. The single
// goroutine drains a capacity-one ticker channel, so a cycle that overruns the
// interval drops the ticks it missed instead of queueing them.
func (e *Evaluator) Start(ctx context.Context) {
	logger := log.With().Str("component", "alert_evaluator").Logger()
	logger.Info().Dur("interval", e.interval).Msg("starting alert evaluator")

	tick := time.NewTicker(e.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down alert evaluator")
			return
		case <-tick.C:
			if err := e.RunCycle(ctx); err != nil {
				logger.Error().Err(err).Msg("evaluation cycle failed")
			}
		}
	}
}

// RunCycle performs one full evaluation pass. Ticker failures are isolated per
// symbol: one unavailable symbol never aborts the rest of the cycle.
func (e *Evaluator) RunCycle(ctx context.Context) error {
	logger := log.With().Str("component", "alert_evaluator").Logger()

	active, err := e.db.ActiveAlerts()
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return nil
	}

	bySymbol := make(map[string][]types.PriceAlert)
	for _, alert := range active {
		bySymbol[alert.Symbol] = append(bySymbol[alert.Symbol], alert)
	}

	for symbol, group := range bySymbol {
		fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
		quote, err := e.source.GetLatestPrice(fetchCtx, symbol)
		cancel()
		if err != nil {
			logger.Warn().
				Str("symbol", symbol).
				Int("alerts", len(group)).
				Err(err).
				Msg("price fetch failed; skipping symbol this cycle")
			continue
		}

		e.evaluateGroup(group, quote)
	}
	return nil
}

// evaluateGroup checks every alert in one symbol group against a single quote.
// On trigger, the conditional deactivation commits before any notification is
// dispatched and is never rolled back on dispatch failure: at-most-one-trigger
// is the hard guarantee, delivery is best-effort.
func (e *Evaluator) evaluateGroup(group []types.PriceAlert, quote *ticker.Quote) {
	logger := log.With().Str("component", "alert_evaluator").Logger()

	now := time.Now()
	var checked []string
	for i := range group {
		alert := &group[i]

		if !alert.Condition.Met(quote.Price, alert.TargetPrice) {
			checked = append(checked, alert.AlertID)
			continue
		}

		won, err := e.db.TriggerAlert(alert.AlertID, now)
		if err != nil {
			logger.Error().
				Str("alert_id", alert.AlertID).
				Err(err).
				Msg("failed to persist alert trigger")
			continue
		}
		if !won {
			// A concurrent evaluator got here first; it owns the notification.
			continue
		}

		logger.Info().
			Str("alert_id", alert.AlertID).
			Str("symbol", alert.Symbol).
			Str("target_price", alert.TargetPrice.String()).
			Str("observed_price", quote.Price.String()).
			Msg("alert triggered")

		e.dispatcher.Notify(alert.UserID, notify.Event{
			AlertID:       alert.AlertID,
			Symbol:        alert.Symbol,
			Condition:     string(alert.Condition),
			TargetPrice:   alert.TargetPrice,
			ObservedPrice: quote.Price,
			TriggeredAt:   now,
		})
	}

	if err := e.db.TouchChecked(checked, now); err != nil {
		logger.Warn().Err(err).Msg("failed to update last-checked timestamps")
	}
}
