package orders

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/coinpeak/exchange-core/internal/types"
)

// Reconciler periodically re-derives the stop-order watchlist from the order
// store. The synchronous transactional writes are the primary mechanism; this
// is a safety net that repairs drift and reports it, since any repair here
// means a write path missed an update.
type Reconciler struct {
	db       *Database
	interval time.Duration
}

func NewReconciler(service *Service, interval time.Duration) *Reconciler {
	return &Reconciler{
		db:       service.db,
		interval: interval,
	}
}

func (r *Reconciler) Start(ctx context.Context) {
	logger := log.With().Str("component", "watchlist_reconciler").Logger()
	logger.Info().Dur("interval", r.interval).Msg("starting watchlist reconciler")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down watchlist reconciler")
			return
		case <-ticker.C:
			added, removed, err := r.Reconcile()
			if err != nil {
				logger.Error().Err(err).Msg("watchlist reconciliation failed")
				continue
			}
			if added > 0 || removed > 0 {
				logger.Warn().
					Int("added", added).
					Int("removed", removed).
					Msg("watchlist drift repaired; a write path missed an update")
			}
		}
	}
}

// Reconcile rebuilds the watchlist to exactly the set of OPEN STOP and
// STOP_LIMIT orders, in one transaction so readers never see a partial rebuild.
func (r *Reconciler) Reconcile() (added, removed int, err error) {
	err = r.db.db.Transaction(func(tx *gorm.DB) error {
		var want []types.Order
		if err := tx.
			Where("order_type IN ? AND status = ?",
				[]types.OrderType{types.OrderTypeStop, types.OrderTypeStopLimit},
				types.StatusOpen).
			Find(&want).Error; err != nil {
			return err
		}

		var have []types.StopWatchEntry
		if err := tx.Find(&have).Error; err != nil {
			return err
		}

		wantByID := make(map[string]*types.Order, len(want))
		for i := range want {
			wantByID[want[i].OrderID] = &want[i]
		}
		haveByID := make(map[string]struct{}, len(have))
		for i := range have {
			haveByID[have[i].OrderID] = struct{}{}
		}

		for i := range have {
			if _, ok := wantByID[have[i].OrderID]; !ok {
				if err := tx.Where("order_id = ?", have[i].OrderID).
					Delete(&types.StopWatchEntry{}).Error; err != nil {
					return err
				}
				removed++
			}
		}
		for id, order := range wantByID {
			if _, ok := haveByID[id]; !ok {
				entry := watchEntryFor(order)
				if err := tx.Create(&entry).Error; err != nil {
					return err
				}
				added++
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return added, removed, nil
}
