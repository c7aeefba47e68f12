package orders

import (
	"errors"
	"fmt"
	"time"

	"github.com/coinpeak/exchange-core/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateOrder persists a new order, its watchlist projection when the order
// needs threshold monitoring, and an optional idempotency record, all in one
// transaction. A missed watchlist write here would break the watchlist
// invariant, which is why this is not split across transactions.
func (d *Database) CreateOrder(order *types.Order, idempotencyKey string) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(order).Error; err != nil {
		tx.Rollback()
		return err
	}

	if order.NeedsWatch() {
		entry := watchEntryFor(order)
		if err := tx.Create(&entry).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	if idempotencyKey != "" {
		// A lapsed record still occupies the unique (user, key) slot; clear it
		// so the key becomes reusable after its 24h validity window.
		if err := tx.Unscoped().
			Where("user_id = ? AND idempotency_key = ? AND expires_at <= ?",
				order.UserID, idempotencyKey, time.Now()).
			Delete(&IdempotencyRecord{}).Error; err != nil {
			tx.Rollback()
			return err
		}
		record := IdempotencyRecord{
			UserID:         order.UserID,
			IdempotencyKey: idempotencyKey,
			OrderID:        order.OrderID,
			ExpiresAt:      time.Now().Add(24 * time.Hour),
		}
		if err := tx.Create(&record).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit().Error
}

// Transition applies a status change under the lifecycle rules. The status
// write is a compare-and-swap on the previously observed status, so two racing
// writers cannot both succeed, and the watchlist projection is updated in the
// same transaction.
func (d *Database) Transition(orderID string, newStatus types.OrderStatus, fields TransitionFields) (*types.Order, error) {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var order types.Order
	if err := tx.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("order %s: %w", orderID, types.ErrNotFound)
		}
		return nil, err
	}

	if order.Status.IsTerminal() {
		tx.Rollback()
		return nil, fmt.Errorf("order %s is terminal in status %s: %w", orderID, order.Status, types.ErrInvalidStateTransition)
	}
	if !transitionAllowed(order.Status, newStatus) {
		tx.Rollback()
		return nil, fmt.Errorf("order %s cannot move %s -> %s: %w", orderID, order.Status, newStatus, types.ErrInvalidStateTransition)
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":     newStatus,
		"updated_at": now,
	}
	if fields.FilledQuantity != nil {
		if fields.FilledQuantity.GreaterThan(order.Quantity) {
			tx.Rollback()
			return nil, fmt.Errorf("filled quantity %s exceeds order quantity %s: %w",
				fields.FilledQuantity, order.Quantity, types.ErrInvalidOrderSpec)
		}
		updates["filled_quantity"] = *fields.FilledQuantity
		order.FilledQuantity = *fields.FilledQuantity
	}
	if fields.AvgFillPrice != nil {
		updates["avg_fill_price"] = *fields.AvgFillPrice
		order.AvgFillPrice = fields.AvgFillPrice
	}
	switch newStatus {
	case types.StatusFilled:
		updates["filled_at"] = now
		order.FilledAt = &now
	case types.StatusCancelled:
		updates["cancelled_at"] = now
		order.CancelledAt = &now
	case types.StatusExpired:
		updates["expired_at"] = now
		order.ExpiredAt = &now
	}

	res := tx.Model(&types.Order{}).
		Where("order_id = ? AND status = ?", orderID, order.Status).
		Updates(updates)
	if res.Error != nil {
		tx.Rollback()
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// A concurrent writer moved the order first.
		tx.Rollback()
		return nil, fmt.Errorf("order %s changed concurrently: %w", orderID, types.ErrInvalidStateTransition)
	}

	prev := order.Status
	order.Status = newStatus
	order.UpdatedAt = now

	if err := d.syncWatch(tx, &order, prev); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// syncWatch keeps the stop-order watchlist consistent with the order row
// inside the caller's transaction.
func (d *Database) syncWatch(tx *gorm.DB, order *types.Order, prev types.OrderStatus) error {
	if !order.OrderType.TriggersFromWatchlist() {
		return nil
	}
	if order.NeedsWatch() {
		if prev == types.StatusOpen {
			return nil // already present
		}
		entry := watchEntryFor(order)
		return tx.Create(&entry).Error
	}
	return tx.Where("order_id = ?", order.OrderID).Delete(&types.StopWatchEntry{}).Error
}

func watchEntryFor(order *types.Order) types.StopWatchEntry {
	entry := types.StopWatchEntry{
		OrderID:    order.OrderID,
		UserID:     order.UserID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   order.Quantity,
		EnqueuedAt: time.Now(),
	}
	if order.StopPrice != nil {
		entry.StopPrice = *order.StopPrice
	}
	return entry
}

func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("order %s: %w", orderID, types.ErrNotFound)
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrderForUser(orderID, userID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ? AND user_id = ?", orderID, userID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("order %s: %w", orderID, types.ErrNotFound)
		}
		return nil, err
	}
	return &order, nil
}

// FindActiveByUser returns the user's resting orders, optionally narrowed to
// one symbol.
func (d *Database) FindActiveByUser(userID, symbol string) ([]types.Order, error) {
	q := d.db.Where("user_id = ? AND status IN ?", userID,
		[]types.OrderStatus{types.StatusOpen, types.StatusPartiallyFilled})
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	var out []types.Order
	if err := q.Order("created_at ASC, order_id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ActiveOrdersForSymbol returns one side of the book in price-time priority:
// best price first, then earliest submission, then order id as the final
// deterministic tie-break. The matching process depends on this exact order.
func (d *Database) ActiveOrdersForSymbol(symbol string, side types.Side) ([]types.Order, error) {
	priceDir := "ASC"
	if side == types.SideBuy {
		priceDir = "DESC"
	}
	var out []types.Order
	err := d.db.
		Where("symbol = ? AND side = ? AND status IN ? AND limit_price IS NOT NULL",
			symbol, side, []types.OrderStatus{types.StatusOpen, types.StatusPartiallyFilled}).
		Order(fmt.Sprintf("limit_price %s, created_at ASC, order_id ASC", priceDir)).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Database) GetIdempotencyRecord(userID, key string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	err := d.db.Where("user_id = ? AND idempotency_key = ?", userID, key).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// WatchEntries returns the stop-order watchlist, optionally for one symbol.
func (d *Database) WatchEntries(symbol string) ([]types.StopWatchEntry, error) {
	q := d.db.Model(&types.StopWatchEntry{})
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	var out []types.StopWatchEntry
	if err := q.Order("enqueued_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ExpirableOrders returns OPEN good-till-date orders whose expiry has passed.
func (d *Database) ExpirableOrders(now time.Time) ([]types.Order, error) {
	var out []types.Order
	err := d.db.
		Where("status = ? AND time_in_force = ? AND expires_at IS NOT NULL AND expires_at <= ?",
			types.StatusOpen, types.TIFGoodTillDate, now).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
