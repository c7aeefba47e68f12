package alerts

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/coinpeak/exchange-core/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateAlert enforces the duplicate invariant inside one transaction: at most
// one active alert per (user, symbol, condition, target price).
func (d *Database) CreateAlert(alert *types.PriceAlert) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&types.PriceAlert{}).
			Where("user_id = ? AND symbol = ? AND condition = ? AND target_price = ? AND active = ?",
				alert.UserID, alert.Symbol, alert.Condition, alert.TargetPrice, true).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("active alert exists for %s %s %s: %w",
				alert.Symbol, alert.Condition, alert.TargetPrice, types.ErrDuplicateAlert)
		}
		return tx.Create(alert).Error
	})
}

func (d *Database) GetAlertForUser(alertID, userID string) (*types.PriceAlert, error) {
	var alert types.PriceAlert
	err := d.db.Where("alert_id = ? AND user_id = ?", alertID, userID).First(&alert).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("alert %s: %w", alertID, types.ErrNotFound)
		}
		return nil, err
	}
	return &alert, nil
}

func (d *Database) AlertsForUser(userID string) ([]types.PriceAlert, error) {
	var out []types.PriceAlert
	if err := d.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ActiveAlerts returns every alert eligible for evaluation this cycle.
func (d *Database) ActiveAlerts() ([]types.PriceAlert, error) {
	var out []types.PriceAlert
	if err := d.db.Where("active = ?", true).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// TriggerAlert deactivates an alert and records the trigger, conditionally on
// the alert still being active. Two racing evaluation cycles cannot both win:
// the loser sees zero rows affected and must not dispatch a notification.
func (d *Database) TriggerAlert(alertID string, now time.Time) (bool, error) {
	res := d.db.Model(&types.PriceAlert{}).
		Where("alert_id = ? AND active = ?", alertID, true).
		Updates(map[string]interface{}{
			"active":             false,
			"last_triggered_at":  now,
			"last_checked_at":    now,
			"notifications_sent": gorm.Expr("notifications_sent + 1"),
			"updated_at":         now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// TouchChecked batches the observability-only last-checked write for alerts
// that were evaluated and did not trigger.
func (d *Database) TouchChecked(alertIDs []string, now time.Time) error {
	if len(alertIDs) == 0 {
		return nil
	}
	return d.db.Model(&types.PriceAlert{}).
		Where("alert_id IN ?", alertIDs).
		Update("last_checked_at", now).Error
}

// ReactivateAlert rearms a triggered alert and clears its trigger history.
// The duplicate invariant holds across reactivation too: rearming is refused
// while another active alert covers the same (user, symbol, condition, target)
// tuple.
func (d *Database) ReactivateAlert(alertID, userID string) (*types.PriceAlert, error) {
	var alert types.PriceAlert
	err := d.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("alert_id = ? AND user_id = ?", alertID, userID).First(&alert).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("alert %s: %w", alertID, types.ErrNotFound)
			}
			return err
		}

		var count int64
		err = tx.Model(&types.PriceAlert{}).
			Where("user_id = ? AND symbol = ? AND condition = ? AND target_price = ? AND active = ? AND alert_id <> ?",
				alert.UserID, alert.Symbol, alert.Condition, alert.TargetPrice, true, alert.AlertID).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("active alert exists for %s %s %s: %w",
				alert.Symbol, alert.Condition, alert.TargetPrice, types.ErrDuplicateAlert)
		}

		return tx.Model(&types.PriceAlert{}).
			Where("alert_id = ?", alertID).
			Updates(map[string]interface{}{
				"active":             true,
				"last_triggered_at":  nil,
				"notifications_sent": 0,
				"updated_at":         time.Now(),
			}).Error
	})
	if err != nil {
		return nil, err
	}

	alert.Active = true
	alert.LastTriggeredAt = nil
	alert.NotificationsSent = 0
	return &alert, nil
}

// DeleteAlert removes the row entirely.
func (d *Database) DeleteAlert(alertID, userID string) error {
	res := d.db.Unscoped().
		Where("alert_id = ? AND user_id = ?", alertID, userID).
		Delete(&types.PriceAlert{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("alert %s: %w", alertID, types.ErrNotFound)
	}
	return nil
}
