package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type AlertCondition string

const (
	ConditionAbove AlertCondition = "ABOVE"
	ConditionBelow AlertCondition = "BELOW"
)

// Met reports whether the condition holds for the given market price.
// Both boundaries are inclusive: an alert at exactly the target price fires.
func (c AlertCondition) Met(current, target decimal.Decimal) bool {
	switch c {
	case ConditionAbove:
		return current.GreaterThanOrEqual(target)
	case ConditionBelow:
		return current.LessThanOrEqual(target)
	}
	return false
}

// PriceAlert is a single-shot user price threshold. It deactivates the instant
// it triggers and only fires again after an explicit user reactivation.
type PriceAlert struct {
	gorm.Model        `json:"-"`
	AlertID           string          `gorm:"uniqueIndex" json:"alert_id"`
	UserID            string          `gorm:"index" json:"user_id"`
	Symbol            string          `gorm:"index:idx_alerts_active_symbol" json:"symbol"`
	Condition         AlertCondition  `json:"condition"`
	TargetPrice       decimal.Decimal `gorm:"type:decimal(32,16)" json:"target_price"`
	Active            bool            `gorm:"index:idx_alerts_active_symbol" json:"active"`
	NotificationsSent int             `json:"notifications_sent"`
	LastTriggeredAt   *time.Time      `json:"last_triggered_at,omitempty"`
	LastCheckedAt     *time.Time      `json:"last_checked_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}
