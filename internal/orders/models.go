package orders

import (
	"time"

	"github.com/coinpeak/exchange-core/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// IdempotencyRecord maps a client-supplied key to the order it created.
// Keys are scoped to the submitting user and honoured for 24 hours.
type IdempotencyRecord struct {
	gorm.Model
	UserID         string    `gorm:"uniqueIndex:idx_idem_user_key" json:"user_id"`
	IdempotencyKey string    `gorm:"uniqueIndex:idx_idem_user_key" json:"idempotency_key"`
	OrderID        string    `json:"order_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// TransitionFields carries the optional fields the matching process sets
// alongside a status change.
type TransitionFields struct {
	FilledQuantity *decimal.Decimal `json:"filled_quantity,omitempty"`
	AvgFillPrice   *decimal.Decimal `json:"avg_fill_price,omitempty"`
}

// allowedTransitions is the full order lifecycle. Terminal statuses have no
// entry: nothing leaves FILLED, CANCELLED, REJECTED or EXPIRED.
var allowedTransitions = map[types.OrderStatus][]types.OrderStatus{
	types.StatusPending: {
		types.StatusOpen,
		types.StatusRejected,
	},
	types.StatusOpen: {
		types.StatusPartiallyFilled,
		types.StatusFilled,
		types.StatusCancelled,
		types.StatusExpired,
	},
	types.StatusPartiallyFilled: {
		types.StatusOpen,
		types.StatusPartiallyFilled,
		types.StatusFilled,
		types.StatusCancelled,
	},
}

func transitionAllowed(from, to types.OrderStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
