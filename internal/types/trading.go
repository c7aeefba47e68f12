package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderType string

const (
	OrderTypeMarket       OrderType = "MARKET"
	OrderTypeLimit        OrderType = "LIMIT"
	OrderTypeStop         OrderType = "STOP"
	OrderTypeStopLimit    OrderType = "STOP_LIMIT"
	OrderTypeTrailingStop OrderType = "TRAILING_STOP"
)

// RequiresStopPrice reports whether orders of this type carry a stop/trigger price.
func (t OrderType) RequiresStopPrice() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit || t == OrderTypeTrailingStop
}

// RequiresLimitPrice reports whether orders of this type carry a limit price.
func (t OrderType) RequiresLimitPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

// TriggersFromWatchlist reports whether resting orders of this type belong on
// the stop-order watchlist. Trailing stops re-anchor against the market and
// are tracked by the matching process itself, not by the watchlist.
func (t OrderType) TriggersFromWatchlist() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit
}

type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusOpen            OrderStatus = "OPEN"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether no further status transition is permitted.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

type TimeInForce string

const (
	TIFGoodTillCancel TimeInForce = "GTC"
	TIFGoodTillDate   TimeInForce = "GTD"
	TIFImmediate      TimeInForce = "IOC"
	TIFFillOrKill     TimeInForce = "FOK"
)

type Order struct {
	gorm.Model     `json:"-"`
	OrderID        string           `gorm:"uniqueIndex" json:"order_id"`
	UserID         string           `gorm:"index:idx_orders_user_status" json:"user_id"`
	Symbol         string           `gorm:"index:idx_orders_symbol_status" json:"symbol"`
	Side           Side             `json:"side"`
	OrderType      OrderType        `json:"order_type"`
	Status         OrderStatus      `gorm:"index:idx_orders_user_status;index:idx_orders_symbol_status" json:"status"`
	Quantity       decimal.Decimal  `gorm:"type:decimal(32,16)" json:"quantity"`
	FilledQuantity decimal.Decimal  `gorm:"type:decimal(32,16)" json:"filled_quantity"`
	LimitPrice     *decimal.Decimal `gorm:"type:decimal(32,16)" json:"limit_price,omitempty"`
	StopPrice      *decimal.Decimal `gorm:"type:decimal(32,16)" json:"stop_price,omitempty"`
	AvgFillPrice   *decimal.Decimal `gorm:"type:decimal(32,16)" json:"avg_fill_price,omitempty"`
	TimeInForce    TimeInForce      `json:"time_in_force"`
	IdempotencyKey *string          `json:"idempotency_key,omitempty"`
	ExpiresAt      *time.Time       `json:"expires_at,omitempty"`
	FilledAt       *time.Time       `json:"filled_at,omitempty"`
	CancelledAt    *time.Time       `json:"cancelled_at,omitempty"`
	ExpiredAt      *time.Time       `json:"expired_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// IsActive reports whether the order still rests on the book.
func (o *Order) IsActive() bool {
	return o.Status == StatusOpen || o.Status == StatusPartiallyFilled
}

// NeedsWatch reports whether the order belongs on the stop-order watchlist.
// Membership is exactly: STOP or STOP_LIMIT type and status OPEN.
func (o *Order) NeedsWatch() bool {
	return o.OrderType.TriggersFromWatchlist() && o.Status == StatusOpen
}

type Trade struct {
	gorm.Model   `json:"-"`
	TradeID      string          `gorm:"uniqueIndex" json:"trade_id"`
	Symbol       string          `gorm:"index:idx_trades_symbol_time" json:"symbol"`
	BuyOrderID   string          `json:"buy_order_id"`
	SellOrderID  string          `json:"sell_order_id"`
	BuyerUserID  string          `gorm:"index" json:"buyer_user_id"`
	SellerUserID string          `gorm:"index" json:"seller_user_id"`
	Price        decimal.Decimal `gorm:"type:decimal(32,16)" json:"price"`
	Quantity     decimal.Decimal `gorm:"type:decimal(32,16)" json:"quantity"`
	BuyerFee     decimal.Decimal `gorm:"type:decimal(32,16)" json:"buyer_fee"`
	SellerFee    decimal.Decimal `gorm:"type:decimal(32,16)" json:"seller_fee"`
	FeeAsset     string          `json:"fee_asset"`
	IsBuyerMaker bool            `json:"is_buyer_maker"`
	ExecutedAt   time.Time       `gorm:"index:idx_trades_symbol_time" json:"executed_at"`
	SettledAt    *time.Time      `json:"settled_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// StopWatchEntry is a projection of a resting stop order, kept in sync with the
// orders table so trigger evaluation never scans the full partitioned table.
// No soft-delete column: removals must free the unique order_id slot
// immediately, because an order that re-enters OPEN re-inserts its entry.
type StopWatchEntry struct {
	ID         uint            `gorm:"primarykey" json:"-"`
	OrderID    string          `gorm:"uniqueIndex" json:"order_id"`
	UserID     string          `json:"user_id"`
	Symbol     string          `gorm:"index" json:"symbol"`
	Side       Side            `json:"side"`
	StopPrice  decimal.Decimal `gorm:"type:decimal(32,16)" json:"stop_price"`
	Quantity   decimal.Decimal `gorm:"type:decimal(32,16)" json:"quantity"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}
