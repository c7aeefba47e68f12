package orders

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/coinpeak/exchange-core/internal/auth"
	"github.com/coinpeak/exchange-core/internal/types"
	"github.com/coinpeak/exchange-core/pkg/response"
)

// Service is the order store: the durable record of every order's lifecycle
// and the owner of the stop-order watchlist projection.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// OrderSpec is what the submission boundary provides to create an order.
type OrderSpec struct {
	Symbol      string            `json:"symbol"`
	Side        types.Side        `json:"side"`
	OrderType   types.OrderType   `json:"order_type"`
	Quantity    decimal.Decimal   `json:"quantity"`
	LimitPrice  *decimal.Decimal  `json:"limit_price,omitempty"`
	StopPrice   *decimal.Decimal  `json:"stop_price,omitempty"`
	TimeInForce types.TimeInForce `json:"time_in_force,omitempty"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
}

func validateSpec(spec *OrderSpec) error {
	if strings.TrimSpace(spec.Symbol) == "" {
		return fmt.Errorf("symbol is required: %w", types.ErrInvalidOrderSpec)
	}
	if spec.Side != types.SideBuy && spec.Side != types.SideSell {
		return fmt.Errorf("side must be BUY or SELL: %w", types.ErrInvalidOrderSpec)
	}
	if !spec.Quantity.IsPositive() {
		return fmt.Errorf("quantity must be positive: %w", types.ErrInvalidOrderSpec)
	}

	switch spec.OrderType {
	case types.OrderTypeMarket:
		if spec.LimitPrice != nil {
			return fmt.Errorf("market orders carry no limit price: %w", types.ErrInvalidOrderSpec)
		}
	case types.OrderTypeLimit, types.OrderTypeStop, types.OrderTypeStopLimit, types.OrderTypeTrailingStop:
	default:
		return fmt.Errorf("unknown order type %q: %w", spec.OrderType, types.ErrInvalidOrderSpec)
	}

	if spec.OrderType.RequiresLimitPrice() {
		if spec.LimitPrice == nil || !spec.LimitPrice.IsPositive() {
			return fmt.Errorf("%s orders require a positive limit price: %w", spec.OrderType, types.ErrInvalidOrderSpec)
		}
	}
	if spec.OrderType.RequiresStopPrice() {
		if spec.StopPrice == nil || !spec.StopPrice.IsPositive() {
			return fmt.Errorf("%s orders require a positive stop price: %w", spec.OrderType, types.ErrInvalidOrderSpec)
		}
	}

	switch spec.TimeInForce {
	case "", types.TIFGoodTillCancel, types.TIFImmediate, types.TIFFillOrKill:
	case types.TIFGoodTillDate:
		if spec.ExpiresAt == nil || !spec.ExpiresAt.After(time.Now()) {
			return fmt.Errorf("GTD orders require a future expiry: %w", types.ErrInvalidOrderSpec)
		}
	default:
		return fmt.Errorf("unknown time in force %q: %w", spec.TimeInForce, types.ErrInvalidOrderSpec)
	}
	return nil
}

// CreateOrder validates the spec and persists the order as OPEN, inserting the
// watchlist projection in the same transaction for STOP and STOP_LIMIT orders.
// When an idempotency key is supplied and a live record exists for it, the
// original order is returned instead of creating a duplicate.
func (s *Service) CreateOrder(userID string, spec OrderSpec, idempotencyKey string) (*types.Order, error) {
	if err := validateSpec(&spec); err != nil {
		return nil, err
	}

	if idempotencyKey != "" {
		record, err := s.db.GetIdempotencyRecord(userID, idempotencyKey)
		if err != nil {
			return nil, err
		}
		if record != nil && record.ExpiresAt.After(time.Now()) {
			return s.db.GetOrder(record.OrderID)
		}
	}

	tif := spec.TimeInForce
	if tif == "" {
		tif = types.TIFGoodTillCancel
	}

	now := time.Now()
	order := &types.Order{
		OrderID:        uuid.New().String(),
		UserID:         userID,
		Symbol:         strings.ToUpper(spec.Symbol),
		Side:           spec.Side,
		OrderType:      spec.OrderType,
		Status:         types.StatusOpen,
		Quantity:       spec.Quantity,
		FilledQuantity: decimal.Zero,
		LimitPrice:     spec.LimitPrice,
		StopPrice:      spec.StopPrice,
		TimeInForce:    tif,
		ExpiresAt:      spec.ExpiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if idempotencyKey != "" {
		order.IdempotencyKey = &idempotencyKey
	}

	if err := s.db.CreateOrder(order, idempotencyKey); err != nil {
		return nil, err
	}

	log.Info().
		Str("component", "order_store").
		Str("order_id", order.OrderID).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Str("type", string(order.OrderType)).
		Msg("order created")
	return order, nil
}

// Transition moves an order through its lifecycle on behalf of the matching
// process or the cancellation/expiry paths.
func (s *Service) Transition(orderID string, newStatus types.OrderStatus, fields TransitionFields) (*types.Order, error) {
	order, err := s.db.Transition(orderID, newStatus, fields)
	if err != nil {
		if errors.Is(err, types.ErrInvalidStateTransition) {
			log.Error().
				Str("component", "order_store").
				Str("order_id", orderID).
				Str("requested_status", string(newStatus)).
				Err(err).
				Msg("rejected illegal state transition")
		}
		return nil, err
	}
	return order, nil
}

// Cancel cancels a user's own resting order.
func (s *Service) Cancel(orderID, userID string) (*types.Order, error) {
	order, err := s.db.GetOrderForUser(orderID, userID)
	if err != nil {
		return nil, err
	}
	return s.Transition(order.OrderID, types.StatusCancelled, TransitionFields{})
}

func (s *Service) GetOrder(orderID string) (*types.Order, error) {
	return s.db.GetOrder(orderID)
}

func (s *Service) GetOrderForUser(orderID, userID string) (*types.Order, error) {
	return s.db.GetOrderForUser(orderID, userID)
}

func (s *Service) FindActiveByUser(userID, symbol string) ([]types.Order, error) {
	return s.db.FindActiveByUser(userID, symbol)
}

func (s *Service) ActiveOrdersForSymbol(symbol string, side types.Side) ([]types.Order, error) {
	return s.db.ActiveOrdersForSymbol(symbol, side)
}

func (s *Service) WatchEntries(symbol string) ([]types.StopWatchEntry, error) {
	return s.db.WatchEntries(symbol)
}

// ExpireStale expires every OPEN good-till-date order whose expiry has passed.
// Run periodically; each order goes through the normal transition path so the
// watchlist stays consistent.
func (s *Service) ExpireStale(now time.Time) (int, error) {
	stale, err := s.db.ExpirableOrders(now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range stale {
		if _, err := s.Transition(stale[i].OrderID, types.StatusExpired, TransitionFields{}); err != nil {
			log.Error().
				Str("component", "order_store").
				Str("order_id", stale[i].OrderID).
				Err(err).
				Msg("failed to expire order")
			continue
		}
		expired++
	}
	return expired, nil
}

// GinHandlers contains HTTP handlers for the order submission boundary.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// CreateOrderHandler handles POST /orders.
// An Idempotency-Key header is optional; when present, resubmission with the
// same key returns the original order.
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.UserIDFromContext(c)
		if userID == "" {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		var spec OrderSpec
		if err := c.ShouldBindJSON(&spec); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.CreateOrder(userID, spec, c.GetHeader("Idempotency-Key"))
		response.Handle(c, order, err)
	}
}

// GetOrderHandler handles GET /orders/:order_id.
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.UserIDFromContext(c)
		if userID == "" {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		order, err := h.service.GetOrderForUser(c.Param("order_id"), userID)
		response.Handle(c, order, err)
	}
}

// ListActiveOrdersHandler handles GET /orders?symbol=.
func (h *GinHandlers) ListActiveOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.UserIDFromContext(c)
		if userID == "" {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		out, err := h.service.FindActiveByUser(userID, c.Query("symbol"))
		response.Handle(c, out, err)
	}
}

// CancelOrderHandler handles DELETE /orders/:order_id.
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.UserIDFromContext(c)
		if userID == "" {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		order, err := h.service.Cancel(c.Param("order_id"), userID)
		response.Handle(c, order, err)
	}
}

type transitionRequest struct {
	Status types.OrderStatus `json:"status"`
	TransitionFields
}

// TransitionOrderHandler handles POST /internal/orders/:order_id/transition,
// used by the matching process.
func (h *GinHandlers) TransitionOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transitionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.Transition(c.Param("order_id"), req.Status, req.TransitionFields)
		response.Handle(c, order, err)
	}
}

// BookHandler handles GET /internal/book/:symbol?side=BUY, returning one side
// of the book in price-time priority.
func (h *GinHandlers) BookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		side := types.Side(strings.ToUpper(c.DefaultQuery("side", string(types.SideBuy))))
		if side != types.SideBuy && side != types.SideSell {
			response.BadRequest(c, "side must be BUY or SELL")
			return
		}

		out, err := h.service.ActiveOrdersForSymbol(c.Param("symbol"), side)
		response.Handle(c, out, err)
	}
}

// WatchlistHandler handles GET /internal/watchlist/:symbol.
func (h *GinHandlers) WatchlistHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := h.service.WatchEntries(c.Param("symbol"))
		response.Handle(c, out, err)
	}
}
