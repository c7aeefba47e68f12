package trades

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/coinpeak/exchange-core/internal/auth"
	"github.com/coinpeak/exchange-core/internal/types"
	"github.com/coinpeak/exchange-core/pkg/response"
)

const defaultReadLimit = 500

// Service is the trade store: the append-only record of every execution.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

func validateTrade(trade *types.Trade) error {
	if strings.TrimSpace(trade.Symbol) == "" {
		return fmt.Errorf("symbol is required: %w", types.ErrInvalidTrade)
	}
	if !trade.Price.IsPositive() {
		return fmt.Errorf("price must be positive: %w", types.ErrInvalidTrade)
	}
	if !trade.Quantity.IsPositive() {
		return fmt.Errorf("quantity must be positive: %w", types.ErrInvalidTrade)
	}
	if trade.BuyerUserID == trade.SellerUserID {
		return fmt.Errorf("buyer and seller must differ: %w", types.ErrInvalidTrade)
	}
	return nil
}

// RecordTrade validates and persists one execution. The written row is
// immutable from this point on.
func (s *Service) RecordTrade(trade *types.Trade) error {
	if err := validateTrade(trade); err != nil {
		return err
	}

	if trade.TradeID == "" {
		trade.TradeID = uuid.New().String()
	}
	if trade.ExecutedAt.IsZero() {
		trade.ExecutedAt = time.Now()
	}
	trade.CreatedAt = time.Now()

	if err := s.db.CreateTrade(trade); err != nil {
		return err
	}

	log.Info().
		Str("component", "trade_store").
		Str("trade_id", trade.TradeID).
		Str("symbol", trade.Symbol).
		Str("price", trade.Price.String()).
		Str("quantity", trade.Quantity.String()).
		Msg("trade recorded")
	return nil
}

func (s *Service) TradesForSymbol(symbol string, since time.Time) ([]types.Trade, error) {
	return s.db.TradesForSymbol(symbol, since, defaultReadLimit)
}

func (s *Service) TradesForUser(userID string, since time.Time) ([]types.Trade, error) {
	return s.db.TradesForUser(userID, since, defaultReadLimit)
}

// Stats24h aggregates the last 24 hours of executions for a symbol.
func (s *Service) Stats24h(symbol string) (*SymbolStats, error) {
	return s.db.AggregateStats(symbol, time.Now().Add(-24*time.Hour))
}

// GinHandlers contains HTTP handlers for trade reads and the internal
// execution-recording endpoint used by the matching process.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

func sinceParam(c *gin.Context) time.Time {
	if raw := c.Query("since"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
	}
	return time.Now().Add(-24 * time.Hour)
}

// RecordTradeHandler handles POST /internal/trades.
func (h *GinHandlers) RecordTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var trade types.Trade
		if err := c.ShouldBindJSON(&trade); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.service.RecordTrade(&trade); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, trade)
	}
}

// SymbolTradesHandler handles GET /market/:symbol/trades?since=.
func (h *GinHandlers) SymbolTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := h.service.TradesForSymbol(c.Param("symbol"), sinceParam(c))
		response.Handle(c, out, err)
	}
}

// SymbolStatsHandler handles GET /market/:symbol/stats.
func (h *GinHandlers) SymbolStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.service.Stats24h(c.Param("symbol"))
		response.Handle(c, stats, err)
	}
}

// AccountTradesHandler handles GET /account/trades?since=.
func (h *GinHandlers) AccountTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.UserIDFromContext(c)
		if userID == "" {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		out, err := h.service.TradesForUser(userID, sinceParam(c))
		response.Handle(c, out, err)
	}
}
